// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// AdminHandler holds the operator actions on orders.
type AdminHandler struct {
	orderService *services.OrderAdminService
}

func NewAdminHandler(orderService *services.OrderAdminService) *AdminHandler {
	return &AdminHandler{
		orderService: orderService,
	}
}

// GET /admin/orders/:id/proof
func (h *AdminHandler) GetProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	forceCheck := c.Query("forceCheck") == "1" || c.Query("forceCheck") == "true"
	proof, err := h.orderService.Proof(c.Request.Context(), orderID, forceCheck)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	proof.Label = services.CertaintyLabel(lang, proof.Certainty)

	utils.SuccessResponse(c, proof)
}

// POST /admin/orders/:id/manual-confirm
func (h *AdminHandler) ManualConfirm(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.ManualConfirmRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.ManualConfirm(c.Request.Context(), orderID, req, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// POST /admin/orders/:id/refund
func (h *AdminHandler) Refund(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.orderService.Refund(c.Request.Context(), orderID, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /admin/orders/:id/deliver
func (h *AdminHandler) Deliver(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.orderService.Redeliver(c.Request.Context(), orderID, actorFromContext(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}
