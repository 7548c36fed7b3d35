// internal/handlers/verification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// ActivationHandler serves the customer side of key activation. The redeem
// token from the checkout link travels as ?t=.
type ActivationHandler struct {
	activationService *services.ActivationService
}

type activationTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func NewActivationHandler(activationService *services.ActivationService) *ActivationHandler {
	return &ActivationHandler{
		activationService: activationService,
	}
}

func redeemToken(c *gin.Context) string {
	if t := c.Query("t"); t != "" {
		return t
	}
	return c.GetHeader("X-Redeem-Token")
}

// GET /public/orders/:id/activation
func (h *ActivationHandler) GetActivation(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.activationService.View(c.Request.Context(), orderID, redeemToken(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}

// POST /public/orders/:id/activation/start
func (h *ActivationHandler) StartActivation(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req activationTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.activationService.Start(c.Request.Context(), orderID, req.Token, redeemToken(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}

// POST /public/orders/:id/activation/restart
func (h *ActivationHandler) RestartActivation(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req activationTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.activationService.Restart(c.Request.Context(), orderID, req.Token, redeemToken(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}

// GET /public/orders/:id/activation/tasks/:taskId
func (h *ActivationHandler) GetTask(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.activationService.Poll(c.Request.Context(), orderID, c.Param("taskId"), redeemToken(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}
