// internal/handlers/payment.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

type PaymentHandler struct {
	checkoutService *services.CheckoutService
	webhookService  *services.WebhookService
}

func NewPaymentHandler(checkoutService *services.CheckoutService, webhookService *services.WebhookService) *PaymentHandler {
	return &PaymentHandler{
		checkoutService: checkoutService,
		webhookService:  webhookService,
	}
}

// POST /public/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	var req services.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.checkoutService.CreateOrder(c.Request.Context(), req, utils.ClientIP(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.CreatedResponse(c, resp)
}

// POST /public/promo/validate
func (h *PaymentHandler) ValidatePromo(c *gin.Context) {
	var req services.PromoValidateRequest
	if !bindJSON(c, &req) {
		return
	}

	quote, err := h.checkoutService.ValidatePromo(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, quote)
}

// GET /public/orders/:id/status
func (h *PaymentHandler) OrderStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.checkoutService.PublicStatus(c.Request.Context(), orderID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, status)
}

// POST /public/orders/:id/reconcile
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.checkoutService.Reconcile(c.Request.Context(), orderID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.SuccessResponse(c, status)
}

// POST /public/webhooks/payment
//
// The provider gets the bare {ok, duplicate, orderId} body on success.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.RespondError(c, utils.Validation("Unable to read webhook body"))
		return
	}

	result, err := h.webhookService.Process(c.Request.Context(), raw)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
