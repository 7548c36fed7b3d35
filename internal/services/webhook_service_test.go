package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// partnerOrder places a 19.99 RUB order through a partner promo.
func partnerOrder(t *testing.T, h *harness) *services.CheckoutResponse {
	t.Helper()
	partner := h.store.AddPartner("Blogger", 10)
	h.store.AddPromo(models.PromoCode{
		Code:          "FRIEND5",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 5,
		IsActive:      true,
		PartnerID:     &partner.ID,
		OwnerLabel:    "partner@example.com",
	})
	resp := h.placeOrder(t, "chatgpt-plus-1m", 24.99, "FRIEND5")
	require.InDelta(t, 19.99, resp.FinalPrice, 0.001)
	return resp
}

func TestWebhookSuccessMarksOrderPaid(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222")
	resp := partnerOrder(t, h)
	h.confirmWithProvider(resp, 19.99)

	result, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.False(t, result.Duplicate)
	assert.Equal(t, resp.OrderID, result.OrderID)

	orderID := mustUUID(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(orderID).Status)
	assert.Len(t, h.store.KeysFor(orderID, models.KeyStatusUsed), 1)
	assert.Equal(t, 1, h.store.CountKeys("chatgpt-plus", models.KeyStatusAvailable))
	assert.Equal(t, 1, h.store.EarningCount())
	assert.Equal(t, 1, h.store.Promo("FRIEND5").UsedCount)

	earning, ok := h.store.Earning(orderID)
	require.True(t, ok)
	assert.InDelta(t, 2.0, earning.CommissionAmount, 0.001)

	assert.Equal(t, 1, h.notifier.PaidCount())
	assert.Equal(t, 1, h.notifier.OperatorCount())
	assert.Contains(t, h.publisher.Types(), events.EventOrderPaid)
	assert.Contains(t, h.publisher.Types(), events.EventKeyClaimed)

	payments := h.store.PaymentsFor(orderID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusSuccess, payments[0].Status)
	assert.NotNil(t, payments[0].ProcessedAt)
}

func TestWebhookReplayIsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222")
	resp := partnerOrder(t, h)
	h.confirmWithProvider(resp, 19.99)
	body := successBody(t, resp, 19.99)

	_, err := h.webhooks.Process(context.Background(), body)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := h.webhooks.Process(context.Background(), body)
		require.NoError(t, err)
		assert.True(t, result.OK)
		assert.True(t, result.Duplicate)
	}

	orderID := mustUUID(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(orderID).Status)
	assert.Len(t, h.store.KeysFor(orderID, models.KeyStatusUsed), 1)
	assert.Equal(t, 1, h.store.EarningCount())
	assert.Equal(t, 1, h.store.Promo("FRIEND5").UsedCount)
	assert.Equal(t, 1, h.notifier.PaidCount())
}

func TestWebhookTamperedReplayIsRejected(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := partnerOrder(t, h)
	h.confirmWithProvider(resp, 19.99)

	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)

	_, err = h.webhooks.Process(context.Background(), successBody(t, resp, 999.99))
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestWebhookAmountMismatchKeepsOrderPending(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	h.confirmWithProvider(resp, 19.99)

	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.97))
	requireKind(t, err, utils.KindConflict)

	orderID := mustUUID(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusPending, h.store.Order(orderID).Status)
	assert.Empty(t, h.store.KeysFor(orderID, models.KeyStatusUsed))
	assert.Equal(t, 0, h.provider.VerifyCalls())
}

func TestWebhookAmountWithinEpsilonIsAccepted(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	h.confirmWithProvider(resp, 19.99)

	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.985))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestWebhookSuccessRequiresAmount(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"status":     "paid",
	}))
	requireKind(t, err, utils.KindValidation)
}

func TestWebhookCurrencyMismatch(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"status":     "success",
		"amount":     "19.99",
		"currency":   "usd",
	}))
	requireKind(t, err, utils.KindConflict)
}

func TestWebhookRequiresProviderConfirmation(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	// the provider still reports the invoice as processing
	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, 1, h.provider.VerifyCalls())
	assert.Equal(t, models.OrderStatusPending, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestWebhookProviderUnreachableIsConflict(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	h.provider.VerifyErr = utils.Upstream(context.DeadlineExceeded, "Payment provider timeout")

	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, models.OrderStatusPending, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestWebhookProviderReportsOtherOrder(t *testing.T) {
	h := newHarness(t)
	first := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	second := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	h.provider.SetInvoice(first.PaymentID, paymentsInvoice(second.OrderID, 19.99))

	_, err := h.webhooks.Process(context.Background(), successBody(t, first, 19.99))
	requireKind(t, err, utils.KindConflict)
}

func TestWebhookOrderMismatchWithReference(t *testing.T) {
	h := newHarness(t)
	first := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	second := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": first.PaymentID,
		"order_id":   second.OrderID,
		"status":     "success",
		"amount":     19.99,
	}))
	requireKind(t, err, utils.KindConflict)
}

func TestWebhookFailedMarksOrderFailed(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	result, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"orderId": resp.OrderID,
		"status":  "expired",
	}))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, models.OrderStatusFailed, h.store.Order(mustUUID(t, resp.OrderID)).Status)
	assert.Contains(t, h.publisher.Types(), events.EventOrderFailed)
	assert.Equal(t, 0, h.notifier.PaidCount())
}

func TestWebhookFailedAfterPaidIsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	h.confirmWithProvider(resp, 19.99)
	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)

	result, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"status":     "failed",
	}))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestWebhookRefundReversesEarning(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := partnerOrder(t, h)
	h.confirmWithProvider(resp, 19.99)
	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)

	result, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"status":     "chargeback",
	}))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	orderID := mustUUID(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusRefunded, h.store.Order(orderID).Status)
	earning, ok := h.store.Earning(orderID)
	require.True(t, ok)
	assert.Equal(t, models.EarningStatusReversed, earning.Status)

	// anything after a refund is a duplicate
	result, err = h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
}

func TestWebhookRefundOfPendingOrderIsIllegal(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"status":     "refunded",
	}))
	requireKind(t, err, utils.KindConflict)
}

func TestWebhookReferenceOfAnotherOrder(t *testing.T) {
	h := newHarness(t)
	first := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")
	second := h.placeOrder(t, "chatgpt-plus-1m", 19.99, "")

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"orderId":   second.OrderID,
		"paymentId": first.PaymentID,
		"status":    "processing",
	}))
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, models.OrderStatusPending, h.store.Order(mustUUID(t, second.OrderID)).Status)
}

func TestWebhookUnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.webhooks.Process(context.Background(), webhookBody(t, map[string]interface{}{
		"orderId": "7b0c54a4-3c5e-4b8e-9a59-3f4ad5d3f2c1",
		"status":  "success",
		"amount":  1,
	}))
	requireKind(t, err, utils.KindNotFound)
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	h := newHarness(t)

	_, err := h.webhooks.Process(context.Background(), []byte("not json"))
	requireKind(t, err, utils.KindValidation)

	_, err = h.webhooks.Process(context.Background(), []byte(`{"status":"success"}`))
	requireKind(t, err, utils.KindValidation)
}

func TestMapWebhookStatus(t *testing.T) {
	cases := map[string]string{
		"success":            "success",
		"Payment.Success":    "success",
		"paid":               "success",
		"canceled":           "failed",
		"payment.expired":    "failed",
		"chargeback":         "refunded",
		"payment.refunded":   "refunded",
		"waiting_for_payout": "processing",
		"":                   "processing",
	}
	for raw, want := range cases {
		assert.Equal(t, want, services.MapWebhookStatus(raw), raw)
	}
}

func TestParseWebhookFields(t *testing.T) {
	ev, err := services.ParseWebhook([]byte(`{"invoice_id":12345,"order_id":"abc","event":"payment.success","amount":"19.99","currency":"rub"}`))
	require.NoError(t, err)
	assert.Equal(t, "12345", ev.PaymentRef)
	assert.Equal(t, "abc", ev.OrderID)
	assert.Equal(t, "success", ev.Status)
	require.NotNil(t, ev.Amount)
	assert.InDelta(t, 19.99, *ev.Amount, 0.0001)
	assert.Equal(t, "RUB", ev.Currency)
}
