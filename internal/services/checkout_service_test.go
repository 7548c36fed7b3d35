package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/payments"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

func TestCreateOrderPending(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 1990, "")

	assert.Equal(t, string(models.OrderStatusPending), resp.Status)
	assert.Equal(t, "gateway", resp.PaymentProvider)
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.Len(t, resp.RedeemToken, 48)
	assert.InDelta(t, 1990, resp.FinalPrice, 0.001)
	assert.InDelta(t, 1990, resp.FinalPriceRUB, 0.001)

	order := h.store.Order(mustUUID(t, resp.OrderID))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, resp.PaymentID, order.PaymentRef)
	assert.NotEqual(t, resp.RedeemToken, order.RedeemTokenHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(order.RedeemTokenHash), []byte(resp.RedeemToken)))

	created := h.provider.Created()
	require.Len(t, created, 1)
	assert.Equal(t, "chatgpt-plus-1m x1", created[0].Description)
	assert.Equal(t, resp.RedeemToken, created[0].RedeemToken)
	assert.NotContains(t, created[0].Metadata, "redeem_token")
}

func TestCreateOrderAppliesPromo(t *testing.T) {
	h := newHarness(t)
	h.store.AddPromo(models.PromoCode{Code: "HALF", DiscountType: models.DiscountTypePercent, DiscountValue: 50, IsActive: true})

	resp := h.placeOrder(t, "chatgpt-go-1m", 990, "half")
	assert.InDelta(t, 495, resp.DiscountAmount, 0.001)
	assert.InDelta(t, 495, resp.FinalPrice, 0.001)
	assert.Equal(t, "HALF", resp.PromoCode)

	// usage is only counted once the order is paid
	assert.Equal(t, 0, h.store.Promo("HALF").UsedCount)
}

func TestCreateOrderPromoRejections(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	limit := 1
	cases := []struct {
		name  string
		promo models.PromoCode
		want  string
	}{
		{"inactive", models.PromoCode{Code: "OFF", DiscountType: models.DiscountTypeFixed, DiscountValue: 1}, "Promo code is invalid or inactive"},
		{"expired", models.PromoCode{Code: "OLD", DiscountType: models.DiscountTypeFixed, DiscountValue: 1, IsActive: true, ExpiresAt: &expired}, "Promo code expired"},
		{"exhausted", models.PromoCode{Code: "USED", DiscountType: models.DiscountTypeFixed, DiscountValue: 1, IsActive: true, UsageLimit: &limit, UsedCount: 1}, "Promo code usage limit reached"},
		{"self referral", models.PromoCode{Code: "ME", DiscountType: models.DiscountTypeFixed, DiscountValue: 1, IsActive: true, OwnerLabel: "Buyer@Example.com"}, "Self-referral promo usage is not allowed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.AddProduct("chatgpt-plus-1m", 100, "RUB")
			h.store.AddPromo(tc.promo)

			_, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
				Email:     "buyer@example.com",
				ProductID: "chatgpt-plus-1m",
				PromoCode: tc.promo.Code,
			}, "")
			requireKind(t, err, utils.KindValidation)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCreateOrderUnknownPromo(t *testing.T) {
	h := newHarness(t)
	h.store.AddProduct("chatgpt-plus-1m", 100, "RUB")

	_, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
		Email:     "buyer@example.com",
		ProductID: "chatgpt-plus-1m",
		PromoCode: "NOPE",
	}, "")
	requireKind(t, err, utils.KindValidation)
}

func TestCreateOrderBelowMinimum(t *testing.T) {
	h := newHarness(t)
	h.store.AddProduct("chatgpt-plus-1m", 10, "RUB")
	h.store.AddPromo(models.PromoCode{Code: "ALL", DiscountType: models.DiscountTypeFixed, DiscountValue: 50, IsActive: true})

	_, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
		Email:     "buyer@example.com",
		ProductID: "chatgpt-plus-1m",
		PromoCode: "ALL",
	}, "")
	requireKind(t, err, utils.KindValidation)
	assert.Contains(t, err.Error(), "below minimal payable amount")
}

func TestCreateOrderUnavailableProduct(t *testing.T) {
	h := newHarness(t)

	_, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
		Email:     "buyer@example.com",
		ProductID: "missing",
	}, "")
	requireKind(t, err, utils.KindValidation)
}

func TestCreateOrderImmediateSuccessDelivers(t *testing.T) {
	h := newHarness(t)
	h.provider.CreateStatus = payments.StatusSuccess
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")

	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	assert.Equal(t, string(models.OrderStatusPaid), resp.Status)

	orderID := mustUUID(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(orderID).Status)
	record, ok := h.store.Record(orderID)
	require.True(t, ok)
	assert.Equal(t, "AAAA-1111", record.KeyValue)
	assert.Equal(t, 1, h.notifier.PaidCount())
}

func TestCreateOrderProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.store.AddProduct("chatgpt-plus-1m", 100, "RUB")
	h.provider.CreateErr = utils.Upstream(errors.New("connection reset"), "Payment provider unavailable")

	_, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
		Email:     "buyer@example.com",
		ProductID: "chatgpt-plus-1m",
	}, "")
	requireKind(t, err, utils.KindUpstream)
}

func TestCreateOrderProviderDeclines(t *testing.T) {
	h := newHarness(t)
	h.provider.CreateStatus = payments.StatusFailed

	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	assert.Equal(t, string(models.OrderStatusFailed), resp.Status)
	assert.Equal(t, models.OrderStatusFailed, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestCreateOrderAntiFraud(t *testing.T) {
	h := newHarness(t)
	h.store.AddProduct("chatgpt-plus-1m", 100, "RUB")
	req := services.CheckoutRequest{Email: "buyer@example.com", ProductID: "chatgpt-plus-1m"}

	for i := 0; i < h.cfg.AntiFraud.MaxOrders; i++ {
		_, err := h.checkout.CreateOrder(context.Background(), req, "203.0.113.7")
		require.NoError(t, err)
	}
	_, err := h.checkout.CreateOrder(context.Background(), req, "203.0.113.7")
	requireKind(t, err, utils.KindRateLimited)

	// other clients are unaffected
	_, err = h.checkout.CreateOrder(context.Background(), req, "203.0.113.8")
	require.NoError(t, err)
}

func TestCreateOrderAntiFraudSkipsLoopbackOutsideProduction(t *testing.T) {
	h := newHarness(t)
	h.store.AddProduct("chatgpt-plus-1m", 100, "RUB")
	req := services.CheckoutRequest{Email: "buyer@example.com", ProductID: "chatgpt-plus-1m"}

	for i := 0; i < h.cfg.AntiFraud.MaxOrders+2; i++ {
		_, err := h.checkout.CreateOrder(context.Background(), req, "127.0.0.1")
		require.NoError(t, err)
	}
}

func TestValidatePromo(t *testing.T) {
	h := newHarness(t)
	product := h.store.AddProduct("chatgpt-plus-1m", 200, "RUB")
	partner := h.store.AddPartner("Blogger", 10)
	h.store.AddPromo(models.PromoCode{Code: "TEN", DiscountType: models.DiscountTypePercent, DiscountValue: 10, IsActive: true, PartnerID: &partner.ID})
	h.store.AddPromo(models.PromoCode{Code: "DEAD", DiscountType: models.DiscountTypePercent, DiscountValue: 10})

	quote, err := h.checkout.ValidatePromo(context.Background(), services.PromoValidateRequest{Code: "ten", ProductID: product.ID.String()})
	require.NoError(t, err)
	assert.True(t, quote.Valid)
	assert.InDelta(t, 200, quote.BasePrice, 0.001)
	assert.InDelta(t, 20, quote.DiscountAmount, 0.001)
	assert.InDelta(t, 180, quote.FinalPrice, 0.001)
	assert.Equal(t, partner.ID.String(), quote.PartnerID)

	quote, err = h.checkout.ValidatePromo(context.Background(), services.PromoValidateRequest{Code: "DEAD", ProductID: "chatgpt-plus-1m"})
	require.NoError(t, err)
	assert.False(t, quote.Valid)
	assert.InDelta(t, 200, quote.FinalPrice, 0.001)

	quote, err = h.checkout.ValidatePromo(context.Background(), services.PromoValidateRequest{Code: "UNKNOWN", ProductID: "chatgpt-plus-1m"})
	require.NoError(t, err)
	assert.False(t, quote.Valid)
}

func TestPublicStatus(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")

	status, err := h.checkout.PublicStatus(context.Background(), mustUUID(t, resp.OrderID))
	require.NoError(t, err)
	assert.Equal(t, "PENDING", status.Status)
	assert.Equal(t, "b***r@example.com", status.EmailMasked)
	assert.InDelta(t, 100, status.FinalAmount, 0.001)
	assert.Equal(t, "RUB", status.Currency)
	assert.NotEmpty(t, status.PlanID)
}

func TestReconcileAppliesProviderState(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	orderID := mustUUID(t, resp.OrderID)

	status, err := h.checkout.Reconcile(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", status.Status)

	h.confirmWithProvider(resp, 100)
	status, err = h.checkout.Reconcile(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, "PAID", status.Status)

	_, ok := h.store.Record(orderID)
	assert.True(t, ok)
}

func TestReconcileIgnoresUnreachableProvider(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	h.provider.VerifyErr = utils.Upstream(context.DeadlineExceeded, "Payment provider timeout")

	status, err := h.checkout.Reconcile(context.Background(), mustUUID(t, resp.OrderID))
	require.NoError(t, err)
	assert.Equal(t, "PENDING", status.Status)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := partnerOrder(t, h)
	h.confirmWithProvider(resp, 19.99)
	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 19.99))
	require.NoError(t, err)
	orderID := mustUUID(t, resp.OrderID)

	result, err := h.checkout.Refund(context.Background(), orderID, services.Actor{UserID: "admin-1"})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, []string{resp.PaymentID}, h.provider.Refunds())

	assert.Equal(t, models.OrderStatusRefunded, h.store.Order(orderID).Status)
	earning, _ := h.store.Earning(orderID)
	assert.Equal(t, models.EarningStatusReversed, earning.Status)

	h.audit.Wait()
	logs := h.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "refund", logs[0].Action)
	assert.Equal(t, "admin-1", logs[0].ActorID)

	_, err = h.checkout.Refund(context.Background(), orderID, services.Actor{UserID: "admin-1"})
	requireKind(t, err, utils.KindConflict)
	assert.Len(t, h.provider.Refunds(), 1)
}

func TestRefundDeclinedLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	h.confirmWithProvider(resp, 100)
	_, err := h.webhooks.Process(context.Background(), successBody(t, resp, 100))
	require.NoError(t, err)
	h.provider.RefundOK = false

	_, err = h.checkout.Refund(context.Background(), mustUUID(t, resp.OrderID), services.Actor{})
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, models.OrderStatusPaid, h.store.Order(mustUUID(t, resp.OrderID)).Status)
}

func TestRefundOfPendingOrder(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")

	_, err := h.checkout.Refund(context.Background(), mustUUID(t, resp.OrderID), services.Actor{})
	requireKind(t, err, utils.KindConflict)
	assert.Empty(t, h.provider.Refunds())
}
