package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/payments"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/testutil"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

type harness struct {
	store     *testutil.Store
	provider  *testutil.Provider
	client    *testutil.ActivationClient
	notifier  *testutil.Notifier
	publisher *testutil.Publisher
	cfg       *config.Config

	audit      *services.AuditService
	activation *services.ActivationService
	webhooks   *services.WebhookService
	checkout   *services.CheckoutService
	keys       *services.KeyService
	orders     *services.OrderAdminService
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Activation: config.ActivationConfig{
			DeviceID:        "web",
			SubmitTimeout:   5 * time.Second,
			PollTimeout:     5 * time.Second,
			RestartCooldown: 20 * time.Second,
			MaxTokenLength:  8192,
		},
		AntiFraud: config.AntiFraudConfig{Window: time.Hour, MaxOrders: 2},
		Checkout:  config.CheckoutConfig{MinAmount: 1, DefaultCurrency: "RUB"},
		FX:        config.FXConfig{USDRUB: 90, EURRUB: 100, USDTRUB: 90},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, i18n.Initialize("", "en"))

	h := &harness{
		store:     testutil.NewStore(),
		provider:  testutil.NewProvider("gateway"),
		client:    testutil.NewActivationClient(),
		notifier:  &testutil.Notifier{},
		publisher: &testutil.Publisher{},
		cfg:       testConfig(),
	}

	registry, err := payments.NewRegistry("gateway", h.provider)
	require.NoError(t, err)

	h.activation = services.NewActivationService(h.store, h.store, h.client, h.publisher, h.cfg.Activation)
	effects := services.NewOrderEffects(h.notifier, h.activation, h.publisher, nil)
	h.webhooks = services.NewWebhookService(h.store, registry, effects)
	h.audit = services.NewAuditService(h.store)
	h.checkout = services.NewCheckoutService(h.store, h.store, registry, h.webhooks, effects, h.audit, nil, h.cfg)
	h.activation.SetReconciler(h.checkout)
	h.keys = services.NewKeyService(h.store, nil, h.audit)
	h.orders = services.NewOrderAdminService(h.store, h.checkout, h.activation, effects, h.audit)
	return h
}

// placeOrder runs checkout for a product priced at price and returns the response.
func (h *harness) placeOrder(t *testing.T, slug string, price float64, promo string) *services.CheckoutResponse {
	t.Helper()
	if _, err := h.store.FindProduct(context.Background(), slug); err != nil {
		h.store.AddProduct(slug, price, "RUB")
	}
	resp, err := h.checkout.CreateOrder(context.Background(), services.CheckoutRequest{
		Email:     "buyer@example.com",
		ProductID: slug,
		Quantity:  1,
		PromoCode: promo,
	}, "")
	require.NoError(t, err)
	return resp
}

// confirmWithProvider makes the provider report the invoice as paid.
func (h *harness) confirmWithProvider(resp *services.CheckoutResponse, amount float64) {
	h.provider.SetInvoice(resp.PaymentID, payments.InvoiceInfo{
		OrderID:   resp.OrderID,
		Status:    "success",
		Amount:    amount,
		HasAmount: true,
		Currency:  "RUB",
	})
}

func webhookBody(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return body
}

func successBody(t *testing.T, resp *services.CheckoutResponse, amount float64) []byte {
	return webhookBody(t, map[string]interface{}{
		"invoice_id": resp.PaymentID,
		"order_id":   resp.OrderID,
		"status":     "success",
		"amount":     amount,
		"currency":   "RUB",
	})
}

func requireKind(t *testing.T, err error, kind utils.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, utils.KindOf(err), "unexpected error: %v", err)
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func paymentsInvoice(orderID string, amount float64) payments.InvoiceInfo {
	return payments.InvoiceInfo{
		OrderID:   orderID,
		Status:    "success",
		Amount:    amount,
		HasAmount: true,
		Currency:  "RUB",
	}
}
