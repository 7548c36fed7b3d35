// internal/services/webhook_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// WebhookService turns provider callbacks into ledger transitions. Replays
// are acknowledged without side effects.
type WebhookService struct {
	ledger   OrderLedger
	registry ProviderRegistry
	effects  *OrderEffects
}

// WebhookResult is returned to the provider as is.
type WebhookResult struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate"`
	OrderID   string `json:"orderId"`
}

// WebhookEvent is a provider callback reduced to the fields the ledger uses.
type WebhookEvent struct {
	PaymentRef string
	OrderID    string
	Status     string
	Amount     *float64
	Currency   string
	Raw        models.JSONB
}

func NewWebhookService(ledger OrderLedger, registry ProviderRegistry, effects *OrderEffects) *WebhookService {
	return &WebhookService{
		ledger:   ledger,
		registry: registry,
		effects:  effects,
	}
}

// Mapped webhook statuses.
const (
	webhookSuccess    = "success"
	webhookFailed     = "failed"
	webhookRefunded   = "refunded"
	webhookProcessing = "processing"
)

func MapWebhookStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "paid", "payment.success":
		return webhookSuccess
	case "fail", "failed", "error", "expired", "cancelled", "canceled", "payment.failed", "payment.expired":
		return webhookFailed
	case "refund", "refunded", "chargeback", "reversed", "payment.refunded", "payment.chargeback":
		return webhookRefunded
	}
	return webhookProcessing
}

func paymentStatusFor(mapped string) models.PaymentStatus {
	switch mapped {
	case webhookSuccess:
		return models.PaymentStatusSuccess
	case webhookFailed:
		return models.PaymentStatusFailed
	case webhookRefunded:
		return models.PaymentStatusRefunded
	}
	return models.PaymentStatusProcessing
}

// ParseWebhook decodes a raw callback body.
func ParseWebhook(raw []byte) (*WebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, utils.Validation("Invalid JSON in webhook")
	}

	status := stringField(payload, "status")
	if status == "" {
		status = stringField(payload, "event")
	}

	ev := &WebhookEvent{
		PaymentRef: firstField(payload, "paymentId", "payment_id", "invoice_id", "id"),
		OrderID:    firstField(payload, "orderId", "order_id"),
		Status:     MapWebhookStatus(status),
		Currency:   strings.ToUpper(stringField(payload, "currency")),
		Raw:        models.JSONB(payload),
	}
	if amount, ok := parseAmount(payload["amount"]); ok {
		ev.Amount = &amount
	}
	return ev, nil
}

func (s *WebhookService) Process(ctx context.Context, raw []byte) (*WebhookResult, error) {
	ev, err := ParseWebhook(raw)
	if err != nil {
		return nil, err
	}
	return s.Handle(ctx, ev, models.SourceWebhook)
}

// Handle validates ev against the ledger and the provider, then applies it.
func (s *WebhookService) Handle(ctx context.Context, ev *WebhookEvent, source models.TransitionSource) (*WebhookResult, error) {
	if ev.PaymentRef == "" && ev.OrderID == "" {
		return nil, utils.Validation("Invalid webhook payload")
	}

	order, payment, err := s.resolveTarget(ctx, ev)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"provider":   payment.Provider,
		"status":     ev.Status,
	})

	if ev.PaymentRef != "" {
		taken, err := s.ledger.RefOwnedByOther(ctx, ev.PaymentRef, payment.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			logger.Warn("Webhook payment reference belongs to another payment")
			return nil, utils.Conflict("Duplicate payment reference")
		}
	}

	next := paymentStatusFor(ev.Status)
	switch models.EvaluateTransition(order.Status, payment.Status, next) {
	case models.DecisionDuplicate:
		// a replayed success must still carry the amount that was paid
		if next == models.PaymentStatusSuccess && ev.Amount != nil {
			if err := checkReportedAmount(order, ev); err != nil {
				logger.WithError(err).Warn("Replayed webhook does not match order")
				return nil, err
			}
		}
		logger.Info("Duplicate webhook acknowledged")
		return &WebhookResult{OK: true, Duplicate: true, OrderID: order.ID.String()}, nil
	case models.DecisionIllegal:
		return nil, utils.Conflict("Order cannot move from %s with a %s payment", order.Status, next)
	}

	if next == models.PaymentStatusSuccess {
		if err := checkReportedAmount(order, ev); err != nil {
			logger.WithError(err).Warn("Webhook amount check failed")
			return nil, err
		}
		ref := ev.PaymentRef
		if ref == "" {
			ref = payment.ProviderRef
		}
		if err := s.verifyWithProvider(ctx, payment.Provider, ref, order); err != nil {
			logger.WithError(err).Warn("Provider verification failed")
			return nil, err
		}
	}

	paymentID := payment.ID
	res, err := s.ledger.ApplyTransition(ctx, models.Transition{
		OrderID:       order.ID,
		PaymentID:     &paymentID,
		Provider:      payment.Provider,
		ProviderRef:   ev.PaymentRef,
		PaymentStatus: next,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		RawPayload:    ev.Raw,
		Source:        source,
		At:            time.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, res, source)

	return &WebhookResult{OK: true, Duplicate: res.Duplicate, OrderID: order.ID.String()}, nil
}

// resolveTarget finds the payment by provider reference or payment id, and
// falls back to the order's latest payment.
func (s *WebhookService) resolveTarget(ctx context.Context, ev *WebhookEvent) (*models.Order, *models.Payment, error) {
	var payment *models.Payment
	if ev.PaymentRef != "" {
		p, err := s.ledger.FindPaymentByRef(ctx, ev.PaymentRef)
		switch {
		case err == nil:
			payment = p
		case !errors.Is(err, utils.ErrNotFound):
			return nil, nil, err
		}
		if payment == nil {
			if id, perr := uuid.Parse(ev.PaymentRef); perr == nil {
				p, err := s.ledger.FindPayment(ctx, id)
				if err != nil && !errors.Is(err, utils.ErrNotFound) {
					return nil, nil, err
				}
				payment = p
			}
		}
	}

	if payment != nil {
		order, err := s.ledger.FindOrder(ctx, payment.OrderID)
		if err != nil {
			return nil, nil, err
		}
		if ev.OrderID != "" && ev.OrderID != order.ID.String() {
			return nil, nil, utils.Conflict("Webhook order does not match payment")
		}
		return order, payment, nil
	}

	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return nil, nil, utils.NotFound("Order not found")
	}
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	payment, err = s.ledger.LatestPayment(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, payment, nil
}

func checkReportedAmount(order *models.Order, ev *WebhookEvent) error {
	if ev.Amount == nil {
		return utils.Validation("Webhook amount is required for successful payment")
	}
	if !utils.AmountsMatch(*ev.Amount, order.TotalAmount) {
		return utils.Conflict("Webhook amount mismatch")
	}
	if ev.Currency != "" && !utils.CurrenciesMatch(ev.Currency, order.Currency) {
		return utils.Conflict("Webhook currency mismatch")
	}
	return nil
}

// verifyWithProvider asks the provider's own API whether the invoice is
// paid. Anything short of a matching confirmation is a conflict.
func (s *WebhookService) verifyWithProvider(ctx context.Context, providerCode, ref string, order *models.Order) error {
	if ref == "" {
		return utils.Conflict("Missing payment reference for provider verification")
	}

	provider, err := s.registry.Get(providerCode)
	if err != nil {
		return utils.Conflict("Payment provider verification failed")
	}

	info, err := provider.VerifyInvoice(ctx, ref)
	if err != nil {
		if utils.IsKind(err, utils.KindInternal) || utils.IsKind(err, utils.KindConflict) {
			return err
		}
		return &utils.AppError{Kind: utils.KindConflict, Message: "Payment provider verification failed", Err: err}
	}

	switch {
	case info.OrderID != order.ID.String():
		return utils.Conflict("Payment provider order mismatch")
	case !info.Confirmed():
		return utils.Conflict("Payment is not confirmed by provider")
	case !info.HasAmount || !utils.AmountsMatch(info.Amount, order.TotalAmount):
		return utils.Conflict("Payment provider amount mismatch")
	case info.Currency != "" && !utils.CurrenciesMatch(info.Currency, order.Currency):
		return utils.Conflict("Payment provider currency mismatch")
	}
	return nil
}

func stringField(payload map[string]interface{}, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func firstField(payload map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := stringField(payload, k); v != "" {
			return v
		}
	}
	return ""
}

// parseAmount accepts numbers and numeric strings; negatives are rejected.
func parseAmount(v interface{}) (float64, bool) {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case float64:
		return utils.RoundMoney(t), t >= 0
	case string:
		raw = strings.TrimSpace(t)
	default:
		return 0, false
	}
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return utils.RoundMoney(f), true
}
