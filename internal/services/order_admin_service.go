// internal/services/order_admin_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/payments"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// OrderAdminService holds the operator actions on orders.
type OrderAdminService struct {
	ledger     OrderLedger
	checkout   *CheckoutService
	activation *ActivationService
	effects    *OrderEffects
	audit      *AuditService
}

// ManualConfirmRequest names the provider the money went through so a later
// refund can be routed back to it. An empty PaymentMethod reuses the
// provider of the order's latest payment, or the default provider.
type ManualConfirmRequest struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,max=32"`
	ProviderRef   string `json:"provider_ref" validate:"omitempty,max=255"`
	Note          string `json:"note" validate:"omitempty,max=500"`
}

func NewOrderAdminService(
	ledger OrderLedger,
	checkout *CheckoutService,
	activation *ActivationService,
	effects *OrderEffects,
	audit *AuditService,
) *OrderAdminService {
	return &OrderAdminService{
		ledger:     ledger,
		checkout:   checkout,
		activation: activation,
		effects:    effects,
		audit:      audit,
	}
}

// ManualConfirm marks a PENDING or FAILED order as PAID with a new SUCCESS
// payment and runs the same effects as a provider webhook.
func (s *OrderAdminService) ManualConfirm(ctx context.Context, orderID uuid.UUID, req ManualConfirmRequest, actor Actor) (*models.Order, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusFailed {
		return nil, utils.Conflict("Order cannot be confirmed from %s", order.Status)
	}

	if req.ProviderRef != "" {
		if _, err := s.ledger.FindPaymentByRef(ctx, req.ProviderRef); err == nil {
			return nil, utils.Conflict("Duplicate payment reference")
		} else if !utils.IsKind(err, utils.KindNotFound) {
			return nil, err
		}
	}

	provider, err := s.confirmProvider(ctx, order.ID, req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.ApplyTransition(ctx, models.Transition{
		OrderID:       order.ID,
		Provider:      provider.Code(),
		ProviderRef:   req.ProviderRef,
		PaymentStatus: models.PaymentStatusSuccess,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		RawPayload: models.JSONB{
			"confirmed_by": actor.UserID,
			"note":         req.Note,
		},
		Source: models.SourceManual,
	})
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return nil, utils.Conflict("Order is already %s", res.Order.Status)
	}
	s.effects.AfterTransition(ctx, res, models.SourceManual)

	s.audit.Record(ctx, actor, "order", order.ID.String(), "manual_confirm",
		map[string]interface{}{"status": res.PreviousStatus},
		map[string]interface{}{
			"status":         res.Order.Status,
			"payment_method": provider.Code(),
			"provider_ref":   req.ProviderRef,
			"note":           req.Note,
		})

	return res.Order, nil
}

func (s *OrderAdminService) confirmProvider(ctx context.Context, orderID uuid.UUID, method string) (payments.Provider, error) {
	code := strings.ToLower(strings.TrimSpace(method))
	if code == "" {
		latest, err := s.ledger.LatestPayment(ctx, orderID)
		switch {
		case err == nil:
			code = latest.Provider
		case utils.IsKind(err, utils.KindNotFound):
			return s.checkout.registry.Default(), nil
		default:
			return nil, err
		}
	}
	return s.checkout.registry.Get(code)
}

func (s *OrderAdminService) Refund(ctx context.Context, orderID uuid.UUID, actor Actor) (*RefundResponse, error) {
	return s.checkout.Refund(ctx, orderID, actor)
}

// Redeliver retries key delivery for a paid order, e.g. after restocking.
func (s *OrderAdminService) Redeliver(ctx context.Context, orderID uuid.UUID, actor Actor) (*ActivationView, error) {
	record, err := s.activation.Deliver(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, utils.Conflict("No unused key available")
	}

	logrus.WithField("order_id", orderID).Info("Key redelivered by operator")
	s.audit.Record(ctx, actor, "order", orderID.String(), "redeliver", nil, map[string]interface{}{
		"product_key": record.ProductKey,
		"status":      record.Status,
	})
	return newActivationView(record), nil
}

func (s *OrderAdminService) Proof(ctx context.Context, orderID uuid.UUID, forceCheck bool) (*ProofResult, error) {
	return s.activation.Proof(ctx, orderID, forceCheck)
}
