// internal/repository/ledger.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/keyshop-backend/internal/database"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// LedgerRepository owns orders, payments and the partner earnings derived
// from them. Status changes go through ApplyTransition only.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreatePendingOrder persists the order together with its items.
func (r *LedgerRepository) CreatePendingOrder(ctx context.Context, order *models.Order) error {
	order.Status = models.OrderStatusPending
	return database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Create(order).Error
	})
}

// AttachPayment records the payment created at checkout and remembers its
// provider reference on the order.
func (r *LedgerRepository) AttachPayment(ctx context.Context, payment *models.Payment) error {
	return database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			if isDuplicateKey(err) {
				return utils.Conflict("Duplicate payment reference")
			}
			return err
		}
		if payment.ProviderRef == "" {
			return nil
		}
		return tx.Model(&models.Order{}).
			Where("id = ?", payment.OrderID).
			Update("payment_ref", payment.ProviderRef).Error
	})
}

func (r *LedgerRepository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Order not found")
	}
	return &order, nil
}

func (r *LedgerRepository) FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Order not found")
	}
	return &order, nil
}

// OrderProductKey returns the catalogue slug the order was placed for.
func (r *LedgerRepository) OrderProductKey(ctx context.Context, orderID uuid.UUID) (string, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&order, "id = ?", orderID).Error
	if err != nil {
		return "", notFound(err, "Order not found")
	}
	key := order.ProductKey()
	if key == "" {
		return "", utils.NotFound("Order item not found")
	}
	return key, nil
}

func (r *LedgerRepository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Payment not found")
	}
	return &payment, nil
}

func (r *LedgerRepository) FindPaymentByRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "provider_ref = ?", ref).Error; err != nil {
		return nil, notFound(err, "Payment not found")
	}
	return &payment, nil
}

func (r *LedgerRepository) LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, notFound(err, "Payment not found")
	}
	return &payment, nil
}

// RefOwnedByOther reports whether ref is already recorded on a payment other than paymentID.
func (r *LedgerRepository) RefOwnedByOther(ctx context.Context, ref string, paymentID uuid.UUID) (bool, error) {
	if ref == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("provider_ref = ? AND id <> ?", ref, paymentID).
		Count(&count).Error
	return count > 0, err
}

func (r *LedgerRepository) CountRecentOrdersByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("ip = ? AND created_at >= ?", ip, since).
		Count(&count).Error
	return count, err
}

// ApplyTransition locks the order row, re-checks the replay and state-machine
// rules under the lock, and commits payment and order status together. The
// first move into PAID credits promo usage and the partner; a refund reverses
// the partner earning.
func (r *LedgerRepository) ApplyTransition(ctx context.Context, t models.Transition) (*models.TransitionResult, error) {
	result := &models.TransitionResult{}

	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(forUpdate).First(&order, "id = ?", t.OrderID).Error; err != nil {
			return notFound(err, "Order not found")
		}

		var payment models.Payment
		if t.PaymentID != nil {
			if err := tx.Clauses(forUpdate).
				First(&payment, "id = ? AND order_id = ?", *t.PaymentID, order.ID).Error; err != nil {
				return notFound(err, "Payment not found")
			}
		}

		result.PreviousStatus = order.Status
		result.Order = &order
		result.Payment = &payment

		switch models.EvaluateTransition(order.Status, payment.Status, t.PaymentStatus) {
		case models.DecisionDuplicate:
			result.Duplicate = true
			return nil
		case models.DecisionIllegal:
			return utils.Conflict("Order cannot move from %s with a %s payment", order.Status, t.PaymentStatus)
		}

		now := t.At
		if now.IsZero() {
			now = time.Now()
		}

		if t.PaymentID == nil {
			payment = models.Payment{
				OrderID:     order.ID,
				Provider:    t.Provider,
				ProviderRef: t.ProviderRef,
				Status:      t.PaymentStatus,
				Amount:      t.Amount,
				Currency:    t.Currency,
				RawPayload:  t.RawPayload,
				ProcessedAt: &now,
			}
			if err := tx.Create(&payment).Error; err != nil {
				if isDuplicateKey(err) {
					return utils.Conflict("Duplicate payment reference")
				}
				return err
			}
		} else {
			updates := map[string]interface{}{
				"status":       t.PaymentStatus,
				"processed_at": now,
			}
			if t.ProviderRef != "" && payment.ProviderRef == "" {
				updates["provider_ref"] = t.ProviderRef
				payment.ProviderRef = t.ProviderRef
			}
			if t.RawPayload != nil {
				updates["raw_payload"] = t.RawPayload
				payment.RawPayload = t.RawPayload
			}
			if err := tx.Model(&payment).Updates(updates).Error; err != nil {
				if isDuplicateKey(err) {
					return utils.Conflict("Duplicate payment reference")
				}
				return err
			}
			payment.Status = t.PaymentStatus
			payment.ProcessedAt = &now
		}

		next := models.OrderStatusFor(t.PaymentStatus, order.Status)
		orderUpdates := map[string]interface{}{"status": next}
		if payment.ProviderRef != "" {
			orderUpdates["payment_ref"] = payment.ProviderRef
		}
		if err := tx.Model(&order).Updates(orderUpdates).Error; err != nil {
			return err
		}
		order.Status = next
		if payment.ProviderRef != "" {
			order.PaymentRef = payment.ProviderRef
		}

		if result.PreviousStatus != models.OrderStatusPaid && next == models.OrderStatusPaid {
			if err := creditPaidOrder(tx, &order); err != nil {
				return err
			}
		}
		if result.PreviousStatus != models.OrderStatusRefunded && next == models.OrderStatusRefunded {
			if err := reverseEarnings(tx, order.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func creditPaidOrder(tx *gorm.DB, order *models.Order) error {
	if order.PromoCodeID != nil {
		if err := tx.Model(&models.PromoCode{}).
			Where("id = ?", *order.PromoCodeID).
			UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error; err != nil {
			return err
		}
	}

	if order.PartnerID == nil {
		return nil
	}

	var partner models.Partner
	res := tx.Limit(1).Find(&partner, "id = ?", *order.PartnerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	earning := models.PartnerEarning{
		OrderID:          order.ID,
		PartnerID:        partner.ID,
		CommissionRate:   partner.PayoutPercent,
		CommissionAmount: utils.RoundMoney(order.TotalAmount * partner.PayoutPercent / 100),
		Status:           models.EarningStatusPending,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"partner_id", "commission_rate", "commission_amount", "status", "updated_at"}),
	}).Create(&earning).Error
}

func reverseEarnings(tx *gorm.DB, orderID uuid.UUID) error {
	return tx.Model(&models.PartnerEarning{}).
		Where("order_id = ? AND status <> ?", orderID, models.EarningStatusReversed).
		Update("status", models.EarningStatusReversed).Error
}
