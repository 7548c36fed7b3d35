// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Order struct {
	BaseModel
	Email             string      `json:"email" gorm:"size:255;not null;index"`
	Status            OrderStatus `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`
	SubtotalAmount    float64     `json:"subtotal_amount" gorm:"type:decimal(12,2);not null"`
	DiscountAmount    float64     `json:"discount_amount" gorm:"type:decimal(12,2);not null;default:0"`
	TotalAmount       float64     `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	Currency          string      `json:"currency" gorm:"size:8;not null"`
	PaymentMethod     string      `json:"payment_method,omitempty" gorm:"size:50"`
	PaymentRef        string      `json:"payment_ref,omitempty" gorm:"size:255"`
	PromoCodeID       *uuid.UUID  `json:"promo_code_id,omitempty" gorm:"type:uuid;index"`
	PromoCodeSnapshot string      `json:"promo_code,omitempty" gorm:"size:64"`
	PartnerID         *uuid.UUID  `json:"partner_id,omitempty" gorm:"type:uuid;index"`
	IP                string      `json:"-" gorm:"size:64;index"`
	RedeemTokenHash   string      `json:"-" gorm:"size:100"`

	// Relationships
	Items    []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	Payments []Payment   `json:"payments,omitempty" gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	BaseModel
	OrderID    uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID  uuid.UUID `json:"product_id" gorm:"type:uuid;not null;index"`
	ProductKey string    `json:"product_key" gorm:"size:100;not null"`
	Title      string    `json:"title" gorm:"size:255"`
	Price      float64   `json:"price" gorm:"type:decimal(12,2);not null"`
	Quantity   int       `json:"quantity" gorm:"not null;default:1"`
}

type Payment struct {
	BaseModel
	OrderID     uuid.UUID     `json:"order_id" gorm:"type:uuid;not null;index"`
	Provider    string        `json:"provider" gorm:"size:32;not null"`
	ProviderRef string        `json:"provider_ref,omitempty" gorm:"size:255"`
	Status      PaymentStatus `json:"status" gorm:"type:varchar(20);default:'PROCESSING';index"`
	Amount      float64       `json:"amount" gorm:"type:decimal(12,2);not null"`
	Currency    string        `json:"currency" gorm:"size:8;not null"`
	RawPayload  JSONB         `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	ProcessedAt *time.Time    `json:"processed_at"`
}

// CanTransitionTo reports whether the order state machine allows next.
// FAILED -> PAID covers a late successful retry of the same checkout.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return s == OrderStatusPending || s == OrderStatusFailed
	}
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusFailed
	case OrderStatusFailed:
		return next == OrderStatusPaid
	case OrderStatusPaid:
		return next == OrderStatusRefunded
	}
	return false
}

// OrderStatusFor is the order status implied by a payment status.
// A processing payment leaves the order where it is.
func OrderStatusFor(payment PaymentStatus, current OrderStatus) OrderStatus {
	switch payment {
	case PaymentStatusSuccess:
		return OrderStatusPaid
	case PaymentStatusFailed:
		return OrderStatusFailed
	case PaymentStatusRefunded:
		return OrderStatusRefunded
	}
	return current
}

// ProductKey returns the catalogue slug of the single order item.
func (o *Order) ProductKey() string {
	if len(o.Items) == 0 {
		return ""
	}
	return o.Items[0].ProductKey
}
