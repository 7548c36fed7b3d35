// internal/models/product.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product is the read side of the storefront catalogue.
type Product struct {
	BaseModel
	Slug       string  `json:"slug" gorm:"size:100;not null;uniqueIndex"`
	Title      string  `json:"title" gorm:"size:255;not null"`
	Price      float64 `json:"price" gorm:"type:decimal(12,2);not null"`
	Currency   string  `json:"currency" gorm:"size:8;not null;default:'RUB'"`
	IsActive   bool    `json:"is_active" gorm:"default:true"`
	IsArchived bool    `json:"is_archived" gorm:"default:false"`
}

func (p *Product) Purchasable() bool {
	return p.IsActive && !p.IsArchived
}

type PromoCode struct {
	BaseModel
	Code          string       `json:"code" gorm:"size:64;not null;uniqueIndex"`
	DiscountType  DiscountType `json:"discount_type" gorm:"type:varchar(16);not null"`
	DiscountValue float64      `json:"discount_value" gorm:"type:decimal(12,2);not null"`
	IsActive      bool         `json:"is_active" gorm:"default:true"`
	ExpiresAt     *time.Time   `json:"expires_at"`
	UsageLimit    *int         `json:"usage_limit"`
	UsedCount     int          `json:"used_count" gorm:"not null;default:0"`
	OwnerLabel    string       `json:"owner_label,omitempty" gorm:"size:255"`
	PartnerID     *uuid.UUID   `json:"partner_id,omitempty" gorm:"type:uuid;index"`

	Partner *Partner `json:"partner,omitempty" gorm:"foreignKey:PartnerID"`
}

type Partner struct {
	BaseModel
	Name          string  `json:"name" gorm:"size:255;not null"`
	PayoutPercent float64 `json:"payout_percent" gorm:"type:decimal(5,2);not null"`
	IsActive      bool    `json:"is_active" gorm:"default:true"`
}

type PartnerEarning struct {
	BaseModel
	OrderID          uuid.UUID     `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	PartnerID        uuid.UUID     `json:"partner_id" gorm:"type:uuid;not null;index"`
	CommissionRate   float64       `json:"commission_rate" gorm:"type:decimal(5,2);not null"`
	CommissionAmount float64       `json:"commission_amount" gorm:"type:decimal(12,2);not null"`
	Status           EarningStatus `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`
}

// PromoRejection explains why a promo code cannot be applied; empty when usable.
func (p *PromoCode) PromoRejection(email string, now time.Time) string {
	switch {
	case !p.IsActive:
		return "Promo code is invalid or inactive"
	case p.ExpiresAt != nil && p.ExpiresAt.Before(now):
		return "Promo code expired"
	case p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit:
		return "Promo code usage limit reached"
	case p.OwnerLabel != "" && strings.EqualFold(strings.TrimSpace(p.OwnerLabel), strings.TrimSpace(email)):
		return "Self-referral promo usage is not allowed"
	}
	return ""
}
