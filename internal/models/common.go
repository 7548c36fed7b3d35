// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields. Ledger rows are never soft-deleted.
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusFailed   OrderStatus = "FAILED"
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSuccess    PaymentStatus = "SUCCESS"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

type KeyStatus string

const (
	KeyStatusAvailable KeyStatus = "available"
	KeyStatusReserved  KeyStatus = "reserved"
	KeyStatusUsed      KeyStatus = "used"
	KeyStatusRevoked   KeyStatus = "revoked"
)

func (s KeyStatus) Valid() bool {
	switch s {
	case KeyStatusAvailable, KeyStatusReserved, KeyStatusUsed, KeyStatusRevoked:
		return true
	}
	return false
}

type ActivationStatus string

const (
	ActivationStatusIssued     ActivationStatus = "issued"
	ActivationStatusProcessing ActivationStatus = "processing"
	ActivationStatusSuccess    ActivationStatus = "success"
	ActivationStatusFailed     ActivationStatus = "failed"
)

type VerificationState string

const (
	VerificationUnknown VerificationState = "unknown"
	VerificationPending VerificationState = "pending"
	VerificationSuccess VerificationState = "success"
	VerificationFailed  VerificationState = "failed"
)

type EarningStatus string

const (
	EarningStatusPending  EarningStatus = "PENDING"
	EarningStatusPaid     EarningStatus = "PAID"
	EarningStatusReversed EarningStatus = "REVERSED"
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "PERCENT"
	DiscountTypeFixed   DiscountType = "FIXED"
)
