// internal/models/activation.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivationRecord tracks the key bound to a paid order through the upstream
// activation task. Rows are kept for support history.
type ActivationRecord struct {
	BaseModel
	OrderID          uuid.UUID         `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	Email            string            `json:"-" gorm:"size:255"`
	ProductKey       string            `json:"product_key" gorm:"size:100;not null"`
	KeyID            uuid.UUID         `json:"-" gorm:"type:uuid;not null;index"`
	KeyValue         string            `json:"-" gorm:"size:255;not null"`
	TaskID           string            `json:"task_id,omitempty" gorm:"size:255;index"`
	Status           ActivationStatus  `json:"status" gorm:"type:varchar(20);default:'issued';index"`
	Verification     VerificationState `json:"verification_state" gorm:"type:varchar(20);default:'unknown'"`
	Attempts         int               `json:"attempts" gorm:"not null;default:0"`
	LastMessage      string            `json:"last_message,omitempty" gorm:"type:text"`
	LastCheckedAt    *time.Time        `json:"last_checked_at"`
	DeviceID         string            `json:"device_id,omitempty" gorm:"size:100"`
	TokenFingerprint string            `json:"token_fingerprint,omitempty" gorm:"size:32"`
	TokenKind        string            `json:"token_kind,omitempty" gorm:"size:32"`
}

func (r *ActivationRecord) CanStart() bool {
	return r.Status == ActivationStatusIssued || r.Status == ActivationStatusFailed
}

// MapTaskStatus maps an upstream poll onto local status and verification state.
func MapTaskStatus(pending, success bool) (ActivationStatus, VerificationState) {
	switch {
	case pending:
		return ActivationStatusProcessing, VerificationPending
	case success:
		return ActivationStatusSuccess, VerificationSuccess
	default:
		return ActivationStatusFailed, VerificationFailed
	}
}

type Certainty string

const (
	CertaintyOrderNotPaid        Certainty = "ORDER_NOT_PAID"
	CertaintyKeyNotIssued        Certainty = "KEY_NOT_ISSUED"
	CertaintyInProgress          Certainty = "ACTIVATION_IN_PROGRESS"
	CertaintyFailed              Certainty = "ACTIVATION_FAILED"
	CertaintyConfirmedByProvider Certainty = "ACTIVATED_CONFIRMED_PROVIDER"
	CertaintyUnconfirmed         Certainty = "ACTIVATION_UNCONFIRMED"
)

// ClassifyCertainty is the only place that may report a confirmed activation,
// and only when the record and the last upstream poll both say success.
func ClassifyCertainty(order OrderStatus, record *ActivationRecord) Certainty {
	if order != OrderStatusPaid {
		return CertaintyOrderNotPaid
	}
	if record == nil {
		return CertaintyKeyNotIssued
	}
	switch {
	case record.Status == ActivationStatusSuccess && record.Verification == VerificationSuccess:
		return CertaintyConfirmedByProvider
	case record.Status == ActivationStatusFailed || record.Verification == VerificationFailed:
		return CertaintyFailed
	case record.Status == ActivationStatusProcessing || record.Verification == VerificationPending:
		return CertaintyInProgress
	}
	return CertaintyUnconfirmed
}
