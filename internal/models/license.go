// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseKey is one activation code in a product pool. KeyValue never leaves
// the admin API.
type LicenseKey struct {
	BaseModel
	ProductKey   string     `json:"product_key" gorm:"size:100;not null;index:idx_license_keys_pool,priority:1"`
	KeyValue     string     `json:"key_value" gorm:"size:255;not null;uniqueIndex"`
	Status       KeyStatus  `json:"status" gorm:"type:varchar(20);default:'available';index:idx_license_keys_pool,priority:2"`
	OrderID      *uuid.UUID `json:"order_id,omitempty" gorm:"type:uuid;index"`
	Email        string     `json:"email,omitempty" gorm:"size:255"`
	UsedAt       *time.Time `json:"used_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
	RevokeReason string     `json:"revoke_reason,omitempty" gorm:"size:255"`
}

// LicenseKeyAuditLog is written in the same transaction as the key mutation it describes.
type LicenseKeyAuditLog struct {
	BaseModel
	KeyID      *uuid.UUID `json:"key_id" gorm:"type:uuid;index"`
	ProductKey string     `json:"product_key" gorm:"size:100;index"`
	Action     string     `json:"action" gorm:"size:32;not null;index"`
	ActorID    string     `json:"actor_id,omitempty" gorm:"size:64"`
	OrderID    *uuid.UUID `json:"order_id,omitempty" gorm:"type:uuid;index"`
	Count      int        `json:"count"`
	Details    JSONB      `json:"details,omitempty" gorm:"type:jsonb"`
}

const (
	KeyAuditImport  = "import"
	KeyAuditAssign  = "assign"
	KeyAuditReplace = "replace"
	KeyAuditReturn  = "return"
	KeyAuditRevoke  = "revoke"
	KeyAuditDelete  = "delete"
)

type ClaimRequest struct {
	ProductKey      string
	OrderID         uuid.UUID
	Email           string
	ExcludeKeyValue string
	ActorID         string
}

type ImportResult struct {
	ProductKey            string         `json:"product_key"`
	Received              int            `json:"received"`
	Inserted              int            `json:"inserted"`
	Skipped               int            `json:"skipped"`
	Conflicts             int            `json:"conflicts"`
	ConflictsByProductKey map[string]int `json:"conflicts_by_product_key,omitempty"`
}

type KeyListFilter struct {
	ProductKey string
	Status     KeyStatus
	Search     string
	Page       int
	Limit      int
	Sort       string
	Order      string
}

type KeyStats struct {
	ProductKey string    `json:"product_key"`
	Status     KeyStatus `json:"status"`
	Count      int64     `json:"count"`
}
