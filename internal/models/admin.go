// internal/models/admin.go
package models

// AuditLog records operator and system actions on orders and keys. It is
// written asynchronously and never blocks the action it describes.
type AuditLog struct {
	BaseModel
	ActorID    string `json:"actor_id,omitempty" gorm:"size:64;index"`
	Action     string `json:"action" gorm:"size:100;not null;index"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index"`
	EntityID   string `json:"entity_id" gorm:"size:64;index"`
	Before     JSONB  `json:"before,omitempty" gorm:"type:jsonb"`
	After      JSONB  `json:"after,omitempty" gorm:"type:jsonb"`
	IPAddress  string `json:"ip_address,omitempty" gorm:"size:64"`
	UserAgent  string `json:"user_agent,omitempty" gorm:"type:text"`
}
