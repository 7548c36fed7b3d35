// internal/services/audit_service.go
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/models"
)

// AuditService writes entity audit rows in the background. A failed write
// is logged and never reaches the caller.
type AuditService struct {
	store AuditStore
	wg    sync.WaitGroup
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) Record(ctx context.Context, actor Actor, entityType, entityID, action string, before, after interface{}) {
	entry := &models.AuditLog{
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     toJSONB(before),
		After:      toJSONB(after),
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := s.store.Create(ctx, entry); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"entity_type": entityType,
				"entity_id":   entityID,
				"action":      action,
			}).Error("Failed to write audit log")
		}
	}()
}

// Wait blocks until queued writes finish. Used on shutdown and in tests.
func (s *AuditService) Wait() {
	s.wg.Wait()
}

func toJSONB(v interface{}) models.JSONB {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return models.JSONB(m)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.JSONB{"value": v}
	}
	return out
}
