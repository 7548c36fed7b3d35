// internal/services/key_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// KeyService is the admin side of the key pool.
type KeyService struct {
	pool    KeyPool
	storage ObjectReader
	audit   *AuditService
}

type ImportKeysRequest struct {
	ProductKey string   `json:"product_key" validate:"required,product_key"`
	Codes      []string `json:"codes" validate:"omitempty,max=10000,dive,max=255"`
	Text       string   `json:"text" validate:"omitempty,max=5242880"`
}

type ImportS3Request struct {
	ProductKey string `json:"product_key" validate:"required,product_key"`
	Bucket     string `json:"bucket" validate:"omitempty,max=255"`
	Key        string `json:"key" validate:"required,max=1024"`
}

type RevokeKeyRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

func NewKeyService(pool KeyPool, storage ObjectReader, audit *AuditService) *KeyService {
	return &KeyService{
		pool:    pool,
		storage: storage,
		audit:   audit,
	}
}

func (s *KeyService) Import(ctx context.Context, req ImportKeysRequest, actor Actor) (*models.ImportResult, error) {
	codes := append([]string{}, req.Codes...)
	if req.Text != "" {
		codes = append(codes, utils.SplitKeyCodes(req.Text)...)
	}
	return s.importCodes(ctx, req.ProductKey, codes, actor, "body")
}

// ImportFromS3 imports a newline or comma separated key file from the bucket.
func (s *KeyService) ImportFromS3(ctx context.Context, req ImportS3Request, actor Actor) (*models.ImportResult, error) {
	if s.storage == nil {
		return nil, utils.Validation("S3 import is not configured")
	}
	body, err := s.storage.ReadObject(ctx, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	return s.importCodes(ctx, req.ProductKey, utils.SplitKeyCodes(string(body)), actor, "s3:"+req.Key)
}

func (s *KeyService) importCodes(ctx context.Context, productKey string, codes []string, actor Actor, source string) (*models.ImportResult, error) {
	if len(utils.NormalizeKeyCodes(codes)) == 0 {
		return nil, utils.Validation("No key codes provided")
	}

	result, err := s.pool.ImportKeys(ctx, productKey, codes, actor.UserID)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"product_key": result.ProductKey,
		"source":      source,
		"inserted":    result.Inserted,
		"skipped":     result.Skipped,
		"conflicts":   result.Conflicts,
	}).Info("Keys imported")

	s.audit.Record(ctx, actor, "license_key_pool", result.ProductKey, "import", nil, map[string]interface{}{
		"source":    source,
		"received":  result.Received,
		"inserted":  result.Inserted,
		"skipped":   result.Skipped,
		"conflicts": result.Conflicts,
	})
	return result, nil
}

func (s *KeyService) List(ctx context.Context, filter models.KeyListFilter) ([]models.LicenseKey, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, utils.Validation("Unknown key status %q", filter.Status)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.pool.ListByProduct(ctx, filter)
}

func (s *KeyService) Stats(ctx context.Context) ([]models.KeyStats, error) {
	return s.pool.Stats(ctx)
}

func (s *KeyService) Return(ctx context.Context, keyID uuid.UUID, actor Actor) (*models.LicenseKey, error) {
	key, err := s.pool.ReturnToAvailable(ctx, keyID, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "license_key", keyID.String(), "return", nil, map[string]interface{}{
		"status": key.Status,
	})
	return key, nil
}

func (s *KeyService) Revoke(ctx context.Context, keyID uuid.UUID, reason string, actor Actor) (*models.LicenseKey, error) {
	key, err := s.pool.Revoke(ctx, keyID, actor.UserID, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "license_key", keyID.String(), "revoke", nil, map[string]interface{}{
		"status": key.Status,
		"reason": key.RevokeReason,
	})
	return key, nil
}

func (s *KeyService) Delete(ctx context.Context, keyID uuid.UUID, actor Actor) error {
	if err := s.pool.DeleteIfAvailable(ctx, keyID, actor.UserID); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, "license_key", keyID.String(), "delete", nil, nil)
	return nil
}
