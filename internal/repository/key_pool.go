// internal/repository/key_pool.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/keyshop-backend/internal/database"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// KeyPoolRepository is the only writer of license_keys. Every mutation writes
// its audit row in the same transaction.
type KeyPoolRepository struct {
	db *gorm.DB
}

func NewKeyPoolRepository(db *gorm.DB) *KeyPoolRepository {
	return &KeyPoolRepository{db: db}
}

func (r *KeyPoolRepository) ImportKeys(ctx context.Context, productKey string, codes []string, actorID string) (*models.ImportResult, error) {
	pool := utils.CanonicalProductKey(productKey)
	if pool == "" {
		return nil, utils.Validation("product key is required")
	}

	normalized := utils.NormalizeKeyCodes(codes)
	result := &models.ImportResult{
		ProductKey:            pool,
		Received:              len(codes),
		ConflictsByProductKey: map[string]int{},
	}
	if len(normalized) == 0 {
		return result, nil
	}

	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var existing []models.LicenseKey
		if err := tx.Select("key_value", "product_key").
			Where("key_value = ANY(?)", pq.Array(normalized)).
			Find(&existing).Error; err != nil {
			return err
		}

		owner := make(map[string]string, len(existing))
		for _, k := range existing {
			owner[k.KeyValue] = k.ProductKey
		}

		rows := make([]models.LicenseKey, 0, len(normalized))
		for _, code := range normalized {
			pk, taken := owner[code]
			switch {
			case !taken:
				rows = append(rows, models.LicenseKey{ProductKey: pool, KeyValue: code, Status: models.KeyStatusAvailable})
			case pk == pool:
				result.Skipped++
			default:
				result.Conflicts++
				result.ConflictsByProductKey[pk]++
			}
		}

		if len(rows) > 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500)
			if res.Error != nil {
				return res.Error
			}
			result.Inserted = int(res.RowsAffected)
			// lost a race with a concurrent import of the same codes
			result.Skipped += len(rows) - result.Inserted
		}

		return writeKeyAudit(tx, models.LicenseKeyAuditLog{
			ProductKey: pool,
			Action:     models.KeyAuditImport,
			ActorID:    actorID,
			Count:      result.Inserted,
			Details: models.JSONB{
				"received":  result.Received,
				"skipped":   result.Skipped,
				"conflicts": result.Conflicts,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if len(result.ConflictsByProductKey) == 0 {
		result.ConflictsByProductKey = nil
	}
	return result, nil
}

// Claim hands one available key of the pool to the order. Rows locked by a
// concurrent claimant are skipped, never waited on.
func (r *KeyPoolRepository) Claim(ctx context.Context, req models.ClaimRequest) (*models.LicenseKey, error) {
	var claimed *models.LicenseKey
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		key, err := claimTx(tx, req, models.KeyAuditAssign)
		claimed = key
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Replace revokes the old binding and claims a different key for the same
// order. When the pool is exhausted nothing changes.
func (r *KeyPoolRepository) Replace(ctx context.Context, oldKeyID uuid.UUID, req models.ClaimRequest) (*models.LicenseKey, error) {
	var claimed *models.LicenseKey
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		key, err := replaceTx(tx, oldKeyID, req)
		claimed = key
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func claimTx(tx *gorm.DB, req models.ClaimRequest, action string) (*models.LicenseKey, error) {
	pool := utils.CanonicalProductKey(req.ProductKey)

	query := tx.Clauses(forUpdateSkipLk).
		Where("product_key = ? AND status = ?", pool, models.KeyStatusAvailable)
	if req.ExcludeKeyValue != "" {
		query = query.Where("key_value <> ?", utils.NormalizeKeyCode(req.ExcludeKeyValue))
	}

	var key models.LicenseKey
	res := query.Order("created_at ASC").Limit(1).Find(&key)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrPoolExhausted
	}

	now := time.Now()
	upd := tx.Model(&models.LicenseKey{}).
		Where("id = ? AND status = ?", key.ID, models.KeyStatusAvailable).
		Updates(map[string]interface{}{
			"status":   models.KeyStatusUsed,
			"order_id": req.OrderID,
			"email":    req.Email,
			"used_at":  now,
		})
	if upd.Error != nil {
		if isDuplicateKey(upd.Error) {
			return nil, utils.Conflict("order already holds a key from this pool")
		}
		return nil, upd.Error
	}
	if upd.RowsAffected != 1 {
		return nil, utils.ErrPoolExhausted
	}

	orderID := req.OrderID
	key.Status = models.KeyStatusUsed
	key.OrderID = &orderID
	key.Email = req.Email
	key.UsedAt = &now

	err := writeKeyAudit(tx, models.LicenseKeyAuditLog{
		KeyID:      &key.ID,
		ProductKey: pool,
		Action:     action,
		ActorID:    req.ActorID,
		OrderID:    &orderID,
		Count:      1,
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func replaceTx(tx *gorm.DB, oldKeyID uuid.UUID, req models.ClaimRequest) (*models.LicenseKey, error) {
	var old models.LicenseKey
	if err := tx.Clauses(forUpdate).First(&old, "id = ?", oldKeyID).Error; err != nil {
		return nil, notFound(err, "key not found")
	}
	if old.OrderID == nil || *old.OrderID != req.OrderID {
		return nil, utils.Conflict("key is not bound to this order")
	}

	now := time.Now()
	if err := tx.Model(&old).Updates(map[string]interface{}{
		"status":        models.KeyStatusRevoked,
		"revoked_at":    now,
		"revoke_reason": "replaced",
	}).Error; err != nil {
		return nil, err
	}

	if req.ExcludeKeyValue == "" {
		req.ExcludeKeyValue = old.KeyValue
	}
	if req.ProductKey == "" {
		req.ProductKey = old.ProductKey
	}
	return claimTx(tx, req, models.KeyAuditReplace)
}

func (r *KeyPoolRepository) ReturnToAvailable(ctx context.Context, keyID uuid.UUID, actorID string) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&key, "id = ?", keyID).Error; err != nil {
			return notFound(err, "key not found")
		}
		previousOrder := key.OrderID

		if err := tx.Model(&key).Updates(map[string]interface{}{
			"status":        models.KeyStatusAvailable,
			"order_id":      nil,
			"email":         "",
			"used_at":       nil,
			"revoked_at":    nil,
			"revoke_reason": "",
		}).Error; err != nil {
			return err
		}
		key.Status = models.KeyStatusAvailable
		key.OrderID, key.Email, key.UsedAt, key.RevokedAt, key.RevokeReason = nil, "", nil, nil, ""

		return writeKeyAudit(tx, models.LicenseKeyAuditLog{
			KeyID:      &key.ID,
			ProductKey: key.ProductKey,
			Action:     models.KeyAuditReturn,
			ActorID:    actorID,
			OrderID:    previousOrder,
			Count:      1,
		})
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *KeyPoolRepository) Revoke(ctx context.Context, keyID uuid.UUID, actorID, reason string) (*models.LicenseKey, error) {
	var key models.LicenseKey
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&key, "id = ?", keyID).Error; err != nil {
			return notFound(err, "key not found")
		}
		if key.Status == models.KeyStatusRevoked {
			return nil
		}

		now := time.Now()
		if err := tx.Model(&key).Updates(map[string]interface{}{
			"status":        models.KeyStatusRevoked,
			"revoked_at":    now,
			"revoke_reason": reason,
		}).Error; err != nil {
			return err
		}
		key.Status, key.RevokedAt, key.RevokeReason = models.KeyStatusRevoked, &now, reason

		return writeKeyAudit(tx, models.LicenseKeyAuditLog{
			KeyID:      &key.ID,
			ProductKey: key.ProductKey,
			Action:     models.KeyAuditRevoke,
			ActorID:    actorID,
			OrderID:    key.OrderID,
			Count:      1,
			Details:    models.JSONB{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// DeleteIfAvailable physically removes a key that was never handed out.
func (r *KeyPoolRepository) DeleteIfAvailable(ctx context.Context, keyID uuid.UUID, actorID string) error {
	return database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var key models.LicenseKey
		if err := tx.Clauses(forUpdate).First(&key, "id = ?", keyID).Error; err != nil {
			return notFound(err, "key not found")
		}
		if key.Status != models.KeyStatusAvailable {
			return utils.Conflict("key is not available").WithDetails(map[string]string{"status": string(key.Status)})
		}
		if err := tx.Delete(&models.LicenseKey{}, "id = ?", key.ID).Error; err != nil {
			return err
		}
		return writeKeyAudit(tx, models.LicenseKeyAuditLog{
			KeyID:      &key.ID,
			ProductKey: key.ProductKey,
			Action:     models.KeyAuditDelete,
			ActorID:    actorID,
			Count:      1,
		})
	})
}

func (r *KeyPoolRepository) Stats(ctx context.Context) ([]models.KeyStats, error) {
	var stats []models.KeyStats
	err := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Select("product_key, status, COUNT(*) AS count").
		Group("product_key, status").
		Order("product_key, status").
		Scan(&stats).Error
	return stats, err
}

func (r *KeyPoolRepository) ListByProduct(ctx context.Context, filter models.KeyListFilter) ([]models.LicenseKey, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LicenseKey{})
	if filter.ProductKey != "" {
		query = query.Where("product_key = ?", utils.CanonicalProductKey(filter.ProductKey))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("key_value ILIKE ? OR email ILIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var keys []models.LicenseKey
	page := utils.PageParams{Page: filter.Page, Limit: filter.Limit, Sort: filter.Sort, Order: filter.Order}
	err := utils.Paginate(query, page, "created_at", "used_at", "status", "product_key").Find(&keys).Error
	return keys, total, err
}

func writeKeyAudit(tx *gorm.DB, entry models.LicenseKeyAuditLog) error {
	return tx.Create(&entry).Error
}
