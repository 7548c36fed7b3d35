// internal/repository/activation.go
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/keyshop-backend/internal/database"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// ActivationRepository stores activation records. Issuing and reissuing a
// record claim the key in the same transaction, so a record never exists
// without its key and a claimed key never lacks its record.
type ActivationRepository struct {
	db *gorm.DB
}

func NewActivationRepository(db *gorm.DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

func (r *ActivationRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.ActivationRecord, error) {
	var record models.ActivationRecord
	if err := r.db.WithContext(ctx).First(&record, "order_id = ?", orderID).Error; err != nil {
		return nil, notFound(err, "Activation record not found")
	}
	return &record, nil
}

// Issue claims a key for the order and creates its record in state issued.
// Concurrent issues for one order queue on the order row, so the later one
// sees the committed record and returns it with utils.ErrAlreadyExists.
// utils.ErrPoolExhausted leaves nothing behind.
func (r *ActivationRepository) Issue(ctx context.Context, req models.ClaimRequest, deviceID string) (*models.ActivationRecord, error) {
	var record *models.ActivationRecord
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(forUpdate).Select("id").First(&order, "id = ?", req.OrderID).Error; err != nil {
			return notFound(err, "Order not found")
		}

		var existing models.ActivationRecord
		res := tx.Limit(1).Find(&existing, "order_id = ?", req.OrderID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			record = &existing
			return utils.ErrAlreadyExists
		}

		key, err := claimTx(tx, req, models.KeyAuditAssign)
		if err != nil {
			return err
		}

		record = &models.ActivationRecord{
			OrderID:      req.OrderID,
			Email:        req.Email,
			ProductKey:   key.ProductKey,
			KeyID:        key.ID,
			KeyValue:     key.KeyValue,
			Status:       models.ActivationStatusIssued,
			Verification: models.VerificationUnknown,
			DeviceID:     deviceID,
		}
		if err := tx.Create(record).Error; err != nil {
			record = nil
			if isDuplicateKey(err) {
				return utils.ErrAlreadyExists
			}
			return err
		}
		return nil
	})
	if errors.Is(err, utils.ErrAlreadyExists) && record != nil {
		return record, err
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Reissue swaps the record's key for a different one from the same pool and
// resets it to issued. guard runs under the record's row lock and may veto.
func (r *ActivationRepository) Reissue(ctx context.Context, orderID uuid.UUID, actorID string, guard func(*models.ActivationRecord) error) (*models.ActivationRecord, error) {
	var record models.ActivationRecord
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&record, "order_id = ?", orderID).Error; err != nil {
			return notFound(err, "Activation record not found")
		}
		if guard != nil {
			if err := guard(&record); err != nil {
				return err
			}
		}

		key, err := replaceTx(tx, record.KeyID, models.ClaimRequest{
			ProductKey:      record.ProductKey,
			OrderID:         record.OrderID,
			Email:           record.Email,
			ExcludeKeyValue: record.KeyValue,
			ActorID:         actorID,
		})
		if err != nil {
			return err
		}

		record.KeyID = key.ID
		record.KeyValue = key.KeyValue
		record.TaskID = ""
		record.Status = models.ActivationStatusIssued
		record.Verification = models.VerificationUnknown
		record.LastMessage = ""
		record.LastCheckedAt = nil
		return tx.Save(&record).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Update applies fn to the locked record and saves it.
func (r *ActivationRepository) Update(ctx context.Context, orderID uuid.UUID, fn func(*models.ActivationRecord) error) (*models.ActivationRecord, error) {
	var record models.ActivationRecord
	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&record, "order_id = ?", orderID).Error; err != nil {
			return notFound(err, "Activation record not found")
		}
		if err := fn(&record); err != nil {
			return err
		}
		return tx.Save(&record).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
