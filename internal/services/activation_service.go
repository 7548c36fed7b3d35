// internal/services/activation_service.go
package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/javajoker/keyshop-backend/internal/activation"
	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

const systemActor = "system"

// ActivationService binds claimed keys to paid orders and drives them through
// the upstream activation task. Key values never appear in its errors or logs.
type ActivationService struct {
	ledger     OrderLedger
	store      ActivationStore
	client     activation.Client
	publisher  events.Publisher
	reconciler Reconciler
	config     config.ActivationConfig
	now        func() time.Time
}

// ActivationView is the customer-facing state of an activation.
type ActivationView struct {
	OrderID           string     `json:"orderId"`
	Product           string     `json:"product"`
	Status            string     `json:"status"`
	TaskID            string     `json:"taskId,omitempty"`
	VerificationState string     `json:"verificationState"`
	Attempts          int        `json:"attempts"`
	LastMessage       string     `json:"lastProviderMessage,omitempty"`
	LastCheckedAt     *time.Time `json:"lastProviderCheckedAt,omitempty"`
}

type ProofResult struct {
	OrderID           string           `json:"orderId"`
	OrderStatus       string           `json:"orderStatus"`
	ActivationStatus  string           `json:"activationStatus,omitempty"`
	VerificationState string           `json:"verificationState,omitempty"`
	TaskID            string           `json:"taskId,omitempty"`
	Attempts          int              `json:"attempts"`
	TokenFingerprint  string           `json:"tokenFingerprint,omitempty"`
	LastMessage       string           `json:"lastProviderMessage,omitempty"`
	LastCheckedAt     *time.Time       `json:"lastProviderCheckedAt,omitempty"`
	Certainty         models.Certainty `json:"certainty"`
	Label             string           `json:"label"`
}

func NewActivationService(
	ledger OrderLedger,
	store ActivationStore,
	client activation.Client,
	publisher events.Publisher,
	config config.ActivationConfig,
) *ActivationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ActivationService{
		ledger:    ledger,
		store:     store,
		client:    client,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

// SetReconciler wires the checkout side in after construction; checkout
// depends on delivery through the webhook effects.
func (s *ActivationService) SetReconciler(r Reconciler) {
	s.reconciler = r
}

// Deliver claims a key for a paid order and records it as issued. It is a
// no-op when the order already has a record. An exhausted pool returns
// (nil, nil) and leaves nothing behind so a later call can succeed.
func (s *ActivationService) Deliver(ctx context.Context, orderID uuid.UUID) (*models.ActivationRecord, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPaid {
		return nil, utils.Conflict("Order is not paid yet")
	}

	existing, err := s.store.FindByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}

	productKey, err := s.ledger.OrderProductKey(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id":    orderID,
		"product_key": productKey,
	})

	record, err := s.store.Issue(ctx, models.ClaimRequest{
		ProductKey: productKey,
		OrderID:    orderID,
		Email:      order.Email,
		ActorID:    systemActor,
	}, s.config.DeviceID)
	switch {
	case errors.Is(err, utils.ErrAlreadyExists):
		return record, nil
	case errors.Is(err, utils.ErrPoolExhausted):
		logger.Warn("No available key for paid order")
		return nil, nil
	case err != nil:
		return nil, err
	}

	logger.WithField("key_id", record.KeyID).Info("Key issued")
	s.publisher.Publish(events.EventKeyClaimed, orderID.String(), events.KeyPayload{
		OrderID:    orderID.String(),
		KeyID:      record.KeyID.String(),
		ProductKey: record.ProductKey,
	})
	return record, nil
}

// View returns the activation state, reconciling and delivering first when
// the webhook has not arrived yet.
func (s *ActivationService) View(ctx context.Context, orderID uuid.UUID, redeemToken string) (*ActivationView, error) {
	order, err := s.paidOrder(ctx, orderID, redeemToken)
	if err != nil {
		return nil, err
	}
	record, err := s.ensureRecord(ctx, order)
	if err != nil {
		return nil, err
	}
	return newActivationView(record), nil
}

// Start submits the bound key with the customer's token. The record is moved
// to processing under its row lock before the upstream call and restored if
// the call fails, so two concurrent starts cannot both submit.
func (s *ActivationService) Start(ctx context.Context, orderID uuid.UUID, token, redeemToken string) (*ActivationView, error) {
	cred, err := activation.NormalizeToken(token, s.config.MaxTokenLength)
	if err != nil {
		return nil, err
	}
	order, err := s.paidOrder(ctx, orderID, redeemToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureRecord(ctx, order); err != nil {
		return nil, err
	}
	return s.submit(ctx, orderID, cred)
}

func (s *ActivationService) submit(ctx context.Context, orderID uuid.UUID, cred *activation.Credential) (*ActivationView, error) {
	var (
		prevStatus       models.ActivationStatus
		prevVerification models.VerificationState
		keyValue         string
	)
	record, err := s.store.Update(ctx, orderID, func(r *models.ActivationRecord) error {
		if err := startConflict(r); err != nil {
			return err
		}
		prevStatus, prevVerification = r.Status, r.Verification
		keyValue = r.KeyValue
		r.Status = models.ActivationStatusProcessing
		r.Verification = models.VerificationPending
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id":          orderID,
		"token_kind":        cred.Kind,
		"token_fingerprint": cred.Fingerprint,
	})

	taskID, submitErr := s.client.Submit(ctx, keyValue, cred.Value, record.DeviceID)
	if submitErr != nil {
		logger.WithError(submitErr).Warn("Activation submit failed")
		if _, err := s.store.Update(context.WithoutCancel(ctx), orderID, func(r *models.ActivationRecord) error {
			r.Status, r.Verification = prevStatus, prevVerification
			return nil
		}); err != nil {
			logger.WithError(err).Error("Failed to restore activation record")
		}
		return nil, submitErr
	}

	now := s.now()
	record, err = s.store.Update(ctx, orderID, func(r *models.ActivationRecord) error {
		r.TaskID = taskID
		r.Attempts++
		r.LastMessage = "Activation request sent"
		r.LastCheckedAt = &now
		r.TokenFingerprint = cred.Fingerprint
		r.TokenKind = cred.Kind
		if r.DeviceID == "" {
			r.DeviceID = s.config.DeviceID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("task_id", taskID).Info("Activation submitted")
	return newActivationView(record), nil
}

func startConflict(r *models.ActivationRecord) error {
	if r.CanStart() {
		return nil
	}
	if r.Status == models.ActivationStatusSuccess {
		return utils.Conflict("Activation is already completed")
	}
	return utils.Conflict("Activation is still processing")
}

// Poll refreshes the record from the upstream task. A failed poll changes
// nothing locally.
func (s *ActivationService) Poll(ctx context.Context, orderID uuid.UUID, taskID, redeemToken string) (*ActivationView, error) {
	if _, err := s.paidOrder(ctx, orderID, redeemToken); err != nil {
		return nil, err
	}
	record, err := s.store.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if taskID == "" || record.TaskID != taskID {
		return nil, utils.NotFound("Activation task not found")
	}

	record, err = s.pollAndRecord(ctx, orderID, taskID)
	if err != nil {
		return nil, err
	}
	return newActivationView(record), nil
}

func (s *ActivationService) pollAndRecord(ctx context.Context, orderID uuid.UUID, taskID string) (*models.ActivationRecord, error) {
	status, err := s.client.Poll(ctx, taskID)
	if err != nil {
		return nil, err
	}

	next, verification := models.MapTaskStatus(status.Pending, status.Success)
	now := s.now()
	return s.store.Update(ctx, orderID, func(r *models.ActivationRecord) error {
		if r.TaskID != taskID {
			return utils.Conflict("Activation task was replaced")
		}
		r.Status = next
		r.Verification = verification
		r.LastMessage = status.Message
		r.LastCheckedAt = &now
		return nil
	})
}

// Restart swaps the bound key for a different one from the same pool and
// starts activation with it. Allowed at most once per cooldown window.
func (s *ActivationService) Restart(ctx context.Context, orderID uuid.UUID, token, redeemToken string) (*ActivationView, error) {
	cred, err := activation.NormalizeToken(token, s.config.MaxTokenLength)
	if err != nil {
		return nil, err
	}
	order, err := s.paidOrder(ctx, orderID, redeemToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureRecord(ctx, order); err != nil {
		return nil, err
	}

	record, err := s.store.Reissue(ctx, orderID, systemActor, s.restartGuard)
	if err != nil {
		if errors.Is(err, utils.ErrPoolExhausted) {
			return nil, utils.Conflict("No unused key available")
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"key_id":   record.KeyID,
	}).Info("New key issued, waiting for activation start")
	s.publisher.Publish(events.EventKeyReplaced, orderID.String(), events.KeyPayload{
		OrderID:    orderID.String(),
		KeyID:      record.KeyID.String(),
		ProductKey: record.ProductKey,
	})

	return s.submit(ctx, orderID, cred)
}

func (s *ActivationService) restartGuard(r *models.ActivationRecord) error {
	if r.Status == models.ActivationStatusSuccess {
		return utils.Conflict("Activation is already completed")
	}
	if wait := s.config.RestartCooldown - s.now().Sub(r.UpdatedAt); wait > 0 {
		seconds := int(math.Ceil(wait.Seconds()))
		return utils.Conflict("Retry is allowed no more than once every %d seconds",
			int(s.config.RestartCooldown.Seconds())).
			WithDetails(map[string]int{"retry_after_seconds": seconds})
	}
	if r.Status == models.ActivationStatusProcessing {
		return utils.Conflict("Activation is still processing")
	}
	return nil
}

// Proof classifies how certain we are that the product is activated. With
// forceCheck the upstream task is polled first; a failed poll is logged and
// the stored state is classified instead.
func (s *ActivationService) Proof(ctx context.Context, orderID uuid.UUID, forceCheck bool) (*ProofResult, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	record, err := s.store.FindByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}
	if record == nil && order.Status == models.OrderStatusPaid {
		if record, err = s.Deliver(ctx, orderID); err != nil {
			return nil, err
		}
	}

	if forceCheck && record != nil && record.TaskID != "" {
		polled, err := s.pollAndRecord(ctx, orderID, record.TaskID)
		if err != nil {
			logrus.WithError(err).WithField("order_id", orderID).Warn("Proof: upstream poll failed")
		} else {
			record = polled
		}
	}

	result := &ProofResult{
		OrderID:     order.ID.String(),
		OrderStatus: string(order.Status),
		Certainty:   models.ClassifyCertainty(order.Status, record),
	}
	if record != nil {
		result.ActivationStatus = string(record.Status)
		result.VerificationState = string(record.Verification)
		result.TaskID = record.TaskID
		result.Attempts = record.Attempts
		result.TokenFingerprint = record.TokenFingerprint
		result.LastMessage = record.LastMessage
		result.LastCheckedAt = record.LastCheckedAt
	}
	return result, nil
}

// CertaintyLabel is the localized human label for a certainty code.
func CertaintyLabel(lang string, c models.Certainty) string {
	keys := map[models.Certainty]string{
		models.CertaintyOrderNotPaid:        i18n.KeyCertaintyOrderNotPaid,
		models.CertaintyKeyNotIssued:        i18n.KeyCertaintyKeyNotIssued,
		models.CertaintyInProgress:          i18n.KeyCertaintyInProgress,
		models.CertaintyFailed:              i18n.KeyCertaintyFailed,
		models.CertaintyConfirmedByProvider: i18n.KeyCertaintyConfirmed,
		models.CertaintyUnconfirmed:         i18n.KeyCertaintyUnconfirmed,
	}
	key, ok := keys[c]
	if !ok {
		key = i18n.KeyCertaintyUnconfirmed
	}
	return i18n.T(lang, key)
}

// paidOrder loads the order, checks the redeem token and, for an order that
// is not yet paid, asks the provider once before giving up.
func (s *ActivationService) paidOrder(ctx context.Context, orderID uuid.UUID, redeemToken string) (*models.Order, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemToken(order, redeemToken); err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return order, nil
	}

	if order.Status == models.OrderStatusPending && s.reconciler != nil {
		if status, err := s.reconciler.Reconcile(ctx, orderID); err == nil && status.Status == string(models.OrderStatusPaid) {
			return s.ledger.FindOrder(ctx, orderID)
		}
	}
	return nil, utils.Conflict("Order is not paid yet")
}

func (s *ActivationService) ensureRecord(ctx context.Context, order *models.Order) (*models.ActivationRecord, error) {
	record, err := s.store.FindByOrderID(ctx, order.ID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}

	record, err = s.Deliver(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, utils.Conflict("Activation key is not issued yet")
	}
	return record, nil
}

func checkRedeemToken(order *models.Order, token string) error {
	if order.RedeemTokenHash == "" {
		return nil
	}
	if token == "" {
		return utils.Auth("Redeem token is required")
	}
	if bcrypt.CompareHashAndPassword([]byte(order.RedeemTokenHash), []byte(token)) != nil {
		return utils.Forbidden("Invalid redeem token")
	}
	return nil
}

func newActivationView(r *models.ActivationRecord) *ActivationView {
	return &ActivationView{
		OrderID:           r.OrderID.String(),
		Product:           r.ProductKey,
		Status:            string(r.Status),
		TaskID:            r.TaskID,
		VerificationState: string(r.Verification),
		Attempts:          r.Attempts,
		LastMessage:       r.LastMessage,
		LastCheckedAt:     r.LastCheckedAt,
	}
}
