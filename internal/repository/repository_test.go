package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/database"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/repository"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// PostgresSuite runs against the database named by TEST_DATABASE_DSN.
type PostgresSuite struct {
	suite.Suite
	db          *gorm.DB
	pool        *repository.KeyPoolRepository
	ledger      *repository.LedgerRepository
	activations *repository.ActivationRepository
}

func (s *PostgresSuite) SetupSuite() {
	dsn := config.TestDSN()
	if dsn == "" {
		s.T().Skip("TEST_DATABASE_DSN not set")
	}

	db, err := database.Open(dsn, config.DatabaseConfig{MaxOpenConns: 20})
	s.Require().NoError(err)
	s.Require().NoError(database.RunMigrations(db))

	s.db = db
	s.pool = repository.NewKeyPoolRepository(db)
	s.ledger = repository.NewLedgerRepository(db)
	s.activations = repository.NewActivationRepository(db)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		database.Close(s.db)
	}
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.db.Exec(
		"TRUNCATE license_key_audit_logs, license_keys, activation_records, payments, order_items, orders CASCADE",
	).Error)
}

func (s *PostgresSuite) newOrder(status models.OrderStatus) models.Order {
	order := models.Order{
		Email:          "buyer@example.com",
		Status:         status,
		SubtotalAmount: 100,
		TotalAmount:    100,
		Currency:       "RUB",
	}
	s.Require().NoError(s.ledger.CreatePendingOrder(context.Background(), &order))
	if status != models.OrderStatusPending {
		s.Require().NoError(s.db.Model(&order).Update("status", status).Error)
	}
	return order
}

func (s *PostgresSuite) TestConcurrentClaimsNeverShareKeys() {
	ctx := context.Background()
	_, err := s.pool.ImportKeys(ctx, "chatgpt-plus", []string{"K-1", "K-2", "K-3", "K-4", "K-5"}, "admin-1")
	s.Require().NoError(err)

	const claimants = 12
	orders := make([]models.Order, claimants)
	for i := range orders {
		orders[i] = s.newOrder(models.OrderStatusPaid)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		claimed   = map[string]uuid.UUID{}
		exhausted int
	)
	for _, order := range orders {
		wg.Add(1)
		go func(order models.Order) {
			defer wg.Done()
			key, err := s.pool.Claim(ctx, models.ClaimRequest{
				ProductKey: "chatgpt-plus",
				OrderID:    order.ID,
				Email:      order.Email,
				ActorID:    "system",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, utils.ErrPoolExhausted):
				exhausted++
			case err != nil:
				s.Failf("unexpected claim error", "%v", err)
			default:
				_, dup := claimed[key.KeyValue]
				s.False(dup, "key %s claimed twice", key.KeyValue)
				claimed[key.KeyValue] = order.ID
			}
		}(order)
	}
	wg.Wait()

	s.Len(claimed, 5)
	s.Equal(claimants-5, exhausted)

	var available int64
	s.Require().NoError(s.db.Model(&models.LicenseKey{}).
		Where("product_key = ? AND status = ?", "chatgpt-plus", models.KeyStatusAvailable).
		Count(&available).Error)
	s.Zero(available)
}

func (s *PostgresSuite) TestImportSkipsExistingCodes() {
	ctx := context.Background()
	first, err := s.pool.ImportKeys(ctx, "chatgpt-plus", []string{"aaaa-1111", "BBBB-2222"}, "admin-1")
	s.Require().NoError(err)
	s.Equal(2, first.Inserted)

	second, err := s.pool.ImportKeys(ctx, "chatgpt-go", []string{"AAAA-1111", "cccc-3333"}, "admin-1")
	s.Require().NoError(err)
	s.Equal(1, second.Inserted)
	s.Equal(1, second.Conflicts)
	s.Equal(map[string]int{"chatgpt-plus": 1}, second.ConflictsByProductKey)
}

func (s *PostgresSuite) TestApplyTransitionReplay() {
	ctx := context.Background()
	order := s.newOrder(models.OrderStatusPending)
	payment := models.Payment{
		OrderID:     order.ID,
		Provider:    "gateway",
		ProviderRef: "inv_1",
		Status:      models.PaymentStatusProcessing,
		Amount:      100,
		Currency:    "RUB",
	}
	s.Require().NoError(s.ledger.AttachPayment(ctx, &payment))

	transition := models.Transition{
		OrderID:       order.ID,
		PaymentID:     &payment.ID,
		Provider:      "gateway",
		ProviderRef:   "inv_1",
		PaymentStatus: models.PaymentStatusSuccess,
		Amount:        100,
		Currency:      "RUB",
		Source:        models.SourceWebhook,
	}

	first, err := s.ledger.ApplyTransition(ctx, transition)
	s.Require().NoError(err)
	s.False(first.Duplicate)
	s.True(first.BecamePaid())

	second, err := s.ledger.ApplyTransition(ctx, transition)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.False(second.BecamePaid())

	stored, err := s.ledger.FindOrder(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPaid, stored.Status)
	s.Equal("inv_1", stored.PaymentRef)

	// a late failure cannot pull a paid order back
	transition.PaymentStatus = models.PaymentStatusFailed
	late, err := s.ledger.ApplyTransition(ctx, transition)
	s.Require().NoError(err)
	s.True(late.Duplicate)

	stored, err = s.ledger.FindOrder(ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPaid, stored.Status)
}

func (s *PostgresSuite) TestConcurrentIssueForOneOrder() {
	ctx := context.Background()
	_, err := s.pool.ImportKeys(ctx, "chatgpt-plus", []string{"K-1", "K-2"}, "admin-1")
	s.Require().NoError(err)
	order := s.newOrder(models.OrderStatusPaid)

	type result struct {
		record *models.ActivationRecord
		err    error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := s.activations.Issue(ctx, models.ClaimRequest{
				ProductKey: "chatgpt-plus",
				OrderID:    order.ID,
				Email:      order.Email,
				ActorID:    "system",
			}, "web")
			results[i] = result{record: record, err: err}
		}(i)
	}
	wg.Wait()

	var created, existing int
	for _, r := range results {
		switch {
		case r.err == nil:
			created++
		case errors.Is(r.err, utils.ErrAlreadyExists):
			existing++
		default:
			s.Failf("unexpected issue error", "%v", r.err)
		}
	}
	s.Equal(1, created)
	s.Equal(1, existing)
	s.Require().NotNil(results[0].record)
	s.Require().NotNil(results[1].record)
	s.Equal(results[0].record.KeyValue, results[1].record.KeyValue)

	var used, available int64
	s.Require().NoError(s.db.Model(&models.LicenseKey{}).
		Where("product_key = ? AND status = ?", "chatgpt-plus", models.KeyStatusAvailable).
		Count(&available).Error)
	s.Require().NoError(s.db.Model(&models.LicenseKey{}).
		Where("product_key = ? AND status <> ?", "chatgpt-plus", models.KeyStatusAvailable).
		Count(&used).Error)
	s.Equal(int64(1), used)
	s.Equal(int64(1), available)
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}
