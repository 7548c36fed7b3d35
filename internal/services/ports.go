// internal/services/ports.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/payments"
)

// Collaborator interfaces. The gorm repositories implement the stores; tests
// use the in-memory versions from internal/testutil.

type KeyPool interface {
	ImportKeys(ctx context.Context, productKey string, codes []string, actorID string) (*models.ImportResult, error)
	Claim(ctx context.Context, req models.ClaimRequest) (*models.LicenseKey, error)
	ReturnToAvailable(ctx context.Context, keyID uuid.UUID, actorID string) (*models.LicenseKey, error)
	Revoke(ctx context.Context, keyID uuid.UUID, actorID, reason string) (*models.LicenseKey, error)
	DeleteIfAvailable(ctx context.Context, keyID uuid.UUID, actorID string) error
	Stats(ctx context.Context) ([]models.KeyStats, error)
	ListByProduct(ctx context.Context, filter models.KeyListFilter) ([]models.LicenseKey, int64, error)
}

type ActivationStore interface {
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.ActivationRecord, error)
	Issue(ctx context.Context, req models.ClaimRequest, deviceID string) (*models.ActivationRecord, error)
	Reissue(ctx context.Context, orderID uuid.UUID, actorID string, guard func(*models.ActivationRecord) error) (*models.ActivationRecord, error)
	Update(ctx context.Context, orderID uuid.UUID, fn func(*models.ActivationRecord) error) (*models.ActivationRecord, error)
}

type OrderLedger interface {
	CreatePendingOrder(ctx context.Context, order *models.Order) error
	AttachPayment(ctx context.Context, payment *models.Payment) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	OrderProductKey(ctx context.Context, orderID uuid.UUID) (string, error)
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByRef(ctx context.Context, ref string) (*models.Payment, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	RefOwnedByOther(ctx context.Context, ref string, paymentID uuid.UUID) (bool, error)
	CountRecentOrdersByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	ApplyTransition(ctx context.Context, t models.Transition) (*models.TransitionResult, error)
}

type Catalog interface {
	FindProduct(ctx context.Context, idOrSlug string) (*models.Product, error)
	FindPromo(ctx context.Context, code string) (*models.PromoCode, error)
}

type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// ProviderRegistry is satisfied by *payments.Registry.
type ProviderRegistry interface {
	Default() payments.Provider
	Get(code string) (payments.Provider, error)
}

// Notifier delivers the paid-order messages. Implementations must not block
// on an unconfigured channel.
type Notifier interface {
	NotifyOrderPaid(ctx context.Context, order *models.Order) error
	NotifyOperator(ctx context.Context, text string) error
}

// KeyDeliverer binds a key to a paid order.
type KeyDeliverer interface {
	Deliver(ctx context.Context, orderID uuid.UUID) (*models.ActivationRecord, error)
}

// Reconciler pulls the provider's view of a pending order.
type Reconciler interface {
	Reconcile(ctx context.Context, orderID uuid.UUID) (*PublicOrderStatus, error)
}

// ObjectReader fetches raw objects from blob storage.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Actor describes who triggered an admin action, for the audit trail.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}
