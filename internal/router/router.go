// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/keyshop-backend/internal/activation"
	"github.com/javajoker/keyshop-backend/internal/cache"
	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/handlers"
	"github.com/javajoker/keyshop-backend/internal/middleware"
	"github.com/javajoker/keyshop-backend/internal/repository"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// Stores are the persistence collaborators of the services.
type Stores struct {
	Ledger      services.OrderLedger
	Catalog     services.Catalog
	KeyPool     services.KeyPool
	Activations services.ActivationStore
	Audit       services.AuditStore
}

// Infra are the outbound clients created by main.
type Infra struct {
	Payments    services.ProviderRegistry
	Activation  activation.Client
	Publisher   events.Publisher
	StatusCache cache.StatusCache
	Notifier    services.Notifier
	Storage     services.ObjectReader
}

// Services is the wired service layer.
type Services struct {
	Audit      *services.AuditService
	Activation *services.ActivationService
	Webhooks   *services.WebhookService
	Checkout   *services.CheckoutService
	Keys       *services.KeyService
	Orders     *services.OrderAdminService
}

// GormStores backs every store with Postgres.
func GormStores(db *gorm.DB) Stores {
	ledger := repository.NewLedgerRepository(db)
	return Stores{
		Ledger:      ledger,
		Catalog:     repository.NewCatalogRepository(db),
		KeyPool:     repository.NewKeyPoolRepository(db),
		Activations: repository.NewActivationRepository(db),
		Audit:       repository.NewAuditRepository(db),
	}
}

// NewServices wires the service layer. Activation is built first because
// the paid-order effects deliver through it; checkout is handed back to it
// as the reconciler once it exists.
func NewServices(cfg *config.Config, stores Stores, infra Infra) *Services {
	audit := services.NewAuditService(stores.Audit)
	activationService := services.NewActivationService(stores.Ledger, stores.Activations, infra.Activation, infra.Publisher, cfg.Activation)
	effects := services.NewOrderEffects(infra.Notifier, activationService, infra.Publisher, infra.StatusCache)
	webhookService := services.NewWebhookService(stores.Ledger, infra.Payments, effects)
	checkoutService := services.NewCheckoutService(stores.Ledger, stores.Catalog, infra.Payments, webhookService, effects, audit, infra.StatusCache, cfg)
	activationService.SetReconciler(checkoutService)

	return &Services{
		Audit:      audit,
		Activation: activationService,
		Webhooks:   webhookService,
		Checkout:   checkoutService,
		Keys:       services.NewKeyService(stores.KeyPool, infra.Storage, audit),
		Orders:     services.NewOrderAdminService(stores.Ledger, checkoutService, activationService, effects, audit),
	}
}

func Initialize(cfg *config.Config, svc *Services) *gin.Engine {
	return Setup(cfg, svc, middleware.DefaultLimits())
}

// Setup builds the route table with the given rate limiters.
func Setup(cfg *config.Config, svc *Services, limits middleware.Limits) *gin.Engine {
	paymentHandler := handlers.NewPaymentHandler(svc.Checkout, svc.Webhooks)
	activationHandler := handlers.NewActivationHandler(svc.Activation)
	licenseKeyHandler := handlers.NewLicenseKeyHandler(svc.Keys)
	adminHandler := handlers.NewAdminHandler(svc.Orders)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logrus.WithError(err).Warn("Invalid trusted proxies, forwarding headers ignored")
		_ = r.SetTrustedProxies(nil)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.CORSOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	v1 := r.Group("/api/v1")
	{
		public := v1.Group("/public")
		{
			public.POST("/checkout", limits.Checkout.Middleware(), paymentHandler.Checkout)
			public.POST("/promo/validate", limits.PromoValidate.Middleware(), paymentHandler.ValidatePromo)

			orders := public.Group("/orders/:id")
			{
				orders.GET("/status", limits.ActivationRead.Middleware(), paymentHandler.OrderStatus)
				orders.POST("/reconcile", limits.ActivationRead.Middleware(), paymentHandler.Reconcile)
				orders.GET("/activation", limits.ActivationRead.Middleware(), activationHandler.GetActivation)
				orders.GET("/activation/tasks/:taskId", limits.ActivationRead.Middleware(), activationHandler.GetTask)
				orders.POST("/activation/start", limits.ActivationWrite.Middleware(), activationHandler.StartActivation)
				orders.POST("/activation/restart", limits.ActivationWrite.Middleware(), activationHandler.RestartActivation)
			}

			public.POST("/webhooks/payment",
				limits.Webhook.Middleware(),
				middleware.WebhookIPAllowlist(cfg.Payment, cfg.IsProduction()),
				middleware.WebhookSignature(cfg.Payment, cfg.IsProduction()),
				paymentHandler.Webhook,
			)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			keys := admin.Group("/keys")
			{
				keys.GET("", licenseKeyHandler.GetKeys)
				keys.GET("/stats", licenseKeyHandler.GetStats)
				keys.POST("/import", licenseKeyHandler.ImportKeys)
				keys.POST("/import-s3", licenseKeyHandler.ImportKeysFromS3)
				keys.POST("/:id/return", licenseKeyHandler.ReturnKey)
				keys.POST("/:id/revoke", licenseKeyHandler.RevokeKey)
				keys.DELETE("/:id", licenseKeyHandler.DeleteKey)
			}

			adminOrders := admin.Group("/orders/:id")
			{
				adminOrders.GET("/proof", adminHandler.GetProof)
				adminOrders.POST("/manual-confirm", adminHandler.ManualConfirm)
				adminOrders.POST("/refund", adminHandler.Refund)
				adminOrders.POST("/deliver", adminHandler.Deliver)
			}
		}
	}

	return r
}
