// Project Structure Overview
/*
keyshop-backend/
├── cmd/
│   ├── server/
│   │   └── main.go
│   └── admintoken/
│       └── main.go
├── internal/
│   ├── config/
│   │   ├── config.go
│   │   └── database.go
│   ├── models/
│   │   ├── product.go
│   │   ├── transaction.go
│   │   ├── transition.go
│   │   ├── license.go
│   │   ├── activation.go
│   │   ├── admin.go
│   │   └── common.go
│   ├── repository/
│   │   ├── key_pool.go
│   │   ├── ledger.go
│   │   ├── activation.go
│   │   ├── catalog.go
│   │   └── audit.go
│   ├── payments/
│   │   ├── gateway.go
│   │   ├── stripe.go
│   │   ├── stub.go
│   │   └── registry.go
│   ├── activation/
│   │   ├── client.go
│   │   └── token.go
│   ├── events/
│   ├── cache/
│   ├── handlers/
│   │   ├── payment.go
│   │   ├── verification.go
│   │   ├── license.go
│   │   └── admin.go
│   ├── services/
│   │   ├── checkout_service.go
│   │   ├── webhook_service.go
│   │   ├── activation_service.go
│   │   ├── key_service.go
│   │   ├── order_admin_service.go
│   │   ├── effects.go
│   │   ├── audit_service.go
│   │   ├── notification_service.go
│   │   └── storage_service.go
│   ├── middleware/
│   │   ├── auth.go
│   │   ├── cors.go
│   │   ├── rate_limit.go
│   │   ├── webhook.go
│   │   ├── i18n.go
│   │   └── logging.go
│   ├── database/
│   │   └── connection.go
│   ├── i18n/
│   │   ├── i18n.go
│   │   ├── locales/
│   │   │   ├── en.json
│   │   │   └── ru.json
│   │   └── keys.go
│   ├── utils/
│   ├── testutil/
│   ├── tests/
│   └── router/
│       └── router.go
├── go.mod
└── go.sum
*/

package keyshop

// This file shows the project structure and main entry point
// The actual implementation will be in separate files as shown in the structure above
