// internal/payments/registry.go
package payments

import (
	"fmt"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// Registry maps provider codes to providers. It is immutable once built.
type Registry struct {
	providers   map[string]Provider
	defaultCode string
}

func NewRegistry(defaultCode string, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers)), defaultCode: defaultCode}
	for _, p := range providers {
		r.providers[p.Code()] = p
	}
	if _, ok := r.providers[defaultCode]; !ok {
		return nil, fmt.Errorf("unsupported payment provider: %s", defaultCode)
	}
	return r, nil
}

// NewRegistryFromConfig registers every provider the configuration can
// support and selects PAYMENT_PROVIDER as the default.
func NewRegistryFromConfig(cfg config.PaymentConfig) (*Registry, error) {
	providers := []Provider{
		NewGatewayProvider(cfg),
		NewStubProvider(cfg.SuccessURL),
	}
	if cfg.StripeSecretKey != "" {
		providers = append(providers, NewStripeProvider(cfg, nil))
	}
	return NewRegistry(cfg.Provider, providers...)
}

func (r *Registry) Default() Provider {
	return r.providers[r.defaultCode]
}

func (r *Registry) Get(code string) (Provider, error) {
	p, ok := r.providers[code]
	if !ok {
		return nil, utils.Validation("Payment provider not found: %s", code)
	}
	return p, nil
}
