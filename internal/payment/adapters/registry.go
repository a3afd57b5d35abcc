package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/alipay"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"go.uber.org/zap"
)

// Registry is the fixed set of providers built at startup.
type Registry struct {
	providers map[string]paymentdomain.Provider
}

func NewRegistry(providers ...paymentdomain.Provider) *Registry {
	r := &Registry{providers: make(map[string]paymentdomain.Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Build registers every provider that has credentials. A provider with partial
// credentials is a startup error.
func Build(cfg config.Config, clk clock.Clock, log *zap.Logger) (*Registry, error) {
	var providers []paymentdomain.Provider

	if cfg.Stripe.SecretKey != "" || cfg.Stripe.WebhookSecret != "" {
		adapter, err := stripe.New(cfg.Stripe, nil, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, adapter)
	}
	if cfg.Alipay.AppID != "" || cfg.Alipay.PublicKey != "" {
		adapter, err := alipay.New(cfg.Alipay, clk)
		if err != nil {
			return nil, err
		}
		providers = append(providers, adapter)
	}

	registry := NewRegistry(providers...)
	log.Named("payment.registry").Info("payment providers registered", zap.Strings("providers", registry.Names()))
	return registry, nil
}

func (r *Registry) Get(name string) (paymentdomain.Provider, error) {
	if r != nil {
		if p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]; ok {
			return p, nil
		}
	}
	return nil, paymentdomain.ErrProviderNotFound
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
