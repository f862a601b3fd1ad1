package registry

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	Factories []domain.Factory `group:"gateway_factories"`
}

// Registry resolves a (tenant, provider) pair to a provider instance bound to
// that tenant's decrypted credentials. Adapters are constructed per call so no
// credential ever outlives the request that needed it.
type Registry struct {
	db        *gorm.DB
	log       *zap.Logger
	factories map[string]domain.Factory
	encKey    []byte
}

func New(p Params) *Registry {
	registry := &Registry{
		db:        p.DB,
		log:       p.Log.Named("gateway.registry"),
		factories: map[string]domain.Factory{},
		encKey:    DeriveKey(p.Cfg.GatewayConfigSecret),
	}
	for _, factory := range p.Factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

// Resolve loads the active tenant config for the provider, decrypts its
// credential bundle and builds a fresh adapter around it.
func (r *Registry) Resolve(ctx context.Context, tenantID snowflake.ID, provider string) (domain.Provider, *domain.GatewayConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, nil, domain.ErrProviderNotFound
	}

	cfg, err := r.findConfig(ctx, tenantID, provider)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, domain.ErrConfigNotFound
	}

	credentials, err := Decrypt(r.encKey, cfg.Credentials)
	if err != nil {
		return nil, nil, err
	}

	adapter, err := factory.NewProvider(domain.AdapterConfig{
		TenantID:    cfg.TenantID,
		Provider:    provider,
		Environment: cfg.Environment,
		Credentials: credentials,
	})
	if err != nil {
		return nil, nil, err
	}
	return adapter, cfg, nil
}

// ListActive returns every active gateway config for a tenant, for health
// sweeps over all configured providers.
func (r *Registry) ListActive(ctx context.Context, tenantID snowflake.ID) ([]domain.GatewayConfig, error) {
	var rows []domain.GatewayConfig
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_gateway_configs
		 WHERE tenant_id = ? AND is_active = TRUE`,
		tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Registry) findConfig(ctx context.Context, tenantID snowflake.ID, provider string) (*domain.GatewayConfig, error) {
	var cfg domain.GatewayConfig
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_gateway_configs
		 WHERE tenant_id = ? AND provider = ? AND is_active = TRUE
		 LIMIT 1`,
		tenantID,
		provider,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}
