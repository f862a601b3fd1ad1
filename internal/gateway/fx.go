package gateway

import (
	"github.com/smallbiznis/checkout/internal/gateway/domain"
	"github.com/smallbiznis/checkout/internal/gateway/providers/sepay"
	"github.com/smallbiznis/checkout/internal/gateway/providers/stripe"
	"github.com/smallbiznis/checkout/internal/gateway/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(
		fx.Annotate(stripe.NewFactory, fx.As(new(domain.Factory)), fx.ResultTags(`group:"gateway_factories"`)),
		fx.Annotate(sepay.NewFactory, fx.As(new(domain.Factory)), fx.ResultTags(`group:"gateway_factories"`)),
		registry.New,
	),
)
