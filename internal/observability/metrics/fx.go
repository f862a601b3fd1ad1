package metrics

import (
	"github.com/smallbiznis/checkout/internal/config"
	"go.uber.org/fx"
)

func newConfig(appCfg config.Config) Config {
	return Config{
		Enabled:          appCfg.MetricsEnabled,
		ExporterEndpoint: appCfg.OTLPEndpoint,
		ExporterProtocol: appCfg.OTLPProtocol,
		ServiceName:      appCfg.AppName,
	}
}

var Module = fx.Module("observability.metrics",
	fx.Provide(
		newConfig,
		NewProvider,
		New,
	),
)
