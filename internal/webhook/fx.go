package webhook

import (
	"github.com/smallbiznis/checkout/internal/webhook/repository"
	"github.com/smallbiznis/checkout/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(
		repository.Provide,
		service.NewReconciler,
	),
)
