package session

import (
	"github.com/smallbiznis/checkout/internal/session/repository"
	"github.com/smallbiznis/checkout/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
