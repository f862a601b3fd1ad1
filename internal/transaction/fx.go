package transaction

import (
	"github.com/smallbiznis/checkout/internal/transaction/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction",
	fx.Provide(
		repository.Provide,
	),
)
