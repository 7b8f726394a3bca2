package investment

import (
	"github.com/smallbiznis/vestora/internal/investment/repository"
	"github.com/smallbiznis/vestora/internal/investment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("investment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
