package plan

import (
	"github.com/smallbiznis/vestora/internal/cache"
	"github.com/smallbiznis/vestora/internal/plan/repository"
	"github.com/smallbiznis/vestora/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(cache.NewPlanCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
