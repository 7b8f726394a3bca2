package money

import "go.uber.org/fx"

var Module = fx.Module("money",
	fx.Provide(NewRegistry),
)
