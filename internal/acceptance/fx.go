package acceptance

import (
	"github.com/smallbiznis/finvo/internal/acceptance/repository"
	"github.com/smallbiznis/finvo/internal/acceptance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("acceptance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
