package transfermatch

import (
	"github.com/smallbiznis/finvo/internal/transfermatch/repository"
	"github.com/smallbiznis/finvo/internal/transfermatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transfermatch.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
