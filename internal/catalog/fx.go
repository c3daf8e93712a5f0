package catalog

import (
	"github.com/smallbiznis/coursemart/internal/catalog/repository"
	"github.com/smallbiznis/coursemart/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
