package enrollment

import (
	"github.com/smallbiznis/coursemart/internal/enrollment/repository"
	"github.com/smallbiznis/coursemart/internal/enrollment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
