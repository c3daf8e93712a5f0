package purchase

import (
	"github.com/smallbiznis/coursemart/internal/purchase/checkout"
	"github.com/smallbiznis/coursemart/internal/purchase/repository"
	"github.com/smallbiznis/coursemart/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(checkout.NewService),
)
