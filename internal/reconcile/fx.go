package reconcile

import (
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(NewReconciler),
	fx.Provide(func(r *Reconciler) webhook.Applier { return r }),
)
