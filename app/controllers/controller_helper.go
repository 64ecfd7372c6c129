package controllers

import (
	"github.com/mhertel/voxgate/internal/pkg/billing"
	"github.com/mhertel/voxgate/internal/pkg/callledger"
	"github.com/mhertel/voxgate/internal/pkg/pinauth"
	"github.com/mhertel/voxgate/internal/pkg/reconcile"
	"github.com/mhertel/voxgate/internal/pkg/usage"
)

// Services bundles the request-path services the controllers dispatch to.
// They are wired once at startup in cmd/voxgate.
type Services struct {
	Ledger  *callledger.Service
	Meter   *usage.Meter
	Billing *billing.Service
	PinGate *pinauth.Gate
	Queue   *reconcile.Queue
}

var services *Services

// InitControllers installs the service bundle for all handlers.
func InitControllers(s *Services) {
	services = s
}

// GetServices returns the installed service bundle. Panics when called
// before InitControllers, which is a startup wiring bug.
func GetServices() *Services {
	if services == nil {
		panic("controllers not initialized - call InitControllers first")
	}
	return services
}
