package common

const (
	ComponentCoordinator  = "coordinator"
	ComponentStore        = "projection-store"
	ComponentDispatcher   = "dispatcher"
	ComponentRegistration = "registration"
	ComponentSource       = "event-source"
	ComponentKeyLock      = "keylock"
	ComponentMaintenance  = "maintenance"
	ComponentMigrations   = "migrations"
	ComponentSideEffects  = "side-effects"
)

var AllComponents = map[string]struct{}{
	ComponentCoordinator:  {},
	ComponentStore:        {},
	ComponentDispatcher:   {},
	ComponentRegistration: {},
	ComponentSource:       {},
	ComponentKeyLock:      {},
	ComponentMaintenance:  {},
	ComponentMigrations:   {},
	ComponentSideEffects:  {},
}
