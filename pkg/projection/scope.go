package projection

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

// Entity is a projected row. The store stamps it with the chain and block that create it.
type Entity interface {
	SetScope(chainID, blockNumber uint64)
}

// Scope is the transactional view of the store given to a handler for one event.
// Everything written through a Scope commits or rolls back together.
type Scope interface {
	// ChainID is the chain the event was observed on.
	ChainID() uint64

	// BlockNumber is the event's block.
	BlockNumber() uint64

	// Event is the event being applied.
	Event() *event.Event

	// Insert writes row into table.
	Insert(ctx context.Context, table string, row Entity) error

	// Select loads at most two rows matching filters into dst, a pointer to a slice of struct pointers.
	Select(ctx context.Context, table string, filters Filters, dst any) error

	// Modify applies updates to rows matching filters and returns the affected row count.
	Modify(ctx context.Context, table string, filters Filters, updates Updates) (int64, error)

	// LockKeys serializes this event against other events holding any of keys,
	// until the event's transaction ends. It may be called once per event.
	LockKeys(ctx context.Context, keys ...string) error

	// IncludeContract asks for events of address to be routed to the handlers of group
	// from this event's block on. The request is published only after commit.
	IncludeContract(ctx context.Context, group string, address common.Address) error
}
