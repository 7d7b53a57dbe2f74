package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/nft"
	nftmig "github.com/goran-ethernal/ChainProjector/internal/handlers/nft/migrations"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap"
	uniswapmig "github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap/migrations"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/projection"
	coremig "github.com/goran-ethernal/ChainProjector/internal/projection/migrations"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pprojection "github.com/goran-ethernal/ChainProjector/pkg/projection"
)

// ErrNoHandler is returned for an event its contract group has no handler for.
var ErrNoHandler = errors.New("no handler for event")

// Migrations returns the complete schema: store bookkeeping followed by every handler's tables.
func Migrations() []db.Migration {
	migs := coremig.Migrations()
	migs = append(migs, nftmig.Migrations()...)
	return append(migs, uniswapmig.Migrations()...)
}

// RetractableTables lists the tables whose rows are removed with their registrations.
func RetractableTables() []string {
	return []string{uniswap.PoolsTable}
}

// Dispatcher applies decoded events through the handler their group and topic select.
type Dispatcher struct {
	store *projection.Store
	table *Table
	log   *logger.Logger
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store *projection.Store, table *Table, log *logger.Logger) *Dispatcher {
	return &Dispatcher{store: store, table: table, log: log}
}

// Apply runs the handler for ev within group in one store transaction and returns
// the committed outcome.
func (d *Dispatcher) Apply(ctx context.Context, ev *event.Event, group string) (projection.Outcome, Kind, error) {
	kind, ok := d.table.Resolve(group, ev.Topic)
	if !ok {
		return projection.Outcome{}, KindUnknown, fmt.Errorf("%s in group %s: %w", ev.Name, group, ErrNoHandler)
	}

	g, _ := d.table.Group(group)
	handler := d.handler(kind, g)

	start := time.Now()
	outcome, err := d.store.Apply(ctx, ev, handler)
	metrics.HandlerDurationLog(kind.String(), time.Since(start))
	if err != nil {
		return projection.Outcome{}, kind, fmt.Errorf("%s %s: %w", kind, ev, err)
	}

	if !outcome.Skipped {
		d.log.Debugw("event applied", "kind", kind.String(), "event", ev.String(),
			"registrations", len(outcome.Registrations))
	}
	return outcome, kind, nil
}

func (d *Dispatcher) handler(kind Kind, group Group) projection.HandlerFunc {
	return func(ctx context.Context, scope pprojection.Scope) error {
		switch kind {
		case KindERC721Transfer:
			return nft.ApplyTransfer(ctx, scope, nft.Options{SharedTokenIDs: group.SharedTokenIDs})
		case KindUniswapV3PoolCreated:
			return uniswap.ApplyPoolCreated(ctx, scope, d.table.PoolGroup())
		case KindUniswapV3Swap:
			return uniswap.ApplySwap(ctx, scope)
		default:
			return fmt.Errorf("handler kind %d is not implemented", kind)
		}
	}
}
