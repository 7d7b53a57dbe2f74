// Package keylock serializes work on shared aggregate keys across chain workers.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/redis"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

// ErrLeaseLost means another holder may have taken a key while it was thought held.
var ErrLeaseLost = errors.New("key lease lost")

// Locker grants exclusive ownership of a set of keys.
type Locker interface {
	// Lock blocks until every key is held or ctx ends. Keys are taken in sorted order,
	// so two callers with overlapping sets cannot deadlock.
	Lock(ctx context.Context, keys ...string) (Lease, error)
}

// Lease is a set of keys held by one caller.
type Lease interface {
	// Held returns ErrLeaseLost when any key may have passed to another holder.
	// Work done under the lease must not be committed after that.
	Held(ctx context.Context) error

	// Release gives every key back. Calling it again is a no-op.
	Release()
}

// New builds the locker selected by cfg. The Redis backend owns a client that
// is closed by the returned close func.
func New(ctx context.Context, cfg config.LockConfig, log *logger.Logger) (Locker, func() error, error) {
	switch cfg.Type {
	case config.LockLocal, "":
		return NewLocal(log), func() error { return nil }, nil
	case config.LockRedis:
		client, err := redis.New(ctx, *cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect lock redis: %w", err)
		}
		return NewRedis(client, *cfg.Redis, log), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}

// normalize sorts and deduplicates keys.
func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
