package keylock

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/puzpuzpuz/xsync/v4"
)

const backendLocal = "local"

// Local is an in-process Locker. Each key maps to a one-slot channel.
type Local struct {
	slots *xsync.Map[string, chan struct{}]
	log   *logger.Logger
}

// NewLocal creates an in-process locker.
func NewLocal(log *logger.Logger) *Local {
	return &Local{
		slots: xsync.NewMap[string, chan struct{}](),
		log:   log,
	}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, keys ...string) (Lease, error) {
	keys = normalize(keys)
	start := time.Now()

	lease := &localLease{held: make([]chan struct{}, 0, len(keys))}
	for _, key := range keys {
		slot, _ := l.slots.LoadOrStore(key, make(chan struct{}, 1))

		select {
		case slot <- struct{}{}:
			lease.held = append(lease.held, slot)
		case <-ctx.Done():
			lease.Release()
			return nil, ctx.Err()
		}
	}

	waited := time.Since(start)
	metrics.KeyLockWaitLog(backendLocal, waited)
	if waited > time.Second {
		l.log.Debugf("waited %s for keys %v", waited, keys)
	}

	return lease, nil
}

// localLease cannot be lost: slots have no expiry.
type localLease struct {
	held []chan struct{}
	once sync.Once
}

func (l *localLease) Held(context.Context) error {
	return nil
}

func (l *localLease) Release() {
	l.once.Do(func() {
		for i := len(l.held) - 1; i >= 0; i-- {
			<-l.held[i]
		}
	})
}
