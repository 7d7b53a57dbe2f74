// Package sideeffect runs actions outside the projection store for newly applied events.
//
// A side effect runs after its event's transaction has committed and only for events the
// store did not skip, so redelivered and replayed events never repeat it. Delivery is at
// most once: an event whose side effect failed, or that was applied just before a crash,
// is not retried on restart.
package sideeffect

import (
	"context"

	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

// Handler performs one side effect for an applied event of group.
type Handler interface {
	Handle(ctx context.Context, ev *event.Event, group string) error
}
