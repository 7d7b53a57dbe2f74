package registration

import (
	"context"

	"github.com/goran-ethernal/ChainProjector/pkg/registration"
	"golang.org/x/sync/errgroup"
)

// MultiSink fans every call out to all its sinks concurrently and waits for all of them.
type MultiSink []registration.Sink

var _ registration.Sink = MultiSink(nil)

// Include implements registration.Sink.
func (m MultiSink) Include(ctx context.Context, requests []registration.Request) error {
	if len(requests) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range m {
		g.Go(func() error {
			return sink.Include(gctx, requests)
		})
	}
	return g.Wait()
}

// Retract implements registration.Sink.
func (m MultiSink) Retract(ctx context.Context, retraction registration.Retraction) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range m {
		g.Go(func() error {
			return sink.Retract(gctx, retraction)
		})
	}
	return g.Wait()
}
