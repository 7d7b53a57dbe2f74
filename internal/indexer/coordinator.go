package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/handlers"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/internal/projection"
	iregistration "github.com/goran-ethernal/ChainProjector/internal/registration"
	"github.com/goran-ethernal/ChainProjector/internal/sideeffect"
	"github.com/goran-ethernal/ChainProjector/internal/source"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
)

// Skip reasons reported in metrics.
const (
	skipUnwatched    = "unwatched"
	skipUnknownEvent = "unknown_event"
	skipNoHandler    = "no_handler"
	skipApplied      = "already_applied"
)

// Options wires a Coordinator.
type Options struct {
	Chains    []config.ChainConfig
	Contracts []config.ContractConfig
	Retry     *config.RetryConfig

	Store      *projection.Store
	Dispatcher *handlers.Dispatcher
	Decoder    *event.Decoder
	Watch      *iregistration.WatchSet
	// Sink receives committed registrations and retractions. It must include Watch.
	Sink    registration.Sink
	Sources source.Factory

	// SideEffects run once per newly applied event of their kind, after registrations are announced.
	SideEffects map[handlers.Kind][]sideeffect.Handler
}

// Coordinator runs one worker per chain. Each worker reads its chain's envelopes in order,
// routes them through the watch set and applies them through the dispatcher.
type Coordinator struct {
	opts Options
	log  *logger.Logger
}

// NewCoordinator creates a coordinator. A nil Sink defaults to the watch set alone.
func NewCoordinator(opts Options, log *logger.Logger) (*Coordinator, error) {
	if len(opts.Chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	if opts.Store == nil || opts.Dispatcher == nil || opts.Decoder == nil || opts.Watch == nil {
		return nil, errors.New("store, dispatcher, decoder and watch set are required")
	}
	if opts.Sources == nil {
		return nil, errors.New("source factory is required")
	}
	if opts.Sink == nil {
		opts.Sink = opts.Watch
	}

	return &Coordinator{opts: opts, log: log}, nil
}

// Bootstrap fills the watch set with the configured contracts and re-announces
// every stored registration to the sink.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	for _, contract := range c.opts.Contracts {
		for _, addr := range contract.Addresses {
			if err := c.opts.Watch.Add(addr.ChainID, common.HexToAddress(addr.Address),
				contract.Name, addr.StartBlock); err != nil {
				return err
			}
		}
	}

	regs, err := c.opts.Store.Registrations(ctx)
	if err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}
	if err := c.opts.Sink.Include(ctx, regs); err != nil {
		return fmt.Errorf("announce stored registrations: %w", err)
	}

	c.log.Infof("watching %d contract(s), %d registered at runtime", c.opts.Watch.Size(), len(regs))
	return nil
}

// Run bootstraps the watch set and runs the chain workers until ctx is cancelled, every
// source is exhausted, or a worker fails. The first fatal error stops all workers and is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Bootstrap(ctx); err != nil {
		return err
	}

	pool := pond.NewPool(len(c.opts.Chains))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, chain := range c.opts.Chains {
		group.SubmitErr(func() error {
			return c.runChain(groupCtx, chain)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		metrics.ErrorInc(c.log.GetComponent(), "fatal")
		return err
	}

	c.log.Info("all chain workers stopped")
	return nil
}

// chainWorker holds the state of one chain's loop.
type chainWorker struct {
	c     *Coordinator
	chain config.ChainConfig
	log   *logger.Logger

	// retractedFrom is the block of the last retraction with nothing applied since.
	retractedFrom *uint64
}

func (c *Coordinator) runChain(ctx context.Context, chain config.ChainConfig) error {
	src, err := c.opts.Sources(chain.ID)
	if err != nil {
		return fmt.Errorf("open source for chain %d: %w", chain.ID, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			c.log.Warnf("failed to close source of chain %d: %v", chain.ID, err)
		}
	}()

	w := &chainWorker{
		c:     c,
		chain: chain,
		log:   c.log.WithFields("chain", chain.ID),
	}
	w.log.Infof("worker started, name=%q", chain.Name)

	for {
		env, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			w.log.Info("source exhausted")
			return nil
		case ctx.Err() != nil:
			w.log.Info("worker stopped")
			return nil
		default:
			return fmt.Errorf("chain %d: read envelope: %w", chain.ID, err)
		}

		// The envelope is finished even if ctx is cancelled meanwhile.
		if err := w.process(ctx, env); err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				w.log.Info("worker stopped during retry backoff")
				return nil
			}
			w.log.Errorf("stopping worker: %v", err)
			return fmt.Errorf("chain %d: %w", chain.ID, err)
		}
	}
}

func (w *chainWorker) process(ctx context.Context, env source.Envelope) error {
	opts := w.c.opts
	applyCtx := context.WithoutCancel(ctx)
	chainID := w.chain.ID
	lg := env.Log

	group, watched := opts.Watch.Lookup(chainID, lg.Address, lg.BlockNumber)
	if !watched {
		metrics.EventSkippedInc(chainID, skipUnwatched)
		return nil
	}

	if lg.Removed {
		return w.retract(ctx, lg.BlockNumber)
	}

	ev, err := opts.Decoder.Decode(chainID, lg, env.BlockTimestamp)
	if err != nil {
		if errors.Is(err, event.ErrUnknownEvent) {
			metrics.EventSkippedInc(chainID, skipUnknownEvent)
			return nil
		}
		return err
	}

	var (
		outcome projection.Outcome
		kind    handlers.Kind
	)
	err = retryWithBackoff(ctx, opts.Retry, w.log, "apply", func() error {
		var applyErr error
		outcome, kind, applyErr = opts.Dispatcher.Apply(applyCtx, ev, group)
		return applyErr
	})
	if err != nil {
		if errors.Is(err, handlers.ErrNoHandler) {
			metrics.EventSkippedInc(chainID, skipNoHandler)
			return nil
		}
		return err
	}

	if outcome.Skipped {
		metrics.EventSkippedInc(chainID, skipApplied)
		return nil
	}
	w.retractedFrom = nil
	metrics.EventAppliedInc(chainID, kind.String(), ev.BlockNumber)

	if len(outcome.Registrations) > 0 {
		// Registrations are visible to the watch set before the next envelope is read.
		err = retryWithBackoff(ctx, opts.Retry, w.log, "include", func() error {
			return opts.Sink.Include(applyCtx, outcome.Registrations)
		})
		if err != nil {
			return fmt.Errorf("announce registrations: %w", err)
		}
		metrics.RegistrationsInc(chainID, "include", len(outcome.Registrations))
	}

	w.runSideEffects(ctx, kind, ev, group)
	return nil
}

// runSideEffects runs the side effects of a newly applied event. The event is already
// committed, so a side effect that still fails after retries is dropped, not fatal.
func (w *chainWorker) runSideEffects(ctx context.Context, kind handlers.Kind, ev *event.Event, group string) {
	applyCtx := context.WithoutCancel(ctx)

	for _, handler := range w.c.opts.SideEffects[kind] {
		err := retryWithBackoff(ctx, w.c.opts.Retry, w.log, "side_effect", func() error {
			return handler.Handle(applyCtx, ev, group)
		})
		if err != nil {
			metrics.SideEffectInc(ev.ChainID, kind.String(), "dropped")
			metrics.ErrorInc(w.log.GetComponent(), "side_effect")
			w.log.Errorf("side effect of %s dropped: %v", ev, err)
			continue
		}
		metrics.SideEffectInc(ev.ChainID, kind.String(), "ok")
	}
}

// retract rolls the chain back to before block. Consecutive removed logs at or after an
// already retracted block are no-ops.
func (w *chainWorker) retract(ctx context.Context, block uint64) error {
	if w.retractedFrom != nil && *w.retractedFrom <= block {
		return nil
	}

	opts := w.c.opts
	applyCtx := context.WithoutCancel(ctx)

	var retraction registration.Retraction
	err := retryWithBackoff(ctx, opts.Retry, w.log, "retract", func() error {
		var retractErr error
		retraction, retractErr = opts.Store.Retract(applyCtx, w.chain.ID, block)
		return retractErr
	})
	if err != nil {
		return fmt.Errorf("retract from block %d: %w", block, err)
	}
	w.retractedFrom = &block

	err = retryWithBackoff(ctx, opts.Retry, w.log, "retract", func() error {
		return opts.Sink.Retract(applyCtx, retraction)
	})
	if err != nil {
		return fmt.Errorf("announce retraction from block %d: %w", block, err)
	}

	metrics.RegistrationsInc(w.chain.ID, "retract", len(retraction.Requests))
	w.log.Warnf("reorg: retracted from block %d, %d registration(s) withdrawn", block, len(retraction.Requests))
	return nil
}
