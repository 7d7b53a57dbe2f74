package registration

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
	"github.com/puzpuzpuz/xsync/v4"
)

type watchKey struct {
	chainID uint64
	address common.Address
}

// Watch is the routing entry of one observed contract.
type Watch struct {
	ContractGroup string
	StartBlock    uint64
	// Registered is set for contracts discovered at runtime, as opposed to configured ones.
	Registered bool
}

// WatchSet is the set of contracts whose events are applied, per chain.
// Configured contracts are added at start-up; registrations join and leave through the Sink methods.
type WatchSet struct {
	entries *xsync.Map[watchKey, Watch]
	log     *logger.Logger
}

var _ registration.Sink = (*WatchSet)(nil)

// NewWatchSet creates an empty watch set.
func NewWatchSet(log *logger.Logger) *WatchSet {
	return &WatchSet{
		entries: xsync.NewMap[watchKey, Watch](),
		log:     log,
	}
}

// Add registers a configured contract. An address may belong to one group per chain.
func (w *WatchSet) Add(chainID uint64, address common.Address, group string, startBlock uint64) error {
	var conflict string
	w.entries.Compute(watchKey{chainID, address},
		func(old Watch, loaded bool) (Watch, xsync.ComputeOp) {
			if loaded && old.ContractGroup != group {
				conflict = old.ContractGroup
				return old, xsync.CancelOp
			}
			return Watch{ContractGroup: group, StartBlock: startBlock}, xsync.UpdateOp
		})

	if conflict != "" {
		return fmt.Errorf("contract %s on chain %d is already in group %s", address.Hex(), chainID, conflict)
	}
	return nil
}

// Lookup returns the group observing address on chainID at block, if any.
func (w *WatchSet) Lookup(chainID uint64, address common.Address, block uint64) (string, bool) {
	entry, ok := w.entries.Load(watchKey{chainID, address})
	if !ok || block < entry.StartBlock {
		return "", false
	}
	return entry.ContractGroup, true
}

// Size returns the number of observed contracts across chains.
func (w *WatchSet) Size() int {
	return w.entries.Size()
}

// Include implements registration.Sink. Configured entries are never replaced.
func (w *WatchSet) Include(_ context.Context, requests []registration.Request) error {
	for _, req := range requests {
		w.entries.Compute(watchKey{req.ChainID, req.Address},
			func(old Watch, loaded bool) (Watch, xsync.ComputeOp) {
				if loaded && !old.Registered {
					return old, xsync.CancelOp
				}
				return Watch{ContractGroup: req.ContractGroup, StartBlock: req.StartBlock, Registered: true}, xsync.UpdateOp
			})
		w.log.Debugf("watching %s", req)
	}
	return nil
}

// Retract implements registration.Sink. Only registered entries are removed.
func (w *WatchSet) Retract(_ context.Context, retraction registration.Retraction) error {
	for _, req := range retraction.Requests {
		w.entries.Compute(watchKey{req.ChainID, req.Address},
			func(old Watch, loaded bool) (Watch, xsync.ComputeOp) {
				if loaded && old.Registered && old.StartBlock >= retraction.FromBlock {
					return old, xsync.DeleteOp
				}
				return old, xsync.CancelOp
			})
		w.log.Debugf("no longer watching %s", req)
	}
	return nil
}
