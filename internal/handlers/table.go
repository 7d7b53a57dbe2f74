package handlers

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

type route struct {
	group string
	topic common.Hash
}

// Group is one configured contract group.
type Group struct {
	Name           string
	Kinds          []Kind
	SharedTokenIDs bool
}

// Table maps (contract group, topic0) to the handler kind applied to it.
type Table struct {
	routes    map[route]Kind
	groups    map[string]Group
	poolGroup string
	decoder   *event.Decoder
}

// NewTable builds the routing table from the configured contract groups.
func NewTable(contracts []config.ContractConfig) (*Table, error) {
	t := &Table{
		routes:    make(map[route]Kind),
		groups:    make(map[string]Group, len(contracts)),
		poolGroup: uniswap.PoolGroup,
	}

	var sigs []*event.Signature
	swapGroups := 0

	for _, contract := range contracts {
		group := Group{Name: contract.Name, SharedTokenIDs: contract.SharedTokenIDs}

		for _, name := range contract.Handlers {
			kind, err := ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("contract group %s: %w", contract.Name, err)
			}

			sig := kind.Signature()
			r := route{group: contract.Name, topic: sig.Topic}
			if prev, dup := t.routes[r]; dup {
				return nil, fmt.Errorf("contract group %s: handlers %s and %s both handle %s",
					contract.Name, prev, kind, sig.Canonical)
			}

			t.routes[r] = kind
			group.Kinds = append(group.Kinds, kind)
			sigs = append(sigs, sig)

			if kind == KindUniswapV3Swap {
				swapGroups++
				t.poolGroup = contract.Name
			}
		}

		t.groups[contract.Name] = group
	}

	if swapGroups > 1 {
		return nil, fmt.Errorf("only one contract group may handle %s", KindUniswapV3Swap)
	}

	decoder, err := event.NewDecoder(sigs...)
	if err != nil {
		return nil, err
	}
	t.decoder = decoder

	return t, nil
}

// Resolve returns the kind handling topic for group.
func (t *Table) Resolve(group string, topic common.Hash) (Kind, bool) {
	kind, ok := t.routes[route{group: group, topic: topic}]
	return kind, ok
}

// Group returns a configured group.
func (t *Table) Group(name string) (Group, bool) {
	g, ok := t.groups[name]
	return g, ok
}

// PoolGroup is the group that discovered pools are registered into: the group handling
// swaps, or UniswapV3Pool when none does.
func (t *Table) PoolGroup() string {
	return t.poolGroup
}

// Decoder decodes every event some configured group handles.
func (t *Table) Decoder() *event.Decoder {
	return t.decoder
}
