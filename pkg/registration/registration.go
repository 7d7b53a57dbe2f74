// Package registration carries contract-discovery requests from handlers to the
// components that decide which contracts are observed.
package registration

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Request asks for events of Address on ChainID to be delivered to ContractGroup's
// handlers from StartBlock on.
type Request struct {
	ChainID       uint64         `json:"chain_id"`
	Address       common.Address `json:"address"`
	ContractGroup string         `json:"contract_group"`
	StartBlock    uint64         `json:"start_block"`
}

func (r Request) String() string {
	return fmt.Sprintf("%s@%d/%s from %d", r.ContractGroup, r.ChainID, r.Address.Hex(), r.StartBlock)
}

// Retraction withdraws every request on ChainID whose StartBlock is at or after FromBlock.
type Retraction struct {
	ChainID   uint64    `json:"chain_id"`
	FromBlock uint64    `json:"from_block"`
	Requests  []Request `json:"requests"`
}

// Sink receives committed registrations.
type Sink interface {
	// Include announces newly registered contracts.
	Include(ctx context.Context, requests []Request) error

	// Retract withdraws registrations removed by a chain reorganization.
	Retract(ctx context.Context, retraction Retraction) error
}
