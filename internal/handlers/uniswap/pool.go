// Package uniswap projects Uniswap V3 factory and pool events: pool metadata with
// discovery of new pools, and swap volume per token aggregated across chains.
package uniswap

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
)

const (
	PoolsTable = "uniswap_pools"

	// PoolGroup is the contract group new pools are registered into.
	PoolGroup = "UniswapV3Pool"
)

var PoolCreated = event.MustParseSignature(
	"PoolCreated(address indexed token0, address indexed token1, uint24 indexed fee, " +
		"int24 tickSpacing, address pool)")

// Pool is the immutable metadata of one pool, written once by its factory event.
type Pool struct {
	ID                  int64          `meddler:"id,pk"`
	ChainID             uint64         `meddler:"chain_id"`
	BlockNumber         uint64         `meddler:"block_number"`
	UpdatedBlock        uint64         `meddler:"updated_block"`
	Token0Address       common.Address `meddler:"token0_address,address"`
	Token1Address       common.Address `meddler:"token1_address,address"`
	PoolContractAddress common.Address `meddler:"pool_contract_address,address"`
	Fee                 uint32         `meddler:"fee"`
	TickSpacing         int32          `meddler:"tick_spacing"`
}

func (p *Pool) SetScope(chainID, blockNumber uint64) {
	p.ChainID = chainID
	p.BlockNumber = blockNumber
	p.UpdatedBlock = blockNumber
}

// sameMetadata reports whether o describes the same pool; pools are never updated.
func (p *Pool) sameMetadata(o *Pool) bool {
	return p.Token0Address == o.Token0Address &&
		p.Token1Address == o.Token1Address &&
		p.Fee == o.Fee &&
		p.TickSpacing == o.TickSpacing
}

var Pools = projection.NewRepo[Pool](PoolsTable)

// FindPool loads the pool at address on the scope's chain.
func FindPool(ctx context.Context, scope projection.Scope, address common.Address) (*Pool, error) {
	return Pools.ReadOne(ctx, scope, projection.Where("pool_contract_address", address))
}

// ApplyPoolCreated stores the new pool's metadata and registers the pool into group, so its
// swaps are observed from the factory's block on. Both writes share the event's transaction.
func ApplyPoolCreated(ctx context.Context, scope projection.Scope, group string) (err error) {
	defer event.RecoverParamError(&err)

	params := scope.Event().Params
	pool := Pool{
		Token0Address:       params.Address("token0"),
		Token1Address:       params.Address("token1"),
		Fee:                 params.Uint32("fee"),
		TickSpacing:         params.Int32("tickSpacing"),
		PoolContractAddress: params.Address("pool"),
	}

	existing, err := FindPool(ctx, scope, pool.PoolContractAddress)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := Pools.Create(ctx, scope, &pool); err != nil {
			return err
		}
	} else if !existing.sameMetadata(&pool) {
		return fmt.Errorf("%w: pool %s already recorded as %s/%s fee %d tick spacing %d",
			projection.ErrInvariantViolation, pool.PoolContractAddress.Hex(),
			existing.Token0Address.Hex(), existing.Token1Address.Hex(), existing.Fee, existing.TickSpacing)
	}

	return scope.IncludeContract(ctx, group, pool.PoolContractAddress)
}
