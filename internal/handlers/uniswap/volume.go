package uniswap

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
)

const VolumesTable = "uniswap_token_swap_volumes"

var Swap = event.MustParseSignature(
	"Swap(address indexed sender, address indexed recipient, int256 amount0, int256 amount1, " +
		"uint160 sqrtPriceX96, uint128 liquidity, int24 tick)")

// Volume is the traded amount of one token, summed over every pool on every chain.
// ChainID and BlockNumber record where the row was first created.
type Volume struct {
	ID            int64          `meddler:"id,pk"`
	ChainID       uint64         `meddler:"chain_id"`
	BlockNumber   uint64         `meddler:"block_number"`
	UpdatedBlock  uint64         `meddler:"updated_block"`
	TokenAddress  common.Address `meddler:"token_address,address"`
	AmountEther   string         `meddler:"amount_ether"`
	LastUpdatedAt uint64         `meddler:"last_updated_at"`
}

func (v *Volume) SetScope(chainID, blockNumber uint64) {
	v.ChainID = chainID
	v.BlockNumber = blockNumber
	v.UpdatedBlock = blockNumber
}

// Amount parses the stored amount.
func (v *Volume) Amount() (float64, error) {
	amount, err := strconv.ParseFloat(v.AmountEther, 64)
	if err != nil {
		return 0, fmt.Errorf("token %s has malformed amount %q: %w", v.TokenAddress.Hex(), v.AmountEther, err)
	}
	return amount, nil
}

var Volumes = projection.NewRepo[Volume](VolumesTable)

// FormatEther renders an amount the way it is stored.
func FormatEther(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// VolumeKey is the lock key serializing merges into a token's volume.
func VolumeKey(token common.Address) string {
	return "volume:" + token.Hex()
}

// VolumeFilters selects a token's volume row on any chain.
func VolumeFilters(token common.Address) projection.Filters {
	return projection.Where("token_address", token).WithinMultiChain()
}

// ApplySwap adds the absolute value of both swapped amounts, in ether units, to the volume of
// the pool's two tokens. The pool must already be known on the swap's chain.
func ApplySwap(ctx context.Context, scope projection.Scope) (err error) {
	defer event.RecoverParamError(&err)

	ev := scope.Event()
	amount0 := math.Abs(ev.Params.EtherAmount("amount0"))
	amount1 := math.Abs(ev.Params.EtherAmount("amount1"))

	pool, err := FindPool(ctx, scope, ev.ContractAddress)
	if err != nil {
		return err
	}
	if pool == nil {
		return fmt.Errorf("%w: swap from unknown pool %s on chain %d",
			projection.ErrInvariantViolation, ev.ContractAddress.Hex(), ev.ChainID)
	}

	if err := scope.LockKeys(ctx, VolumeKey(pool.Token0Address), VolumeKey(pool.Token1Address)); err != nil {
		return err
	}

	if err := mergeVolume(ctx, scope, pool.Token0Address, amount0, ev.BlockTimestamp); err != nil {
		return err
	}
	return mergeVolume(ctx, scope, pool.Token1Address, amount1, ev.BlockTimestamp)
}

// mergeVolume adds amount to token's volume. The timestamp only moves forward, so chains
// delivering out of wall-clock order still leave the latest swap time.
func mergeVolume(ctx context.Context, scope projection.Scope, token common.Address, amount float64, ts uint64) error {
	filters := VolumeFilters(token)

	current, err := Volumes.ReadOne(ctx, scope, filters)
	if err != nil {
		return err
	}

	if current == nil {
		return Volumes.Create(ctx, scope, &Volume{
			TokenAddress:  token,
			AmountEther:   FormatEther(amount),
			LastUpdatedAt: ts,
		})
	}

	total, err := current.Amount()
	if err != nil {
		return fmt.Errorf("%w: %w", projection.ErrInvariantViolation, err)
	}

	return Volumes.Update(ctx, scope, filters,
		projection.Set("amount_ether", FormatEther(total+amount)).
			Set("last_updated_at", max(current.LastUpdatedAt, ts)))
}
