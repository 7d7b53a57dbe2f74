// Package nft projects ERC-721 transfers into current token ownership.
package nft

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
)

const OwnershipsTable = "nft_ownerships"

// Transfer is the ERC-721 transfer event. All three arguments are indexed,
// which tells it apart from the ERC-20 event sharing its topic.
var Transfer = event.MustParseSignature(
	"Transfer(address indexed from, address indexed to, uint256 indexed tokenId)")

// Ownership is the current owner of one token.
type Ownership struct {
	ID              int64          `meddler:"id,pk"`
	ChainID         uint64         `meddler:"chain_id"`
	BlockNumber     uint64         `meddler:"block_number"`
	UpdatedBlock    uint64         `meddler:"updated_block"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	TokenID         *big.Int       `meddler:"token_id,bigint"`
	OwnerAddress    common.Address `meddler:"owner_address,address"`
}

func (o *Ownership) SetScope(chainID, blockNumber uint64) {
	o.ChainID = chainID
	o.BlockNumber = blockNumber
	o.UpdatedBlock = blockNumber
}

var Ownerships = projection.NewRepo[Ownership](OwnershipsTable)

// Options configures the transfer handler for one contract group.
type Options struct {
	// SharedTokenIDs keys ownership by token id alone, for groups whose contracts share an id space.
	SharedTokenIDs bool
}

// OwnershipFilters selects the row of tokenID emitted by contract.
func OwnershipFilters(contract common.Address, tokenID *big.Int, opts Options) projection.Filters {
	filters := projection.Where("token_id", tokenID)
	if !opts.SharedTokenIDs {
		filters = filters.And("contract_address", contract)
	}
	return filters
}

// ApplyTransfer records the transfer's recipient as the token's owner, creating the row
// on first sight. Re-applying a transfer leaves the same state.
func ApplyTransfer(ctx context.Context, scope projection.Scope, opts Options) (err error) {
	defer event.RecoverParamError(&err)

	ev := scope.Event()
	_ = ev.Params.Address("from")
	to := ev.Params.Address("to")
	tokenID := ev.Params.Uint("tokenId", 256) //nolint:mnd

	filters := OwnershipFilters(ev.ContractAddress, tokenID, opts)
	current, err := Ownerships.ReadOne(ctx, scope, filters)
	if err != nil {
		return err
	}

	if current == nil {
		return Ownerships.Create(ctx, scope, &Ownership{
			ContractAddress: ev.ContractAddress,
			TokenID:         tokenID,
			OwnerAddress:    to,
		})
	}

	return Ownerships.Update(ctx, scope, filters, projection.Set("owner_address", to))
}
