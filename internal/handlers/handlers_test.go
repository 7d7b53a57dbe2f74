package handlers

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/nft"
	nftmig "github.com/goran-ethernal/ChainProjector/internal/handlers/nft/migrations"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap"
	uniswapmig "github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap/migrations"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/projection/projectiontest"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
	"github.com/stretchr/testify/require"
)

var testContracts = []config.ContractConfig{
	{Name: "BAYC", Handlers: []string{"erc721_transfer"}},
	{Name: "UniswapV3Factory", Handlers: []string{"uniswap_v3_pool_created"}},
	{Name: "UniswapV3Pool", Handlers: []string{"uniswap_v3_swap"}},
}

func TestParseKind(t *testing.T) {
	for _, kind := range AllKinds() {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
		require.NotNil(t, kind.Signature())
	}

	_, err := ParseKind("erc20_transfer")
	require.Error(t, err)
	require.Equal(t, "unknown", KindUnknown.String())
	require.Nil(t, KindUnknown.Signature())
}

func TestNewTable(t *testing.T) {
	table, err := NewTable(testContracts)
	require.NoError(t, err)

	kind, ok := table.Resolve("BAYC", nft.Transfer.Topic)
	require.True(t, ok)
	require.Equal(t, KindERC721Transfer, kind)

	_, ok = table.Resolve("UniswapV3Pool", nft.Transfer.Topic)
	require.False(t, ok)

	kind, ok = table.Resolve("UniswapV3Pool", uniswap.Swap.Topic)
	require.True(t, ok)
	require.Equal(t, KindUniswapV3Swap, kind)

	require.Equal(t, "UniswapV3Pool", table.PoolGroup())

	_, ok = table.Decoder().Signature(uniswap.PoolCreated.Topic)
	require.True(t, ok)
}

func TestNewTable_Errors(t *testing.T) {
	tests := []struct {
		name      string
		contracts []config.ContractConfig
	}{
		{
			name:      "unknown handler",
			contracts: []config.ContractConfig{{Name: "X", Handlers: []string{"erc1155_transfer"}}},
		},
		{
			name:      "same handler twice",
			contracts: []config.ContractConfig{{Name: "X", Handlers: []string{"erc721_transfer", "erc721_transfer"}}},
		},
		{
			name: "two swap groups",
			contracts: []config.ContractConfig{
				{Name: "A", Handlers: []string{"uniswap_v3_swap"}},
				{Name: "B", Handlers: []string{"uniswap_v3_swap"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.contracts)
			require.Error(t, err)
		})
	}
}

func TestNewTable_CustomPoolGroup(t *testing.T) {
	table, err := NewTable([]config.ContractConfig{
		{Name: "Factory", Handlers: []string{"uniswap_v3_pool_created"}},
		{Name: "Pools", Handlers: []string{"uniswap_v3_swap"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Pools", table.PoolGroup())

	table, err = NewTable([]config.ContractConfig{{Name: "Factory", Handlers: []string{"uniswap_v3_pool_created"}}})
	require.NoError(t, err)
	require.Equal(t, uniswap.PoolGroup, table.PoolGroup())
}

func TestDispatcher_DecodeAndApply(t *testing.T) {
	table, err := NewTable(testContracts)
	require.NoError(t, err)

	store, _ := projectiontest.NewStore(t, projectiontest.Options{Retractable: RetractableTables()},
		append(nftmig.Migrations(), uniswapmig.Migrations()...)...)
	dispatcher := NewDispatcher(store, table, logger.NewNopLogger())
	ctx := context.Background()

	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	pool := common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	data, err := uniswap.PoolCreated.Inputs().NonIndexed().Pack(big.NewInt(60), pool)
	require.NoError(t, err)

	ev, err := table.Decoder().Decode(1, types.Log{
		Address: factory,
		Topics: []common.Hash{
			uniswap.PoolCreated.Topic,
			common.BytesToHash(usdc.Bytes()),
			common.BytesToHash(weth.Bytes()),
			common.BigToHash(big.NewInt(500)),
		},
		Data:        data,
		BlockNumber: 12376729,
	}, 1620250931)
	require.NoError(t, err)

	outcome, kind, err := dispatcher.Apply(ctx, ev, "UniswapV3Factory")
	require.NoError(t, err)
	require.Equal(t, KindUniswapV3PoolCreated, kind)
	require.Equal(t, []registration.Request{{
		ChainID: 1, Address: pool, ContractGroup: "UniswapV3Pool", StartBlock: 12376729,
	}}, outcome.Registrations)

	_, _, err = dispatcher.Apply(ctx, ev, "BAYC")
	require.ErrorIs(t, err, ErrNoHandler)

	swapData, err := uniswap.Swap.Inputs().NonIndexed().Pack(
		big.NewInt(-2500000), new(big.Int).Mul(big.NewInt(1e9), big.NewInt(1e9)),
		big.NewInt(1), big.NewInt(1), big.NewInt(-3))
	require.NoError(t, err)

	swapEv, err := table.Decoder().Decode(1, types.Log{
		Address:     pool,
		Topics:      []common.Hash{uniswap.Swap.Topic, {}, {}},
		Data:        swapData,
		BlockNumber: 12376800,
	}, 1620251000)
	require.NoError(t, err)

	outcome, kind, err = dispatcher.Apply(ctx, swapEv, "UniswapV3Pool")
	require.NoError(t, err)
	require.Equal(t, KindUniswapV3Swap, kind)
	require.False(t, outcome.Skipped)

	outcome, _, err = dispatcher.Apply(ctx, swapEv, "UniswapV3Pool")
	require.NoError(t, err)
	require.True(t, outcome.Skipped)
}

func TestMigrationsAreOrdered(t *testing.T) {
	migs := Migrations()
	require.Len(t, migs, 4)
	for i := 1; i < len(migs); i++ {
		require.Less(t, migs[i-1].ID, migs[i].ID)
	}
}
