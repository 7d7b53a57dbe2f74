package handlers

import (
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/handlers/nft"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

// Kind identifies one handler. The set is closed; dispatch switches on it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindERC721Transfer
	KindUniswapV3PoolCreated
	KindUniswapV3Swap
)

var kindNames = map[Kind]string{
	KindERC721Transfer:       "erc721_transfer",
	KindUniswapV3PoolCreated: "uniswap_v3_pool_created",
	KindUniswapV3Swap:        "uniswap_v3_swap",
}

// AllKinds lists every handler kind in declaration order.
func AllKinds() []Kind {
	return []Kind{KindERC721Transfer, KindUniswapV3PoolCreated, KindUniswapV3Swap}
}

// ParseKind resolves a configured handler name.
func ParseKind(name string) (Kind, error) {
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown handler %q", name)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Signature returns the event the kind handles.
func (k Kind) Signature() *event.Signature {
	switch k {
	case KindERC721Transfer:
		return nft.Transfer
	case KindUniswapV3PoolCreated:
		return uniswap.PoolCreated
	case KindUniswapV3Swap:
		return uniswap.Swap
	default:
		return nil
	}
}
