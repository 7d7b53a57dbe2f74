package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/ChainProjector/internal/db"
)

//go:embed 0003_uniswap_pools.sql
var mig0003 string

//go:embed 0004_uniswap_token_swap_volumes.sql
var mig0004 string

// Migrations returns the pool metadata and swap volume schema.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "0003_uniswap_pools.sql",
			SQL: mig0003,
		},
		{
			ID:  "0004_uniswap_token_swap_volumes.sql",
			SQL: mig0004,
		},
	}
}
