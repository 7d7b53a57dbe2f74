package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/ChainProjector/internal/db"
)

//go:embed 0002_nft_ownerships.sql
var mig0002 string

// Migrations returns the ownership projection schema.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "0002_nft_ownerships.sql",
			SQL: mig0002,
		},
	}
}
