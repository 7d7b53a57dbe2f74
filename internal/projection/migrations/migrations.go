package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/ChainProjector/internal/db"
)

//go:embed 0001_projection_core.sql
var mig0001 string

// Migrations returns the schema of the store's own bookkeeping tables.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "0001_projection_core.sql",
			SQL: mig0001,
		},
	}
}
