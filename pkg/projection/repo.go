package projection

import (
	"context"
	"fmt"
)

// Repo is the typed create/read/update surface over one entity table.
//
//	var owners = projection.NewRepo[Ownership]("nft_ownerships")
type Repo[T any, PT interface {
	*T
	Entity
}] struct {
	table string
}

// NewRepo binds T to table. It panics on a table name that is not a plain identifier.
func NewRepo[T any, PT interface {
	*T
	Entity
}](table string) Repo[T, PT] {
	if !ValidIdentifier(table) {
		panic(fmt.Sprintf("invalid table name %q", table))
	}
	return Repo[T, PT]{table: table}
}

// Table returns the bound table name.
func (r Repo[T, PT]) Table() string {
	return r.table
}

// Create inserts row, stamped with the scope's chain and block. Uniqueness is not
// checked here; callers read first. A unique constraint violation is returned as an error.
func (r Repo[T, PT]) Create(ctx context.Context, scope Scope, row PT) error {
	row.SetScope(scope.ChainID(), scope.BlockNumber())
	if err := scope.Insert(ctx, r.table, row); err != nil {
		return fmt.Errorf("create %s: %w", r.table, err)
	}
	return nil
}

// ReadOne returns the single row matching filters, or nil when none does.
// More than one match is ErrDuplicateRows.
func (r Repo[T, PT]) ReadOne(ctx context.Context, scope Scope, filters Filters) (PT, error) {
	var rows []PT
	if err := scope.Select(ctx, r.table, filters, &rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.table, err)
	}

	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("read %s: %w", r.table, ErrDuplicateRows)
	}
}

// Update applies updates to the single row matching filters. No match is ErrNoRowsUpdated,
// several matches are ErrDuplicateRows; either way the event's transaction is rolled back.
func (r Repo[T, PT]) Update(ctx context.Context, scope Scope, filters Filters, updates Updates) error {
	n, err := scope.Modify(ctx, r.table, filters, updates)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.table, err)
	}

	switch {
	case n == 0:
		return fmt.Errorf("update %s: %w", r.table, ErrNoRowsUpdated)
	case n > 1:
		return fmt.Errorf("update %s (%d rows): %w", r.table, n, ErrDuplicateRows)
	}
	return nil
}
