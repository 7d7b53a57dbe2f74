package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
)

// selectLimit is enough to tell "one" from "more than one".
const selectLimit = 2

// txScope implements projection.Scope over one event's transaction.
type txScope struct {
	store *Store
	tx    *sql.Tx
	event *event.Event

	lease    keylock.Lease
	requests []registration.Request
}

var _ projection.Scope = (*txScope)(nil)

func (s *txScope) ChainID() uint64 {
	return s.event.ChainID
}

func (s *txScope) BlockNumber() uint64 {
	return s.event.BlockNumber
}

func (s *txScope) Event() *event.Event {
	return s.event
}

func (s *txScope) Insert(ctx context.Context, table string, row projection.Entity) error {
	if !projection.ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	if err := s.store.dialect.Meddler.Insert(s.tx, table, row); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: insert into %s: %w", projection.ErrInvariantViolation, table, err)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (s *txScope) Select(ctx context.Context, table string, filters projection.Filters, dst any) error {
	if !projection.ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	where, args, err := s.where(filters, 1)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY id LIMIT %d", table, where, selectLimit)
	return s.store.dialect.Meddler.QueryAll(s.tx, dst, query, args...)
}

func (s *txScope) Modify(
	ctx context.Context,
	table string,
	filters projection.Filters,
	updates projection.Updates,
) (int64, error) {
	if !projection.ValidIdentifier(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	if err := updates.Validate(); err != nil {
		return 0, err
	}

	dialect := s.store.dialect
	terms := updates.Terms()
	sets := make([]string, 0, len(terms)+1)
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		sets = append(sets, t.Column+" = "+dialect.Placeholder(i+1))
		args = append(args, t.Value)
	}
	sets = append(sets, "updated_block = "+dialect.Placeholder(len(terms)+1))
	args = append(args, s.event.BlockNumber)

	where, whereArgs, err := s.where(filters, len(args)+1)
	if err != nil {
		return 0, err
	}

	res, err := s.tx.Exec(
		fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where),
		append(args, whereArgs...)...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// where renders filters starting at placeholder index from, adding the chain restriction
// unless the filters are multi-chain.
func (s *txScope) where(filters projection.Filters, from int) (string, []any, error) {
	if err := filters.Validate(); err != nil {
		return "", nil, err
	}

	dialect := s.store.dialect
	terms := filters.Terms()
	clauses := make([]string, 0, len(terms)+1)
	args := make([]any, 0, len(terms)+1)
	for _, t := range terms {
		clauses = append(clauses, t.Column+" = "+dialect.Placeholder(from+len(args)))
		args = append(args, t.Value)
	}

	if !filters.MultiChain() {
		clauses = append(clauses, "chain_id = "+dialect.Placeholder(from+len(args)))
		args = append(args, s.event.ChainID)
	}

	return strings.Join(clauses, " AND "), args, nil
}

func (s *txScope) LockKeys(ctx context.Context, keys ...string) error {
	if s.lease != nil {
		return fmt.Errorf("keys already locked for %s", s.event)
	}
	if len(keys) == 0 {
		return nil
	}

	lease, err := s.store.locker.Lock(ctx, keys...)
	if err != nil {
		return fmt.Errorf("lock %v: %w", keys, err)
	}
	s.lease = lease
	return nil
}

// held fails when a key taken by LockKeys may have passed to another holder.
func (s *txScope) held(ctx context.Context) error {
	if s.lease == nil {
		return nil
	}
	if err := s.lease.Held(ctx); err != nil {
		return fmt.Errorf("keys of %s: %w", s.event, err)
	}
	return nil
}

func (s *txScope) unlock() {
	if s.lease != nil {
		s.lease.Release()
	}
}

func (s *txScope) IncludeContract(ctx context.Context, group string, address common.Address) error {
	dialect := s.store.dialect
	res, err := s.tx.Exec(
		"INSERT INTO contract_registrations (chain_id, block_number, contract_group, contract_address) VALUES ("+
			dialect.Placeholders(1, 4)+") ON CONFLICT (chain_id, contract_address) DO NOTHING", //nolint:mnd
		s.event.ChainID, s.event.BlockNumber, group, address.Hex(),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", address.Hex(), err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.store.log.Debugf("contract %s already registered on chain %d", address.Hex(), s.event.ChainID)
		return nil
	}

	s.requests = append(s.requests, registration.Request{
		ChainID:       s.event.ChainID,
		Address:       address,
		ContractGroup: group,
		StartBlock:    s.event.BlockNumber,
	})
	return nil
}
