package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
)

// rewoundLogIndex places a rewound cursor after every log of its block.
const rewoundLogIndex = math.MaxInt32

// HandlerFunc applies one event through scope.
type HandlerFunc func(ctx context.Context, scope projection.Scope) error

// Outcome reports what Apply did with an event.
type Outcome struct {
	// Skipped is set when the event was at or behind the contract's cursor and nothing was written.
	Skipped bool

	// Registrations are the committed contract registrations the handler issued.
	Registrations []registration.Request
}

// Store is the SQL projection store. Each event is applied in its own transaction
// together with the advance of its contract's cursor.
type Store struct {
	db          *sql.DB
	dialect     db.Dialect
	locker      keylock.Locker
	maintenance db.Maintenance
	retractable []string
	log         *logger.Logger
}

// NewStore creates a store. retractable names the tables whose rows are deleted
// together with registrations when a block range is retracted.
func NewStore(
	database *sql.DB,
	dialect db.Dialect,
	locker keylock.Locker,
	maintenance db.Maintenance,
	log *logger.Logger,
	retractable ...string,
) (*Store, error) {
	for _, table := range retractable {
		if !projection.ValidIdentifier(table) {
			return nil, fmt.Errorf("invalid retractable table name %q", table)
		}
	}

	if maintenance == nil {
		maintenance = db.NoOpMaintenance{}
	}

	return &Store{
		db:          database,
		dialect:     dialect,
		locker:      locker,
		maintenance: maintenance,
		retractable: retractable,
		log:         log,
	}, nil
}

// Apply runs fn for ev inside one transaction.
//
// An event at or behind its contract's cursor is skipped, which makes redelivery harmless
// for every handler, including non-idempotent merges. Key locks taken by fn are held until
// the transaction ends, and the transaction is rolled back instead of committed when one of
// them was lost meanwhile. Registrations are returned only once the transaction has committed.
func (s *Store) Apply(ctx context.Context, ev *event.Event, fn HandlerFunc) (Outcome, error) {
	release := s.maintenance.AcquireOperationLock()
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin transaction: %w", err)
	}

	scope := &txScope{store: s, tx: tx, event: ev}
	defer scope.unlock()

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.log.Warnf("rollback failed for %s: %v", ev, err)
			}
		}
	}()

	cursor, found, err := s.cursor(tx, ev.ChainID, ev.ContractAddress)
	if err != nil {
		return Outcome{}, err
	}
	if found && !cursor.Less(ev.Position()) {
		s.log.Debugf("skipping %s: cursor at %s", ev, cursor)
		return Outcome{Skipped: true}, nil
	}

	if err := fn(ctx, scope); err != nil {
		return Outcome{}, err
	}

	if err := s.advanceCursor(tx, ev); err != nil {
		return Outcome{}, err
	}

	// a lease lost mid-event means another holder may have read the same keys
	if err := scope.held(ctx); err != nil {
		return Outcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit %s: %w", ev, err)
	}
	committed = true

	return Outcome{Registrations: scope.requests}, nil
}

// Retract removes registrations and retractable rows created on chainID at or after
// fromBlock, and rewinds that chain's cursors to just before fromBlock, in one transaction.
// It returns the removed registrations.
//
// Rows of other tables are left as they are. Aggregates merged by the retracted blocks
// keep those contributions, and events replayed past the rewound cursors merge again,
// so a swap re-mined after a reorg is counted twice.
func (s *Store) Retract(ctx context.Context, chainID, fromBlock uint64) (registration.Retraction, error) {
	release := s.maintenance.AcquireOperationLock()
	defer release()

	retraction := registration.Retraction{ChainID: chainID, FromBlock: fromBlock}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retraction, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Warnf("rollback failed for retraction of chain %d: %v", chainID, err)
		}
	}()

	p1, p2 := s.dialect.Placeholder(1), s.dialect.Placeholder(2) //nolint:mnd

	var rows []*registrationRow
	if err := s.dialect.Meddler.QueryAll(tx, &rows,
		"SELECT * FROM contract_registrations WHERE chain_id = "+p1+" AND block_number >= "+p2+
			" ORDER BY block_number, id",
		chainID, fromBlock); err != nil {
		return retraction, fmt.Errorf("load registrations to retract: %w", err)
	}

	tables := append([]string{"contract_registrations"}, s.retractable...)
	for _, table := range tables {
		res, err := tx.Exec("DELETE FROM "+table+" WHERE chain_id = "+p1+" AND block_number >= "+p2,
			chainID, fromBlock)
		if err != nil {
			return retraction, fmt.Errorf("retract %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Infof("retracted %d rows from %s on chain %d from block %d", n, table, chainID, fromBlock)
		}
	}

	if err := s.rewindCursors(tx, chainID, fromBlock); err != nil {
		return retraction, err
	}

	if err := tx.Commit(); err != nil {
		return retraction, fmt.Errorf("commit retraction: %w", err)
	}

	for _, row := range rows {
		retraction.Requests = append(retraction.Requests, row.request())
	}
	return retraction, nil
}

// Registrations returns every persisted registration in creation order.
func (s *Store) Registrations(ctx context.Context) ([]registration.Request, error) {
	var rows []*registrationRow
	if err := s.dialect.Meddler.QueryAll(s.db, &rows,
		"SELECT * FROM contract_registrations ORDER BY chain_id, block_number, id"); err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}

	requests := make([]registration.Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, row.request())
	}
	return requests, nil
}

// Cursor returns the position of the last event applied for a contract.
func (s *Store) Cursor(ctx context.Context, chainID uint64, contract common.Address) (event.Position, bool, error) {
	return s.cursor(s.db, chainID, contract)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) cursor(q queryer, chainID uint64, contract common.Address) (event.Position, bool, error) {
	var pos event.Position
	err := q.QueryRow(
		"SELECT block_number, log_index FROM event_cursors WHERE chain_id = "+
			s.dialect.Placeholder(1)+" AND contract_address = "+s.dialect.Placeholder(2), //nolint:mnd
		chainID, contract.Hex(),
	).Scan(&pos.Block, &pos.LogIndex)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return event.Position{}, false, nil
	case err != nil:
		return event.Position{}, false, fmt.Errorf("read cursor: %w", err)
	}
	return pos, true, nil
}

func (s *Store) advanceCursor(tx *sql.Tx, ev *event.Event) error {
	_, err := tx.Exec(
		"INSERT INTO event_cursors (chain_id, contract_address, block_number, log_index) VALUES ("+
			s.dialect.Placeholders(1, 4)+ //nolint:mnd
			") ON CONFLICT (chain_id, contract_address) DO UPDATE SET "+
			"block_number = excluded.block_number, log_index = excluded.log_index",
		ev.ChainID, ev.ContractAddress.Hex(), ev.BlockNumber, ev.LogIndex,
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (s *Store) rewindCursors(tx *sql.Tx, chainID, fromBlock uint64) error {
	var err error
	if fromBlock == 0 {
		_, err = tx.Exec("DELETE FROM event_cursors WHERE chain_id = "+s.dialect.Placeholder(1), chainID)
	} else {
		_, err = tx.Exec(
			"UPDATE event_cursors SET block_number = "+s.dialect.Placeholder(1)+
				", log_index = "+s.dialect.Placeholder(2)+ //nolint:mnd
				" WHERE chain_id = "+s.dialect.Placeholder(3)+ //nolint:mnd
				" AND block_number >= "+s.dialect.Placeholder(4), //nolint:mnd
			fromBlock-1, rewoundLogIndex, chainID, fromBlock,
		)
	}
	if err != nil {
		return fmt.Errorf("rewind cursors: %w", err)
	}
	return nil
}

// registrationRow is the persisted form of a registration.Request.
type registrationRow struct {
	ID              int64          `meddler:"id,pk"`
	ChainID         uint64         `meddler:"chain_id"`
	BlockNumber     uint64         `meddler:"block_number"`
	ContractGroup   string         `meddler:"contract_group"`
	ContractAddress common.Address `meddler:"contract_address,address"`
}

func (r *registrationRow) request() registration.Request {
	return registration.Request{
		ChainID:       r.ChainID,
		Address:       r.ContractAddress,
		ContractGroup: r.ContractGroup,
		StartBlock:    r.BlockNumber,
	}
}
