package projection_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/internal/projection"
	"github.com/goran-ethernal/ChainProjector/internal/projection/projectiontest"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pprojection "github.com/goran-ethernal/ChainProjector/pkg/projection"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
	"github.com/stretchr/testify/require"
)

const gadgetsMigration = `
-- +migrate Down
DROP TABLE IF EXISTS gadgets;

-- +migrate Up
CREATE TABLE gadgets (
	id            /*pk*/,
	chain_id      BIGINT NOT NULL,
	block_number  BIGINT NOT NULL,
	updated_block BIGINT NOT NULL,
	name          TEXT   NOT NULL,
	owner         TEXT   NOT NULL
);
`

type gadget struct {
	ID           int64          `meddler:"id,pk"`
	ChainID      uint64         `meddler:"chain_id"`
	BlockNumber  uint64         `meddler:"block_number"`
	UpdatedBlock uint64         `meddler:"updated_block"`
	Name         string         `meddler:"name"`
	Owner        common.Address `meddler:"owner,address"`
}

func (g *gadget) SetScope(chainID, blockNumber uint64) {
	g.ChainID = chainID
	g.BlockNumber = blockNumber
	g.UpdatedBlock = blockNumber
}

var (
	gadgets  = pprojection.NewRepo[gadget]("gadgets")
	contract = common.HexToAddress("0xC0FFEE")
	alice    = common.HexToAddress("0xA11CE")
	bob      = common.HexToAddress("0xB0B")
)

func newStore(t *testing.T) (*projection.Store, *sql.DB) {
	t.Helper()
	return projectiontest.NewStore(t, projectiontest.Options{Retractable: []string{"gadgets"}},
		db.Migration{ID: "9000_gadgets.sql", SQL: gadgetsMigration})
}

func ev(chainID, block uint64, logIndex uint) *event.Event {
	return &event.Event{
		ChainID:         chainID,
		ContractAddress: contract,
		BlockNumber:     block,
		LogIndex:        logIndex,
		Name:            "Test",
	}
}

func upsertOwner(name string, owner common.Address) projection.HandlerFunc {
	return func(ctx context.Context, scope pprojection.Scope) error {
		filters := pprojection.Where("name", name)
		row, err := gadgets.ReadOne(ctx, scope, filters)
		if err != nil {
			return err
		}
		if row == nil {
			return gadgets.Create(ctx, scope, &gadget{Name: name, Owner: owner})
		}
		return gadgets.Update(ctx, scope, filters, pprojection.Set("owner", owner))
	}
}

func readGadget(t *testing.T, store *projection.Store, chainID uint64, filters pprojection.Filters) *gadget {
	t.Helper()

	var got *gadget
	// reads go through Apply on a throwaway contract so they see the same scope rules
	reader := &event.Event{ChainID: chainID, ContractAddress: common.HexToAddress("0xFEED"), BlockNumber: 1 << 40}
	_, err := store.Apply(context.Background(), reader, func(ctx context.Context, scope pprojection.Scope) error {
		var err error
		got, err = gadgets.ReadOne(ctx, scope, filters)
		if err != nil {
			return err
		}
		return errors.New("rollback")
	})
	require.EqualError(t, err, "rollback")
	return got
}

func TestStore_CreateThenRead(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	out, err := store.Apply(ctx, ev(1, 10, 0), upsertOwner("g1", alice))
	require.NoError(t, err)
	require.False(t, out.Skipped)

	got := readGadget(t, store, 1, pprojection.Where("name", "g1"))
	require.NotNil(t, got)
	require.Equal(t, alice, got.Owner)
	require.Equal(t, uint64(1), got.ChainID)
	require.Equal(t, uint64(10), got.BlockNumber)

	out, err = store.Apply(ctx, ev(1, 11, 0), upsertOwner("g1", bob))
	require.NoError(t, err)
	require.False(t, out.Skipped)

	got = readGadget(t, store, 1, pprojection.Where("name", "g1"))
	require.Equal(t, bob, got.Owner)
	require.Equal(t, uint64(10), got.BlockNumber)
	require.Equal(t, uint64(11), got.UpdatedBlock)
}

func TestStore_ChainScope(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Apply(context.Background(), ev(1, 10, 0), upsertOwner("g1", alice))
	require.NoError(t, err)

	require.Nil(t, readGadget(t, store, 2, pprojection.Where("name", "g1")))
	require.NotNil(t, readGadget(t, store, 2, pprojection.Where("name", "g1").WithinMultiChain()))
}

func TestStore_CursorSkipsRedelivery(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	calls := 0
	counting := func(ctx context.Context, scope pprojection.Scope) error {
		calls++
		return upsertOwner("g1", alice)(ctx, scope)
	}

	_, err := store.Apply(ctx, ev(1, 10, 3), counting)
	require.NoError(t, err)

	for _, redelivered := range []*event.Event{ev(1, 10, 3), ev(1, 10, 1), ev(1, 9, 7)} {
		out, err := store.Apply(ctx, redelivered, counting)
		require.NoError(t, err)
		require.True(t, out.Skipped, "event %s", redelivered)
	}
	require.Equal(t, 1, calls)

	// other chains keep their own cursor
	out, err := store.Apply(ctx, ev(2, 10, 3), counting)
	require.NoError(t, err)
	require.False(t, out.Skipped)

	pos, found, err := store.Cursor(ctx, 1, contract)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, event.Position{Block: 10, LogIndex: 3}, pos)
}

func TestStore_HandlerErrorRollsBack(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := store.Apply(ctx, ev(1, 10, 0), func(ctx context.Context, scope pprojection.Scope) error {
		require.NoError(t, gadgets.Create(ctx, scope, &gadget{Name: "g1", Owner: alice}))
		require.NoError(t, scope.IncludeContract(ctx, "Pool", bob))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Nil(t, readGadget(t, store, 1, pprojection.Where("name", "g1")))

	_, found, err := store.Cursor(ctx, 1, contract)
	require.NoError(t, err)
	require.False(t, found)

	regs, err := store.Registrations(ctx)
	require.NoError(t, err)
	require.Empty(t, regs)
}

func TestStore_ParamErrorAbortsWithoutWrites(t *testing.T) {
	store, _ := newStore(t)
	params := event.NewParams("Test", event.Param{Name: "owner", Value: event.BoolValue(true)})

	_, err := store.Apply(context.Background(), ev(1, 10, 0), func(ctx context.Context, scope pprojection.Scope) (err error) {
		defer event.RecoverParamError(&err)
		require.NoError(t, gadgets.Create(ctx, scope, &gadget{Name: "g1"}))
		owner := params.Address("owner")
		return gadgets.Update(ctx, scope, pprojection.Where("name", "g1"), pprojection.Set("owner", owner))
	})
	require.ErrorIs(t, err, event.ErrDecodingViolation)
	require.True(t, pprojection.IsFatal(err))
	require.Nil(t, readGadget(t, store, 1, pprojection.Where("name", "g1")))
}

func TestStore_UpdateInvariantErrors(t *testing.T) {
	store, database := newStore(t)
	ctx := context.Background()

	_, err := store.Apply(ctx, ev(1, 10, 0), func(ctx context.Context, scope pprojection.Scope) error {
		return gadgets.Update(ctx, scope, pprojection.Where("name", "missing"), pprojection.Set("owner", alice))
	})
	require.ErrorIs(t, err, pprojection.ErrNoRowsUpdated)
	require.True(t, pprojection.IsFatal(err))

	for range 2 {
		_, err := database.Exec(
			"INSERT INTO gadgets (chain_id, block_number, updated_block, name, owner) VALUES (1, 1, 1, 'dup', ?)",
			alice.Hex())
		require.NoError(t, err)
	}

	_, err = store.Apply(ctx, ev(1, 11, 0), func(ctx context.Context, scope pprojection.Scope) error {
		_, err := gadgets.ReadOne(ctx, scope, pprojection.Where("name", "dup"))
		return err
	})
	require.ErrorIs(t, err, pprojection.ErrDuplicateRows)

	_, err = store.Apply(ctx, ev(1, 12, 0), func(ctx context.Context, scope pprojection.Scope) error {
		return gadgets.Update(ctx, scope, pprojection.Where("name", "dup"), pprojection.Set("owner", bob))
	})
	require.ErrorIs(t, err, pprojection.ErrDuplicateRows)

	var owners []string
	rows, err := database.Query("SELECT owner FROM gadgets WHERE name = 'dup'")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var owner string
		require.NoError(t, rows.Scan(&owner))
		owners = append(owners, owner)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{alice.Hex(), alice.Hex()}, owners, "failed update must roll back")
}

func TestStore_IncludeContract(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	pool := common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")

	out, err := store.Apply(ctx, ev(1, 100, 0), func(ctx context.Context, scope pprojection.Scope) error {
		return scope.IncludeContract(ctx, "UniswapV3Pool", pool)
	})
	require.NoError(t, err)
	require.Equal(t, []registration.Request{
		{ChainID: 1, Address: pool, ContractGroup: "UniswapV3Pool", StartBlock: 100},
	}, out.Registrations)

	// already registered: nothing new to announce
	out, err = store.Apply(ctx, ev(1, 101, 0), func(ctx context.Context, scope pprojection.Scope) error {
		return scope.IncludeContract(ctx, "UniswapV3Pool", pool)
	})
	require.NoError(t, err)
	require.Empty(t, out.Registrations)

	regs, err := store.Registrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
}

func TestStore_Retract(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	early := common.HexToAddress("0x01")
	late := common.HexToAddress("0x02")

	create := func(name string, addr common.Address) projection.HandlerFunc {
		return func(ctx context.Context, scope pprojection.Scope) error {
			if err := gadgets.Create(ctx, scope, &gadget{Name: name, Owner: addr}); err != nil {
				return err
			}
			return scope.IncludeContract(ctx, "Pool", addr)
		}
	}

	_, err := store.Apply(ctx, ev(1, 100, 0), create("early", early))
	require.NoError(t, err)
	_, err = store.Apply(ctx, ev(1, 105, 2), create("late", late))
	require.NoError(t, err)
	_, err = store.Apply(ctx, ev(2, 105, 2), create("other-chain", late))
	require.NoError(t, err)

	retraction, err := store.Retract(ctx, 1, 105)
	require.NoError(t, err)
	require.Equal(t, uint64(1), retraction.ChainID)
	require.Equal(t, []registration.Request{
		{ChainID: 1, Address: late, ContractGroup: "Pool", StartBlock: 105},
	}, retraction.Requests)

	require.NotNil(t, readGadget(t, store, 1, pprojection.Where("name", "early")))
	require.Nil(t, readGadget(t, store, 1, pprojection.Where("name", "late")))
	require.NotNil(t, readGadget(t, store, 2, pprojection.Where("name", "other-chain")))

	regs, err := store.Registrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)

	pos, found, err := store.Cursor(ctx, 1, contract)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(104), pos.Block)

	// the replacement log at the retracted height applies again
	out, err := store.Apply(ctx, ev(1, 105, 0), create("late", late))
	require.NoError(t, err)
	require.False(t, out.Skipped)
}

func TestStore_LockKeysOncePerEvent(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Apply(context.Background(), ev(1, 1, 0), func(ctx context.Context, scope pprojection.Scope) error {
		require.NoError(t, scope.LockKeys(ctx, "a"))
		return scope.LockKeys(ctx, "b")
	})
	require.Error(t, err)

	// the key was released with the transaction
	_, err = store.Apply(context.Background(), ev(1, 2, 0), func(ctx context.Context, scope pprojection.Scope) error {
		return scope.LockKeys(ctx, "a")
	})
	require.NoError(t, err)
}

// expiringLocker hands out leases that report themselves lost while expired is set.
type expiringLocker struct {
	expired  bool
	released int
}

type expiringLease struct {
	locker *expiringLocker
}

func (l *expiringLocker) Lock(ctx context.Context, keys ...string) (keylock.Lease, error) {
	return &expiringLease{locker: l}, nil
}

func (l *expiringLease) Held(ctx context.Context) error {
	if l.locker.expired {
		return keylock.ErrLeaseLost
	}
	return nil
}

func (l *expiringLease) Release() {
	l.locker.released++
}

func TestStore_LostLeaseRollsBack(t *testing.T) {
	locker := &expiringLocker{expired: true}
	store, _ := projectiontest.NewStore(t, projectiontest.Options{Locker: locker},
		db.Migration{ID: "9000_gadgets.sql", SQL: gadgetsMigration})
	ctx := context.Background()

	handler := func(ctx context.Context, scope pprojection.Scope) error {
		if err := scope.LockKeys(ctx, "gadget:g1"); err != nil {
			return err
		}
		return upsertOwner("g1", alice)(ctx, scope)
	}

	_, err := store.Apply(ctx, ev(1, 10, 0), handler)
	require.ErrorIs(t, err, keylock.ErrLeaseLost)
	require.False(t, pprojection.IsFatal(err))
	require.Equal(t, 1, locker.released)

	require.Nil(t, readGadget(t, store, 1, pprojection.Where("name", "g1")))
	_, found, err := store.Cursor(ctx, 1, contract)
	require.NoError(t, err)
	require.False(t, found)

	// the retry under a healthy lease commits
	locker.expired = false
	out, err := store.Apply(ctx, ev(1, 10, 0), handler)
	require.NoError(t, err)
	require.False(t, out.Skipped)
	require.NotNil(t, readGadget(t, store, 1, pprojection.Where("name", "g1")))
}

func TestStore_ConcurrentChains(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for chainID := uint64(1); chainID <= 4; chainID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for block := uint64(1); block <= 20; block++ {
				if _, err := store.Apply(ctx, ev(chainID, block, 0), upsertOwner("shared", alice)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for chainID := uint64(1); chainID <= 4; chainID++ {
		got := readGadget(t, store, chainID, pprojection.Where("name", "shared"))
		require.NotNil(t, got)
		require.Equal(t, uint64(20), got.UpdatedBlock)
	}
}
