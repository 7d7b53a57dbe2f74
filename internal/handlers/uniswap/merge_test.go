package uniswap_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/handlers/uniswap"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
	pprojection "github.com/goran-ethernal/ChainProjector/pkg/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTables is a store without transaction isolation: every read and write is atomic on
// its own, like separate statements under READ COMMITTED. Only LockKeys keeps a
// read-modify-write from interleaving with another one.
type memTables struct {
	mu      sync.Mutex
	pools   map[string]uniswap.Pool
	volumes map[string]uniswap.Volume

	// afterVolumeRead runs between a token's volume read and the write that follows it
	afterVolumeRead func(token string)
}

func newMemTables() *memTables {
	return &memTables{
		pools:   map[string]uniswap.Pool{},
		volumes: map[string]uniswap.Volume{},
	}
}

func poolKey(chainID uint64, address string) string {
	return fmt.Sprintf("%d/%s", chainID, address)
}

// memScope applies one event against memTables.
type memScope struct {
	tables *memTables
	event  *event.Event
	locker keylock.Locker
	lease  keylock.Lease
}

var _ pprojection.Scope = (*memScope)(nil)

func (s *memScope) ChainID() uint64     { return s.event.ChainID }
func (s *memScope) BlockNumber() uint64 { return s.event.BlockNumber }
func (s *memScope) Event() *event.Event { return s.event }

func (s *memScope) Insert(ctx context.Context, table string, row pprojection.Entity) error {
	s.tables.mu.Lock()
	defer s.tables.mu.Unlock()

	switch r := row.(type) {
	case *uniswap.Pool:
		s.tables.pools[poolKey(r.ChainID, r.PoolContractAddress.Hex())] = *r
	case *uniswap.Volume:
		key := r.TokenAddress.Hex()
		if _, ok := s.tables.volumes[key]; ok {
			return fmt.Errorf("%w: duplicate volume for %s", pprojection.ErrInvariantViolation, key)
		}
		s.tables.volumes[key] = *r
	default:
		return fmt.Errorf("unexpected row %T in %s", row, table)
	}
	return nil
}

func (s *memScope) Select(ctx context.Context, table string, filters pprojection.Filters, dst any) error {
	value := filters.Terms()[0].Value.(string)

	s.tables.mu.Lock()
	switch table {
	case uniswap.PoolsTable:
		if pool, ok := s.tables.pools[poolKey(s.event.ChainID, value)]; ok {
			*(dst.(*[]*uniswap.Pool)) = []*uniswap.Pool{&pool}
		}
		s.tables.mu.Unlock()
		return nil
	case uniswap.VolumesTable:
		if v, ok := s.tables.volumes[value]; ok {
			*(dst.(*[]*uniswap.Volume)) = []*uniswap.Volume{&v}
		}
		s.tables.mu.Unlock()
	default:
		s.tables.mu.Unlock()
		return fmt.Errorf("unexpected table %s", table)
	}

	if s.tables.afterVolumeRead != nil {
		s.tables.afterVolumeRead(value)
	}
	return nil
}

func (s *memScope) Modify(
	ctx context.Context,
	table string,
	filters pprojection.Filters,
	updates pprojection.Updates,
) (int64, error) {
	key := filters.Terms()[0].Value.(string)

	s.tables.mu.Lock()
	defer s.tables.mu.Unlock()

	v, ok := s.tables.volumes[key]
	if table != uniswap.VolumesTable || !ok {
		return 0, nil
	}
	for _, term := range updates.Terms() {
		switch term.Column {
		case "amount_ether":
			v.AmountEther = term.Value.(string)
		case "last_updated_at":
			v.LastUpdatedAt = term.Value.(uint64)
		}
	}
	v.UpdatedBlock = s.event.BlockNumber
	s.tables.volumes[key] = v
	return 1, nil
}

func (s *memScope) LockKeys(ctx context.Context, keys ...string) error {
	if s.locker == nil {
		return nil
	}
	lease, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	s.lease = lease
	return nil
}

func (s *memScope) IncludeContract(ctx context.Context, group string, address common.Address) error {
	return nil
}

func (s *memScope) release() {
	if s.lease != nil {
		s.lease.Release()
	}
}

func applyInMemory(tables *memTables, locker keylock.Locker, ev *event.Event) error {
	scope := &memScope{tables: tables, event: ev, locker: locker}
	defer scope.release()
	return uniswap.ApplySwap(context.Background(), scope)
}

func seedPools(t *testing.T, tables *memTables, chains uint64) {
	t.Helper()
	for chainID := uint64(1); chainID <= chains; chainID++ {
		scope := &memScope{tables: tables, event: poolCreated(chainID, 1, poolAddress(chainID))}
		require.NoError(t, uniswap.ApplyPoolCreated(context.Background(), scope, uniswap.PoolGroup))
	}
}

func memVolume(tables *memTables, token common.Address) uniswap.Volume {
	tables.mu.Lock()
	defer tables.mu.Unlock()
	return tables.volumes[token.Hex()]
}

func TestApplySwap_InterleavedMergesWithoutLockLoseUpdates(t *testing.T) {
	tables := newMemTables()
	seedPools(t, tables, 2)
	require.NoError(t, applyInMemory(tables, nil, swap(1, 5, 0, oneEther, oneEther, 100)))

	// both swaps read the WETH total before either writes it
	var reads sync.WaitGroup
	reads.Add(2)
	tables.afterVolumeRead = func(token string) {
		if token == weth.Hex() {
			reads.Done()
			reads.Wait()
		}
	}

	var wg sync.WaitGroup
	for chainID := uint64(1); chainID <= 2; chainID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, applyInMemory(tables, nil, swap(chainID, 10, 0, oneEther, oneEther, 200)))
		}()
	}
	wg.Wait()

	// 1 + 1 + 1 with one merge overwritten
	require.Equal(t, "2", memVolume(tables, weth).AmountEther)
}

func TestApplySwap_LockKeysSerializesMerges(t *testing.T) {
	tables := newMemTables()

	const chains = 6
	const swapsPerChain = 10
	seedPools(t, tables, chains)
	tables.afterVolumeRead = func(string) { time.Sleep(time.Millisecond) }

	locker := keylock.NewLocal(logger.NewNopLogger())

	var wg sync.WaitGroup
	for chainID := uint64(1); chainID <= chains; chainID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range swapsPerChain {
				ev := swap(chainID, uint64(10+i), 0, oneEther, new(big.Int).Neg(halfEther), uint64(100+i))
				assert.NoError(t, applyInMemory(tables, locker, ev))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, "60", memVolume(tables, weth).AmountEther)
	require.Equal(t, "30", memVolume(tables, usdc).AmountEther)
	require.Equal(t, uint64(100+swapsPerChain-1), memVolume(tables, weth).LastUpdatedAt)
}
