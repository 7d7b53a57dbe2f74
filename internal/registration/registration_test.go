package registration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	pool    = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
)

func TestWatchSet_Lookup(t *testing.T) {
	ws := NewWatchSet(logger.NewNopLogger())
	require.NoError(t, ws.Add(1, factory, "UniswapV3Factory", 12369621))

	tests := []struct {
		name    string
		chainID uint64
		address common.Address
		block   uint64
		group   string
		ok      bool
	}{
		{name: "at start block", chainID: 1, address: factory, block: 12369621, group: "UniswapV3Factory", ok: true},
		{name: "before start block", chainID: 1, address: factory, block: 12369620},
		{name: "other chain", chainID: 137, address: factory, block: 20000000},
		{name: "unknown address", chainID: 1, address: pool, block: 20000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, ok := ws.Lookup(tt.chainID, tt.address, tt.block)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.group, group)
		})
	}
}

func TestWatchSet_AddConflict(t *testing.T) {
	ws := NewWatchSet(logger.NewNopLogger())
	require.NoError(t, ws.Add(1, factory, "UniswapV3Factory", 0))
	require.NoError(t, ws.Add(1, factory, "UniswapV3Factory", 0))
	require.Error(t, ws.Add(1, factory, "Other", 0))
	require.NoError(t, ws.Add(10, factory, "Other", 0))
}

func TestWatchSet_IncludeAndRetract(t *testing.T) {
	ctx := context.Background()
	ws := NewWatchSet(logger.NewNopLogger())
	require.NoError(t, ws.Add(1, factory, "UniswapV3Factory", 0))

	req := registration.Request{ChainID: 1, Address: pool, ContractGroup: "UniswapV3Pool", StartBlock: 100}
	require.NoError(t, ws.Include(ctx, []registration.Request{
		req,
		// a registration never overrides a configured contract
		{ChainID: 1, Address: factory, ContractGroup: "UniswapV3Pool", StartBlock: 100},
	}))

	group, ok := ws.Lookup(1, pool, 100)
	require.True(t, ok)
	require.Equal(t, "UniswapV3Pool", group)
	group, _ = ws.Lookup(1, factory, 100)
	require.Equal(t, "UniswapV3Factory", group)
	require.Equal(t, 2, ws.Size())

	require.NoError(t, ws.Retract(ctx, registration.Retraction{
		ChainID: 1, FromBlock: 100,
		Requests: []registration.Request{req, {ChainID: 1, Address: factory, StartBlock: 100}},
	}))

	_, ok = ws.Lookup(1, pool, 200)
	require.False(t, ok)
	_, ok = ws.Lookup(1, factory, 200)
	require.True(t, ok)
}

type sinkMock struct {
	mock.Mock
}

func (m *sinkMock) Include(ctx context.Context, requests []registration.Request) error {
	return m.Called(requests).Error(0)
}

func (m *sinkMock) Retract(ctx context.Context, retraction registration.Retraction) error {
	return m.Called(retraction).Error(0)
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	reqs := []registration.Request{{ChainID: 1, Address: pool, ContractGroup: "UniswapV3Pool", StartBlock: 1}}
	retraction := registration.Retraction{ChainID: 1, FromBlock: 1, Requests: reqs}
	failure := errors.New("unavailable")

	ok, failing := new(sinkMock), new(sinkMock)
	ok.On("Include", reqs).Return(nil).Once()
	ok.On("Retract", retraction).Return(nil).Once()
	failing.On("Include", reqs).Return(failure).Once()
	failing.On("Retract", retraction).Return(nil).Once()

	sinks := MultiSink{ok, failing}
	require.ErrorIs(t, sinks.Include(ctx, reqs), failure)
	require.NoError(t, sinks.Retract(ctx, retraction))
	require.NoError(t, sinks.Include(ctx, nil))

	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}

func TestPublisher(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfg := &config.NATSConfig{URL: srv.ClientURL(), SubjectPrefix: "test"}
	cfg.ApplyDefaults()

	client, err := inats.New(logger.NewNopLogger(), cfg, "publisher-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	includes := make(chan *nats.Msg, 4)
	retracts := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("test.*.include", includes)
	require.NoError(t, err)
	_, err = sub.ChanSubscribe("test.*.retract", retracts)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	publisher := NewPublisher(client, logger.NewNopLogger())
	req := registration.Request{ChainID: 42161, Address: pool, ContractGroup: "UniswapV3Pool", StartBlock: 165}
	require.NoError(t, publisher.Include(context.Background(), []registration.Request{req}))

	select {
	case msg := <-includes:
		require.Equal(t, "test.42161.include", msg.Subject)
		var got registration.Request
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, req, got)
	case <-time.After(2 * time.Second):
		t.Fatal("include not received")
	}

	retraction := registration.Retraction{ChainID: 42161, FromBlock: 165, Requests: []registration.Request{req}}
	require.NoError(t, publisher.Retract(context.Background(), retraction))

	select {
	case msg := <-retracts:
		require.Equal(t, "test.42161.retract", msg.Subject)
		var got registration.Retraction
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, retraction, got)
	case <-time.After(2 * time.Second):
		t.Fatal("retraction not received")
	}
}
