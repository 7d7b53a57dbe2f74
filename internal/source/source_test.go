package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func testEnvelope(chainID, block uint64, index uint) Envelope {
	return Envelope{
		ChainID:        chainID,
		BlockTimestamp: 1_700_000_000 + block,
		Log: types.Log{
			Address:     testContract,
			Topics:      []common.Hash{common.HexToHash("0x01")},
			Data:        []byte{},
			BlockNumber: block,
			TxHash:      common.HexToHash("0xaa"),
			BlockHash:   common.HexToHash("0xbb"),
			Index:       index,
		},
	}
}

func writeEnvelopes(t *testing.T, envs ...Envelope) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "envelopes.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, env := range envs {
		require.NoError(t, enc.Encode(env))
	}
	// blank lines are tolerated
	_, err = f.WriteString("\n")
	require.NoError(t, err)

	return path
}

func TestFile_FiltersByChain(t *testing.T) {
	path := writeEnvelopes(t,
		testEnvelope(1, 10, 0),
		testEnvelope(10, 11, 0),
		testEnvelope(1, 12, 3),
	)

	src, err := NewFile(path, 1, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	env, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), env.Log.BlockNumber)
	require.Equal(t, uint64(1_700_000_010), env.BlockTimestamp)
	require.Equal(t, testContract, env.Log.Address)

	env, err = src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(12), env.Log.BlockNumber)
	require.Equal(t, uint(3), env.Log.Index)

	_, err = src.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestFile_Errors(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.jsonl"), 1, logger.NewNopLogger())
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o600))

	src, err := NewFile(path, 1, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.ErrorContains(t, err, "line 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNATS_Next(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfg := &config.NATSConfig{URL: srv.ClientURL()}
	cfg.ApplyDefaults()

	client, err := inats.New(logger.NewNopLogger(), cfg, "source-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	factory, err := NewFactory(config.SourceConfig{Type: config.SourceNATS, NATS: cfg}, client, logger.NewNopLogger())
	require.NoError(t, err)

	src, err := factory(5)
	require.NoError(t, err)
	defer src.Close()

	subject := client.Subject(5, inats.KindLogs)
	for _, env := range []Envelope{testEnvelope(7, 1, 0), testEnvelope(5, 2, 1), testEnvelope(0, 3, 0)} {
		payload, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, client.Conn().Publish(subject, payload))
	}
	require.NoError(t, client.Conn().Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), env.ChainID)
	require.Equal(t, uint64(2), env.Log.BlockNumber)

	env, err = src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), env.ChainID, "chain id defaults to the subject's chain")
	require.Equal(t, uint64(3), env.Log.BlockNumber)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = src.Next(short)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(config.SourceConfig{Type: config.SourceNATS}, nil, logger.NewNopLogger())
	require.Error(t, err)

	_, err = NewFactory(config.SourceConfig{Type: "kafka"}, nil, logger.NewNopLogger())
	require.ErrorContains(t, err, "unsupported source type")

	path := writeEnvelopes(t, testEnvelope(3, 1, 0))
	factory, err := NewFactory(config.SourceConfig{Type: config.SourceFile, Path: path}, nil, logger.NewNopLogger())
	require.NoError(t, err)

	src, err := factory(3)
	require.NoError(t, err)
	defer src.Close()

	env, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), env.ChainID)
}
