package source

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

// Envelope is one log as published by the external scanner, with the block
// timestamp the log itself does not carry.
type Envelope struct {
	ChainID        uint64    `json:"chain_id"`
	BlockTimestamp uint64    `json:"block_timestamp"`
	Log            types.Log `json:"log"`
}

// Source yields the envelopes of one chain in (block, log index) order.
// Next blocks until an envelope is available, ctx is done, or the source is exhausted (io.EOF).
type Source interface {
	Next(ctx context.Context) (Envelope, error)
	Close() error
}

// Factory opens the source of one chain.
type Factory func(chainID uint64) (Source, error)

// NewFactory returns the factory selected by cfg. The NATS client is only needed for the nats source.
func NewFactory(cfg config.SourceConfig, client *inats.Client, log *logger.Logger) (Factory, error) {
	switch cfg.Type {
	case config.SourceNATS:
		if client == nil {
			return nil, fmt.Errorf("nats source requires a connection")
		}
		return func(chainID uint64) (Source, error) {
			return NewNATS(client, chainID, log)
		}, nil
	case config.SourceFile:
		return func(chainID uint64) (Source, error) {
			return NewFile(cfg.Path, chainID, log)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}
}
