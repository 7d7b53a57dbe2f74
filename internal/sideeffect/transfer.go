package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

// TransferNotification announces that a token changed hands.
type TransferNotification struct {
	ChainID        uint64         `json:"chain_id"`
	Contract       common.Address `json:"contract"`
	ContractGroup  string         `json:"contract_group"`
	TokenID        string         `json:"token_id"`
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	BlockNumber    uint64         `json:"block_number"`
	BlockTimestamp uint64         `json:"block_timestamp"`
	TxHash         common.Hash    `json:"tx_hash"`
	LogIndex       uint           `json:"log_index"`
}

// NewTransferNotification builds the notification of an ERC-721 transfer event.
func NewTransferNotification(ev *event.Event, group string) (n TransferNotification, err error) {
	defer event.RecoverParamError(&err)

	return TransferNotification{
		ChainID:        ev.ChainID,
		Contract:       ev.ContractAddress,
		ContractGroup:  group,
		TokenID:        ev.Params.Uint("tokenId", 256).String(), //nolint:mnd
		From:           ev.Params.Address("from"),
		To:             ev.Params.Address("to"),
		BlockNumber:    ev.BlockNumber,
		BlockTimestamp: ev.BlockTimestamp,
		TxHash:         ev.TxHash,
		LogIndex:       ev.LogIndex,
	}, nil
}

// TransferPublisher publishes transfer notifications to <prefix>.<chain_id>.transfers.
type TransferPublisher struct {
	client *inats.Client
	log    *logger.Logger
}

var _ Handler = (*TransferPublisher)(nil)

// NewTransferPublisher creates a NATS transfer notifier.
func NewTransferPublisher(client *inats.Client, log *logger.Logger) *TransferPublisher {
	return &TransferPublisher{client: client, log: log}
}

// Handle implements Handler. It returns once the server has acknowledged the flush.
func (p *TransferPublisher) Handle(ctx context.Context, ev *event.Event, group string) error {
	notification, err := NewTransferNotification(ev, group)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode transfer notification: %w", err)
	}

	subject := p.client.Subject(ev.ChainID, inats.KindTransfers)
	if err := p.client.Conn().Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.client.Conn().FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}

	p.log.Debugf("notified transfer of token %s on %s", notification.TokenID, ev)
	return nil
}
