package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/nats-io/nats.go"
)

// NATS reads envelopes from <prefix>.<chain>.logs.
type NATS struct {
	sub     *nats.Subscription
	chainID uint64
	log     *logger.Logger
}

var _ Source = (*NATS)(nil)

// NewNATS subscribes to the log subject of chainID.
func NewNATS(client *inats.Client, chainID uint64, log *logger.Logger) (*NATS, error) {
	subject := client.Subject(chainID, inats.KindLogs)

	sub, err := client.Conn().SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	// No pending limits: a slow consumer must never drop logs.
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("set pending limits on %s: %w", subject, err)
	}

	log.Infof("subscribed to %s", subject)
	return &NATS{sub: sub, chainID: chainID, log: log}, nil
}

// Next implements Source.
func (n *NATS) Next(ctx context.Context) (Envelope, error) {
	for {
		msg, err := n.sub.NextMsgWithContext(ctx)
		if err != nil {
			return Envelope{}, err
		}

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope on %s: %w", msg.Subject, err)
		}
		if env.ChainID == 0 {
			env.ChainID = n.chainID
		}
		if env.ChainID != n.chainID {
			n.log.Warnf("dropping envelope for chain %d published on %s", env.ChainID, msg.Subject)
			continue
		}
		return env, nil
	}
}

// Close unsubscribes.
func (n *NATS) Close() error {
	if !n.sub.IsValid() {
		return nil
	}
	return n.sub.Unsubscribe()
}
