package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
)

// Publisher announces registrations to the external log scanner over NATS.
// Includes go to <prefix>.<chain>.include, one message per request;
// retractions go to <prefix>.<chain>.retract.
type Publisher struct {
	client *inats.Client
	log    *logger.Logger
}

var _ registration.Sink = (*Publisher)(nil)

// NewPublisher creates a NATS registration publisher.
func NewPublisher(client *inats.Client, log *logger.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Include implements registration.Sink. It returns once the server has acknowledged the flush.
func (p *Publisher) Include(ctx context.Context, requests []registration.Request) error {
	if len(requests) == 0 {
		return nil
	}

	for _, req := range requests {
		if err := p.publish(p.client.Subject(req.ChainID, inats.KindInclude), req); err != nil {
			return err
		}
	}

	if err := p.client.Conn().FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush registrations: %w", err)
	}

	p.log.Debugf("published %d registration(s)", len(requests))
	return nil
}

// Retract implements registration.Sink.
func (p *Publisher) Retract(ctx context.Context, retraction registration.Retraction) error {
	if err := p.publish(p.client.Subject(retraction.ChainID, inats.KindRetract), retraction); err != nil {
		return err
	}

	if err := p.client.Conn().FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush retraction: %w", err)
	}
	return nil
}

func (p *Publisher) publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := p.client.Conn().Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
