package nats

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/nats-io/nats.go"
)

// Subject kinds published and consumed under <prefix>.<chain_id>.
const (
	KindLogs    = "logs"
	KindInclude = "include"
	KindRetract = "retract"

	KindTransfers = "transfers"
)

// Client is a NATS connection with the projector's subject namespace.
type Client struct {
	nc     *nats.Conn
	prefix string
	log    *logger.Logger
}

// New connects to cfg.URL. The connection retries the initial dial and reconnects forever.
func New(log *logger.Logger, cfg *config.NATSConfig, name string) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nats config is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout.Duration),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait.Duration),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("connected to NATS, url=%s", cfg.URL)

	return &Client{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// Subject returns <prefix>.<chain_id>.<kind>.
func (c *Client) Subject(chainID uint64, kind string) string {
	return Subject(c.prefix, chainID, kind)
}

// Subject returns <prefix>.<chain_id>.<kind>.
func Subject(prefix string, chainID uint64, kind string) string {
	return strings.Join([]string{prefix, strconv.FormatUint(chainID, 10), kind}, ".")
}

// Ready reports whether the connection is up.
func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection. It is safe to call repeatedly.
func (c *Client) Close() error {
	if c.nc == nil || c.nc.IsClosed() || c.nc.IsDraining() {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("failed to drain NATS connection: %v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	c.log.Info("NATS connection drained")
	return nil
}
