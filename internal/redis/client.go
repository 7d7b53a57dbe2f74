package redis

import (
	"context"

	"github.com/goran-ethernal/ChainProjector/pkg/config"
	goredis "github.com/redis/go-redis/v9"
)

// Client is a connected go-redis client.
type Client struct {
	*goredis.Client
}

// New connects and pings the server.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Client{rdb}, nil
}
