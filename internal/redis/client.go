package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
	pingTimeout     = 5 * time.Second
)

type Client struct {
	Client *redis.Client
}

// NewClient parses a redis:// URL and waits for the server to answer a ping.
func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		pingErr = client.Ping(ctx).Err()
		cancel()
		if pingErr == nil {
			return &Client{Client: client}, nil
		}
		log.Warn().Err(pingErr).Int("attempt", attempt).Msg("redis ping failed")
		time.Sleep(time.Duration(attempt) * connectBackoff)
	}

	client.Close()
	return nil, fmt.Errorf("failed to ping redis: %w", pingErr)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
