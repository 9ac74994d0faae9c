package publisher

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/logger"
)

// RedisPublisher publishes report lines on a Redis channel named by the
// message routing key
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher creates a publisher for a redis:// or rediss:// URL.
// Credentials fill in the user and password when the URL carries none.
func NewRedisPublisher(cfg *config.AgentConfig) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errs.New(errs.Transport, "new", fmt.Errorf("error parsing Redis URL: %w", err))
	}
	if opt.Password == "" {
		opt.Username, opt.Password = splitCredentials(cfg.Credentials.Value())
	}
	opt.DialTimeout = cfg.Timeout
	opt.ReadTimeout = cfg.Timeout
	opt.WriteTimeout = cfg.Timeout
	opt.MaxRetries = -1
	if opt.TLSConfig != nil {
		opt.TLSConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	}

	return &RedisPublisher{
		client: redis.NewClient(opt),
		logger: logger.Component("publisher"),
	}, nil
}

// Publish sends the report line once
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	if len(msg.Line) >= MaxPayloadSize {
		return errs.Errorf(errs.Transport, "publish", "message too large for buffer: %d bytes", len(msg.Line))
	}
	receivers, err := p.client.Publish(ctx, msg.RoutingKey, msg.Line).Result()
	if err != nil {
		return errs.New(errs.Transport, "publish", err)
	}
	p.logger.Debug().Str("report_id", msg.ID).Int64("receivers", receivers).Msg("report published")
	return nil
}

// Close closes the Redis connection pool
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
