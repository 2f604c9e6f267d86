package alert

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisConfig configures the Redis Streams notifier.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
	// MaxLen caps the stream length (approximate trimming); 0 disables trimming.
	MaxLen int64 `json:"max_len"`
}

// Redis appends alerts to a Redis stream with XADD.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	owned  bool
}

// DialRedis creates a client and checks the connection.
//
// Arguments:
//   - ctx: The context for the PING.
//   - cfg: The connection settings.
//
// Returns:
//   - *Redis: The notifier.
//   - error: An error if the server is unreachable.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis %s", cfg.Addr)
	}
	r := NewRedis(client, cfg)
	r.owned = true
	return r, nil
}

// NewRedis wraps an existing client. Close does not close a client passed here.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	return &Redis{client: client, cfg: cfg}
}

// Notify appends the event. The JSON payload is stored in the "data" field
// next to a few flat fields for stream consumers that filter without decoding.
func (r *Redis) Notify(ctx context.Context, e Event) error {
	payload, err := e.JSON()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]interface{}{
			"session_id": e.SessionID,
			"frame":      strconv.Itoa(e.Frame),
			"persons":    strconv.Itoa(e.Persons),
			"timestamp":  strconv.FormatInt(e.Timestamp.Unix(), 10),
			"data":       string(payload),
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrapf(err, "xadd %s", r.cfg.Stream)
	}
	return nil
}

// Close closes the client if it was created by DialRedis.
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
