// Package redislog persists examples in a Redis list, one JSON document per
// element, so several proxy processes can share one example history.
package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ggoodman/gptproxy-go/exemplar"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const defaultKey = "gptproxy:examples"

// Config for a Redis-backed log.
type Config struct {
	// Client is used when set; otherwise a client is dialed at RedisAddr and
	// owned by the Log.
	Client *redis.Client
	// RedisAddr like "localhost:6379".
	RedisAddr string
	// Key names the list holding the examples.
	Key string
}

// envConfig is the environment-decodable subset of Config.
type envConfig struct {
	// ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// ENV: GPTPROXY_EXAMPLES_KEY
	Key string `env:"GPTPROXY_EXAMPLES_KEY,default=gptproxy:examples"`
}

// Log is an exemplar.Log over a Redis list.
type Log struct {
	client *redis.Client
	owned  bool
	key    string
	closed atomic.Bool
}

var _ exemplar.Log = (*Log)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Log, error) {
	l := &Log{client: cfg.Client, key: cfg.Key}
	if l.key == "" {
		l.key = defaultKey
	}
	if l.client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		l.client = redis.NewClient(&redis.Options{Addr: addr})
		l.owned = true
	}
	if err := l.client.Ping(ctx).Err(); err != nil {
		if l.owned {
			_ = l.client.Close()
		}
		return nil, fmt.Errorf("redislog: ping: %w", err)
	}
	return l, nil
}

// NewFromEnv builds a Log using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Log, error) {
	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redislog: decode environment: %w", err)
	}
	return New(ctx, Config{RedisAddr: env.RedisAddr, Key: env.Key})
}

// Key returns the list key.
func (l *Log) Key() string { return l.key }

func (l *Log) Load(ctx context.Context) ([]exemplar.Example, error) {
	if l.closed.Load() {
		return nil, exemplar.ErrClosed
	}
	vals, err := l.client.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redislog: lrange %s: %w", l.key, err)
	}
	out := make([]exemplar.Example, 0, len(vals))
	for i, v := range vals {
		var ex exemplar.Example
		if err := json.Unmarshal([]byte(v), &ex); err != nil {
			return nil, fmt.Errorf("redislog: decode element %d: %w", i, err)
		}
		if ex.Arguments == nil {
			ex.Arguments = map[string]string{}
		}
		out = append(out, ex)
	}
	return out, nil
}

func (l *Log) Append(ctx context.Context, ex exemplar.Example) error {
	if l.closed.Load() {
		return exemplar.ErrClosed
	}
	b, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("redislog: encode: %w", err)
	}
	if err := l.client.RPush(ctx, l.key, b).Err(); err != nil {
		return fmt.Errorf("redislog: rpush %s: %w", l.key, err)
	}
	return nil
}

// Trim keeps only the newest n examples.
func (l *Log) Trim(ctx context.Context, n int64) error {
	if l.closed.Load() {
		return exemplar.ErrClosed
	}
	if n <= 0 {
		return l.client.Del(ctx, l.key).Err()
	}
	return l.client.LTrim(ctx, l.key, -n, -1).Err()
}

// Close releases the client when the Log dialed it.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.owned {
		return l.client.Close()
	}
	return nil
}
