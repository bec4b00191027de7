// Package redis publishes the live mining session state to Redis.
// A status hash per miner holds the latest snapshot and every event is also
// published on a per-miner channel for subscribers such as a UI.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/pkg/errors"
)

// Client wraps Redis operations for the miner
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ConfigFromURL parses a redis:// URL into a Config with default pool settings
func ConfigFromURL(url string) (*Config, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "redis_config", "invalid REDIS_URL")
	}
	return &Config{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_connect", "failed to ping Redis")
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StatusKey is the hash holding a miner's latest state
func StatusKey(miner string) string { return fmt.Sprintf("miner:%s:status", miner) }

// EventsChannel is the pub/sub channel carrying a miner's events
func EventsChannel(miner string) string { return fmt.Sprintf("miner:%s:events", miner) }

func hashrateKey(miner string) string { return fmt.Sprintf("miner:%s:hashrate", miner) }

func submissionsKey(miner string) string { return fmt.Sprintf("miner:%s:submissions", miner) }

// Status snapshot

// UpdateStatus merges fields into the status hash and publishes payload
func (c *Client) UpdateStatus(ctx context.Context, miner string, fields map[string]any, payload []byte) error {
	pipe := c.rdb.Pipeline()
	if len(fields) > 0 {
		pipe.HSet(ctx, StatusKey(miner), fields)
	}
	pipe.Publish(ctx, EventsChannel(miner), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMessaging, "redis_status", "failed to update status")
	}
	return nil
}

// GetStatus returns the status hash of miner
func (c *Client) GetStatus(ctx context.Context, miner string) (map[string]string, error) {
	status, err := c.rdb.HGetAll(ctx, StatusKey(miner)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_status", "failed to get status")
	}
	return status, nil
}

// Statistics and counters

// IncrementSubmissions counts confirmed submissions for miner
func (c *Client) IncrementSubmissions(ctx context.Context, miner string) (int64, error) {
	n, err := c.rdb.Incr(ctx, submissionsKey(miner)).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_counter", "failed to increment counter")
	}
	return n, nil
}

// GetSubmissions returns the confirmed submission count for miner
func (c *Client) GetSubmissions(ctx context.Context, miner string) (int64, error) {
	val, err := c.rdb.Get(ctx, submissionsKey(miner)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_counter", "failed to get counter")
	}
	return val, nil
}

// AddHashrate records a hashrate sample and trims samples older than window
func (c *Client) AddHashrate(ctx context.Context, miner string, hashrate float64, window time.Duration) error {
	key := hashrateKey(miner)
	now := time.Now()

	// Store as sorted set with timestamp as score; the member must be unique
	member := redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d:%f", now.UnixNano(), hashrate),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-window).Unix(), 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMessaging, "redis_hashrate", "failed to add hashrate")
	}
	return nil
}

// GetAverageHashrate averages the samples recorded within window
func (c *Client) GetAverageHashrate(ctx context.Context, miner string, window time.Duration) (float64, error) {
	values, err := c.rdb.ZRangeByScore(ctx, hashrateKey(miner), &redis.ZRangeBy{
		Min: strconv.FormatInt(time.Now().Add(-window).Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_hashrate", "failed to get hashrate values")
	}

	return averageSamples(values), nil
}

func averageSamples(values []string) float64 {
	var total float64
	var n int
	for _, val := range values {
		if rate, ok := parseSample(val); ok {
			total += rate
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func parseSample(member string) (float64, bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			rate, err := strconv.ParseFloat(member[i+1:], 64)
			return rate, err == nil
		}
	}
	return 0, false
}

// Sink adapts the client to an events.Sink
type Sink struct {
	client *Client
	window time.Duration
}

// NewSink creates a sink that keeps hashrate samples for window
func NewSink(client *Client, window time.Duration) *Sink {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Sink{client: client, window: window}
}

// Name implements events.Sink
func (s *Sink) Name() string { return "redis" }

// Handle implements events.Sink
func (s *Sink) Handle(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "redis_sink", "failed to marshal event")
	}

	if err := s.client.UpdateStatus(ctx, e.Miner, StatusFields(e), payload); err != nil {
		return err
	}

	switch e.Kind {
	case events.KindProgress:
		return s.client.AddHashrate(ctx, e.Miner, e.Hashrate, s.window)
	case events.KindSubmitted:
		_, err := s.client.IncrementSubmissions(ctx, e.Miner)
		return err
	}
	return nil
}

// StatusFields maps an event onto the status hash fields it updates
func StatusFields(e events.Event) map[string]any {
	updated := e.Time.Unix()

	switch e.Kind {
	case events.KindPhase:
		return map[string]any{"phase": e.Phase, "updated_at": updated}
	case events.KindStatus:
		return map[string]any{"status": e.Message, "updated_at": updated}
	case events.KindSearching:
		return map[string]any{"searching": strconv.FormatBool(e.Searching), "updated_at": updated}
	case events.KindProgress:
		return map[string]any{
			"attempts":   e.Attempts,
			"hashrate":   e.Hashrate,
			"updated_at": updated,
		}
	case events.KindSubmitted:
		return map[string]any{
			"last_signature": e.Signature,
			"last_bus":       e.Bus,
			"last_nonce":     e.Nonce,
			"updated_at":     updated,
		}
	case events.KindFailed:
		return map[string]any{"last_error": e.Error, "updated_at": updated}
	default:
		return nil
	}
}

var _ events.Sink = (*Sink)(nil)
