// Package database coordinates the miner's metric stores.
// Redis holds the live session state and InfluxDB the history; both are
// optional and fed through event sinks.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/oreminer/internal/database/influx"
	"github.com/bardlex/oreminer/internal/database/redis"
	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// Manager coordinates the Redis and InfluxDB connections. Either may be nil.
type Manager struct {
	Redis  *redis.Client
	Influx *influx.Client

	hashrateWindow time.Duration
	logger         *log.Logger
}

// Config holds configuration for the metric stores; a nil entry disables it
type Config struct {
	Redis          *redis.Config
	Influx         *influx.Config
	HashrateWindow time.Duration
}

// NewManager connects to every configured store
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		hashrateWindow: cfg.HashrateWindow,
		logger:         logger.WithComponent("database"),
	}
	if m.hashrateWindow <= 0 {
		m.hashrateWindow = 10 * time.Minute
	}

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "redis_connection",
				"failed to connect to Redis").
				WithContext("addr", cfg.Redis.Addr)
		}
		m.Redis = redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx, logger)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeMessaging, "influx_connection",
				"failed to connect to InfluxDB").
				WithContext("url", cfg.Influx.URL)
			if m.Redis != nil {
				if closeErr := m.Redis.Close(); closeErr != nil {
					return nil, origErr.WithContext("cleanup_error", closeErr.Error())
				}
			}
			return nil, origErr
		}
		m.Influx = influxClient
	}

	return m, nil
}

// Sinks returns an event sink for every connected store
func (m *Manager) Sinks() []events.Sink {
	var sinks []events.Sink
	if m.Redis != nil {
		sinks = append(sinks, redis.NewSink(m.Redis, m.hashrateWindow))
	}
	if m.Influx != nil {
		sinks = append(sinks, influx.NewSink(m.Influx))
	}
	return sinks
}

// Close closes all connections
func (m *Manager) Close() error {
	if m.Influx != nil {
		m.Influx.Close()
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			return fmt.Errorf("redis close error: %w", err)
		}
	}

	return nil
}

// Health checks every connected store
func (m *Manager) Health(ctx context.Context) error {
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// GetMinerStats combines the live Redis counters with the InfluxDB history.
// Stores that are missing or fail contribute zero values.
func (m *Manager) GetMinerStats(ctx context.Context, miner string, period time.Duration) *MinerStats {
	stats := &MinerStats{Miner: miner, Submissions: &influx.SubmissionStats{}, LastUpdated: time.Now()}

	if m.Redis != nil {
		if hashrate, err := m.Redis.GetAverageHashrate(ctx, miner, m.hashrateWindow); err == nil {
			stats.Hashrate = hashrate
		} else {
			m.logger.WithError(err).Warn("failed to read hashrate")
		}
		if n, err := m.Redis.GetSubmissions(ctx, miner); err == nil {
			stats.SessionSubmissions = n
		} else {
			m.logger.WithError(err).Warn("failed to read submission counter")
		}
	}

	if m.Influx != nil {
		if s, err := m.Influx.GetSubmissionStats(ctx, miner, period); err == nil {
			stats.Submissions = s
		} else {
			m.logger.WithError(err).Warn("failed to read submission history")
		}
	}

	return stats
}

// StartPeriodicTasks flushes InfluxDB writes every 10 seconds until ctx ends
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}

// MinerStats summarizes a miner's recent activity
type MinerStats struct {
	Miner              string
	Hashrate           float64
	SessionSubmissions int64
	Submissions        *influx.SubmissionStats
	LastUpdated        time.Time
}
