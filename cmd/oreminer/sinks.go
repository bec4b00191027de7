package main

import (
	"context"
	"time"

	"github.com/bardlex/oreminer/internal/config"
	"github.com/bardlex/oreminer/internal/database"
	"github.com/bardlex/oreminer/internal/database/influx"
	"github.com/bardlex/oreminer/internal/database/redis"
	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/internal/messaging"
	"github.com/bardlex/oreminer/pkg/log"
)

// sinkSet owns the optional external event destinations
type sinkSet struct {
	sinks  []events.Sink
	db     *database.Manager
	kafka  *messaging.KafkaClient
	logger *log.Logger
}

func newSinkSet(cfg *config.Config, logger *log.Logger) (*sinkSet, error) {
	dbCfg := &database.Config{}
	if cfg.RedisEnabled() {
		redisCfg, err := redis.ConfigFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		dbCfg.Redis = redisCfg
	}
	if cfg.InfluxEnabled() {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}

	db, err := database.NewManager(dbCfg, logger)
	if err != nil {
		return nil, err
	}

	set := &sinkSet{
		sinks:  db.Sinks(),
		db:     db,
		logger: logger.WithComponent("sinks"),
	}

	if cfg.KafkaEnabled() {
		set.kafka = messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		set.sinks = append(set.sinks, messaging.NewSink(set.kafka, cfg.KafkaTopic, cfg.ServiceName, cfg.Version))
	}

	for _, s := range set.sinks {
		set.logger.Info("event sink enabled", "sink", s.Name())
	}
	return set, nil
}

// StartPeriodicTasks starts the store maintenance loops
func (s *sinkSet) StartPeriodicTasks(ctx context.Context) {
	s.db.StartPeriodicTasks(ctx)
}

// LogStats logs the stored statistics of miner, if any store is connected
func (s *sinkSet) LogStats(miner string) {
	if s.db.Redis == nil && s.db.Influx == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := s.db.GetMinerStats(ctx, miner, 24*time.Hour)
	s.logger.Info("miner statistics",
		"hashrate", stats.Hashrate,
		"session_submissions", stats.SessionSubmissions,
		"confirmed_24h", stats.Submissions.Confirmed,
		"retries_24h", stats.Submissions.Retries,
		"attempts_per_confirm", stats.Submissions.AttemptsPerConfirm,
	)
}

// Close closes every connection
func (s *sinkSet) Close() error {
	var firstErr error
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
