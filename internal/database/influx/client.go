// Package influx records mining metrics in InfluxDB.
// It handles hashrate tracking, submission outcomes and epoch resets.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/oreminer/internal/events"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// Measurement names
const (
	MeasurementProgress   = "search_progress"
	MeasurementSolution   = "solution"
	MeasurementSubmission = "submission"
	MeasurementRetry      = "submission_retry"
	MeasurementEpochReset = "epoch_reset"
	MeasurementFailure    = "failure"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client. Asynchronous write errors are
// logged through logger.
func NewClient(cfg *Config, logger *log.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "influx_connect",
			"failed to check InfluxDB health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, errors.New(errors.ErrorTypeMessaging, "influx_connect",
			fmt.Sprintf("InfluxDB health check failed: %s", msg))
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	errLogger := logger.WithComponent("influx")
	go func() {
		for err := range writeAPI.Errors() {
			errLogger.WithError(err).Warn("failed to write metrics")
		}
	}()

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeMessaging, "influx_health", "failed to check health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return errors.New(errors.ErrorTypeMessaging, "influx_health",
			fmt.Sprintf("health check failed: %s", msg))
	}

	return nil
}

// WritePoint queues p for the next batch
func (c *Client) WritePoint(p *write.Point) {
	c.writeAPI.WritePoint(p)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Point converts a mining event to a metric point. Events without a metric
// return nil.
func Point(e events.Event) *write.Point {
	tags := map[string]string{"miner": e.Miner}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	switch e.Kind {
	case events.KindProgress:
		return write.NewPoint(MeasurementProgress, tags, map[string]any{
			"attempts": int64(e.Attempts),
			"hashrate": e.Hashrate,
		}, ts)

	case events.KindSolution:
		return write.NewPoint(MeasurementSolution, tags, map[string]any{
			"nonce": int64(e.Nonce),
			"count": 1,
		}, ts)

	case events.KindSubmitted:
		tags["bus"] = strconv.Itoa(e.Bus)
		return write.NewPoint(MeasurementSubmission, tags, map[string]any{
			"attempts":  int64(e.Attempts),
			"signature": e.Signature,
			"count":     1,
		}, ts)

	case events.KindRetry:
		tags["bus"] = strconv.Itoa(e.Bus)
		return write.NewPoint(MeasurementRetry, tags, map[string]any{
			"attempt": int64(e.Attempts),
			"count":   1,
		}, ts)

	case events.KindReset:
		return write.NewPoint(MeasurementEpochReset, tags, map[string]any{
			"signature": e.Signature,
			"count":     1,
		}, ts)

	case events.KindFailed:
		tags["phase"] = e.Phase
		return write.NewPoint(MeasurementFailure, tags, map[string]any{
			"error": e.Error,
			"count": 1,
		}, ts)

	default:
		return nil
	}
}

// Query methods

// GetHashrateHistory retrieves the 1m mean hashrate of miner
func (c *Client) GetHashrateHistory(ctx context.Context, miner string, duration time.Duration) ([]HashratePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r.miner == "%s")
		|> filter(fn: (r) => r._field == "hashrate")
		|> aggregateWindow(every: 1m, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), MeasurementProgress, miner)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "influx_query",
			"failed to query hashrate history")
	}
	defer func() { _ = result.Close() }()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, errors.Wrap(result.Err(), errors.ErrorTypeMessaging, "influx_query",
			"error reading query result")
	}

	return points, nil
}

// GetSubmissionStats counts confirmed submissions and contention retries
func (c *Client) GetSubmissionStats(ctx context.Context, miner string, duration time.Duration) (*SubmissionStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s" or r._measurement == "%s")
		|> filter(fn: (r) => r.miner == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["_measurement"])
		|> sum()
	`, c.bucket, duration.String(), MeasurementSubmission, MeasurementRetry, miner)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMessaging, "influx_query",
			"failed to query submission stats")
	}
	defer func() { _ = result.Close() }()

	stats := &SubmissionStats{}
	for result.Next() {
		record := result.Record()
		count, ok := record.Value().(int64)
		if !ok {
			continue
		}
		switch record.Measurement() {
		case MeasurementSubmission:
			stats.Confirmed = count
		case MeasurementRetry:
			stats.Retries = count
		}
	}

	if result.Err() != nil {
		return nil, errors.Wrap(result.Err(), errors.ErrorTypeMessaging, "influx_query",
			"error reading query result")
	}

	stats.finish()
	return stats, nil
}

// Data structures

// HashratePoint represents a hashrate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}

// SubmissionStats represents aggregated submission outcomes
type SubmissionStats struct {
	Confirmed          int64   `json:"confirmed"`
	Retries            int64   `json:"retries"`
	AttemptsPerConfirm float64 `json:"attempts_per_confirm"`
}

func (s *SubmissionStats) finish() {
	if s.Confirmed > 0 {
		s.AttemptsPerConfirm = float64(s.Confirmed+s.Retries) / float64(s.Confirmed)
	}
}

// Sink adapts the client to an events.Sink
type Sink struct {
	client *Client
}

// NewSink creates a metrics sink
func NewSink(client *Client) *Sink {
	return &Sink{client: client}
}

// Name implements events.Sink
func (s *Sink) Name() string { return "influx" }

// Handle implements events.Sink
func (s *Sink) Handle(_ context.Context, e events.Event) error {
	if p := Point(e); p != nil {
		s.client.WritePoint(p)
	}
	return nil
}

var _ events.Sink = (*Sink)(nil)
