// Package config provides configuration management for the ORE miner.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/oreminer/pkg/retry"
)

// Worker modes
const (
	WorkerModeLocal  = "local"
	WorkerModeRemote = "remote"
)

// Default mainnet program and mint addresses
const (
	defaultProgramID = "mineRHF5r6S7HyD9SppBfVMXMavDkJsxwGesEvxZr2A"
	defaultMint      = "oreoN2tQbHXVaZsr3pf66A48miqcBXCDJozganhEJgz"
)

// Config holds the configuration for the miner binaries
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Ledger connection
	RPCURL         string
	KeypairPath    string
	ProgramID      string
	Mint           string
	Commitment     string
	ConfirmTimeout time.Duration

	// Search
	SearchThreads    int
	ProgressInterval int
	Continuous       bool

	// Submission policy; zero max attempts retries forever
	SubmitMaxAttempts int
	SubmitBaseDelay   time.Duration
	SubmitMaxDelay    time.Duration

	// Worker channel
	WorkerMode     string
	WorkerEndpoint string
	WorkerBind     string

	// Event sinks; an empty setting disables the sink
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "oreminer"),
		Version:     getEnv("VERSION", "dev"),

		// Ledger defaults
		RPCURL:         getEnv("RPC_URL", "https://api.mainnet-beta.solana.com"),
		KeypairPath:    getEnv("KEYPAIR_PATH", defaultKeypairPath()),
		ProgramID:      getEnv("ORE_PROGRAM_ID", defaultProgramID),
		Mint:           getEnv("ORE_MINT", defaultMint),
		Commitment:     getEnv("COMMITMENT", "confirmed"),
		ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 60*time.Second),

		// Search defaults
		SearchThreads:    getEnvInt("SEARCH_THREADS", 1),
		ProgressInterval: getEnvInt("PROGRESS_INTERVAL", 10_000),
		Continuous:       getEnvBool("CONTINUOUS", true),

		// Submission defaults
		SubmitMaxAttempts: getEnvInt("SUBMIT_MAX_ATTEMPTS", 0),
		SubmitBaseDelay:   getEnvDuration("SUBMIT_BASE_DELAY", 0),
		SubmitMaxDelay:    getEnvDuration("SUBMIT_MAX_DELAY", 0),

		// Worker defaults
		WorkerMode:     getEnv("WORKER_MODE", WorkerModeLocal),
		WorkerEndpoint: getEnv("WORKER_ENDPOINT", "tcp://127.0.0.1:5557"),
		WorkerBind:     getEnv("WORKER_BIND", "tcp://*:5557"),

		// Sink defaults
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ore.mining.events"),
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "ore"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// SubmitPolicy returns the retry policy for mine transactions
func (c *Config) SubmitPolicy() *retry.Config {
	if c.SubmitBaseDelay <= 0 {
		policy := retry.SubmissionConfig()
		policy.MaxAttempts = c.SubmitMaxAttempts
		return policy
	}
	return &retry.Config{
		MaxAttempts: c.SubmitMaxAttempts,
		BaseDelay:   c.SubmitBaseDelay,
		MaxDelay:    c.SubmitMaxDelay,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// KafkaEnabled reports whether mining events go to Kafka
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// RedisEnabled reports whether live status goes to Redis
func (c *Config) RedisEnabled() bool { return c.RedisURL != "" }

// InfluxEnabled reports whether metrics go to InfluxDB
func (c *Config) InfluxEnabled() bool { return c.InfluxURL != "" }

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL cannot be empty")
	}

	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("COMMITMENT must be processed, confirmed or finalized")
	}

	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive")
	}

	if c.SearchThreads < 1 {
		return fmt.Errorf("SEARCH_THREADS must be at least 1")
	}

	if c.ProgressInterval < 1 {
		return fmt.Errorf("PROGRESS_INTERVAL must be at least 1")
	}

	if c.SubmitMaxAttempts < 0 {
		return fmt.Errorf("SUBMIT_MAX_ATTEMPTS cannot be negative")
	}

	if c.SubmitMaxDelay > 0 && c.SubmitMaxDelay < c.SubmitBaseDelay {
		return fmt.Errorf("SUBMIT_MAX_DELAY must not be less than SUBMIT_BASE_DELAY")
	}

	switch c.WorkerMode {
	case WorkerModeLocal:
	case WorkerModeRemote:
		if c.WorkerEndpoint == "" {
			return fmt.Errorf("WORKER_ENDPOINT is required in remote mode")
		}
	default:
		return fmt.Errorf("WORKER_MODE must be %s or %s", WorkerModeLocal, WorkerModeRemote)
	}

	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set")
	}

	if c.InfluxEnabled() && c.InfluxToken == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_URL is set")
	}

	return nil
}

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
