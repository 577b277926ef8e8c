// Package config loads service configuration from environment variables
// with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/daemon"
)

// Recipient is one fee recipient parsed from RECIPIENTS.
type Recipient struct {
	Address string
	Percent float64
}

// Config holds the configuration shared by the pool services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Coin
	CoinSymbol    string
	CoinAlgorithm string
	CoinType      daemon.CoinType
	ChainNetwork  string

	// Job manager
	InstanceID             uint32
	PoolAddress            string
	CoinbaseTag            string
	Recipients             []Recipient
	SubsidyMultiple        int64
	FundingStreams         bool
	NormalHashing          bool
	EmitInvalidBlockHashes bool
	EquihashN              uint32
	EquihashK              uint32
	EquihashPersonal       string
	JobRebroadcastTimeout  time.Duration
	BlockRefreshInterval   time.Duration
	EventBuffer            int

	// Coin daemon connection
	DaemonHost     string
	DaemonPort     int
	DaemonUser     string
	DaemonPassword string
	DaemonZMQAddr  string

	// Kafka configuration
	KafkaBrokers []string
	KafkaGroupID string

	// Optional stores; empty addresses disable them
	RedisAddr    string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	MetricsAddr  string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "multipool"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		CoinSymbol:    strings.ToLower(getEnv("COIN_SYMBOL", "btc")),
		CoinAlgorithm: getEnv("COIN_ALGORITHM", "sha256"),
		CoinType:      daemon.CoinType(getEnv("COIN_TYPE", string(daemon.CoinTypeDefault))),
		ChainNetwork:  getEnv("CHAIN_NETWORK", "mainnet"),

		InstanceID:             uint32(getEnvInt("INSTANCE_ID", 0)),
		PoolAddress:            getEnv("POOL_ADDRESS", ""),
		CoinbaseTag:            getEnv("COINBASE_TAG", "/multipool/"),
		SubsidyMultiple:        int64(getEnvInt("SUBSIDY_MULTIPLE", 0)),
		FundingStreams:         getEnvBool("VFUNDING_STREAMS", false),
		NormalHashing:          getEnvBool("NORMAL_HASHING", false),
		EmitInvalidBlockHashes: getEnvBool("EMIT_INVALID_BLOCK_HASHES", false),
		EquihashN:              uint32(getEnvInt("EQUIHASH_N", 0)),
		EquihashK:              uint32(getEnvInt("EQUIHASH_K", 0)),
		EquihashPersonal:       getEnv("EQUIHASH_PERSONALIZATION", ""),
		JobRebroadcastTimeout:  getEnvDuration("JOB_REBROADCAST_TIMEOUT", 55*time.Second),
		BlockRefreshInterval:   getEnvDuration("BLOCK_REFRESH_INTERVAL", time.Second),
		EventBuffer:            getEnvInt("EVENT_BUFFER", 1024),

		DaemonHost:     getEnv("DAEMON_HOST", "localhost"),
		DaemonPort:     getEnvInt("DAEMON_PORT", 8332),
		DaemonUser:     getEnv("DAEMON_USER", ""),
		DaemonPassword: getEnv("DAEMON_PASSWORD", ""),
		DaemonZMQAddr:  getEnv("DAEMON_ZMQ_ADDR", ""),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "multipool"),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "multipool"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),
		MetricsAddr:  getEnv("METRICS_ADDR", ":9100"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	recipients, err := parseRecipients(os.Getenv("RECIPIENTS"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Recipients = recipients

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// EquihashParams returns the configured Equihash parameters, falling back
// to the coin's defaults when EQUIHASH_N or EQUIHASH_K is unset.
func (c *Config) EquihashParams() algo.Params {
	if c.EquihashN == 0 || c.EquihashK == 0 {
		return algo.DefaultEquihashParams(c.CoinSymbol)
	}
	return algo.Params{N: c.EquihashN, K: c.EquihashK, Personalization: c.EquihashPersonal}
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if !algo.Known(c.CoinAlgorithm) {
		return fmt.Errorf("COIN_ALGORITHM %q is not supported", c.CoinAlgorithm)
	}

	if !c.CoinType.Known() {
		return fmt.Errorf("COIN_TYPE %q is not supported", c.CoinType)
	}

	if c.InstanceID > 31 {
		return fmt.Errorf("INSTANCE_ID must be between 0 and 31")
	}

	if c.DaemonPort <= 0 || c.DaemonPort > 65535 {
		return fmt.Errorf("DAEMON_PORT must be between 1 and 65535")
	}

	if c.BlockRefreshInterval <= 0 {
		return fmt.Errorf("BLOCK_REFRESH_INTERVAL must be positive")
	}

	if c.JobRebroadcastTimeout <= 0 {
		return fmt.Errorf("JOB_REBROADCAST_TIMEOUT must be positive")
	}

	if c.EventBuffer < 0 {
		return fmt.Errorf("EVENT_BUFFER cannot be negative")
	}

	var total float64
	for _, r := range c.Recipients {
		total += r.Percent
	}
	if total > 100 {
		return fmt.Errorf("RECIPIENTS percentages sum to %v, above 100", total)
	}

	return nil
}

// parseRecipients reads "addr:percent,addr:percent".
func parseRecipients(value string) ([]Recipient, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var out []Recipient
	for _, item := range strings.Split(value, ",") {
		addr, pct, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || addr == "" {
			return nil, fmt.Errorf("RECIPIENTS entry %q is not addr:percent", item)
		}
		percent, err := strconv.ParseFloat(pct, 64)
		if err != nil || percent < 0 {
			return nil, fmt.Errorf("RECIPIENTS entry %q has an invalid percent", item)
		}
		out = append(out, Recipient{Address: addr, Percent: percent})
	}
	return out, nil
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
