// Package config loads and validates the DCAFlow application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

const bpsDenominator = 10000

// EngineConfig carries the platform parameters read by the execution engine.
type EngineConfig struct {
	PlatformAccount    string `yaml:"platformAccount"`
	PlatformFeeRateBps uint64 `yaml:"platformFeeRateBps"`
	MinExecutionAmount uint64 `yaml:"minExecutionAmount"`
	MaxSlippageBps     uint64 `yaml:"maxSlippageBps"`
	MaxBatchSize       int    `yaml:"maxBatchSize"`
	Paused             bool   `yaml:"paused"`
	StartTick          uint64 `yaml:"startTick"`
}

// OracleConfig points at the price discovery collaborators.
type OracleConfig struct {
	HTTPEndpoint      string  `yaml:"httpEndpoint"`
	FeedEndpoint      string  `yaml:"feedEndpoint"`
	PriceScale        int32   `yaml:"priceScale"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// PairConfig registers one directed trading pair.
type PairConfig struct {
	AssetIn    string `yaml:"assetIn"`
	AssetOut   string `yaml:"assetOut"`
	FeeRateBps uint64 `yaml:"feeRateBps"`
	Active     bool   `yaml:"active"`
}

// DatabaseConfig wires the optional Postgres write-through.
type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrationsDir"`
}

// TelemetryConfig configures the OpenTelemetry exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// ServerConfig configures the control/query HTTP server.
type ServerConfig struct {
	ListenAddress string `yaml:"listenAddress"`
}

// AppConfig is the configuration tree loaded from defaults, file, and
// environment overrides, in that order.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Engine      EngineConfig    `yaml:"engine"`
	Oracle      OracleConfig    `yaml:"oracle"`
	Assets      []string        `yaml:"assets"`
	Pairs       []PairConfig    `yaml:"pairs"`
	Database    DatabaseConfig  `yaml:"database"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Server      ServerConfig    `yaml:"server"`
}

// Default returns the baseline configuration used when no file is present.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Engine: EngineConfig{
			PlatformAccount:    "platform-treasury",
			PlatformFeeRateBps: 50,
			MinExecutionAmount: 1_000_000,
			MaxSlippageBps:     1000,
			MaxBatchSize:       20,
			Paused:             false,
			StartTick:          0,
		},
		Oracle: OracleConfig{
			HTTPEndpoint:      "",
			FeedEndpoint:      "",
			PriceScale:        6,
			RequestsPerSecond: 10,
		},
		Assets: nil,
		Pairs:  nil,
		Database: DatabaseConfig{
			DSN:           "",
			MigrationsDir: "db/migrations",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "dcaflow",
		},
		Server: ServerConfig{
			ListenAddress: ":8080",
		},
	}
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist. Environment overrides apply in both cases. The second
// return reports whether a file was actually read.
func Load(path string) (AppConfig, bool, error) {
	cfg := Default()
	loaded := false

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, false, fmt.Errorf("parse config %s: %w", path, err)
		}
		loaded = true
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return AppConfig{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, loaded, err
	}
	return cfg, loaded, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_ENV")); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_LISTEN_ADDR")); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_ORACLE_URL")); v != "" {
		cfg.Oracle.HTTPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_FEED_URL")); v != "" {
		cfg.Oracle.FeedEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("DCAFLOW_PAUSED")); v != "" {
		if paused, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.Paused = paused
		}
	}
}

// Validate checks configuration bounds before the engine starts.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}
	if strings.TrimSpace(c.Engine.PlatformAccount) == "" {
		return errors.New("config: engine.platformAccount required")
	}
	if c.Engine.PlatformFeeRateBps > bpsDenominator {
		return fmt.Errorf("config: engine.platformFeeRateBps %d exceeds %d", c.Engine.PlatformFeeRateBps, bpsDenominator)
	}
	if c.Engine.MinExecutionAmount == 0 {
		return errors.New("config: engine.minExecutionAmount must be positive")
	}
	if c.Engine.MaxSlippageBps > bpsDenominator {
		return fmt.Errorf("config: engine.maxSlippageBps %d exceeds %d", c.Engine.MaxSlippageBps, bpsDenominator)
	}
	if c.Engine.MaxBatchSize <= 0 || c.Engine.MaxBatchSize > 100 {
		return fmt.Errorf("config: engine.maxBatchSize %d outside [1,100]", c.Engine.MaxBatchSize)
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, asset := range c.Assets {
		trimmed := strings.TrimSpace(asset)
		if trimmed == "" {
			return errors.New("config: empty asset symbol")
		}
		if seen[trimmed] {
			return fmt.Errorf("config: duplicate asset %q", trimmed)
		}
		seen[trimmed] = true
	}
	for _, pair := range c.Pairs {
		if strings.TrimSpace(pair.AssetIn) == "" || strings.TrimSpace(pair.AssetOut) == "" {
			return errors.New("config: pair requires both assets")
		}
		if pair.FeeRateBps > bpsDenominator {
			return fmt.Errorf("config: pair %s/%s feeRateBps %d exceeds %d", pair.AssetIn, pair.AssetOut, pair.FeeRateBps, bpsDenominator)
		}
	}
	if c.Oracle.RequestsPerSecond < 0 {
		return errors.New("config: oracle.requestsPerSecond must be non-negative")
	}
	if c.Oracle.PriceScale < 0 || c.Oracle.PriceScale > 18 {
		return fmt.Errorf("config: oracle.priceScale %d outside [0,18]", c.Oracle.PriceScale)
	}
	return nil
}
