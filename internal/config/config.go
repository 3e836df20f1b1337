// Package config loads the application configuration from a YAML file with
// environment variable overrides, and builds the Temporal client from it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration shared by the worker and
// gateway binaries.
type Config struct {
	Temporal TemporalConfig `yaml:"temporal"`
	Model    ModelConfig    `yaml:"model"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Data     DataConfig     `yaml:"data"`
}

// TemporalConfig covers the Temporal connection and worker tuning.
type TemporalConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	// TLSCert/TLSKey enable mTLS; APIKey enables API-key auth (Temporal
	// Cloud). Both may be unset for a local server.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	APIKey  string `yaml:"api_key"`

	MaxConcurrentActivities int `yaml:"max_concurrent_activities"`
	MaxConcurrentWorkflows  int `yaml:"max_concurrent_workflows"`
}

// ModelConfig selects and authenticates the LLM provider.
type ModelConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	// TokensPerMinute is the initial shared token budget for model calls
	// across workers; zero disables client-side rate limiting.
	TokensPerMinute int `yaml:"tokens_per_minute"`
}

// MongoConfig locates the historical event database and cedant ledger.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig locates the Redis instance used for the shared model budget
// and gateway session registry.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GatewayConfig covers the HTTP server.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// DataConfig points at the filesystem inputs and outputs.
type DataConfig struct {
	// PacksDir is scanned for submission pack workbooks.
	PacksDir string `yaml:"packs_dir"`
	// HistoricalCSV seeds the historical event collection when it is empty.
	HistoricalCSV string `yaml:"historical_csv"`
	// ProgramMapCSV maps Program IDs to Loss Data IDs.
	ProgramMapCSV string `yaml:"program_map_csv"`
	// ExportDir receives diff report exports.
	ExportDir string `yaml:"export_dir"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Temporal: TemporalConfig{
			Address:                 "localhost:7233",
			Namespace:               "default",
			TaskQueue:               "subpack-agents",
			MaxConcurrentActivities: 10,
			MaxConcurrentWorkflows:  10,
		},
		Model: ModelConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "subpack",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Gateway: GatewayConfig{
			Addr: ":8000",
		},
		Data: DataConfig{
			PacksDir:      "data/submission_packs",
			HistoricalCSV: "data/historical_events.csv",
			ProgramMapCSV: "data/loss_data_program_map.csv",
			ExportDir:     "data/exports",
		},
	}
}

// Load reads the configuration file at path (skipped when empty or absent),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Temporal.Address, "TEMPORAL_ADDRESS")
	envString(&c.Temporal.Namespace, "TEMPORAL_NAMESPACE")
	envString(&c.Temporal.TaskQueue, "TEMPORAL_TASK_QUEUE")
	envString(&c.Temporal.TLSCert, "TEMPORAL_TLS_CERT")
	envString(&c.Temporal.TLSKey, "TEMPORAL_TLS_KEY")
	envString(&c.Temporal.APIKey, "TEMPORAL_API_KEY")
	envInt(&c.Temporal.MaxConcurrentActivities, "MAX_CONCURRENT_ACTIVITIES")
	envInt(&c.Temporal.MaxConcurrentWorkflows, "MAX_CONCURRENT_WORKFLOWS")

	envString(&c.Model.Provider, "LLM_PROVIDER")
	envString(&c.Model.Model, "LLM_MODEL")
	envString(&c.Model.APIKey, "LLM_KEY")
	envString(&c.Model.BaseURL, "LLM_BASE_URL")
	envInt(&c.Model.TokensPerMinute, "LLM_TOKENS_PER_MINUTE")

	envString(&c.Mongo.URI, "MONGO_URI")
	envString(&c.Mongo.Database, "MONGO_DATABASE")

	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envString(&c.Gateway.Addr, "GATEWAY_ADDR")

	envString(&c.Data.PacksDir, "SUBMISSION_PACKS_DIR")
	envString(&c.Data.HistoricalCSV, "HISTORICAL_EVENTS_CSV")
	envString(&c.Data.ProgramMapCSV, "PROGRAM_MAP_CSV")
	envString(&c.Data.ExportDir, "EXPORT_DIR")
}

// Validate reports every configuration problem at once so an operator fixes
// them in one pass.
func (c *Config) Validate() error {
	var errs []string
	if c.Temporal.Address == "" {
		errs = append(errs, "temporal address is required (TEMPORAL_ADDRESS)")
	}
	if c.Temporal.Namespace == "" {
		errs = append(errs, "temporal namespace is required (TEMPORAL_NAMESPACE)")
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal task queue is required (TEMPORAL_TASK_QUEUE)")
	}
	if c.Temporal.MaxConcurrentActivities <= 0 {
		errs = append(errs, "max concurrent activities must be greater than 0")
	}
	if c.Temporal.MaxConcurrentWorkflows <= 0 {
		errs = append(errs, "max concurrent workflows must be greater than 0")
	}
	if (c.Temporal.TLSCert == "") != (c.Temporal.TLSKey == "") {
		errs = append(errs, "temporal TLS cert and key must be set together")
	}
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("unknown model provider %q (use openai or anthropic)", c.Model.Provider))
	}
	if c.Model.Model == "" {
		errs = append(errs, "model name is required (LLM_MODEL)")
	}
	if c.Mongo.URI == "" {
		errs = append(errs, "mongo URI is required (MONGO_URI)")
	}
	if c.Gateway.Addr == "" {
		errs = append(errs, "gateway address is required (GATEWAY_ADDR)")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
