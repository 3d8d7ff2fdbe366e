package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/ingest"
	"github.com/hazyhaar/docpipeline/normalize"
	"github.com/hazyhaar/docpipeline/trigger"
)

// Config is the full docpipeline configuration.
type Config struct {
	Ingest    ingest.Config    `yaml:"ingest"`
	Extract   extract.Config   `yaml:"extract"`
	Normalize normalize.Config `yaml:"normalize"`
	Dedup     DedupConfig      `yaml:"dedup"`
	Storage   StorageConfig    `yaml:"storage"`
	Triggers  TriggersConfig   `yaml:"triggers"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Pipeline  RunConfig        `yaml:"pipeline"`
}

// DedupConfig selects where the hash and signature registries live.
type DedupConfig struct {
	Backend string `yaml:"backend"` // memory | sqlite
	DBPath  string `yaml:"db_path"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Backend    string        `yaml:"backend"` // stub | sqlite
	DBPath     string        `yaml:"db_path"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TriggersConfig lists the CloudEvents webhooks fired after each document.
type TriggersConfig struct {
	Webhooks []trigger.WebhookConfig `yaml:"webhooks"`
}

// MetricsConfig enables SQLite metrics when DBPath is set.
type MetricsConfig struct {
	DBPath        string        `yaml:"db_path"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RunConfig holds orchestrator settings.
type RunConfig struct {
	// StageTimeout bounds each stage. A stage that exceeds it is reported
	// failed and its late result discarded.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	SourceSystem string        `yaml:"source_system"`
	LogLevel     string        `yaml:"log_level"`
}

// DefaultConfig returns in-memory registries, the stub store and no triggers.
func DefaultConfig() *Config {
	return &Config{
		Ingest:  ingest.DefaultConfig(),
		Extract: extract.DefaultConfig(),
		Dedup:   DedupConfig{Backend: "memory"},
		Storage: StorageConfig{
			Backend:    "stub",
			Collection: "documents",
			Timeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{BufferSize: 100, FlushInterval: 5 * time.Second},
		Pipeline: RunConfig{
			StageTimeout: 2 * time.Minute,
			SourceSystem: "docpipeline",
			LogLevel:     "info",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return err
	}
	if err := c.Extract.Validate(); err != nil {
		return err
	}
	switch c.Dedup.Backend {
	case "", "memory":
	case "sqlite":
		if c.Dedup.DBPath == "" {
			return fmt.Errorf("dedup: db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("dedup: unsupported backend %q (use memory or sqlite)", c.Dedup.Backend)
	}
	switch c.Storage.Backend {
	case "", "stub":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage: db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage: unsupported backend %q (use stub or sqlite)", c.Storage.Backend)
	}
	if c.Storage.Timeout < 0 {
		return fmt.Errorf("storage: timeout must be >= 0")
	}
	seen := map[string]bool{}
	for i, wh := range c.Triggers.Webhooks {
		if wh.Name == "" {
			return fmt.Errorf("triggers.webhooks[%d]: name is required", i)
		}
		if wh.URL == "" {
			return fmt.Errorf("triggers.webhooks[%d]: url is required", i)
		}
		if seen[wh.Name] {
			return fmt.Errorf("triggers.webhooks[%d]: duplicate name %q", i, wh.Name)
		}
		seen[wh.Name] = true
	}
	if c.Pipeline.StageTimeout < 0 {
		return fmt.Errorf("pipeline: stage_timeout must be >= 0")
	}
	if _, err := ParseLevel(c.Pipeline.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("pipeline: unknown log_level %q", s)
}
