package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "lens.yaml"

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Materialize MaterializeConfig `koanf:"materialize"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Log         LogConfig         `koanf:"log"`
}

type ServerConfig struct {
	Port        int      `koanf:"port"`
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit is the per-IP request budget per minute; 0 disables it.
	RateLimit int `koanf:"rate_limit"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, sqldb
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite; postgres needs a linked pgx driver
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type IngestConfig struct {
	NATS NATSConfig `koanf:"nats"`
	// FilterTopics lists topic patterns (* one level, > the rest) whose
	// messages are skipped.
	FilterTopics []string `koanf:"filter_topics"`
}

type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   string `koanf:"token"`
	Stream  string `koanf:"stream"`
	Subject string `koanf:"subject"`
	Durable string `koanf:"durable"`
	AckWait string `koanf:"ack_wait"`
}

// CorrelationConfig carries the naming conventions the correlator and
// interaction resolver key on.
type CorrelationConfig struct {
	TopLevelPrefix   string   `koanf:"top_level_prefix"`
	SubtaskPrefix    string   `koanf:"subtask_prefix"`
	DelegationPrefix string   `koanf:"delegation_prefix"`
	SuccessMarkers   []string `koanf:"success_markers"`
	ErrorMarkers     []string `koanf:"error_markers"`
	MaxParentDepth   int      `koanf:"max_parent_depth"`
	Orchestrator     string   `koanf:"orchestrator"`
	FinalReplyTopic  string   `koanf:"final_reply_topic"`
	QueryNoise       []string `koanf:"query_noise"`
	TokenModel       string   `koanf:"token_model"`
}

type MaterializeConfig struct {
	Workers   int `koanf:"workers"` // 0 = GOMAXPROCS
	QueueSize int `koanf:"queue_size"`
	// Interval between full-log sweeps; "0" disables the sweep.
	Interval        string `koanf:"interval"`
	RetryMaxElapsed string `koanf:"retry_max_elapsed"`
}

type TelemetryConfig struct {
	Exporter    string `koanf:"exporter"` // stdout, otlp, none
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":                   8080,
	"server.rate_limit":             600,
	"storage.type":                  "memory",
	"storage.sqlite.path":           "lens.db",
	"ingest.nats.url":               "nats://127.0.0.1:4222",
	"ingest.nats.stream":            "A2A_EVENTS",
	"ingest.nats.subject":           "a2a.>",
	"ingest.nats.durable":           "a2a-lens",
	"ingest.nats.ack_wait":          "30s",
	"correlation.top_level_prefix":  "gdk-task-",
	"correlation.subtask_prefix":    "a2a_subtask_",
	"correlation.delegation_prefix": "peer_",
	"correlation.success_markers":   []string{"success"},
	"correlation.error_markers":     []string{"error"},
	"correlation.max_parent_depth":  8,
	"correlation.orchestrator":      "OrchestratorAgent",
	"correlation.final_reply_topic": ">/a2a/v1/gateway/response/>",
	"correlation.query_noise":       []string{"Request received by gateway"},
	"correlation.token_model":       "gpt-4o",
	"materialize.queue_size":        256,
	"materialize.interval":          "5m",
	"materialize.retry_max_elapsed": "30s",
	"telemetry.exporter":            "none",
	"telemetry.service_name":        "a2a-lens",
	"log.level":                     "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath, then LENS_ environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path (a missing file is not an error),
// applies LENS_ environment overrides (LENS_INGEST__NATS__URL sets
// ingest.nats.url) and fills defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("LENS_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LENS_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Ingest.NATS.URL = substituteEnvVars(cfg.Ingest.NATS.URL)
	cfg.Ingest.NATS.Token = substituteEnvVars(cfg.Ingest.NATS.Token)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)
	cfg.Telemetry.Endpoint = substituteEnvVars(cfg.Telemetry.Endpoint)

	return &cfg, nil
}

// Duration parses a config duration, returning def for an empty string.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
