package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Queue         QueueConfig         `toml:"queue"`
	Workflow      WorkflowConfig      `toml:"workflow"`
	WebSocket     WebSocketConfig     `toml:"websocket"`
	Logging       LoggingConfig       `toml:"logging"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers per queue
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before drop
	StaleJobTimeout   string `toml:"stale_job_timeout"`  // Active jobs without heartbeat past this are failed
}

// WorkflowConfig controls orchestrator behavior.
type WorkflowConfig struct {
	// AutoRetryOnRollback re-queues the rollback target phase after a
	// failure. Disabled by default: rollback only logs the regression and
	// leaves resumption to manual re-trigger or an external retry policy.
	AutoRetryOnRollback bool   `toml:"auto_retry_on_rollback"`
	RetryDelay          string `toml:"retry_delay"`  // Delay before the re-queued phase becomes visible
	SLAScanSchedule     string `toml:"sla_schedule"` // Cron schedule for the periodic SLA-violation scan
}

// WebSocketConfig contains configuration for WebSocket event push
type WebSocketConfig struct {
	// Throttle intervals for high-frequency events. Map of event name to
	// duration string, e.g. {"queue_stats": "1s"}.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// CollaboratorsConfig holds the outbound service endpoints and the OAuth
// client-credentials used to authenticate against them.
type CollaboratorsConfig struct {
	SyncURL        string `toml:"sync_url"`
	DetectionURL   string `toml:"detection_url"`
	EvidenceURL    string `toml:"evidence_url"`
	ClaimsURL      string `toml:"claims_url"`
	PaymentURL     string `toml:"payment_url"`
	RequestTimeout string `toml:"request_timeout"` // Per-call HTTP timeout; a timeout is a phase failure
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TokenURL       string `toml:"token_url"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in reclaim.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			StaleJobTimeout:   "15m",
		},
		Workflow: WorkflowConfig{
			AutoRetryOnRollback: false,
			RetryDelay:          "30s",
			SLAScanSchedule:     "0 * * * *", // hourly
		},
		WebSocket: WebSocketConfig{
			ThrottleIntervals: map[string]string{
				"queue_stats": "1s",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Collaborators: CollaboratorsConfig{
			RequestTimeout: "30s",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2
// -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// ApplyFlagOverrides applies command-line overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides reads RECLAIM_* environment variables over the loaded
// configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("RECLAIM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("RECLAIM_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("RECLAIM_STORAGE_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("RECLAIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("RECLAIM_COLLAB_CLIENT_ID"); v != "" {
		config.Collaborators.ClientID = v
	}
	if v := os.Getenv("RECLAIM_COLLAB_CLIENT_SECRET"); v != "" {
		config.Collaborators.ClientSecret = v
	}
	if v := os.Getenv("RECLAIM_AUTO_RETRY_ON_ROLLBACK"); v != "" {
		config.Workflow.AutoRetryOnRollback = strings.EqualFold(v, "true") || v == "1"
	}
}

// ParseDuration parses a duration string from config, falling back to the
// given default on empty or invalid values.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
