package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Schedule    ScheduleConfig  `toml:"schedule"`
	Collector   CollectorConfig `toml:"collector"`
	Publisher   PublisherConfig `toml:"publisher"`
	Synthesis   SynthesisConfig `toml:"synthesis"`
	Retention   RetentionConfig `toml:"retention"`
	Notify      NotifyConfig    `toml:"notify"`
	Logging     LoggingConfig   `toml:"logging"`
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
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "12m" - message lease before redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max delivery attempts before a job is marked failed
	RetryBackoff      string `toml:"retry_backoff"`      // Fixed delay before a failed job becomes visible again
	FailedRetention   int    `toml:"failed_retention"`   // Max failed job records kept for inspection
}

// ScheduleConfig drives the heartbeat scheduler.
type ScheduleConfig struct {
	Timezone            string `toml:"timezone"`              // Civil timezone for all schedule math (default "Asia/Seoul")
	TickInterval        string `toml:"tick_interval"`         // Heartbeat interval (default "1m")
	CollectWindowHours  int    `toml:"collect_window_hours"`  // Collection window length before synthesis (default 2)
	CollectToleranceMin int    `toml:"collect_tolerance_min"` // Minutes since last collection before re-collecting (default 28)
	MaintenanceSchedule string `toml:"maintenance_schedule"`  // Cron expression for the daily maintenance job
}

// CollectorConfig configures the scrape worker pool.
type CollectorConfig struct {
	Concurrency     int           `toml:"concurrency"`       // Number of worker slots
	JobTimeout      time.Duration `toml:"job_timeout"`       // Hard per-job wall-clock ceiling
	RecycleAfter    int           `toml:"recycle_after"`     // Jobs per slot before proactive session recycle
	RequestDelay    time.Duration `toml:"request_delay"`     // Minimum delay between source fetches
	UserAgent       string        `toml:"user_agent"`        // Browser user agent string
	Headless        bool          `toml:"headless"`          // Run browser sessions headless
	NoSandbox       bool          `toml:"no_sandbox"`        // Disable Chrome sandbox (containers)
	RenderWaitTime  time.Duration `toml:"render_wait_time"`  // Wait for JavaScript to render a feed
	FreshnessWindow time.Duration `toml:"freshness_window"`  // Max post age to qualify
	MinEngagement   int           `toml:"min_engagement"`    // Minimum engagement score to qualify
	AcceptLanguage  string        `toml:"accept_language"`   // Accept-Language header for scrape sessions
}

// PublisherConfig configures the publish orchestrator.
type PublisherConfig struct {
	Cooldown          time.Duration `toml:"cooldown"`            // Minimum gap between two publishes per workspace
	InterItemDelay    time.Duration `toml:"inter_item_delay"`    // Wait between published items within one run
	ContainerPollWait time.Duration `toml:"container_poll_wait"` // Poll interval while a media container processes
	RequestTimeout    time.Duration `toml:"request_timeout"`     // Platform API request timeout
	TokenRefreshLead  time.Duration `toml:"token_refresh_lead"`  // Refresh tokens expiring within this window
	MaxPerRun         int           `toml:"max_per_run"`         // Default max items per publish run
}

// SynthesisConfig configures the LLM synthesis collaborator.
type SynthesisConfig struct {
	Provider    string  `toml:"provider"`     // "claude" or "gemini"
	ClaudeKey   string  `toml:"claude_key"`   // Anthropic API key (or ANTHROPIC_API_KEY)
	ClaudeModel string  `toml:"claude_model"` // Default "claude-haiku-3-5-20241022"
	GeminiKey   string  `toml:"gemini_key"`   // Gemini API key (or GEMINI_API_KEY)
	GeminiModel string  `toml:"gemini_model"` // Default "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`      // Operation timeout as duration string
	Temperature float32 `toml:"temperature"`  // Completion temperature
	MaxArticles int     `toml:"max_articles"` // Max articles per synthesis run
}

// RetentionConfig bounds stored history.
type RetentionConfig struct {
	RunDays     int `toml:"run_days"`     // Pipeline run records kept (default 7)
	ContentDays int `toml:"content_days"` // Published articles and source posts kept (default 30)
}

// NotifyConfig configures the failure digest mailer.
type NotifyConfig struct {
	SMTPHost   string   `toml:"smtp_host"`
	SMTPPort   int      `toml:"smtp_port"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	From       string   `toml:"from"`
	Recipients []string `toml:"recipients"` // Empty disables the digest
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings belong in propago.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			QueueName:         "propago_scrape",
			PollInterval:      "1s",
			VisibilityTimeout: "12m", // Slightly above the job timeout so a live job is never redelivered
			MaxReceive:        2,
			RetryBackoff:      "30s",
			FailedRetention:   100,
		},
		Schedule: ScheduleConfig{
			Timezone:            "Asia/Seoul",
			TickInterval:        "1m",
			CollectWindowHours:  2,
			CollectToleranceMin: 28,
			MaintenanceSchedule: "30 4 * * *",
		},
		Collector: CollectorConfig{
			Concurrency:     3,
			JobTimeout:      10 * time.Minute,
			RecycleAfter:    10,
			RequestDelay:    2 * time.Second,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:        true,
			NoSandbox:       false,
			RenderWaitTime:  3 * time.Second,
			FreshnessWindow: 48 * time.Hour,
			MinEngagement:   50,
			AcceptLanguage:  "en-US,en;q=0.9",
		},
		Publisher: PublisherConfig{
			Cooldown:          30 * time.Minute,
			InterItemDelay:    30 * time.Second,
			ContainerPollWait: 5 * time.Second,
			RequestTimeout:    30 * time.Second,
			TokenRefreshLead:  7 * 24 * time.Hour,
			MaxPerRun:         1,
		},
		Synthesis: SynthesisConfig{
			Provider:    "claude",
			ClaudeModel: "claude-haiku-3-5-20241022",
			GeminiModel: "gemini-3-flash-preview",
			Timeout:     "5m",
			Temperature: 0.7,
			MaxArticles: 3,
		},
		Retention: RetentionConfig{
			RunDays:     7,
			ContentDays: 30,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI flags.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROPAGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("PROPAGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PROPAGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("PROPAGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if tz := os.Getenv("PROPAGO_SCHEDULE_TIMEZONE"); tz != "" {
		config.Schedule.Timezone = tz
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Synthesis.ClaudeKey == "" {
		config.Synthesis.ClaudeKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Synthesis.GeminiKey == "" {
		config.Synthesis.GeminiKey = key
	}

	if level := os.Getenv("PROPAGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
