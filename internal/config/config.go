package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Auth modes for the management API.
const (
	AuthModeAPIKey = "api-key"
	AuthModeJWT    = "jwt"
	AuthModeNone   = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	DBPath      string `envconfig:"DB_PATH" default:"sweeper.db"`

	// X API. The bearer token is the app-only token used for user lookups.
	XAPIBaseURL    string `envconfig:"X_API_BASE_URL" default:"https://api.twitter.com"`
	XClientID      string `envconfig:"X_CLIENT_ID"`
	XClientSecret  string `envconfig:"X_CLIENT_SECRET"`
	XBearerToken   string `envconfig:"X_BEARER_TOKEN"`
	XRetryAttempts int    `envconfig:"X_RETRY_ATTEMPTS" default:"3"`

	// Sweeps
	DeletionCap      int           `envconfig:"SWEEP_DELETION_CAP" default:"25"`
	SweepTimeout     time.Duration `envconfig:"SWEEP_TIMEOUT" default:"5m"`
	SweepWorkers     int           `envconfig:"SWEEP_WORKERS" default:"4"`
	SweepQueueSize   int           `envconfig:"SWEEP_QUEUE_SIZE" default:"1000"`
	FleetMaxAccounts int           `envconfig:"FLEET_MAX_ACCOUNTS" default:"0"`

	// Scheduling (standard five-field cron; empty disables the job)
	FleetSchedule    string        `envconfig:"FLEET_SCHEDULE" default:"0 * * * *"`
	PruneSchedule    string        `envconfig:"PRUNE_SCHEDULE" default:"30 3 * * *"`
	Timezone         string        `envconfig:"SCHEDULER_TIMEZONE" default:"UTC"`
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
	// FleetStaleAfter marks health degraded when no fleet run finished for
	// this long. Zero disables the check.
	FleetStaleAfter  time.Duration `envconfig:"FLEET_STALE_AFTER" default:"3h"`

	// Display-name cache
	NameCacheSize int           `envconfig:"NAME_CACHE_SIZE" default:"1024"`
	NameCacheTTL  time.Duration `envconfig:"NAME_CACHE_TTL" default:"6h"`

	// Notifiers (all optional; the log notifier is always on)
	SlackBotToken       string        `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel        string        `envconfig:"SLACK_CHANNEL"`
	TelegramBotToken    string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID      int64         `envconfig:"TELEGRAM_CHAT_ID"`
	MonitorAccessToken  string        `envconfig:"MONITOR_ACCESS_TOKEN"`
	MonitorRefreshToken string        `envconfig:"MONITOR_REFRESH_TOKEN"`
	NotifyTimeout       time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"30s"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
}

// SlackEnabled returns true if the Slack notifier is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if the Telegram notifier is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// MonitorEnabled returns true if status lines are posted from a monitor account.
func (c *Config) MonitorEnabled() bool {
	return c.MonitorAccessToken != ""
}

// CORSOriginList returns the parsed list of allowed CORS origins.
// Returns nil if not configured.
func (c *Config) CORSOriginList() []string {
	if c.MgmtCORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.MgmtCORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.MgmtAuthMode {
	case AuthModeAPIKey:
		if c.MgmtAPIKey == "" {
			return fmt.Errorf("MGMT_API_KEY is required when MGMT_AUTH_MODE=%s", AuthModeAPIKey)
		}
	case AuthModeJWT:
		if c.MgmtJWTSecret == "" {
			return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=%s", AuthModeJWT)
		}
	case AuthModeNone:
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.DeletionCap <= 0 {
		return fmt.Errorf("SWEEP_DELETION_CAP must be positive, got %d", c.DeletionCap)
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive, got %d", c.SweepWorkers)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
