package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "5s", "1m"); empty means the default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Cache     *CacheConfig    `json:"cache,omitempty"`
	Reminders RemindersConfig `json:"reminders"`
	Renderer  RendererConfig  `json:"renderer"`
	Events    *EventsConfig   `json:"events,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// LogChatID receives operator log lines when logging.telegram is enabled.
	LogChatID      int64  `json:"log_chat_id,omitempty"`
	PollTimeout    string `json:"poll_timeout,omitempty"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the REST API listener.
//
// Pprof mounts net/http/pprof under /debug; keep the listener on loopback
// when enabling it.
type HTTPConfig struct {
	Addr            string `json:"addr"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	Pprof           bool   `json:"pprof,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/fieldreport.db" }
type StorageConfig struct {
	Driver       string `json:"driver"` // memory | sqlite | postgres
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// CacheConfig enables the Redis staff directory cache. Omit to disable.
type CacheConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

// RemindersConfig carries the scheduler and dispatcher knobs.
//
// Defaults: retry_attempts 3, retry_delay "5s", poll_every "1m",
// cleanup_every "1h", connection_ttl "10m".
type RemindersConfig struct {
	Enabled          *bool  `json:"enabled,omitempty"`
	RetryAttempts    int    `json:"retry_attempts,omitempty"`
	RetryDelay       string `json:"retry_delay,omitempty"`
	PollEvery        string `json:"poll_every,omitempty"`
	// PollSchedule is a cron expression that replaces poll_every when set.
	PollSchedule     string `json:"poll_schedule,omitempty"`
	CleanupEvery     string `json:"cleanup_every,omitempty"`
	ConnectionTTL    string `json:"connection_ttl,omitempty"`
	DefaultRecipient string `json:"default_recipient,omitempty"`
	// Timezone interprets scheduled times (IANA name); empty means local.
	Timezone string `json:"timezone,omitempty"`
}

func (r RemindersConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

type RendererConfig struct {
	Enabled   bool   `json:"enabled"`
	PoolSize  int    `json:"pool_size,omitempty"` // default 3
	Timeout   string `json:"timeout,omitempty"`
	ExecPath  string `json:"exec_path,omitempty"`
	NoSandbox bool   `json:"no_sandbox,omitempty"`
}

// EventsConfig forwards reminder events to an AMQP topic exchange.
type EventsConfig struct {
	URL      string `json:"url"` // never logged
	Exchange string `json:"exchange,omitempty"`
}
