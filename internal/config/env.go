package config

import (
	"strconv"
	"strings"
)

// Environment overrides. Secrets usually live here (or in a .env file)
// rather than in the config file.
const (
	EnvTelegramToken    = "TELEGRAM_TOKEN"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvRedisAddr        = "REDIS_ADDR"
	EnvAMQPURL          = "AMQP_URL"
	EnvDefaultRecipient = "REMINDER_DEFAULT_RECIPIENT"
	EnvRetryAttempts    = "REMINDER_RETRY_ATTEMPTS"
	EnvRetryDelay       = "REMINDER_RETRY_DELAY"
)

// ApplyEnv overlays non-empty environment values onto cfg. DATABASE_URL
// switches storage to postgres when no driver was chosen explicitly.
// Malformed numbers are left for Validate to report.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := get(EnvDatabaseURL); v != "" {
		cfg.Storage.DSN = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := get(EnvRedisAddr); v != "" {
		if cfg.Cache == nil {
			cfg.Cache = &CacheConfig{}
		}
		cfg.Cache.Addr = v
	}
	if v := get(EnvAMQPURL); v != "" {
		if cfg.Events == nil {
			cfg.Events = &EventsConfig{}
		}
		cfg.Events.URL = v
	}
	if v := get(EnvDefaultRecipient); v != "" {
		cfg.Reminders.DefaultRecipient = v
	}
	if v := get(EnvRetryAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		cfg.Reminders.RetryAttempts = n
	}
	if v := get(EnvRetryDelay); v != "" {
		cfg.Reminders.RetryDelay = v
	}
}
