package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that cannot be mapped onto the runtime. It is
// run by Parse, so a bad hot reload never reaches subscribers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"reminders.retry_delay", cfg.Reminders.RetryDelay},
		{"reminders.poll_every", cfg.Reminders.PollEvery},
		{"reminders.cleanup_every", cfg.Reminders.CleanupEvery},
		{"reminders.connection_ttl", cfg.Reminders.ConnectionTTL},
		{"renderer.timeout", cfg.Renderer.Timeout},
	}
	if cfg.Cache != nil {
		durations = append(durations, struct{ path, raw string }{"cache.ttl", cfg.Cache.TTL})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn (or %s) is required when storage.driver=postgres", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if cfg.Storage.MaxOpenConns < 0 {
		return fmt.Errorf("storage.max_open_conns must be >= 0")
	}

	if cfg.Reminders.RetryAttempts < 0 {
		return fmt.Errorf("reminders.retry_attempts must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Reminders.IsEnabled() && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token (or %s) is required while reminders are enabled", EnvTelegramToken)
	}

	if cfg.Renderer.PoolSize < 0 {
		return fmt.Errorf("renderer.pool_size must be >= 0")
	}
	if cfg.Telegram.SendRatePerSec < 0 || cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("rate_per_sec values must be >= 0")
	}
	if cfg.Cache != nil && strings.TrimSpace(cfg.Cache.Addr) == "" {
		return fmt.Errorf("cache.addr is required when cache is set")
	}
	if cfg.Events != nil && strings.TrimSpace(cfg.Events.URL) == "" {
		return fmt.Errorf("events.url (or %s) is required when events is set", EnvAMQPURL)
	}
	return nil
}
