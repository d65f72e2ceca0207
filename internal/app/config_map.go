package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"fieldreport/internal/config"
	"fieldreport/internal/events"
	"fieldreport/internal/httpapi"
	"fieldreport/internal/reminder"
	"fieldreport/internal/render"
	"fieldreport/internal/storage"
	"fieldreport/internal/transport/telegram"
	logx "fieldreport/pkg/logx"
)

var parseDurationOrDefault = config.ParseDurationOrDefault

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    poll,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql", "pgx":
		driver = "postgres"
	case "memory":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if driver == "sqlite" && path == "" {
		path = "./data/fieldreport.db"
	}
	busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	// Scheduled times are stored as naive wall-clock text in the reminder zone.
	loc, err := mapLocation(cfg)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       driver,
		Path:         path,
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
		Location:     loc,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (reminder.DispatcherConfig, error) {
	delay, err := parseDurationOrDefault("reminders.retry_delay", cfg.Reminders.RetryDelay, 5*time.Second)
	if err != nil {
		return reminder.DispatcherConfig{}, err
	}
	if cfg.Reminders.RetryAttempts < 0 {
		return reminder.DispatcherConfig{}, fmt.Errorf("reminders.retry_attempts must be >= 0")
	}
	return reminder.DispatcherConfig{
		RetryAttempts:    cfg.Reminders.RetryAttempts,
		RetryDelay:       delay,
		DefaultRecipient: cfg.Reminders.DefaultRecipient,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (reminder.SchedulerConfig, error) {
	poll, err := parseDurationOrDefault("reminders.poll_every", cfg.Reminders.PollEvery, time.Minute)
	if err != nil {
		return reminder.SchedulerConfig{}, err
	}
	cleanup, err := parseDurationOrDefault("reminders.cleanup_every", cfg.Reminders.CleanupEvery, time.Hour)
	if err != nil {
		return reminder.SchedulerConfig{}, err
	}
	spec := strings.TrimSpace(cfg.Reminders.PollSchedule)
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return reminder.SchedulerConfig{}, fmt.Errorf("reminders.poll_schedule: invalid %q: %w", spec, err)
		}
	}
	return reminder.SchedulerConfig{PollEvery: poll, PollSpec: spec, CleanupEvery: cleanup}, nil
}

func mapConnectionTTL(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("reminders.connection_ttl", cfg.Reminders.ConnectionTTL, reminder.DefaultConnectionTTL)
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Reminders.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapRendererConfig(cfg *config.Config) (render.Config, render.ChromeConfig, error) {
	timeout, err := parseDurationOrDefault("renderer.timeout", cfg.Renderer.Timeout, 60*time.Second)
	if err != nil {
		return render.Config{}, render.ChromeConfig{}, err
	}
	size := cfg.Renderer.PoolSize
	if size <= 0 {
		size = 3
	}
	return render.Config{PoolSize: size, Timeout: timeout},
		render.ChromeConfig{ExecPath: strings.TrimSpace(cfg.Renderer.ExecPath), NoSandbox: cfg.Renderer.NoSandbox},
		nil
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, time.Duration, error) {
	read, err := parseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	write, err := parseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 90*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	shutdown, err := parseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = ":8080"
	}
	return httpapi.ServerConfig{Addr: addr, ReadTimeout: read, WriteTimeout: write}, shutdown, nil
}

func mapEventsConfig(cfg *config.Config) (events.Config, bool) {
	if cfg.Events == nil || strings.TrimSpace(cfg.Events.URL) == "" {
		return events.Config{}, false
	}
	return events.Config{URL: strings.TrimSpace(cfg.Events.URL), Exchange: strings.TrimSpace(cfg.Events.Exchange)}, true
}

// validateMapped runs every mapping so a reload that config.Validate
// accepts but the runtime cannot use is rejected as well.
func validateMapped(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapConnectionTTL(cfg); err != nil {
		return err
	}
	if _, err := mapLocation(cfg); err != nil {
		return err
	}
	if _, _, err := mapRendererConfig(cfg); err != nil {
		return err
	}
	_, _, err := mapServerConfig(cfg)
	return err
}
