package config

import (
	"reflect"
	"sort"
	"strings"

	logx "fieldreport/pkg/logx"
)

// restartSections cannot be applied to a running process.
var restartSections = map[string]bool{
	"telegram": true,
	"http":     true,
	"storage":  true,
	"cache":    true,
	"renderer": true,
	"events":   true,
}

// SummarizeConfigChange reports which sections differ, log-safe attrs for
// them (no tokens, DSNs or passwords) and the subset that only takes
// effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.LogChatID != nt.LogChatID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.SendRatePerSec != nt.SendRatePerSec {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		mark("http",
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	prev, ns := oldCfg.Storage, newCfg.Storage
	if !reflect.DeepEqual(prev, ns) {
		mark("storage",
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.dsn_changed", prev.DSN != ns.DSN),
		)
	}

	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		var addr string
		if newCfg.Cache != nil {
			addr = newCfg.Cache.Addr
		}
		mark("cache", logx.Bool("cache.enabled", newCfg.Cache != nil), logx.String("cache.addr", addr))
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		nr := newCfg.Reminders
		mark("reminders",
			logx.Bool("reminders.enabled", nr.IsEnabled()),
			logx.Int("reminders.retry_attempts", nr.RetryAttempts),
			logx.String("reminders.retry_delay", strings.TrimSpace(nr.RetryDelay)),
			logx.Bool("reminders.default_recipient_set", strings.TrimSpace(nr.DefaultRecipient) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Renderer, newCfg.Renderer) {
		mark("renderer",
			logx.Bool("renderer.enabled", newCfg.Renderer.Enabled),
			logx.Int("renderer.pool_size", newCfg.Renderer.PoolSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		var exchange string
		if newCfg.Events != nil {
			exchange = newCfg.Events.Exchange
		}
		mark("events", logx.Bool("events.enabled", newCfg.Events != nil), logx.String("events.exchange", exchange))
	}

	sort.Strings(changed)
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
