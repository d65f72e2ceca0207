package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldreport/internal/config"
)

func TestMapConfigDefaults(t *testing.T) {
	cfg := &config.Config{}

	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.Path == "" || sc.BusyTimeout != 5*time.Second || sc.Location != time.Local {
		t.Fatalf("storage = %+v, %v", sc, err)
	}
	dc, err := mapDispatcherConfig(cfg)
	if err != nil || dc.RetryDelay != 5*time.Second {
		t.Fatalf("dispatcher = %+v, %v", dc, err)
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil || schedCfg.PollEvery != time.Minute || schedCfg.CleanupEvery != time.Hour {
		t.Fatalf("scheduler = %+v, %v", schedCfg, err)
	}
	rc, _, err := mapRendererConfig(cfg)
	if err != nil || rc.PoolSize != 3 || rc.Timeout != time.Minute {
		t.Fatalf("renderer = %+v, %v", rc, err)
	}
	ttl, err := mapConnectionTTL(cfg)
	if err != nil || ttl != 10*time.Minute {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}
	if _, ok := mapEventsConfig(cfg); ok {
		t.Fatal("events must be off without a url")
	}
}

func TestMapStorageUsesReminderTimezone(t *testing.T) {
	cfg := &config.Config{Reminders: config.RemindersConfig{Timezone: "UTC"}}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if sc.Location == nil || sc.Location.String() != "UTC" {
		t.Fatalf("location = %v", sc.Location)
	}
}

func TestMapConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"driver", config.Config{Storage: config.StorageConfig{Driver: "csv"}}},
		{"retry delay", config.Config{Reminders: config.RemindersConfig{RetryDelay: "fast"}}},
		{"retry attempts", config.Config{Reminders: config.RemindersConfig{RetryAttempts: -2}}},
		{"timezone", config.Config{Reminders: config.RemindersConfig{Timezone: "Nowhere/City"}}},
		{"poll schedule", config.Config{Reminders: config.RemindersConfig{PollSchedule: "every morning"}}},
		{"http timeout", config.Config{HTTP: config.HTTPConfig{WriteTimeout: "1h1x"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			if err := validateMapped(&cfg); err == nil {
				t.Fatal("expected mapping error")
			}
		})
	}
}

func TestAppStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
logging:
  level: error
http:
  addr: 127.0.0.1:0
storage:
  driver: memory
reminders:
  enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewManager(path)
	cfgm.SetEnv(func(string) string { return "" })

	a, err := New(cfgm)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + a.http.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status           string `json:"status"`
		SchedulerRunning bool   `json:"schedulerRunning"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.SchedulerRunning {
		t.Fatalf("health = %d %+v", resp.StatusCode, health)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
}
