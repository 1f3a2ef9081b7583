package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crashgame/internal/game"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crash.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultMatchesEngineConstants(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.Settings(); got != game.DefaultSettings() {
		t.Errorf("Settings() = %+v, want %+v", got, game.DefaultSettings())
	}
	opts := cfg.GatewayOptions()
	if !opts.HouseEdge.Equal(decimal.RequireFromString("0.01")) || opts.MaxActiveBets != 2 || opts.HistoryLimit != 10 {
		t.Errorf("GatewayOptions() = %+v", opts)
	}
	if cfg.GameName != "Crash Multiplier" || cfg.ClientSeed != "lotterybig" {
		t.Errorf("identity = %q / %q", cfg.GameName, cfg.ClientSeed)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("MIGRATIONS_PATH", "/srv/migrations")
	t.Setenv("CRASH_CONFIG", "")
	t.Setenv("LOG_FILE", "/var/log/crash.log")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.StoreDriver != DRIVER_MEMORY || cfg.AutoMigrate || cfg.MigrationsPath != "/srv/migrations" {
		t.Errorf("Load() = %+v", cfg)
	}
	if cfg.Log.File != "/var/log/crash.log" {
		t.Errorf("Log.File = %q", cfg.Log.File)
	}
}

func TestLoad_TuningFile(t *testing.T) {
	path := writeFile(t, `
waiting_duration = "8s"
tick_interval = "50ms"
growth_rate = 0.2
house_edge = "0.03"
client_seed = "house"
max_active_bets = 3

[log]
file = "crash.log"
max_size = 10
compress = false
`)
	t.Setenv("CRASH_CONFIG", path)
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("LOG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := cfg.Settings()
	if s.WaitingDuration != 8*time.Second || s.TickInterval != 50*time.Millisecond || s.GrowthRate != 0.2 || s.ClientSeed != "house" {
		t.Errorf("Settings() = %+v", s)
	}
	if s.RevealDelay != game.REVEAL_DELAY {
		t.Errorf("RevealDelay = %s, want default", s.RevealDelay)
	}
	if !cfg.HouseEdge.Equal(decimal.RequireFromString("0.03")) || cfg.MaxActiveBets != 3 {
		t.Errorf("house edge %s, max bets %d", cfg.HouseEdge, cfg.MaxActiveBets)
	}
	if cfg.Log.File != "crash.log" || cfg.Log.MaxSize != 10 || cfg.Log.Compress || cfg.Log.MaxBackups != 7 {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			env:     map[string]string{"STORE_DRIVER": "mysql"},
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "unknown key",
			file:    `waiting_time = "5s"`,
			wantErr: "unknown keys waiting_time",
		},
		{
			name:    "bad duration",
			file:    `tick_interval = "fast"`,
			wantErr: "invalid duration",
		},
		{
			name:    "non-positive duration",
			file:    `reveal_delay = "0s"`,
			wantErr: "reveal_delay must be positive",
		},
		{
			name:    "house edge out of range",
			file:    `house_edge = "1"`,
			wantErr: "house_edge",
		},
		{
			name:    "zero growth",
			file:    `growth_rate = 0.0`,
			wantErr: "growth_rate",
		},
		{
			name:    "no bets allowed",
			file:    `max_active_bets = 0`,
			wantErr: "max_active_bets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "")
			t.Setenv("CRASH_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				t.Setenv("CRASH_CONFIG", writeFile(t, tt.file))
			}

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil || d.Duration != 90*time.Second {
		t.Errorf("UnmarshalText() = %s, %v", d.Duration, err)
	}
	text, _ := d.MarshalText()
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %s", text)
	}
}
