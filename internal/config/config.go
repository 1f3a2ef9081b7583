// Package config assembles runtime settings from the environment and an
// optional TOML tuning file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
)

const (
	DRIVER_POSTGRES = "postgres"
	DRIVER_MEMORY   = "memory"

	DEFAULT_PORT       = 8080
	DEFAULT_GAME_NAME  = "Crash Multiplier"
	DEFAULT_MIGRATIONS = "migrations"
)

// Duration decodes TOML strings such as "250ms" or "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Log controls the optional rotating log file. Sizes are in megabytes, ages in days.
type Log struct {
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	LocalTime  bool   `toml:"local_time"`
	Compress   bool   `toml:"compress"`
}

type Config struct {
	// Environment only.
	Port           int    `toml:"-"`
	StoreDriver    string `toml:"-"`
	AutoMigrate    bool   `toml:"-"`
	MigrationsPath string `toml:"-"`
	File           string `toml:"-"`

	// Tuning file.
	WaitingDuration Duration        `toml:"waiting_duration"`
	TickInterval    Duration        `toml:"tick_interval"`
	RevealDelay     Duration        `toml:"reveal_delay"`
	DisabledPoll    Duration        `toml:"disabled_poll"`
	RetryBackoff    Duration        `toml:"retry_backoff"`
	StoreTimeout    Duration        `toml:"store_timeout"`
	EnabledCacheTTL Duration        `toml:"enabled_cache_ttl"`
	GrowthRate      float64         `toml:"growth_rate"`
	HouseEdge       decimal.Decimal `toml:"house_edge"`
	ClientSeed      string          `toml:"client_seed"`
	MaxActiveBets   int             `toml:"max_active_bets"`
	HistoryLimit    int             `toml:"history_limit"`
	GameName        string          `toml:"game_name"`

	Log Log `toml:"log"`
}

// Default mirrors the engine's built-in constants.
func Default() *Config {
	s := game.DefaultSettings()
	return &Config{
		Port:            DEFAULT_PORT,
		StoreDriver:     DRIVER_POSTGRES,
		AutoMigrate:     true,
		MigrationsPath:  DEFAULT_MIGRATIONS,
		WaitingDuration: Duration{s.WaitingDuration},
		TickInterval:    Duration{s.TickInterval},
		RevealDelay:     Duration{s.RevealDelay},
		DisabledPoll:    Duration{s.DisabledPoll},
		RetryBackoff:    Duration{s.RetryBackoff},
		StoreTimeout:    Duration{s.StoreTimeout},
		EnabledCacheTTL: Duration{2 * time.Second},
		GrowthRate:      s.GrowthRate,
		HouseEdge:       game.HOUSE_EDGE,
		ClientSeed:      s.ClientSeed,
		MaxActiveBets:   game.MAX_ACTIVE_BETS,
		HistoryLimit:    game.HISTORY_LIMIT,
		GameName:        DEFAULT_GAME_NAME,
		Log: Log{
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Load reads the environment, then the TOML file named by CRASH_CONFIG when set.
// LOG_FILE overrides the file's [log] path.
func Load() (*Config, error) {
	cfg := Default()
	cfg.Port = getEnvAsInt("PORT", DEFAULT_PORT)
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", DRIVER_POSTGRES))
	cfg.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", true)
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", DEFAULT_MIGRATIONS)
	cfg.File = getEnv("CRASH_CONFIG", "")

	if cfg.File != "" {
		if err := cfg.DecodeFile(cfg.File); err != nil {
			return nil, err
		}
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.Log.File = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeFile overlays the tuning file on cfg. Unknown keys are rejected so a
// typo cannot silently fall back to a default.
func (c *Config) DecodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DRIVER_POSTGRES, DRIVER_MEMORY:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	durations := map[string]Duration{
		"waiting_duration":  c.WaitingDuration,
		"tick_interval":     c.TickInterval,
		"reveal_delay":      c.RevealDelay,
		"disabled_poll":     c.DisabledPoll,
		"retry_backoff":     c.RetryBackoff,
		"store_timeout":     c.StoreTimeout,
		"enabled_cache_ttl": c.EnabledCacheTTL,
	}
	for name, d := range durations {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration)
		}
	}

	if c.GrowthRate <= 0 {
		return fmt.Errorf("growth_rate must be positive, got %v", c.GrowthRate)
	}
	if !c.HouseEdge.IsPositive() || c.HouseEdge.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("house_edge must be in (0, 1), got %s", c.HouseEdge)
	}
	if c.ClientSeed == "" {
		return fmt.Errorf("client_seed must not be empty")
	}
	if c.MaxActiveBets < 1 {
		return fmt.Errorf("max_active_bets must be at least 1, got %d", c.MaxActiveBets)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}
	if c.GameName == "" {
		return fmt.Errorf("game_name must not be empty")
	}
	return nil
}

func (c *Config) Settings() game.Settings {
	return game.Settings{
		WaitingDuration: c.WaitingDuration.Duration,
		TickInterval:    c.TickInterval.Duration,
		RevealDelay:     c.RevealDelay.Duration,
		DisabledPoll:    c.DisabledPoll.Duration,
		RetryBackoff:    c.RetryBackoff.Duration,
		StoreTimeout:    c.StoreTimeout.Duration,
		GrowthRate:      c.GrowthRate,
		ClientSeed:      c.ClientSeed,
	}
}

func (c *Config) GatewayOptions() game.GatewayOptions {
	return game.GatewayOptions{
		HouseEdge:     c.HouseEdge,
		MaxActiveBets: c.MaxActiveBets,
		HistoryLimit:  c.HistoryLimit,
	}
}

func (c *Config) Oracle() game.ProvablyFair {
	return game.NewProvablyFair(c.HouseEdge)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
