// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/loan-engine/lending"
)

const (
	defaultListen   = ":8080"
	defaultDatabase = "loans.db"
	defaultInterval = time.Minute
)

// Config captures the runtime settings of the loan engine service.
type Config struct {
	Listen    string          `yaml:"listen"`
	Database  string          `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Programs  []ProgramConfig `yaml:"programs"`
	CORS      CORSConfig      `yaml:"cors"`
}

// LogConfig selects level and destination. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EngineConfig holds accrual and settlement parameters.
type EngineConfig struct {
	// DayBoundaryOffset shifts day boundaries, e.g. "-3h" for UTC-3.
	DayBoundaryOffset time.Duration `yaml:"day_boundary_offset"`
	AddonTreasury     string        `yaml:"addon_treasury"`

	offsetSet bool
}

// SchedulerConfig controls the background processing loop.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// ProgramConfig seeds one lending program with its pool and credit limits.
type ProgramConfig struct {
	ID                 uint32            `yaml:"id"`
	PoolAccount        string            `yaml:"pool_account"`
	InitialLiquidity   uint64            `yaml:"initial_liquidity"`
	DefaultCreditLimit uint64            `yaml:"default_credit_limit"`
	CreditLimits       map[string]uint64 `yaml:"credit_limits"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{
		Engine:    EngineConfig{DayBoundaryOffset: time.Duration(lending.DefaultDayBoundaryOffset) * time.Second, offsetSet: true},
		Scheduler: SchedulerConfig{Enabled: true},
		Programs: []ProgramConfig{{
			ID:               1,
			PoolAccount:      "pool",
			InitialLiquidity: 1_000_000_000_000,
		}},
	}
	cfg.Engine.AddonTreasury = "treasury"
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk and validates the result.
// An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Config{Scheduler: SchedulerConfig{Enabled: true}}
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UnmarshalYAML records whether the offset was given, since 0 is a valid
// offset distinct from "use the default".
func (e *EngineConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain EngineConfig
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*e = EngineConfig(raw)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "day_boundary_offset" {
			e.offsetSet = true
		}
	}
	return nil
}

// Calendar builds the engine calendar from the configured offset.
func (e EngineConfig) Calendar() lending.Calendar {
	return lending.Calendar{Offset: int64(e.DayBoundaryOffset / time.Second)}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	cfg.Database = strings.TrimSpace(cfg.Database)
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	cfg.Log.normalize()

	if !cfg.Engine.offsetSet {
		cfg.Engine.DayBoundaryOffset = time.Duration(lending.DefaultDayBoundaryOffset) * time.Second
		cfg.Engine.offsetSet = true
	}
	cfg.Engine.AddonTreasury = strings.TrimSpace(cfg.Engine.AddonTreasury)

	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = defaultInterval
	}
	for i := range cfg.Programs {
		cfg.Programs[i].PoolAccount = strings.TrimSpace(cfg.Programs[i].PoolAccount)
	}

	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg.CORS.AllowedOrigins = origins
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if off := cfg.Engine.DayBoundaryOffset; off <= -24*time.Hour || off >= 24*time.Hour {
		return fmt.Errorf("engine: day_boundary_offset %s must be within one day", off)
	}
	if off := cfg.Engine.DayBoundaryOffset; off%time.Second != 0 {
		return fmt.Errorf("engine: day_boundary_offset %s must be whole seconds", off)
	}
	if len(cfg.Programs) == 0 {
		return fmt.Errorf("at least one program must be configured")
	}
	seen := make(map[uint32]bool, len(cfg.Programs))
	for _, p := range cfg.Programs {
		if p.ID == 0 {
			return fmt.Errorf("programs: id must be positive")
		}
		if seen[p.ID] {
			return fmt.Errorf("programs: duplicate id %d", p.ID)
		}
		seen[p.ID] = true
		if p.PoolAccount == "" {
			return fmt.Errorf("programs[%d]: pool_account is required", p.ID)
		}
	}
	return nil
}

func (cfg *LogConfig) normalize() {
	cfg.Level = strings.ToLower(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.File = strings.TrimSpace(cfg.File)
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups < 0 {
		cfg.MaxBackups = 0
	}
	if cfg.MaxAgeDays < 0 {
		cfg.MaxAgeDays = 0
	}
}

func (cfg LogConfig) validate() error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown level %q", cfg.Level)
	}
}
