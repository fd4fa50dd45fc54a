// Package config provides configuration management for the conviction engine.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"conviction-engine/internal/errors"
	"conviction-engine/internal/logging"
	"conviction-engine/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Windows       WindowConfig        `mapstructure:"windows"`
	Decay         DecayConfig         `mapstructure:"decay"`
	DarkPool      DarkPoolConfig      `mapstructure:"dark_pool"`
	ShortInterest ShortInterestConfig `mapstructure:"short_interest"`
	Profiles      ProfilesConfig      `mapstructure:"profiles"`
	Input         InputConfig         `mapstructure:"input"`
	Store         StoreConfig         `mapstructure:"store"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       logging.LogConfig   `mapstructure:"logging"`
}

// EngineConfig holds aggregation cycle configuration.
type EngineConfig struct {
	Profile               string        `mapstructure:"profile"` // general, crisis
	Interval              time.Duration `mapstructure:"interval"`
	CycleTimeout          time.Duration `mapstructure:"cycle_timeout"`
	SourceTimeout         time.Duration `mapstructure:"source_timeout"`
	Workers               int           `mapstructure:"workers"`
	StaleSourcePolicy     string        `mapstructure:"stale_source_policy"` // drop, last_good
	NeutralDampening      float64       `mapstructure:"neutral_dampening"`
	DirectionEpsilon      float64       `mapstructure:"direction_epsilon"`
	ConflictMinWeight     float64       `mapstructure:"conflict_min_weight"`
	ConflictPenaltyFactor float64       `mapstructure:"conflict_penalty_factor"`
	BonusPerSource        float64       `mapstructure:"bonus_per_source"`
	BonusCap              float64       `mapstructure:"bonus_cap"`
	BreakerFailures       int           `mapstructure:"breaker_failures"`
	BreakerCooldown       time.Duration `mapstructure:"breaker_cooldown"`
	RetryAttempts         int           `mapstructure:"retry_attempts"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
}

// WindowConfig holds per-source lookback windows in days.
type WindowConfig struct {
	Congress      int `mapstructure:"congress"`
	ARK           int `mapstructure:"ark"`
	DarkPool      int `mapstructure:"dark_pool"`
	Institutional int `mapstructure:"institutional"`
	Insider       int `mapstructure:"insider"`
	ShortInterest int `mapstructure:"short_interest"`
	Superinvestor int `mapstructure:"superinvestor"`
}

// Lookback returns the window for a source.
func (w WindowConfig) Lookback(src models.Source) time.Duration {
	var days int
	switch src {
	case models.SourceCongress:
		days = w.Congress
	case models.SourceARK:
		days = w.ARK
	case models.SourceDarkPool:
		days = w.DarkPool
	case models.SourceInstitutional:
		days = w.Institutional
	case models.SourceInsider:
		days = w.Insider
	case models.SourceShortInterest:
		days = w.ShortInterest
	case models.SourceSuperinvestor:
		days = w.Superinvestor
	}
	return time.Duration(days) * 24 * time.Hour
}

// DecayConfig selects the recency decay function.
type DecayConfig struct {
	Mode         string  `mapstructure:"mode"` // exponential, linear
	HalfLifeDays float64 `mapstructure:"half_life_days"`
}

// DarkPoolConfig holds dark-pool anomaly thresholds.
type DarkPoolConfig struct {
	ZThreshold   float64 `mapstructure:"z_threshold"`
	BaselineDays int     `mapstructure:"baseline_days"`
	MinBaseline  int     `mapstructure:"min_baseline"`
	BullishDPI   float64 `mapstructure:"bullish_dpi"`
	BearishDPI   float64 `mapstructure:"bearish_dpi"`
}

// ShortInterestConfig controls how squeeze setups are classified.
type ShortInterestConfig struct {
	SqueezeDirection      string  `mapstructure:"squeeze_direction"` // neutral, bullish, bearish
	SqueezeMinPctFloat    float64 `mapstructure:"squeeze_min_pct_float"`
	SqueezeMinDaysToCover float64 `mapstructure:"squeeze_min_days_to_cover"`
	FlatChangePct         float64 `mapstructure:"flat_change_pct"`
}

// ProfilesConfig holds weight-profile settings.
type ProfilesConfig struct {
	Crisis map[string]float64 `mapstructure:"crisis"`
}

// InputConfig points at the collector output.
type InputConfig struct {
	Dir        string `mapstructure:"dir"`
	TablesPath string `mapstructure:"tables_path"` // optional override of the embedded reputation tables
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds read API configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/conviction-engine"
	}
	return filepath.Join(home, ".config", "conviction-engine")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.profile", "general")
	v.SetDefault("engine.interval", "1h")
	v.SetDefault("engine.cycle_timeout", "2m")
	v.SetDefault("engine.source_timeout", "30s")
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.stale_source_policy", "drop")
	v.SetDefault("engine.neutral_dampening", 0.5)
	v.SetDefault("engine.direction_epsilon", 0.05)
	v.SetDefault("engine.conflict_min_weight", 10.0)
	v.SetDefault("engine.conflict_penalty_factor", 0.25)
	v.SetDefault("engine.bonus_per_source", 20.0)
	v.SetDefault("engine.bonus_cap", 40.0)
	v.SetDefault("engine.breaker_failures", 3)
	v.SetDefault("engine.breaker_cooldown", "15m")
	v.SetDefault("engine.retry_attempts", 2)
	v.SetDefault("engine.retry_delay", "500ms")

	v.SetDefault("windows.congress", 90)
	v.SetDefault("windows.ark", 30)
	v.SetDefault("windows.dark_pool", 30)
	v.SetDefault("windows.institutional", 180)
	v.SetDefault("windows.insider", 90)
	v.SetDefault("windows.short_interest", 60)
	v.SetDefault("windows.superinvestor", 180)

	v.SetDefault("decay.mode", "exponential")
	v.SetDefault("decay.half_life_days", 30.0)

	v.SetDefault("dark_pool.z_threshold", 2.5)
	v.SetDefault("dark_pool.baseline_days", 20)
	v.SetDefault("dark_pool.min_baseline", 5)
	v.SetDefault("dark_pool.bullish_dpi", 0.5)
	v.SetDefault("dark_pool.bearish_dpi", 0.3)

	v.SetDefault("short_interest.squeeze_direction", "neutral")
	v.SetDefault("short_interest.squeeze_min_pct_float", 20.0)
	v.SetDefault("short_interest.squeeze_min_days_to_cover", 5.0)
	v.SetDefault("short_interest.flat_change_pct", 5.0)

	v.SetDefault("profiles.crisis", map[string]float64{
		"congress":      25,
		"insider":       25,
		"institutional": 20,
		"ark":           15,
		"dark_pool":     15,
	})

	v.SetDefault("input.dir", filepath.Join(configDir, "input"))
	v.SetDefault("store.path", filepath.Join(configDir, "conviction.db"))
	v.SetDefault("server.addr", ":8080")

	logCfg := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logCfg.Level)
	v.SetDefault("logging.console", logCfg.Console)
	v.SetDefault("logging.file", logCfg.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "conviction.log"))
	v.SetDefault("logging.max_size", logCfg.MaxSize)
	v.SetDefault("logging.max_backups", logCfg.MaxBackups)
	v.SetDefault("logging.max_age", logCfg.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONVICTION_PROFILE"); v != "" {
		cfg.Engine.Profile = v
	}
	if v := os.Getenv("CONVICTION_INPUT_DIR"); v != "" {
		cfg.Input.Dir = v
	}
	if v := os.Getenv("CONVICTION_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONVICTION_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CONVICTION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CONVICTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(errors.ErrConfigInvalid, format, args...)
	}

	if c.Engine.Profile != "general" && c.Engine.Profile != "crisis" {
		return invalid("unknown profile %q (must be 'general' or 'crisis')", c.Engine.Profile)
	}
	if c.Engine.StaleSourcePolicy != "drop" && c.Engine.StaleSourcePolicy != "last_good" {
		return invalid("stale_source_policy must be 'drop' or 'last_good', got %q", c.Engine.StaleSourcePolicy)
	}
	if c.Engine.CycleTimeout <= 0 || c.Engine.SourceTimeout <= 0 {
		return invalid("cycle_timeout and source_timeout must be positive")
	}
	if c.Engine.BreakerFailures < 1 || c.Engine.BreakerCooldown <= 0 {
		return invalid("breaker_failures must be at least 1 and breaker_cooldown positive")
	}
	if c.Engine.RetryAttempts < 1 || c.Engine.RetryDelay < 0 {
		return invalid("retry_attempts must be at least 1 and retry_delay non-negative")
	}
	if c.Engine.Workers < 1 {
		return invalid("workers must be at least 1")
	}
	if c.Engine.NeutralDampening < 0 || c.Engine.NeutralDampening > 1 {
		return invalid("neutral_dampening must be between 0 and 1")
	}
	if c.Engine.DirectionEpsilon < 0 || c.Engine.DirectionEpsilon >= 1 {
		return invalid("direction_epsilon must be in [0, 1)")
	}
	if c.Engine.ConflictPenaltyFactor < 0 || c.Engine.BonusPerSource < 0 || c.Engine.BonusCap < 0 {
		return invalid("bonus and penalty parameters must be non-negative")
	}

	for _, src := range models.AllSources() {
		if c.Windows.Lookback(src) <= 0 {
			return invalid("window for %s must be positive", src)
		}
	}

	if c.Decay.Mode != "exponential" && c.Decay.Mode != "linear" {
		return invalid("decay mode must be 'exponential' or 'linear', got %q", c.Decay.Mode)
	}
	if c.Decay.Mode == "exponential" && c.Decay.HalfLifeDays <= 0 {
		return invalid("half_life_days must be positive")
	}

	if _, err := models.ParseDirection(c.ShortInterest.SqueezeDirection); err != nil {
		return invalid("short_interest.squeeze_direction: %v", err)
	}
	if c.DarkPool.BaselineDays < 1 || c.DarkPool.MinBaseline < 0 {
		return invalid("dark_pool.baseline_days must be at least 1 and min_baseline non-negative")
	}
	if c.DarkPool.ZThreshold <= 0 {
		return invalid("dark_pool.z_threshold must be positive")
	}
	if c.ShortInterest.FlatChangePct < 0 || c.ShortInterest.SqueezeMinPctFloat < 0 || c.ShortInterest.SqueezeMinDaysToCover < 0 {
		return invalid("short_interest thresholds must be non-negative")
	}
	if c.DarkPool.BearishDPI > c.DarkPool.BullishDPI {
		return invalid("dark_pool.bearish_dpi must not exceed bullish_dpi")
	}

	var total float64
	for name, w := range c.Profiles.Crisis {
		if _, err := models.ParseSource(name); err != nil {
			return invalid("profiles.crisis: %v", err)
		}
		if w < 0 {
			return invalid("profiles.crisis.%s must be non-negative", name)
		}
		total += w
	}
	if math.Abs(total-100) > 1e-9 {
		return invalid("profiles.crisis weights must sum to 100, got %.2f", total)
	}

	return nil
}

// CrisisWeights returns the crisis profile keyed by source.
func (c *Config) CrisisWeights() map[models.Source]float64 {
	weights := make(map[models.Source]float64, len(c.Profiles.Crisis))
	for name, w := range c.Profiles.Crisis {
		if src, err := models.ParseSource(name); err == nil {
			weights[src] = w
		}
	}
	return weights
}
