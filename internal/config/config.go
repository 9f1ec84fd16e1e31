package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/reforge/internal/logger"
	"github.com/loykin/reforge/internal/schedule"
	"github.com/loykin/reforge/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. REFORGE_SCHEDULE_CHECK_INTERVAL.
const EnvPrefix = "REFORGE"

// Config represents the top-level TOML structure.
type Config struct {
	Chat     ChatConfig        `mapstructure:"chat"`
	Schedule ScheduleConfig    `mapstructure:"schedule"`
	State    StateConfig       `mapstructure:"state"`
	History  HistoryConfig     `mapstructure:"history"`
	Log      logger.Config     `mapstructure:"log"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Server   ServerConfig      `mapstructure:"server"`
	Messages map[string]string `mapstructure:"messages"`
	// EnvFiles are loaded with godotenv before the token is resolved. Missing
	// files are skipped.
	EnvFiles []string `mapstructure:"env_files"`
}

type ChatConfig struct {
	Backend string `mapstructure:"backend"`
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `mapstructure:"token_env"`
	// Token is used as is when set. Prefer TokenEnv.
	Token            string        `mapstructure:"token"`
	StatusChannel    string        `mapstructure:"status_channel"`
	CountdownChannel string        `mapstructure:"countdown_channel"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type ScheduleConfig struct {
	Timezone          string        `mapstructure:"timezone"`
	RestartTimes      []string      `mapstructure:"restart_times"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	MaintenanceWindow time.Duration `mapstructure:"maintenance_window"`
	RebornOffset      time.Duration `mapstructure:"reborn_offset"`
}

type StateConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Enabled  bool       `mapstructure:"enabled"`
	Listen   string     `mapstructure:"listen"`
	BasePath string     `mapstructure:"base_path"`
	TLS      tls.Config `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chat.backend", "discord")
	v.SetDefault("chat.token_env", "DISCORD_TOKEN")
	v.SetDefault("chat.token", "")
	v.SetDefault("chat.status_channel", "")
	v.SetDefault("chat.countdown_channel", "")
	v.SetDefault("chat.open_timeout", 30*time.Second)

	v.SetDefault("schedule.timezone", "Asia/Kolkata")
	v.SetDefault("schedule.restart_times", []string{"05:00", "17:00"})
	v.SetDefault("schedule.check_interval", 20*time.Second)
	v.SetDefault("schedule.maintenance_window", 2*time.Minute)
	v.SetDefault("schedule.reborn_offset", 2*time.Minute)

	v.SetDefault("state.dsn", "bot_state.json")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")

	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")

	v.SetDefault("env_files", []string{".env"})
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// Load reads path (TOML) when set, then applies REFORGE_* environment
// overrides on top of the defaults. Env files are loaded but nothing is
// validated; call Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Schedule.RestartTimes) == 1 && strings.Contains(cfg.Schedule.RestartTimes[0], ",") {
		cfg.Schedule.RestartTimes = strings.Split(cfg.Schedule.RestartTimes[0], ",")
	}
	if err := LoadEnvFiles(cfg.EnvFiles); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles loads each existing file into the process environment.
// Variables already set are not overridden.
func LoadEnvFiles(paths []string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		if _, err := os.Stat(clean); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(clean); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ResolveToken returns the bot token from Chat.Token or the TokenEnv variable.
func (c *Config) ResolveToken() string {
	if t := strings.TrimSpace(c.Chat.Token); t != "" {
		return t
	}
	if c.Chat.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Chat.TokenEnv))
}

// Cooldown is how long a restart keeps owning the countdown cycle.
func (c *Config) Cooldown() time.Duration {
	return schedule.Cooldown(c.Schedule.MaintenanceWindow, c.Schedule.RebornOffset, c.Schedule.CheckInterval)
}

// BuildSchedule compiles the configured restart times.
func (c *Config) BuildSchedule() (*schedule.Schedule, error) {
	return schedule.New(c.Schedule.Timezone, c.Schedule.RestartTimes)
}

func (c *Config) isMemory() bool {
	return strings.EqualFold(strings.TrimSpace(c.Chat.Backend), "memory")
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if !c.isMemory() {
		if c.Chat.StatusChannel == "" {
			errs = append(errs, errors.New("chat.status_channel is required"))
		}
		if c.Chat.CountdownChannel == "" {
			errs = append(errs, errors.New("chat.countdown_channel is required"))
		}
		if c.ResolveToken() == "" {
			errs = append(errs, fmt.Errorf("chat token missing: set %s or chat.token", c.Chat.TokenEnv))
		}
	}
	if len(c.Schedule.RestartTimes) == 0 {
		errs = append(errs, errors.New("schedule.restart_times must list at least one time"))
	}
	if _, err := c.BuildSchedule(); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule.CheckInterval <= 0 {
		errs = append(errs, errors.New("schedule.check_interval must be positive"))
	}
	if c.Schedule.MaintenanceWindow < 0 {
		errs = append(errs, errors.New("schedule.maintenance_window must not be negative"))
	}
	if c.Schedule.RebornOffset < 0 {
		errs = append(errs, errors.New("schedule.reborn_offset must not be negative"))
	}
	if strings.TrimSpace(c.State.DSN) == "" {
		errs = append(errs, errors.New("state.dsn is required"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	if c.Server.Enabled {
		if err := c.Server.TLS.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
