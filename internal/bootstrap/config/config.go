package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Status   StatusConfig   `mapstructure:"status"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BackendConfig points the client at one hosted conference project.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	ServiceRoleKey string `mapstructure:"service_role_key"`
	ProjectRef     string `mapstructure:"project_ref"`
}

type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CollectionsFile string        `mapstructure:"collections_file"`
}

type AssetsConfig struct {
	Dir string `mapstructure:"dir"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig configures the optional cross-process commit bus.
type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("backend", cfg.Backend.BaseURL),
	)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "companion")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.dsn", ".companion/state/cache.sqlite")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.collections_file", "configs/collections.toml")
	v.SetDefault("assets.dir", ".companion/assets")
	v.SetDefault("status.addr", "127.0.0.1:8642")
	v.SetDefault("notify.subject", "companion.cache.commit")
}
