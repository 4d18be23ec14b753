package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	D1        D1Config        `yaml:"d1" mapstructure:"d1"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RateLimitConfig configures the /api rate limiter.
type RateLimitConfig struct {
	Window   time.Duration `yaml:"window" mapstructure:"window"`
	Max      int           `yaml:"max" mapstructure:"max"`
	Backend  string        `yaml:"backend" mapstructure:"backend"`
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
}

// D1Config holds Cloudflare D1 import credentials and polling behaviour.
type D1Config struct {
	AccountID  string       `yaml:"account_id" mapstructure:"account_id"`
	DatabaseID string       `yaml:"database_id" mapstructure:"database_id"`
	APIKey     string       `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string       `yaml:"base_url" mapstructure:"base_url"`
	Poll       D1PollConfig `yaml:"poll" mapstructure:"poll"`
}

// D1PollConfig bounds the import status polling loop.
type D1PollConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "migrate", "sqlgen" and "import".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.RateLimit.Max < 1 {
			errs = append(errs, "ratelimit.max must be >= 1")
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, "ratelimit.window must be > 0")
		}
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.RateLimit.RedisURL == "" {
				errs = append(errs, "ratelimit.redis_url is required for the redis backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend))
		}
	case "migrate":
		errs = append(errs, c.validateStore()...)
	case "sqlgen":
	case "import":
		if c.D1.AccountID == "" {
			errs = append(errs, "d1.account_id (CF_ACCOUNT_ID) is required")
		}
		if c.D1.DatabaseID == "" {
			errs = append(errs, "d1.database_id (CF_D1_DB_ID) is required")
		}
		if c.D1.APIKey == "" {
			errs = append(errs, "d1.api_key (CF_D1_API_KEY) is required")
		}
		if c.D1.Poll.MaxAttempts < 1 {
			errs = append(errs, "d1.poll.max_attempts must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite, postgres or memory, got %q", c.Store.Driver))
	}
	return errs
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The import utility has always read the Cloudflare variable names.
	for key, env := range map[string]string{
		"d1.account_id":  "CF_ACCOUNT_ID",
		"d1.database_id": "CF_D1_DB_ID",
		"d1.api_key":     "CF_D1_API_KEY",
	} {
		if err := v.BindEnv(key, "DEALS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deals.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.max", 30)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis_url", "")
	v.SetDefault("d1.base_url", "https://api.cloudflare.com/client/v4")
	v.SetDefault("d1.poll.max_attempts", 60)
	v.SetDefault("d1.poll.initial_interval", "1s")
	v.SetDefault("d1.poll.max_interval", "30s")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
