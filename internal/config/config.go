package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string   `mapstructure:"log_level"`
		LogFormat      string   `mapstructure:"log_format"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	}
	Database struct {
		Driver   string
		URL      string
		MaxConns int32 `mapstructure:"max_conns"`
	}
	Auction struct {
		ExtensionWindow time.Duration `mapstructure:"extension_window"`
		SweepInterval   time.Duration `mapstructure:"sweep_interval"`
		LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	}
	Bidding struct {
		RetryAttempts uint64  `mapstructure:"retry_attempts"`
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int
	}
	Auth struct {
		Secret   string
		TokenTTL time.Duration `mapstructure:"token_ttl"`
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "auction.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("auction.extension_window", 2*time.Minute)
	v.SetDefault("auction.sweep_interval", 30*time.Second)
	v.SetDefault("auction.lock_timeout", 5*time.Second)
	v.SetDefault("bidding.retry_attempts", 3)
	v.SetDefault("bidding.rate_per_second", 2.0)
	v.SetDefault("bidding.burst", 5)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
}

// LoadConfig reads configuration from defaults, an optional config.yaml in
// dir, a .env file and AUCTION_* environment variables, in increasing
// precedence.
func LoadConfig(dir string) (*Config, error) {
	if err := godotenv.Load(dir + "/.env"); err != nil {
		logrus.Debug("No .env file found")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.Auction.ExtensionWindow <= 0 {
		return errors.New("auction.extension_window must be positive")
	}
	if c.Auction.SweepInterval <= 0 {
		return errors.New("auction.sweep_interval must be positive")
	}
	return nil
}
