package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/tradeguard/internal/logger"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/reputation"
	"github.com/punchamoorthee/tradeguard/internal/service"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DBDriver       string        `yaml:"db_driver" env:"DB_DRIVER"`
	DBSource       string        `yaml:"db_source" env:"DB_SOURCE"`
	Port           string        `yaml:"port" env:"SERVER_PORT"`
	Env            string        `yaml:"environment" env:"ENVIRONMENT"`
	JWTSecret      string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	WorkerInterval time.Duration `yaml:"worker_interval" env:"WORKER_INTERVAL"`

	Log        logger.Config           `yaml:"log" envPrefix:"LOG_"`
	Reputation reputation.ClientConfig `yaml:"reputation" envPrefix:"REPUTATION_"`
	Policy     PolicyConfig            `yaml:"policy"`
}

// PolicyConfig holds the money rules. Rates stay strings until Settings
// parses them as decimals.
type PolicyConfig struct {
	PlatformFeeRate      string                   `yaml:"platform_fee_rate" env:"PLATFORM_FEE_RATE"`
	BoostCancelRetention string                   `yaml:"boost_cancel_retention" env:"BOOST_CANCEL_RETENTION"`
	MinWithdrawal        int64                    `yaml:"min_withdrawal" env:"MIN_WITHDRAWAL"`
	HoldTTL              time.Duration            `yaml:"hold_ttl" env:"HOLD_TTL"`
	Release              policy.ReleaseThresholds `yaml:"release" envPrefix:"RELEASE_"`
}

func Default() Config {
	return Config{
		DBDriver:       DriverPostgres,
		Port:           "8080",
		Env:            "development",
		WorkerInterval: 30 * time.Second,
		Log: logger.Config{
			Level:      "info",
			TimeFormat: time.RFC3339,
		},
		Reputation: reputation.ClientConfig{
			Timeout:    2 * time.Second,
			MaxRetries: 2,
			RetryDelay: 100 * time.Millisecond,
		},
		Policy: PolicyConfig{
			PlatformFeeRate:      policy.DefaultFeeRate.String(),
			BoostCancelRetention: policy.DefaultCancellationRetention.String(),
			MinWithdrawal:        100,
			HoldTTL:              7 * 24 * time.Hour,
			Release:              policy.DefaultThresholds,
		},
	}
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE,
// then the environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(os.Getenv("CONFIG_FILE"))
}

func load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}
	if c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if c.Policy.MinWithdrawal <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	if c.Policy.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	return nil
}

// Settings converts the policy section into service settings.
func (c *Config) Settings() (service.Settings, error) {
	s := service.DefaultSettings()

	rate, err := decimal.NewFromString(c.Policy.PlatformFeeRate)
	if err != nil {
		return s, fmt.Errorf("PLATFORM_FEE_RATE: %w", err)
	}
	fees, err := policy.NewFeeSchedule(rate)
	if err != nil {
		return s, fmt.Errorf("PLATFORM_FEE_RATE: %w", err)
	}
	retention, err := decimal.NewFromString(c.Policy.BoostCancelRetention)
	if err != nil {
		return s, fmt.Errorf("BOOST_CANCEL_RETENTION: %w", err)
	}
	if retention.IsNegative() || retention.GreaterThan(decimal.NewFromInt(1)) {
		return s, fmt.Errorf("BOOST_CANCEL_RETENTION %s out of range [0,1]", retention)
	}

	s.Fees = fees
	s.Refunds = policy.RefundPolicy{CancellationRetention: retention}
	s.Thresholds = c.Policy.Release
	s.HoldTTL = c.Policy.HoldTTL
	s.MinWithdrawal = c.Policy.MinWithdrawal
	return s, nil
}
