package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crypto-terminal/internal/common"
)

type ExchangeConfig struct {
	RestURL      string `yaml:"rest_url"`
	RecvWindowMs int    `yaml:"recv_window_ms"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

type IntervalConfig struct {
	TickersSec  int `yaml:"tickers_sec"`
	OHLCVSec    int `yaml:"ohlcv_sec"`
	BalancesSec int `yaml:"balances_sec"`
}

type ChartConfig struct {
	Timeframe string `yaml:"timeframe"`
	Limit     int    `yaml:"limit"`
	Lookback  int    `yaml:"lookback"`
}

type NATSConfig struct {
	Servers       []string `yaml:"servers"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	ClientName    string   `yaml:"client_name"`
}

type FeedConfig struct {
	GRPCPort int        `yaml:"grpc_port"`
	HTTPPort int        `yaml:"http_port"`
	NATS     NATSConfig `yaml:"nats"`
}

type Config struct {
	ClientVersion string         `yaml:"client_version"`
	BackendURL    string         `yaml:"backend_url"`
	Exchange      ExchangeConfig `yaml:"exchange"`
	Intervals     IntervalConfig `yaml:"intervals"`
	Chart         ChartConfig    `yaml:"chart"`
	MaxCoins      int            `yaml:"max_coins"`
	LogLevel      string         `yaml:"log_level"`
	Feed          FeedConfig     `yaml:"feed"`
}

// Default returns the configuration used when no config source is present.
func Default() *Config {
	return &Config{
		ClientVersion: common.DefaultClientVersion,
		BackendURL:    common.DefaultBackendURL,
		Exchange: ExchangeConfig{
			RestURL:      common.DefaultExchangeURL,
			RecvWindowMs: common.DefaultRecvWindowMs,
			TimeoutSec:   common.DefaultExchangeTimeoutSec,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the YAML file at path and applies .env and environment
// overrides. A missing file is not an error: defaults are used instead.
func LoadConfig(path, envPath string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config '%s': %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config '%s': %w", path, err)
	}

	if envPath != "" {
		// Existing environment variables win over the .env file.
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file '%s': %w", envPath, err)
		}
	}
	config.applyEnv()

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(common.EnvClientVersion); v != "" {
		c.ClientVersion = v
	}
	if v := os.Getenv(common.EnvBackendURL); v != "" {
		c.BackendURL = v
	}
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func (c *Config) GetTickerInterval() time.Duration {
	return seconds(c.Intervals.TickersSec, common.DefaultTickerIntervalSec)
}

func (c *Config) GetOHLCVInterval() time.Duration {
	return seconds(c.Intervals.OHLCVSec, common.DefaultOHLCVIntervalSec)
}

func (c *Config) GetBalanceInterval() time.Duration {
	return seconds(c.Intervals.BalancesSec, common.DefaultBalanceIntervalSec)
}

func (c *Config) GetExchangeTimeout() time.Duration {
	return seconds(c.Exchange.TimeoutSec, common.DefaultExchangeTimeoutSec)
}

func (c *Config) GetExchangeURL() string {
	if c.Exchange.RestURL == "" {
		return common.DefaultExchangeURL
	}
	return c.Exchange.RestURL
}

func (c *Config) GetRecvWindowMs() int {
	if c.Exchange.RecvWindowMs <= 0 {
		return common.DefaultRecvWindowMs
	}
	return c.Exchange.RecvWindowMs
}

func (c *Config) GetTimeframe() string {
	if c.Chart.Timeframe == "" {
		return common.DefaultOHLCVTimeframe
	}
	return c.Chart.Timeframe
}

func (c *Config) GetCandleLimit() int {
	if c.Chart.Limit <= 0 {
		return common.DefaultOHLCVLimit
	}
	return c.Chart.Limit
}

func (c *Config) GetLookback() int {
	if c.Chart.Lookback <= 0 {
		return common.DefaultPredictionLookback
	}
	return c.Chart.Lookback
}

func (c *Config) GetMaxCoins() int {
	if c.MaxCoins <= 0 {
		return common.MaxCoinsToDisplay
	}
	return c.MaxCoins
}

func (c *Config) GetNATSSubjectPrefix() string {
	if c.Feed.NATS.SubjectPrefix == "" {
		return "terminal"
	}
	return c.Feed.NATS.SubjectPrefix
}
