// Package config handles configuration loading and validation for the header watcher.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the header-tree observer.
type Config struct {
	Networks      []Network       `mapstructure:"networks"`
	Redis         RedisConfig     `mapstructure:"redis"`
	QueryInterval time.Duration   `mapstructure:"query_interval"`
	RSSBaseURL    string          `mapstructure:"rss_base_url"`
	API           APIConfig       `mapstructure:"api"`
	MineInfo      MineConfig      `mapstructure:"mine_info"`
	Security      SecurityConfig  `mapstructure:"security"`
	Notify        NotifyConfig    `mapstructure:"notify"`
	Log           LogConfig       `mapstructure:"log"`
	NewRelic      NewRelicConfig  `mapstructure:"newrelic"`
	Profiling     ProfilingConfig `mapstructure:"profiling"`
}

// NetworkType enumerates the kind of chain a Network represents.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
	NetworkSignet  NetworkType = "signet"
	NetworkRegtest NetworkType = "regtest"
)

// Network describes one observed chain and its RPC peers.
type Network struct {
	ID                    uint32      `mapstructure:"id"`
	Name                  string      `mapstructure:"name"`
	Description           string      `mapstructure:"description"`
	NetworkType           NetworkType `mapstructure:"network_type"`
	FirstTrackedHeight    uint64      `mapstructure:"first_tracked_height"`
	MaxInterestingHeights int         `mapstructure:"max_interesting_heights"`
	MinForkHeight         uint64      `mapstructure:"min_fork_height"`
	Nodes                 []NodeConfig `mapstructure:"nodes"`
}

// NodeConfig describes one RPC-accessible peer believed to serve a Network.
type NodeConfig struct {
	ID             uint32        `mapstructure:"id"`
	Name           string        `mapstructure:"name"`
	Description    string        `mapstructure:"description"`
	Implementation string        `mapstructure:"implementation"`
	URL            string        `mapstructure:"url"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RedisConfig defines the durable header-store connection settings.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig defines HTTP/SSE/RSS server settings.
type APIConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Bind        string   `mapstructure:"bind"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// MineConfig defines the regtest mine-block helper settings.
type MineConfig struct {
	CLIPath    string `mapstructure:"cli_path"`
	WalletName string `mapstructure:"wallet_name"`
}

// SecurityConfig guards the mine-block endpoint against abuse.
type SecurityConfig struct {
	RateLimitEnabled bool          `mapstructure:"rate_limit_enabled"`
	MineRateLimit    int32         `mapstructure:"mine_rate_limit"`
	BanDuration      time.Duration `mapstructure:"ban_duration"`
}

// NotifyConfig configures optional webhook notifications on miner classification.
type NotifyConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	DiscordURL   string   `mapstructure:"discord_url"`
	TelegramBot  string   `mapstructure:"telegram_bot"`
	TelegramChat string   `mapstructure:"telegram_chat"`
	WatchedPools []string `mapstructure:"watched_pools"`
}

// NewRelicConfig configures optional New Relic APM integration.
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// ProfilingConfig configures the optional pprof debug server.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tos-headerwatch")
	}

	v.SetEnvPrefix("HEADERWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.url", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("query_interval", "30s")
	v.SetDefault("rss_base_url", "http://127.0.0.1:8080")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("mine_info.cli_path", "bitcoin-cli")
	v.SetDefault("mine_info.wallet_name", "miner")

	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.mine_rate_limit", 5)
	v.SetDefault("security.ban_duration", "10m")

	v.SetDefault("notify.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "tos-headerwatch")

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	seenIDs := make(map[uint32]bool)
	for _, n := range c.Networks {
		if seenIDs[n.ID] {
			return fmt.Errorf("duplicate network id %d", n.ID)
		}
		seenIDs[n.ID] = true

		if n.Name == "" {
			return fmt.Errorf("network %d: name is required", n.ID)
		}
		if len(n.Nodes) == 0 {
			return fmt.Errorf("network %d: at least one node is required", n.ID)
		}
		if n.MaxInterestingHeights < 0 {
			return fmt.Errorf("network %d: max_interesting_heights must be >= 0", n.ID)
		}
		for _, node := range n.Nodes {
			if node.URL == "" {
				return fmt.Errorf("network %d, node %d: url is required", n.ID, node.ID)
			}
		}
	}

	if c.QueryInterval <= 0 {
		return fmt.Errorf("query_interval must be positive")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}

	return nil
}

// IsRegtest reports whether a network is the mineable regtest type.
func (n *Network) IsRegtest() bool {
	return n.NetworkType == NetworkRegtest
}
