// Package config loads agent settings from a YAML file, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/network"
	"github.com/phenomenon0/injective-agents/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. INJECTIVE_NETWORK.
const EnvPrefix = "INJECTIVE"

type Config struct {
	Network   string          `mapstructure:"network"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Markets   MarketsConfig   `mapstructure:"markets"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Logging   logger.Config   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

type WalletConfig struct {
	PrivateKey   string `mapstructure:"private_key"`
	FeeRecipient string `mapstructure:"fee_recipient"`
}

type OrdersConfig struct {
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
}

// PaperConfig switches broadcasting to the simulated exchange.
// InitialBalance is in USDT.
type PaperConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Mode           string  `mapstructure:"mode"` // simple or realistic
	InitialBalance float64 `mapstructure:"initial_balance"`
	MakerFeeRate   float64 `mapstructure:"maker_fee_rate"`
	TakerFeeRate   float64 `mapstructure:"taker_fee_rate"`
}

type EndpointsConfig struct {
	Mainnet network.Endpoints `mapstructure:"mainnet"`
	Testnet network.Endpoints `mapstructure:"testnet"`
}

// For returns the endpoints configured for net.
func (e EndpointsConfig) For(net network.Network) network.Endpoints {
	if net.IsTestnet() {
		return e.Testnet
	}
	return e.Mainnet
}

type IndexerConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Retries   int           `mapstructure:"retries"`
}

type RelayConfig struct {
	AuthType string `mapstructure:"auth_type"` // none, hmac or jwt
	APIKey   string `mapstructure:"api_key"`
	Secret   string `mapstructure:"secret"`
	// JWT auth
	KeyName       string `mapstructure:"key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

type MarketsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PolicyConfig holds pre-trade limits in USDT. Zero disables a limit.
type PolicyConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	MaxOrderNotional    float64  `mapstructure:"max_order_notional"`
	MinOrderNotional    float64  `mapstructure:"min_order_notional"`
	MaxLeverage         float64  `mapstructure:"max_leverage"`
	MaxSlippage         float64  `mapstructure:"max_slippage"` // fraction
	MaxPositionNotional float64  `mapstructure:"max_position_notional"`
	MaxDailyOrders      int      `mapstructure:"max_daily_orders"`
	MaxDailyNotional    float64  `mapstructure:"max_daily_notional"`
	AllowedMarkets      []string `mapstructure:"allowed_markets"`
	BlockedMarkets      []string `mapstructure:"blocked_markets"`

	GeoCheck         bool     `mapstructure:"geo_check"`
	BlockedCountries []string `mapstructure:"blocked_countries"`
}

type ServerConfig struct {
	Addr      string        `mapstructure:"addr"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Load reads .env, then configPath (or config.yaml in the usual places),
// then INJECTIVE_* environment variables.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/injective-agents")
	}

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", string(network.Mainnet))

	// Wallet
	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.fee_recipient", "")

	// Orders
	v.SetDefault("orders.client_id_prefix", "injective-agent-kit")

	// Paper trading
	v.SetDefault("paper.enabled", false)
	v.SetDefault("paper.mode", "simple")
	v.SetDefault("paper.initial_balance", 10000.0)
	v.SetDefault("paper.maker_fee_rate", 0.0)
	v.SetDefault("paper.taker_fee_rate", 0.0005)

	// Endpoints
	for _, n := range network.All() {
		key := "endpoints." + strings.ToLower(n.String())
		v.SetDefault(key+".indexer", n.DefaultEndpoints().Indexer)
		v.SetDefault(key+".relay", "")
	}

	// Indexer client
	v.SetDefault("indexer.timeout", 10*time.Second)
	v.SetDefault("indexer.rate_limit", 10.0)
	v.SetDefault("indexer.burst", 5)
	v.SetDefault("indexer.retries", 2)

	// Relay
	v.SetDefault("relay.auth_type", "none")
	v.SetDefault("relay.api_key", "")
	v.SetDefault("relay.secret", "")
	v.SetDefault("relay.key_name", "")
	v.SetDefault("relay.private_key_pem", "")

	// Markets
	v.SetDefault("markets.cache_ttl", time.Minute)

	// Policy
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.max_order_notional", 10000.0)
	v.SetDefault("policy.min_order_notional", 1.0)
	v.SetDefault("policy.max_leverage", 10.0)
	v.SetDefault("policy.max_slippage", 0.02)
	v.SetDefault("policy.max_position_notional", 25000.0)
	v.SetDefault("policy.max_daily_orders", 200)
	v.SetDefault("policy.max_daily_notional", 100000.0)
	v.SetDefault("policy.allowed_markets", []string{})
	v.SetDefault("policy.blocked_markets", []string{})
	v.SetDefault("policy.geo_check", false)
	v.SetDefault("policy.blocked_countries", []string{})

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)

	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.heartbeat", 30*time.Second)
}

// overrideFromEnv accepts the bare PRIVATE_KEY variable used by other agent
// kits when no prefixed key is set.
func overrideFromEnv(config *Config) {
	if config.Wallet.PrivateKey == "" {
		if key := os.Getenv("PRIVATE_KEY"); key != "" {
			config.Wallet.PrivateKey = key
		}
	}
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	if _, err := network.Parse(c.Network); err != nil {
		return err
	}
	switch strings.ToLower(c.Paper.Mode) {
	case "", "simple", "realistic":
	default:
		return fmt.Errorf("unknown paper mode %q (want simple or realistic)", c.Paper.Mode)
	}
	switch strings.ToLower(c.Relay.AuthType) {
	case "", "none", "hmac", "jwt":
	default:
		return fmt.Errorf("unknown relay auth type %q (want none, hmac or jwt)", c.Relay.AuthType)
	}
	if c.Policy.MaxSlippage < 0 || c.Policy.MaxSlippage > 1 {
		return fmt.Errorf("policy.max_slippage must be a fraction between 0 and 1")
	}
	return nil
}

// NetworkID returns the parsed network. Call after Validate.
func (c *Config) NetworkID() network.Network {
	n, _ := network.Parse(c.Network)
	return n
}
