package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full settlement engine configuration.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ChainConfig holds RPC and wallet settings for the execution chain.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	PrivateKey    string `yaml:"-"` // only from env, never from YAML
	ChainID       int64  `yaml:"chain_id"`
	ReceiptWaitS  int    `yaml:"receipt_wait_seconds"`
	ReceiptPollMS int    `yaml:"receipt_poll_ms"`
}

// ExchangeConfig contains the CLOB and Gamma base URLs.
type ExchangeConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	FillWaitS int    `yaml:"fill_wait_seconds"`
	FillPollS int    `yaml:"fill_poll_seconds"`
}

// BridgeConfig controls the Across corridor and the swap leg.
type BridgeConfig struct {
	APIBase           string  `yaml:"api_base"`
	DestinationChain  int64   `yaml:"destination_chain"`
	FillDeadlineHours int     `yaml:"fill_deadline_hours"`
	SlippagePct       float64 `yaml:"slippage_pct"`
}

// EngineConfig holds the hand-tuned trading policy values. These are
// documented policy, not invariants. Adjust with calibration data.
type EngineConfig struct {
	PriceDeviationPct   float64 `yaml:"price_deviation_pct"`   // sanity band vs best opposing price
	LevelTolerancePct   float64 `yaml:"level_tolerance_pct"`   // book levels beyond this band are discarded
	MinOrderUSDC        float64 `yaml:"min_order_usdc"`        // floor of the minimum-size policy
	MinOrderTokens      float64 `yaml:"min_order_tokens"`      // token leg of the minimum-size policy
	BalanceRetries      int     `yaml:"balance_retries"`       // allowance propagation re-checks
	BalanceRetryDelayS  int     `yaml:"balance_retry_delay_s"`
	ResolutionIntervalS int     `yaml:"resolution_interval_s"`
}

// StorageConfig controls where the ledger is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present.
// Env values override YAML for the keys that map to secrets or deployment.
func Load(path string) (*Config, error) {
	// Load .env if present (silently skip if missing)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if cfg.Chain.PrivateKey == "" {
		return nil, fmt.Errorf("config.Load: PRIVATE_KEY is required")
	}

	return &cfg, nil
}

// ResolutionInterval returns how often the resolution driver runs.
func (c *Config) ResolutionInterval() time.Duration {
	return time.Duration(c.Engine.ResolutionIntervalS) * time.Second
}

// ReceiptWait returns the per-transaction confirmation timeout.
func (c *ChainConfig) ReceiptWait() time.Duration {
	return time.Duration(c.ReceiptWaitS) * time.Second
}

// FillDeadline returns the Across fill deadline horizon.
func (c *BridgeConfig) FillDeadline() time.Duration {
	return time.Duration(c.FillDeadlineHours) * time.Hour
}

// applyEnvOverrides pulls secrets and deployment overrides from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("LEDGER_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults ensures every knob has a sane production value.
func setDefaults(cfg *Config) {
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 137
	}
	if cfg.Chain.ReceiptWaitS <= 0 {
		cfg.Chain.ReceiptWaitS = 60
	}
	if cfg.Chain.ReceiptPollMS <= 0 {
		cfg.Chain.ReceiptPollMS = 3000
	}
	if cfg.Exchange.CLOBBase == "" {
		cfg.Exchange.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.Exchange.GammaBase == "" {
		cfg.Exchange.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Exchange.FillWaitS <= 0 {
		cfg.Exchange.FillWaitS = 60
	}
	if cfg.Exchange.FillPollS <= 0 {
		cfg.Exchange.FillPollS = 2
	}
	if cfg.Bridge.APIBase == "" {
		cfg.Bridge.APIBase = "https://app.across.to/api"
	}
	if cfg.Bridge.DestinationChain == 0 {
		cfg.Bridge.DestinationChain = 10 // Optimism
	}
	if cfg.Bridge.FillDeadlineHours <= 0 {
		cfg.Bridge.FillDeadlineHours = 5
	}
	if cfg.Bridge.SlippagePct == 0 {
		cfg.Bridge.SlippagePct = 0.5
	}
	if cfg.Engine.PriceDeviationPct <= 0 {
		cfg.Engine.PriceDeviationPct = 0.01
	}
	if cfg.Engine.LevelTolerancePct <= 0 {
		cfg.Engine.LevelTolerancePct = 0.01
	}
	if cfg.Engine.MinOrderUSDC <= 0 {
		cfg.Engine.MinOrderUSDC = 1
	}
	if cfg.Engine.MinOrderTokens <= 0 {
		cfg.Engine.MinOrderTokens = 5
	}
	if cfg.Engine.BalanceRetries <= 0 {
		cfg.Engine.BalanceRetries = 3
	}
	if cfg.Engine.BalanceRetryDelayS <= 0 {
		cfg.Engine.BalanceRetryDelayS = 2
	}
	if cfg.Engine.ResolutionIntervalS <= 0 {
		cfg.Engine.ResolutionIntervalS = 300
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "settlement.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
