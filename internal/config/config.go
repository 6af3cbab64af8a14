// Package config defines all configuration for the market-making daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	API         APIConfig         `mapstructure:"api"`
	MM          MMDefaultsConfig  `mapstructure:"mm"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Screening   ScreeningConfig   `mapstructure:"screening"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	ControlAPI  ControlAPIConfig  `mapstructure:"control_api"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string          `mapstructure:"clob_base_url"`
	GammaBaseURL string          `mapstructure:"gamma_base_url"`
	WSMarketURL  string          `mapstructure:"ws_market_url"`
	WSUserURL    string          `mapstructure:"ws_user_url"`
	ApiKey       string          `mapstructure:"api_key"`
	Secret       string          `mapstructure:"secret"`
	Passphrase   string          `mapstructure:"passphrase"`
	RPCTimeout   time.Duration   `mapstructure:"rpc_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig tunes the per-category token buckets guarding the CLOB
// REST client (internal/exchange.RateLimiter). Each category is given as a
// burst capacity and a steady refill rate in tokens/sec; defaults mirror
// Polymarket's published 10-second window limits, but a deployment pointed
// at a different venue or a tighter API key tier can override them without
// a code change.
type RateLimitConfig struct {
	OrderBurst  float64 `mapstructure:"order_burst"`
	OrderRate   float64 `mapstructure:"order_rate"`
	CancelBurst float64 `mapstructure:"cancel_burst"`
	CancelRate  float64 `mapstructure:"cancel_rate"`
	BookBurst   float64 `mapstructure:"book_burst"`
	BookRate    float64 `mapstructure:"book_rate"`
}

// KalshiConfig holds the second venue's credentials. Populated only when
// the kalshi adapter is switched on with Enabled.
type KalshiConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	WSURL      string `mapstructure:"ws_url"`
	KeyID      string `mapstructure:"key_id"`
	PrivateKey string `mapstructure:"private_key_pem"`
}

// MMDefaultsConfig carries §6's global quoting switches and per-new-MM
// defaults (MM records override these individually once created).
type MMDefaultsConfig struct {
	Enabled              bool    `mapstructure:"mm_enabled"`
	KillSwitchActive     bool    `mapstructure:"kill_switch_active"`
	DefaultSpread        string  `mapstructure:"mm_default_spread"`
	DefaultOrderSize     string  `mapstructure:"mm_default_order_size"`
	DefaultMaxInventory  string  `mapstructure:"mm_default_max_inventory"`
	DefaultSkewFactor    float64 `mapstructure:"mm_default_skew_factor"`
	DefaultQuotingPolicy string  `mapstructure:"mm_default_quoting_policy"`
	RefreshThreshold     float64 `mapstructure:"mm_refresh_threshold"`
	MinTimeToResolution  float64 `mapstructure:"mm_min_time_to_resolution"`
	Kalshi               KalshiConfig `mapstructure:"kalshi"`
}

// QuotingPolicy parses DefaultQuotingPolicy into the mmtypes enum.
func (m MMDefaultsConfig) QuotingPolicy() mmtypes.QuotingPolicy {
	return mmtypes.QuotingPolicy(m.DefaultQuotingPolicy)
}

// ScheduleConfig holds the cron specs (robfig/cron/v3 6-field, with
// seconds) driving the scheduler's registered jobs (§4.9).
type ScheduleConfig struct {
	ScanInterval           string `mapstructure:"scan_interval"`
	MMInterval             string `mapstructure:"mm_interval"`
	SyncInterval           string `mapstructure:"sync_interval"`
	InventorySyncInterval  string `mapstructure:"inventory_sync_interval"`
	MMCandidatesInterval   string `mapstructure:"mm_candidates_interval"`
	RPCTimeout             time.Duration `mapstructure:"rpc_timeout"`
}

// ScreeningConfig sets the candidate-basket scanner's gate thresholds (§4.3).
type ScreeningConfig struct {
	MinProb        float64 `mapstructure:"min_prob"`
	MaxProb        float64 `mapstructure:"max_prob"`
	MaxSpread      float64 `mapstructure:"max_spread"`
	MinLiquidity   float64 `mapstructure:"min_liquidity"`
	MinVolume24h   float64 `mapstructure:"min_volume_24h"`
	MinQueueSpeed  float64 `mapstructure:"min_queue_speed"`
	RequireNOBook  bool    `mapstructure:"require_no_book"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// RiskConfig sets hard limits that trigger order cancellation (kill switch).
//
//   - MaxPositionPerMarket: max USD exposure in any single market.
//   - MaxGlobalExposure: max USD exposure across ALL active markets combined.
//   - MaxMarketsActive: cap on how many markets the bot trades simultaneously.
//   - KillSwitchDropPct: if price moves this % within the window, kill switch fires.
//   - KillSwitchWindowSec: time window for measuring rapid price movement.
//   - MaxDailyLoss: max combined (realized + unrealized) loss before kill switch.
//   - CooldownAfterKill: how long the kill switch stays engaged after firing.
type RiskConfig struct {
	MaxPositionPerMarket float64       `mapstructure:"max_position_per_market"`
	MaxGlobalExposure    float64       `mapstructure:"max_global_exposure"`
	MaxMarketsActive     int           `mapstructure:"max_markets_active"`
	KillSwitchDropPct    float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec  int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
}

// ScannerConfig controls how the bot discovers and filters tradeable markets.
// The scanner polls the Gamma API and ranks markets by opportunity score:
// score = spread * sqrt(volume24h) * min(liquidity/10000, 1). Screened
// candidates then pass through internal/screen for the MM-specific
// eligibility verdict before a MarketMaker record is created for them.
type ScannerConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MinLiquidity        float64       `mapstructure:"min_liquidity"`
	MinVolume24h        float64       `mapstructure:"min_volume_24h"`
	MinSpread           float64       `mapstructure:"min_spread"`
	MaxEndDateDays      int           `mapstructure:"max_end_date_days"`
	ExcludeSlugs        []string      `mapstructure:"exclude_slugs"`
	ExcludeKeywords     []string      `mapstructure:"exclude_keywords"`
	IncludeConditionIDs []string      `mapstructure:"include_condition_ids"`
	IncludeSlugs        []string      `mapstructure:"include_slugs"`
	IncludeKeywords     []string      `mapstructure:"include_keywords"`
}

// StoreConfig sets where the SQLite database file lives.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlAPIConfig controls the HTTP/WebSocket control surface (§6):
// status reads, manual full-sync trigger, reset-to-chain, and
// per-market pause/resume.
type ControlAPIConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Port              int      `mapstructure:"port"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	ConfirmationToken string   `mapstructure:"confirmation_token"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if tok := os.Getenv("POLY_CONFIRMATION_TOKEN"); tok != "" {
		cfg.ControlAPI.ConfirmationToken = tok
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if os.Getenv("POLY_KILL_SWITCH") == "true" || os.Getenv("POLY_KILL_SWITCH") == "1" {
		cfg.MM.KillSwitchActive = true
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills in cron specs and thresholds a deployer is unlikely
// to want to override per environment, so the YAML file can stay terse.
func applyDefaults(cfg *Config) {
	if cfg.Schedule.ScanInterval == "" {
		cfg.Schedule.ScanInterval = "0 0 * * * *" // hourly
	}
	if cfg.Schedule.MMInterval == "" {
		cfg.Schedule.MMInterval = "*/5 * * * * *" // every 5s, quote loop
	}
	if cfg.Schedule.SyncInterval == "" {
		cfg.Schedule.SyncInterval = "0 0 * * * *" // hourly full sync
	}
	if cfg.Schedule.InventorySyncInterval == "" {
		cfg.Schedule.InventorySyncInterval = "*/10 * * * * *" // every 10s
	}
	if cfg.Schedule.MMCandidatesInterval == "" {
		cfg.Schedule.MMCandidatesInterval = "0 0 0 * * *" // daily
	}
	if cfg.Schedule.RPCTimeout == 0 {
		cfg.Schedule.RPCTimeout = 15 * time.Second
	}
	if cfg.Screening.CacheTTL == 0 {
		cfg.Screening.CacheTTL = 36 * time.Hour
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = "predictmm.db"
	}
	if cfg.API.RateLimit.OrderBurst == 0 {
		cfg.API.RateLimit.OrderBurst = 350 // 3500 per 10s window
	}
	if cfg.API.RateLimit.OrderRate == 0 {
		cfg.API.RateLimit.OrderRate = 50
	}
	if cfg.API.RateLimit.CancelBurst == 0 {
		cfg.API.RateLimit.CancelBurst = 300 // 3000 per 10s window
	}
	if cfg.API.RateLimit.CancelRate == 0 {
		cfg.API.RateLimit.CancelRate = 30
	}
	if cfg.API.RateLimit.BookBurst == 0 {
		cfg.API.RateLimit.BookBurst = 150 // 1500 per 10s window
	}
	if cfg.API.RateLimit.BookRate == 0 {
		cfg.API.RateLimit.BookRate = 15
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	switch c.MM.QuotingPolicy() {
	case mmtypes.PolicyTouch, mmtypes.PolicyInside, mmtypes.PolicyBack,
		mmtypes.PolicyDefensive, mmtypes.PolicyTiered, mmtypes.PolicyOffsets:
	default:
		return fmt.Errorf("mm.mm_default_quoting_policy must be one of touch, inside, back, defensive, tiered, offsets")
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Risk.MaxMarketsActive <= 0 {
		return fmt.Errorf("risk.max_markets_active must be > 0")
	}
	if c.ControlAPI.Enabled && c.ControlAPI.ConfirmationToken == "" {
		return fmt.Errorf("control_api.confirmation_token is required when control_api.enabled is true (reset-to-chain guard)")
	}
	return nil
}
