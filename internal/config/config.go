// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"deposit-service/internal/chains"
	"deposit-service/internal/security"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultUSDT = "0x55d398326f99059ff775485246999027b3197955" // BSC USDT

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Wallet  WalletConfig
	EVM     EVMConfig
	Pricing PricingConfig
	Watch   WatchConfig
	Auth    AuthConfig
	Sweep   SweepConfig
	Audit   AuditConfig
	Log     LogConfig
}

type ServerConfig struct {
	HTTPAddr       string
	GRPCPort       int
	AllowedOrigins []string
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
}

type StoreConfig struct {
	Driver      string // "postgres" or "memory"
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	Migrate     bool
	DevUsers    []string // seeded at startup
}

type RedisConfig struct {
	Addrs      []string // empty disables redis
	Password   string
	UseCluster bool
}

type KafkaConfig struct {
	Brokers []string // empty disables event publishing
	Topic   string
}

type WalletConfig struct {
	Mnemonic       string
	CustodyAddress string
	AssetClass     string
	MaxRetries     int
}

type ChainConfig struct {
	ChainID string
	RPCURL  string
}

type TokenConfig struct {
	ChainID  string
	Contract string
	Symbol   string
	Decimals int
}

type EVMConfig struct {
	Chains          []ChainConfig
	Tokens          []TokenConfig
	MaxGasPriceGwei int64 // 0 disables the cap
	RPCTimeout      time.Duration
}

type PricingConfig struct {
	PriceAPIURL     string
	FXAPIURL        string // empty: always use FallbackFXRate
	LocalCurrency   string
	FallbackFXRate  decimal.Decimal
	StableContracts []string
	Overrides       map[string]decimal.Decimal
	CacheTTL        time.Duration
	Timeout         time.Duration
	RatePolicy      string // "pending" or "confirmation"
}

type WatchConfig struct {
	BaseURL  string
	APIKey   string // empty disables registration
	StreamID string
	Timeout  time.Duration
}

type AuthConfig struct {
	JWTSecret     string
	WebhookSecret string
	RateLimit     int
	RateWindow    time.Duration
	RateBlock     time.Duration

	// WebhookInsecure accepts unsigned webhooks. Local development only.
	WebhookInsecure bool
}

type SweepConfig struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	FeeMultiplier decimal.Decimal
	BufferPercent decimal.Decimal
	Timeout       time.Duration
}

type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
	Resweep  bool
}

type LogConfig struct {
	Level       string
	File        string
	Development bool
}

func Load(logger *zap.Logger) (*Config, error) {
	// ============================================================================
	// Wallet Configuration
	// ============================================================================
	mnemonic, err := loadMnemonic()
	if err != nil {
		return nil, err
	}

	custody := strings.TrimSpace(os.Getenv("CUSTODY_ADDRESS"))
	if custody != "" && !common.IsHexAddress(custody) {
		return nil, fmt.Errorf("CUSTODY_ADDRESS %q is not a valid address", custody)
	}

	// ============================================================================
	// Store Configuration
	// ============================================================================
	driver := strings.ToLower(getEnv("STORE_DRIVER", "postgres"))
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" && os.Getenv("DB_HOST") != "" {
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			getEnv("DB_PORT", "5432"),
			os.Getenv("DB_NAME"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	switch driver {
	case "postgres":
		if dbURL == "" {
			return nil, fmt.Errorf("STORE_DRIVER=postgres needs DATABASE_URL or DB_HOST")
		}
	case "memory":
		logger.Warn("using in-memory store; state is lost on restart")
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}

	// ============================================================================
	// EVM Configuration
	// ============================================================================
	evmChains, err := parseChains(getEnv("EVM_RPC_URLS", ""))
	if err != nil {
		return nil, err
	}
	tokens, err := parseTokens(getEnv("TOKEN_CONTRACTS", "0x38:"+defaultUSDT+":USDT:18"))
	if err != nil {
		return nil, err
	}

	// ============================================================================
	// Pricing Configuration
	// ============================================================================
	fallbackFX, err := getEnvAsDecimal("FX_RATE_FALLBACK", decimal.NewFromInt(1650))
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(getEnv("PRICE_OVERRIDES", ""))
	if err != nil {
		return nil, err
	}
	ratePolicy := strings.ToLower(getEnv("RATE_POLICY", "pending"))
	if ratePolicy != "pending" && ratePolicy != "confirmation" {
		return nil, fmt.Errorf("RATE_POLICY must be pending or confirmation, got %q", ratePolicy)
	}

	// ============================================================================
	// Sweep Configuration
	// ============================================================================
	feeMultiplier, err := getEnvAsDecimal("FEE_MULTIPLIER", decimal.NewFromFloat(1.5))
	if err != nil {
		return nil, err
	}
	bufferPercent, err := getEnvAsDecimal("BUFFER_PERCENT", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	sweepEnabled := getEnvAsBool("SWEEP_ENABLED", true)
	if sweepEnabled && custody == "" {
		logger.Warn("CUSTODY_ADDRESS not set, sweeps disabled")
		sweepEnabled = false
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			GRPCPort:       getEnvAsInt("GRPC_PORT", 9090),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
			ShutdownGrace:  getEnvAsDuration("SHUTDOWN_GRACE", 15*time.Second),
		},
		Store: StoreConfig{
			Driver:      driver,
			DatabaseURL: dbURL,
			MaxConns:    int32(getEnvAsInt("DB_MAX_CONNS", 50)),
			MinConns:    int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			Migrate:     getEnvAsBool("DB_MIGRATE", true),
			DevUsers:    getEnvAsList("DEV_USERS", nil),
		},
		Redis: RedisConfig{
			Addrs:      getEnvAsList("REDIS_ADDRS", nil),
			Password:   os.Getenv("REDIS_PASSWORD"),
			UseCluster: getEnvAsBool("REDIS_CLUSTER", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "deposit.events"),
		},
		Wallet: WalletConfig{
			Mnemonic:       mnemonic,
			CustodyAddress: strings.ToLower(custody),
			AssetClass:     getEnv("ASSET_CLASS", "EVM"),
			MaxRetries:     getEnvAsInt("ASSIGN_MAX_RETRIES", 5),
		},
		EVM: EVMConfig{
			Chains:          evmChains,
			Tokens:          tokens,
			MaxGasPriceGwei: getEnvAsInt64("EVM_MAX_GAS_PRICE_GWEI", 0),
			RPCTimeout:      getEnvAsDuration("EVM_RPC_TIMEOUT", 15*time.Second),
		},
		Pricing: PricingConfig{
			PriceAPIURL:     getEnv("PRICE_API_URL", "https://api.coinlore.net/api/tickers/"),
			FXAPIURL:        getEnv("FX_API_URL", ""),
			LocalCurrency:   strings.ToUpper(getEnv("LOCAL_CURRENCY", "NGN")),
			FallbackFXRate:  fallbackFX,
			StableContracts: getEnvAsList("STABLE_CONTRACTS", []string{defaultUSDT}),
			Overrides:       overrides,
			CacheTTL:        getEnvAsDuration("PRICE_CACHE_TTL", time.Minute),
			Timeout:         getEnvAsDuration("PRICE_API_TIMEOUT", 10*time.Second),
			RatePolicy:      ratePolicy,
		},
		Watch: WatchConfig{
			BaseURL:  getEnv("MORALIS_API_URL", "https://api.moralis-streams.com"),
			APIKey:   os.Getenv("MORALIS_API_KEY"),
			StreamID: os.Getenv("MORALIS_STREAM_ID"),
			Timeout:  getEnvAsDuration("MORALIS_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
			WebhookInsecure: getEnvAsBool("WEBHOOK_INSECURE", false),
			RateLimit:       getEnvAsInt("RATE_LIMIT", 30),
			RateWindow:      getEnvAsDuration("RATE_WINDOW", time.Minute),
			RateBlock:       getEnvAsDuration("RATE_BLOCK", 5*time.Minute),
		},
		Sweep: SweepConfig{
			Enabled:       sweepEnabled,
			Workers:       getEnvAsInt("SWEEP_WORKERS", 4),
			QueueSize:     getEnvAsInt("SWEEP_QUEUE", 256),
			FeeMultiplier: feeMultiplier,
			BufferPercent: bufferPercent,
			Timeout:       getEnvAsDuration("SWEEP_TIMEOUT", 2*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:  getEnvAsBool("AUDIT_ENABLED", true),
			Interval: getEnvAsDuration("AUDIT_INTERVAL", 15*time.Minute),
			Resweep:  getEnvAsBool("AUDIT_RESWEEP", false),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			File:        os.Getenv("LOG_FILE"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if cfg.Watch.APIKey != "" && cfg.Watch.StreamID == "" {
		return nil, fmt.Errorf("MORALIS_STREAM_ID is required when MORALIS_API_KEY is set")
	}
	if cfg.Auth.WebhookSecret == "" {
		if !cfg.Auth.WebhookInsecure {
			return nil, fmt.Errorf("WEBHOOK_SECRET is required (set WEBHOOK_INSECURE=true to accept unsigned webhooks)")
		}
		logger.Warn("WEBHOOK_INSECURE set, webhook signatures are not verified")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, client API is unauthenticated")
	}

	return cfg, nil
}

// ============================================================================
// Parsers
// ============================================================================

// loadMnemonic prefers a sealed phrase (HD_WALLET_PHRASE_SEALED opened with
// WALLET_MASTER_KEY) over the plain HD_WALLET_PHRASE.
func loadMnemonic() (string, error) {
	if sealed := strings.TrimSpace(os.Getenv("HD_WALLET_PHRASE_SEALED")); sealed != "" {
		sealer, err := security.NewSealer(os.Getenv("WALLET_MASTER_KEY"))
		if err != nil {
			return "", fmt.Errorf("WALLET_MASTER_KEY: %w", err)
		}
		phrase, err := sealer.Open(sealed)
		if err != nil {
			return "", fmt.Errorf("HD_WALLET_PHRASE_SEALED: %w", err)
		}
		return strings.TrimSpace(phrase), nil
	}

	phrase := strings.TrimSpace(os.Getenv("HD_WALLET_PHRASE"))
	if phrase == "" {
		return "", fmt.Errorf("HD_WALLET_PHRASE or HD_WALLET_PHRASE_SEALED is required")
	}
	return phrase, nil
}

// parseChains reads "chainId=url,chainId=url". Chain ids may be hex or
// decimal and must be known networks.
func parseChains(raw string) ([]ChainConfig, error) {
	var out []ChainConfig
	for _, part := range splitList(raw) {
		id, url, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("EVM_RPC_URLS entry %q: want chainId=url", part)
		}
		info, known := chains.LookupNetwork(id)
		if !known {
			return nil, fmt.Errorf("EVM_RPC_URLS entry %q: unknown chain id", part)
		}
		out = append(out, ChainConfig{ChainID: info.ChainID, RPCURL: strings.TrimSpace(url)})
	}
	return out, nil
}

// parseTokens reads "chainId:contract:symbol:decimals,...".
func parseTokens(raw string) ([]TokenConfig, error) {
	var out []TokenConfig
	for _, part := range splitList(raw) {
		fields := strings.Split(part, ":")
		if len(fields) != 4 {
			return nil, fmt.Errorf("TOKEN_CONTRACTS entry %q: want chainId:contract:symbol:decimals", part)
		}
		if !common.IsHexAddress(fields[1]) {
			return nil, fmt.Errorf("TOKEN_CONTRACTS entry %q: bad contract address", part)
		}
		decimals, err := strconv.Atoi(fields[3])
		if err != nil || decimals < 0 || decimals > 77 {
			return nil, fmt.Errorf("TOKEN_CONTRACTS entry %q: bad decimals", part)
		}
		out = append(out, TokenConfig{
			ChainID:  chains.NormalizeChainID(fields[0]),
			Contract: strings.ToLower(fields[1]),
			Symbol:   strings.ToUpper(fields[2]),
			Decimals: decimals,
		})
	}
	return out, nil
}

// parseOverrides reads "SYMBOL=price,...".
func parseOverrides(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range splitList(raw) {
		sym, price, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("PRICE_OVERRIDES entry %q: want SYMBOL=price", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("PRICE_OVERRIDES entry %q: bad price", part)
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = p
	}
	return out, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	values := splitList(os.Getenv(key))
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
