package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Sizing struct {
	// Debounce is the quiet window applied to free-text amount edits before
	// a recomputation starts. "Use max" is never debounced.
	Debounce  time.Duration
	Precision int32 // fractional digits of the displayed amount
}

type Matching struct {
	// PushInterval spaces consecutive order pushes to the relay.
	// The relay accepts at most 2 requests/second per client, hence 501ms.
	PushInterval time.Duration
	Decimals     int32
	OrderExpiry  time.Duration
	Pair         string
	RelayURL     string

	// LastResortTaker takes the remainder when a book row carries no
	// available quantity.
	LastResortTaker string
	WETHToken       string
	ZRXToken        string
	Exchange        string
	ERC20Proxy      string
}

type Chain struct {
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	Path string
}

type Cache struct {
	RedisAddr     string // empty disables the price cache
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type Events struct {
	NATSURL string // empty keeps provider notifications in-process
	Subject string
}

type Provider struct {
	BaseURL string
	Timeout time.Duration
}

type Config struct {
	Sizing   Sizing
	Matching Matching
	Chain    Chain
	API      API
	Storage  Storage
	Cache    Cache
	Events   Events
	Provider Provider
	LogFile  string
	LogLevel string
}

func Default() Config {
	return Config{
		Sizing: Sizing{
			Debounce:  500 * time.Millisecond,
			Precision: 6,
		},
		Matching: Matching{
			PushInterval:    501 * time.Millisecond,
			Decimals:        18,
			OrderExpiry:     7 * 24 * time.Hour,
			Pair:            "ZRX-WETH",
			RelayURL:        "https://api.radarrelay.com",
			LastResortTaker: "0xf6fecd318228f018ac5d50e2b7e05c60267bd4cd",
			WETHToken:       "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			ZRXToken:        "0xe41d2489571d322189246dafa5ebde1f4699f498",
			Exchange:        "0x4f833a24e1f95d70f028921e27040ca56e09ab0b",
			ERC20Proxy:      "0x2240dab907db71e64d3e0dba4800c83b5c502d4e",
		},
		Chain: Chain{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{Path: "data/runs"},
		Cache:   Cache{TTL: 5 * time.Second},
		Events:  Events{Subject: "provider.changed"},
		Provider: Provider{
			BaseURL: "http://localhost:9090",
			Timeout: 10 * time.Second,
		},
		LogFile:  "data/tradeform.log",
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Sizing.Debounce = getDurationMs("SIZING_DEBOUNCE_MS", cfg.Sizing.Debounce)
	if p := os.Getenv("SIZING_PRECISION"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n >= 0 {
			cfg.Sizing.Precision = int32(n)
		}
	}

	cfg.Matching.PushInterval = getDurationMs("MATCHING_PUSH_INTERVAL_MS", cfg.Matching.PushInterval)
	cfg.Matching.OrderExpiry = getDurationMs("MATCHING_ORDER_EXPIRY_MS", cfg.Matching.OrderExpiry)
	cfg.Matching.Pair = getEnv("MATCHING_PAIR", cfg.Matching.Pair)
	cfg.Matching.RelayURL = getEnv("RELAY_URL", cfg.Matching.RelayURL)
	cfg.Matching.LastResortTaker = getEnv("MATCHING_LAST_RESORT_TAKER", cfg.Matching.LastResortTaker)
	cfg.Matching.WETHToken = getEnv("WETH_TOKEN", cfg.Matching.WETHToken)
	cfg.Matching.ZRXToken = getEnv("ZRX_TOKEN", cfg.Matching.ZRXToken)
	cfg.Matching.Exchange = getEnv("ZEROEX_EXCHANGE", cfg.Matching.Exchange)
	cfg.Matching.ERC20Proxy = getEnv("ZEROEX_ERC20_PROXY", cfg.Matching.ERC20Proxy)

	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", cfg.Chain.RPCURL)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
	}
	cfg.Chain.PrivateKeyHex = strings.TrimPrefix(os.Getenv("SIGNER_PRIVATE_KEY"), "0x")

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.Storage.Path = getEnv("STORAGE_PATH", cfg.Storage.Path)

	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = n
		}
	}
	cfg.Cache.TTL = getDurationMs("CACHE_TTL_MS", cfg.Cache.TTL)

	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.Events.Subject = getEnv("NATS_SUBJECT", cfg.Events.Subject)

	cfg.Provider.BaseURL = getEnv("PROVIDER_URL", cfg.Provider.BaseURL)
	cfg.Provider.Timeout = getDurationMs("PROVIDER_TIMEOUT_MS", cfg.Provider.Timeout)

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationMs(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
