package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/params"
	"github.com/uhyunpark/tradeform/pkg/api"
	"github.com/uhyunpark/tradeform/pkg/chain"
	"github.com/uhyunpark/tradeform/pkg/crypto"
	"github.com/uhyunpark/tradeform/pkg/form"
	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/matching"
	"github.com/uhyunpark/tradeform/pkg/relay"
	"github.com/uhyunpark/tradeform/pkg/sizing"
	"github.com/uhyunpark/tradeform/pkg/storage"
	"github.com/uhyunpark/tradeform/pkg/util"
)

func main() {
	// Priority: ENV > .env in current directory > defaults
	cfg := params.LoadFromEnv("")

	// LOG_FILE=- logs to stdout only
	level := util.ParseLevel(cfg.LogLevel)
	var logger *zap.Logger
	var err error
	if cfg.LogFile == "-" {
		logger, err = util.NewLogger(level)
	} else {
		logger, err = util.NewLoggerWithFile(cfg.LogFile, level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Run journal ----
	store, err := storage.NewPebbleStore(cfg.Storage.Path)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Storage.Path, "err", err)
	}
	defer store.Close()

	// ---- Signer (optional) ----
	var signer *crypto.Signer
	if cfg.Chain.PrivateKeyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.Chain.PrivateKeyHex)
		if err != nil {
			sugar.Fatalw("signer_load_failed", "err", err)
		}
		sugar.Infow("signer_loaded", "address", signer.Address().Hex())
	}

	// ---- Market provider ----
	provider := newProvider(cfg, signer, sugar)

	// ---- Fallback matching ----
	var newEngine func() *matching.Engine
	if signer != nil {
		newEngine = newEngineFactory(ctx, cfg, signer, store, sugar)
	} else {
		sugar.Warn("matching_disabled - SIGNER_PRIVATE_KEY not set, relay pairs cannot be submitted")
	}

	// ---- Forms + API ----
	hub := api.NewHub(sugar.Named("ws"))
	forms := form.NewRegistry(form.Config{
		Provider:  provider,
		Debounce:  cfg.Sizing.Debounce,
		Precision: cfg.Sizing.Precision,
		OnChange:  hub.PublishView,
		Logger:    sugar.Named("form"),
	}, newEngine)
	defer forms.CloseAll()

	server := api.NewServer(api.Config{
		Forms:          forms,
		Runs:           store,
		Limiter:        sizing.NewLimiter(provider, cfg.Sizing.Precision),
		Hub:            hub,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar.Named("api"),
	})

	sugar.Infow("service_starting",
		"api_addr", cfg.API.Addr,
		"pair", cfg.Matching.Pair,
		"relay", cfg.Matching.RelayURL,
		"debounce_ms", cfg.Sizing.Debounce.Milliseconds(),
		"push_interval_ms", cfg.Matching.PushInterval.Milliseconds())

	if err := server.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Info("service_stopped")
}

// newProvider builds the market gateway client with its notification
// transport and, when Redis is configured, a price cache in front of it.
func newProvider(cfg params.Config, signer *crypto.Signer, log *zap.SugaredLogger) market.Provider {
	var notifier market.Notifier = market.NewBus()
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("tradeform"))
		if err != nil {
			log.Fatalw("nats_connect_failed", "url", cfg.Events.NATSURL, "err", err)
		}
		notifier = market.NewNATSNotifier(nc, cfg.Events.Subject, log.Named("events"))
		log.Infow("provider_events_nats", "url", cfg.Events.NATSURL, "subject", cfg.Events.Subject)
	}

	var account string
	if signer != nil {
		account = signer.Address().Hex()
	}
	var provider market.Provider = market.NewHTTPProvider(market.HTTPProviderConfig{
		BaseURL:  cfg.Provider.BaseURL,
		Account:  account,
		Timeout:  cfg.Provider.Timeout,
		Notifier: notifier,
		Logger:   log.Named("provider"),
	})

	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		provider = market.NewCachedProvider(provider, market.NewPriceCache(rdb, cfg.Cache.TTL), log.Named("cache"))
		log.Infow("price_cache_enabled", "addr", cfg.Cache.RedisAddr, "ttl_ms", cfg.Cache.TTL.Milliseconds())
	}
	return provider
}

func newEngineFactory(ctx context.Context, cfg params.Config, signer *crypto.Signer, journal matching.Journal, log *zap.SugaredLogger) func() *matching.Engine {
	m := cfg.Matching
	relayClient := relay.NewClient(m.RelayURL, cfg.Provider.Timeout, log.Named("relay"))

	var tokens matching.TokenOps
	if cfg.Chain.RPCURL != "" {
		backend, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			log.Fatalw("chain_dial_failed", "url", cfg.Chain.RPCURL, "err", err)
		}
		tokens = chain.NewTokens(chain.TokensConfig{
			Backend:    backend,
			Key:        signer.PrivateKey(),
			Owner:      signer.Address(),
			ChainID:    cfg.Chain.ChainID,
			WETH:       common.HexToAddress(m.WETHToken),
			ERC20Proxy: common.HexToAddress(m.ERC20Proxy),
			Logger:     log.Named("chain"),
		})
	}

	allocator := matching.NewOrderAllocator(matching.AllocatorConfig{
		Self:     signer.Address(),
		Signer:   matching.KeySigner{Key: signer},
		Tokens:   tokens,
		Relay:    relayClient,
		Exchange: common.HexToAddress(m.Exchange),
		WETH:     common.HexToAddress(m.WETHToken),
		ZRX:      common.HexToAddress(m.ZRXToken),
		Decimals: m.Decimals,
		Expiry:   m.OrderExpiry,
		Logger:   log.Named("allocator"),
	})
	feed := matching.RelayFeed{Source: relayClient, Pair: m.Pair, Logger: log.Named("feed")}
	// one signer, one relay budget: every session's engine draws on it
	pacer := matching.NewPacer(m.PushInterval)

	return func() *matching.Engine {
		return matching.NewEngine(matching.EngineConfig{
			Feed:            feed,
			Allocator:       allocator,
			Journal:         journal,
			LastResortTaker: common.HexToAddress(m.LastResortTaker),
			Pacer:           pacer,
			Logger:          log.Named("matching"),
		})
	}
}
