// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deposit-service/internal/chains"
	"deposit-service/internal/chains/ethereum"
	"deposit-service/internal/config"
	"deposit-service/internal/domain"
	"deposit-service/internal/events"
	"deposit-service/internal/handler"
	"deposit-service/internal/hdwallet"
	"deposit-service/internal/logging"
	"deposit-service/internal/metrics"
	"deposit-service/internal/pricing"
	"deposit-service/internal/repository"
	"deposit-service/internal/server"
	"deposit-service/internal/usecase"
	"deposit-service/internal/watch"
	"deposit-service/internal/worker"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	}

	bootLogger, _ := zap.NewProduction()

	cfg, err := config.Load(bootLogger)
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
	})
	if err != nil {
		bootLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("deposit service stopped with error", zap.Error(err))
	}
	logger.Info("deposit service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// ============================================================================
	// Storage
	// ============================================================================
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without cache", zap.Error(err))
		}
	}

	// ============================================================================
	// Keys and chains
	// ============================================================================
	deriver, err := hdwallet.NewDeriver(cfg.Wallet.Mnemonic)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(ctx, cfg.EVM, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	// ============================================================================
	// Outbound integrations
	// ============================================================================
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher events.Publisher = events.NopPublisher{}
	var kafkaWriter *kafka.Writer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaWriter = events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		publisher = events.NewKafkaPublisher(kafkaWriter, logger)
	} else {
		logger.Warn("KAFKA_BROKERS not set, events are dropped")
	}

	var watcher watch.AddressWatcher = watch.NopWatcher{}
	if cfg.Watch.APIKey != "" {
		watcher = watch.NewMoralisClient(cfg.Watch.BaseURL, cfg.Watch.APIKey, cfg.Watch.StreamID, cfg.Watch.Timeout, logger)
	} else {
		logger.Warn("MORALIS_API_KEY not set, new addresses are not registered with the watch feed")
	}

	var fx pricing.FXSource
	if cfg.Pricing.FXAPIURL != "" {
		fx = pricing.NewHTTPFXSource(cfg.Pricing.FXAPIURL, cfg.Pricing.Timeout)
	}
	converter := pricing.NewConverter(
		pricing.Config{
			Currency:        cfg.Pricing.LocalCurrency,
			FallbackFXRate:  cfg.Pricing.FallbackFXRate,
			StableContracts: cfg.Pricing.StableContracts,
			PriceOverrides:  cfg.Pricing.Overrides,
		},
		pricing.NewCoinloreSource(cfg.Pricing.PriceAPIURL, cfg.Pricing.Timeout, logger),
		fx,
		pricing.NewCache(rdb, cfg.Pricing.CacheTTL, logger),
		logger,
	)

	// ============================================================================
	// Usecases and workers
	// ============================================================================
	var scheduler usecase.SweepScheduler
	var sweepWorker *worker.SweepWorker
	if cfg.Sweep.Enabled {
		sweeper := usecase.NewSweepUsecase(registry, deriver, publisher, m, usecase.SweepConfig{
			CustodyAddress: cfg.Wallet.CustodyAddress,
			FeeMultiplier:  cfg.Sweep.FeeMultiplier,
			BufferPercent:  cfg.Sweep.BufferPercent,
		}, logger)
		sweepWorker = worker.NewSweepWorker(sweeper, cfg.Sweep.Workers, cfg.Sweep.QueueSize, cfg.Sweep.Timeout, m, logger)
		scheduler = sweepWorker
	}

	tokens := tokenAssets(cfg.EVM.Tokens)
	allocator := usecase.NewIndexAllocator(logger)
	walletUsecase := usecase.NewWalletUsecase(store, allocator, deriver, watcher, publisher, m, cfg.Wallet.MaxRetries, logger)
	depositUsecase := usecase.NewDepositUsecase(store, converter, scheduler, publisher, m, usecase.DepositConfig{
		AssetClass: cfg.Wallet.AssetClass,
		RatePolicy: usecase.RatePolicy(cfg.Pricing.RatePolicy),
		MaxRetries: cfg.Wallet.MaxRetries,
		Tokens:     tokens,
	}, logger)

	var monitor *worker.DepositMonitor
	if cfg.Audit.Enabled && len(registry.List()) > 0 {
		var auditScheduler worker.SweepScheduler
		if sweepWorker != nil {
			auditScheduler = sweepWorker
		}
		monitor = worker.NewDepositMonitor(store, registry, auditScheduler, worker.DepositMonitorConfig{
			AssetClass: cfg.Wallet.AssetClass,
			Interval:   cfg.Audit.Interval,
			Tokens:     tokens,
			Resweep:    cfg.Audit.Resweep,
		}, m, logger)
	}

	// ============================================================================
	// Transport
	// ============================================================================
	router := handler.SetupRoutes(
		handler.NewWalletHandler(walletUsecase, cfg.Auth.JWTSecret != "", logger),
		handler.NewDepositHandler(depositUsecase, logger),
		store,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		handler.RouterConfig{
			JWTSecret:      cfg.Auth.JWTSecret,
			WebhookSecret:  cfg.Auth.WebhookSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			Redis:          rdb,
			RateLimit:      cfg.Auth.RateLimit,
			RateWindow:     cfg.Auth.RateWindow,
			RateBlock:      cfg.Auth.RateBlock,
		},
		m,
		logger,
	)

	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, router, logger)
	grpcServer := server.NewGRPCServer(store, logger, cfg.Server.GRPCPort)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		grpcServer.WatchHealth(gctx, 30*time.Second)
		return nil
	})
	if sweepWorker != nil {
		g.Go(func() error {
			sweepWorker.Start(gctx)
			return nil
		})
	}
	if monitor != nil {
		g.Go(func() error {
			monitor.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()

		err := httpServer.Stop(shutdownCtx)
		grpcServer.Stop()
		if monitor != nil {
			monitor.Stop()
		}
		if sweepWorker != nil {
			sweepWorker.Stop()
		}
		if kafkaWriter != nil {
			if cerr := kafkaWriter.Close(); cerr != nil {
				logger.Warn("kafka writer close failed", zap.Error(cerr))
			}
		}
		return err
	})

	logger.Info("deposit service started",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("chains", len(registry.List())),
		zap.Bool("sweep_enabled", cfg.Sweep.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// userSeeder provisions user rows without touching existing balances.
type userSeeder interface {
	UpsertUser(ctx context.Context, userID string) error
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.Store, error) {
	if cfg.Driver == "memory" {
		mem := repository.NewMemoryStore()
		if err := seedUsers(ctx, mem, cfg.DevUsers); err != nil {
			return nil, err
		}
		return mem, nil
	}

	pool, err := config.ConnectDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pg := repository.NewPostgresStore(pool)
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("database schema applied")
	}
	if err := seedUsers(ctx, pg, cfg.DevUsers); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func seedUsers(ctx context.Context, store userSeeder, ids []string) error {
	for _, id := range ids {
		if err := store.UpsertUser(ctx, id); err != nil {
			return fmt.Errorf("seed user %s: %w", id, err)
		}
	}
	return nil
}

func buildRegistry(ctx context.Context, cfg config.EVMConfig, logger *zap.Logger) (*chains.Registry, error) {
	registry := chains.NewRegistry()

	var maxGasPrice *big.Int
	if cfg.MaxGasPriceGwei > 0 {
		maxGasPrice = new(big.Int).Mul(big.NewInt(cfg.MaxGasPriceGwei), big.NewInt(1_000_000_000))
	}

	for _, cc := range cfg.Chains {
		info, _ := chains.LookupNetwork(cc.ChainID)
		expected, ok := new(big.Int).SetString(info.ChainID[2:], 16)
		if !ok {
			registry.Close()
			return nil, fmt.Errorf("bad chain id %s", info.ChainID)
		}

		dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		chain, err := ethereum.NewEthereumChain(dialCtx, ethereum.Config{
			RPCURL:      cc.RPCURL,
			ChainID:     expected,
			Name:        info.Name,
			Symbol:      info.Symbol,
			MaxGasPrice: maxGasPrice,
			RPCTimeout:  cfg.RPCTimeout,
		}, logger)
		cancel()
		if err != nil {
			registry.Close()
			return nil, err
		}
		registry.Register(chain)
	}

	if len(cfg.Chains) == 0 {
		logger.Warn("EVM_RPC_URLS not set, sweeps and audits have no chains")
	}
	return registry, nil
}

func tokenAssets(tokens []config.TokenConfig) map[string][]*domain.Asset {
	out := make(map[string][]*domain.Asset)
	for _, t := range tokens {
		info, ok := chains.LookupNetwork(t.ChainID)
		if !ok {
			continue
		}
		contract := t.Contract
		out[info.ChainID] = append(out[info.ChainID], &domain.Asset{
			Chain:        info.Name,
			Symbol:       t.Symbol,
			ContractAddr: &contract,
			Decimals:     t.Decimals,
			Type:         domain.AssetTypeToken,
		})
	}
	return out
}
