package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pawnauction/internal/config"
	"pawnauction/internal/database/db_client"
	"pawnauction/internal/http/http_server"
	"pawnauction/internal/notify"
	"pawnauction/internal/outbid"
	"pawnauction/internal/redis/bidfeed"
	"pawnauction/internal/redis/redis_client"
	"pawnauction/internal/redis/redis_scripts"
	"pawnauction/internal/redis/sweeplock"
	"pawnauction/internal/redis/watcher/auctionwatcher"
	"pawnauction/internal/scheduler"
	"pawnauction/internal/services/auction"
	"pawnauction/internal/services/settlement"
	"pawnauction/internal/store"
	"pawnauction/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	zap.ReplaceGlobals(Log)
	defer func() { _ = zap.L().Sync() }()

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var pgDb *sql.DB
	var st store.Store

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.LogFormat == "json" {
		prod, err := zap.NewProduction()
		if err != nil {
			Log.Fatal("Failed to build production logger", zap.Error(err))
		}
		zap.ReplaceGlobals(prod)
	}
	log := zap.L()
	log.Debug("Configuration loaded successfully", zap.String("store_driver", cfg.StoreDriver))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Store
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgDb, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if err := db_client.Migrate(ctx, pgDb); err != nil {
			log.Fatal("pg-migrate", zap.Error(err))
		}
		st = store.NewPostgres(pgDb)
	default:
		log.Warn("running on the in-memory store; state is lost on exit")
		st = store.NewMemory()
	}

	// 4. Redis carries the live feed and expiry timers; the memory driver can run without it.
	redisClient, err = redis_client.NewRedisClient(cfg.RedisAuctionsHost, int(cfg.RedisAuctionsPort),
		cfg.RedisAuctionsPassword, cfg.RedisAuctionsDb)
	if err != nil {
		if cfg.StoreDriver == config.StoreDriverPostgres {
			log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		log.Warn("redis unavailable, live feed disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		if err := redis_scripts.LoadAll(ctx, redisClient); err != nil {
			log.Fatal("load-redis-scripts", zap.Error(err))
		}
	}

	// 5. Services
	notifier := notify.NewInbox(pgDb, redisClient)

	svcOpts := []auction.Option{}
	schOpts := []scheduler.Option{
		scheduler.WithBatchSize(cfg.SweepBatchSize),
		scheduler.WithRetryAfter(cfg.SettlementRetryAfter),
	}
	var watcher *auctionwatcher.Watcher
	if redisClient != nil {
		svcOpts = append(svcOpts, auction.WithBidObserver(bidfeed.NewPublisher(redisClient, bidfeed.DefaultMaxLen)))
		watcher = auctionwatcher.New(redisClient)
		schOpts = append(schOpts,
			scheduler.WithTimer(watcher),
			scheduler.WithGuard(sweeplock.New(redisClient, 2*cfg.SweepInterval)),
		)
	}
	auctionService := auction.NewAuctionService(st, notifier, cfg.BidMinIncrement, svcOpts...)
	sweeper := scheduler.New(st, settlement.NewSettler(st, notifier), notifier, schOpts...)

	// 6. Background loops
	go sweeper.Run(ctx, cfg.SweepInterval)

	checks := map[string]http_server.HealthCheck{}
	if pgDb != nil {
		checks["postgres"] = pgDb.PingContext
	}

	var wsSrv *ws.WsServer
	if redisClient != nil {
		rc := redisClient
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }

		// key expiry triggers an immediate sweep
		go watcher.Run(ctx, sweeper)
		go outbid.New(redisClient, notifier, consumerName()).Run(ctx)

		wsSrv = ws.NewWsServer(ws.NewHub(), redisClient, auctionService)
		defer wsSrv.Close()
	}

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, auctionService, sweeper, checks)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		_ = httpServer.Dispose()
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}
}

// consumerName identifies this process within the outbid consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "pawnauction"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
