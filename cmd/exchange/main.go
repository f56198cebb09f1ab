package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"exchange/internal/api"
	"exchange/internal/config"
	"exchange/internal/engine"
	"exchange/internal/events"
	"exchange/internal/jobs"
	"exchange/internal/logging"
	"exchange/internal/maker"
	"exchange/internal/market"
	"exchange/internal/store"
	"exchange/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; the level comes from the config.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log := logging.New(cfg.Log.Level)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("exchange stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	markets, err := cfg.Registry()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("database close", zap.Error(err))
		}
		log.Info("database closed")
	}()

	pool := jobs.NewPool(log, cfg.Scheduler)
	pool.Start()

	hub := api.NewHub()
	var pub events.Publisher = hub
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka)
		defer kp.Close()
		pub = events.Multi{hub, kp}
		log.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	// Closed before kp, after the pool has joined.
	async := events.NewAsync(log, pub, cfg.Events)
	defer async.Close()
	pub = events.Logged{Next: async, Log: log}

	eng := engine.New(log, st, pool, markets, pub, cfg.Engine)

	// Only the lead instance polls the chain, so transfers settle once.
	if cfg.Wallet.Lead {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		confirmer, err := wallet.DialEth(ctx, cfg.Wallet)
		cancel()
		if err != nil {
			pool.Abort()
			pool.JoinAll()
			return err
		}
		wallet.NewSettler(log, st, eng, confirmer, cfg.Wallet).Start(pool)
		log.Info("wallet settler started", zap.String("rpc", cfg.Wallet.RPCURL))
	}

	if cfg.Maker.Enabled {
		pairs := make([]market.Pair, 0, len(markets.All()))
		for _, m := range markets.All() {
			pairs = append(pairs, m.Pair)
		}
		mm, err := maker.New(log, eng, pairs, cfg.Maker)
		if err != nil {
			pool.Abort()
			pool.JoinAll()
			return err
		}
		mm.Start(pool)
		log.Info("market maker started", zap.String("user", mm.User()))
	}

	server := api.NewServer(log, eng, pool, st, hub, api.Options{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		RateWindow:  cfg.HTTP.RateWindow,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("exchange listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("database", cfg.Database.Driver),
			zap.Int("markets", len(markets.All())),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		log.Error("http server failed", zap.Error(runErr))
	}

	// Stop accepting requests first so in-flight settlements can finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	server.Shutdown()

	pool.Abort()
	pool.JoinAll()
	log.Info("scheduler stopped")

	return runErr
}
