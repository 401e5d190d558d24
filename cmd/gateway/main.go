package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"web3-gateway-go/internal/adapter"
	"web3-gateway-go/internal/config"
	"web3-gateway-go/internal/database"
	"web3-gateway-go/internal/events"
	"web3-gateway-go/internal/gateway"
	"web3-gateway-go/internal/health"
	"web3-gateway-go/internal/recovery"
	"web3-gateway-go/internal/registry"
	"web3-gateway-go/internal/supervisor"
	"web3-gateway-go/internal/web"
	"web3-gateway-go/pkg/network"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway_exit", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := config.InitLogger(cfg.LogLevel, cfg.LogFormat)

	reg, err := registry.LoadFile(cfg.RegistryFile)
	if err != nil {
		return err
	}
	logger.Info("registry_loaded",
		slog.String("file", cfg.RegistryFile),
		slog.Int("coins", len(reg.Coins())),
		slog.Int("targets", len(reg.Targets())),
		slog.Int("mining_coins", len(reg.MiningCoins())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 可选：历史记录落库
	var repo *database.Repository
	if cfg.DatabaseURL != "" {
		repo, err = connectHistory(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("history_store_disabled", slog.String("error", err.Error()))
			repo = nil
		} else {
			defer repo.Close()
		}
	}

	bus := events.NewBroadcaster(cfg.EventBuffer, logger)
	defer bus.Close()

	client := adapter.NewClient(nil)
	defer client.Close()

	recovery.Go(logger, "chain_id_verify", func() {
		network.VerifyRegistry(ctx, reg, client, cfg.RPCTimeout, logger)
	})

	resolver := gateway.NewResolver(reg, client, gateway.Options{
		AttemptTimeout: cfg.RPCTimeout,
		Policy:         gateway.OrderPolicy(cfg.OrderPolicy),
		EndpointRPS:    cfg.EndpointRPS,
		Logger:         logger,
	})

	supOpts := supervisor.Options{
		Grace:       cfg.StopGrace,
		OutputLines: cfg.OutputLines,
		Logger:      logger,
	}
	if len(cfg.MinerPaths) > 0 {
		supOpts.Finder = supervisor.Finder{Paths: cfg.MinerPaths, Names: []string{"miner"}}
	}
	monOpts := health.Options{
		DialTimeout:      cfg.PoolDialTimeout,
		LivenessInterval: cfg.LivenessInterval,
		SweepInterval:    cfg.SweepInterval,
		Logger:           logger,
	}
	if repo != nil {
		supOpts.Recorder = repo
		monOpts.Recorder = repo
	}
	sup := supervisor.New(reg, bus, supOpts)
	monitor := health.NewMonitor(reg, resolver, bus, monOpts)

	hub := web.NewHub(logger)
	recovery.Go(logger, "websocket_hub", func() { hub.Run(ctx, bus) })
	recovery.Go(logger, "health_monitor", func() {
		if err := monitor.Run(ctx); err != nil {
			logger.Error("health_monitor_stopped", slog.String("error", err.Error()))
		}
	})

	known := func(coin string) bool {
		_, ok := reg.MiningConfig(coin)
		return ok
	}
	srv := NewServer(resolver, sup, monitor, known, cfg.APIPort)
	srv.SetEventStream(http.HandlerFunc(hub.HandleWS))
	if repo != nil {
		srv.SetHistory(repo)
	}

	errCh := make(chan error, 1)
	recovery.Go(logger, "api_server", func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	logger.Info("gateway_operational")
	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case err := <-errCh:
		logger.Error("api_server_failed", slog.String("error", err.Error()))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopGrace+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_server_shutdown_failed", slog.String("error", err.Error()))
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("mining_shutdown_incomplete", slog.String("error", err.Error()))
	}
	logger.Info("gateway_stopped")
	return nil
}

func connectHistory(ctx context.Context, url string) (*database.Repository, error) {
	repo, err := database.NewRepository(url)
	if err != nil {
		return nil, err
	}
	repo.DB().SetMaxOpenConns(5)
	repo.DB().SetMaxIdleConns(2)

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.InitSchema(initCtx, repo.DB()); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}
