package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/gateway"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/services/gateway"
	"go.uber.org/zap"
)

func configPath() string {
	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		return p
	}
	return "../config/gateway.yaml"
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		panic(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting gateway",
		zap.String("env", cfg.App.Env),
		zap.String("mode", cfg.Verify.Mode),
		zap.Bool("remote_check", cfg.Verify.RemoteCheck),
		zap.Bool("kafka", cfg.Kafka.Enable),
	)

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	authURL, userURL, err := parseUpstreams(cfg)
	if err != nil {
		logger.Fatal("upstreams", zap.Error(err))
	}

	verif, err := initVerification(cfg, logger)
	if err != nil {
		logger.Fatal("verification", zap.Error(err))
	}
	defer verif.Close()

	bgCtx, stopBg := context.WithCancel(rootCtx)
	defer stopBg()
	if verif.denylist != nil {
		sweeper := authority.NewSweeper(logger.Named("denylist-sweeper"), verif.denylist, cfg.Verify.SweepInterval)
		go func() { _ = sweeper.Run(bgCtx) }()
		if cfg.Kafka.Enable {
			go func() {
				if err := runDenylistFeed(bgCtx, cfg, verif.denylist, logger); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("revocation feed stopped", zap.Error(err))
				}
			}()
		}
	}

	router, err := gateway.NewRouter(gateway.RouterConfig{
		AuthUpstream: authURL,
		UserUpstream: userURL,
		Verifier:     verif.verifier,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("router", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           obs.HTTPHandler(obs.AccessLog(logger)(router), "gateway"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", httpSrv.Addr))
		httpErrCh <- httpSrv.ListenAndServe()
	}()

	metricsSrv := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, nil, logger)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	stopBg()
	_ = metricsSrv.Shutdown(shCtx)

	time.Sleep(100 * time.Millisecond)
	logger.Info("bye")
}
