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
	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/outbox"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/NordCoder/Sentinel/internal/services/auth-service/auth"
	"go.uber.org/zap"
)

func configPath() string {
	if p := os.Getenv("AUTH_SERVICE_CONFIG"); p != "" {
		return p
	}
	return "../config/auth-service.yaml"
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
	logger.Info("starting auth-service",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("users_store", cfg.Users.Store),
		zap.String("revocation_store", cfg.Revocation.Store),
		zap.Bool("kafka", cfg.Kafka.Enable),
	)

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	var db *pg.DB
	if cfg.Users.Store == config.StorePostgres {
		db, err = initDB(rootCtx, cfg, logger)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
	}

	backend, err := initRevocationStore(rootCtx, cfg, db, logger)
	if err != nil {
		logger.Fatal("revocation store", zap.Error(err))
	}
	defer backend.close()

	tokens, err := authority.New(cfg.Token.AsAuthorityConfig(), backend.store, authority.Opts{
		Logger: logger.Named("authority"),
		Events: backend.events,
		Tx:     backend.tx,
	})
	if err != nil {
		logger.Fatal("authority", zap.Error(err))
	}

	users, usersTx := initUsers(cfg, db, logger)
	uc := auth.NewUsecase(
		users,
		auth.BcryptHasher{Cost: cfg.Token.BcryptCost},
		tokens,
		auth.Config{RotateRefresh: cfg.Token.RotateRefresh},
		auth.Opts{Logger: logger.Named("auth"), Tx: usersTx},
	)
	if err := seedAdmin(rootCtx, cfg.Users.SeedAdmin, uc, logger); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}
	ctrl := auth.NewController(uc, tokens, cfg.Cookies, logger)

	workersCtx, stopWorkers := context.WithCancel(rootCtx)
	defer stopWorkers()

	var runner *outbox.Runner
	if backend.outbox != nil {
		var closeProducer func()
		runner, closeProducer = buildOutbox(rootCtx, cfg, backend.outbox, logger)
		defer closeProducer()
	}
	workersDone := startWorkers(workersCtx, cfg, logger, tokens, runner)

	grpcServer, grpcLn, err := buildGRPCServer(cfg, logger, tokens, backend.store)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	grpcErrCh := make(chan error, 1)
	go func() { grpcErrCh <- serveGRPC(grpcServer, grpcLn, logger) }()

	httpSrv := buildHTTPServer(cfg, logger, ctrl)
	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- serveHTTP(httpSrv, logger) }()

	metricsSrv := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, backend.health, logger)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(shCtx)
	grpcServer.GracefulStop()
	stopWorkers()
	select {
	case <-workersDone:
	case <-shCtx.Done():
		logger.Warn("workers did not stop in time")
	}
	_ = metricsSrv.Shutdown(shCtx)

	time.Sleep(100 * time.Millisecond)
	logger.Info("bye")
}
