package main

import (
	"context"
	"fmt"

	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	redisstore "github.com/NordCoder/Sentinel/internal/repository/redis"
	"github.com/NordCoder/Sentinel/internal/services/auth-service/auth"
	"go.uber.org/zap"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.Log)
}

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	o, err := obs.SetupOTel(ctx, &cfg.OTEL)
	if err != nil {
		return nil, err
	}
	return o.Shutdown, nil
}

func initDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pg.DB, error) {
	var db *pg.DB
	err := retry.Do(ctx, func() error {
		var err error
		db, err = pg.New(ctx, cfg.DB)
		return err
	}, retry.StartupPolicy("postgres", logger))
	return db, err
}

// initUsers returns the user repository and the transactor the usecase
// runs registration under. The memory repo needs none.
func initUsers(cfg *config.Config, db *pg.DB, logger *zap.Logger) (user.Repo, token.Transactor) {
	if cfg.Users.Store == config.StoreMemory {
		logger.Warn("users kept in process memory; they are lost on restart")
		return memory.NewUserRepo(), nil
	}
	return pg.NewUserRepo(db), pg.NewTransactor(db, logger)
}

func seedAdmin(ctx context.Context, seed config.SeedAdmin, uc *auth.Usecase, logger *zap.Logger) error {
	if seed.Password == "" {
		return nil
	}
	u, created, err := uc.EnsureAdmin(ctx, auth.RegisterInput{
		Username: seed.Username,
		Email:    seed.Email,
		Password: seed.Password,
		Role:     user.RoleAdmin,
	})
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin seeded", zap.Int64("id", u.ID), zap.String("username", u.Username))
	}
	return nil
}

// pingDB is nil when there is no database to check.
func pingDB(db *pg.DB) func(context.Context) error {
	if db == nil {
		return nil
	}
	return db.Ping
}

// revocationBackend is the chosen token.Store plus what the authority and
// the outbox runner need alongside it.
type revocationBackend struct {
	store  token.Store
	tx     token.Transactor
	events token.Events
	outbox outbox.Repository
	health func(context.Context) error
	close  func()
}

func initRevocationStore(ctx context.Context, cfg *config.Config, db *pg.DB, logger *zap.Logger) (*revocationBackend, error) {
	switch cfg.Revocation.Store {
	case config.StoreMemory:
		logger.Warn("revocations kept in process memory; they are lost on restart")
		return &revocationBackend{store: memory.NewRevocationStore(), health: pingDB(db), close: func() {}}, nil

	case config.StoreRedis:
		rdb := redisstore.NewClient(cfg.Revocation.Redis)
		err := retry.Do(ctx, func() error { return rdb.Ping(ctx).Err() }, retry.StartupPolicy("redis", logger))
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &revocationBackend{
			store: redisstore.NewRevocationStore(rdb, cfg.Revocation.Redis.KeyPrefix),
			health: func(ctx context.Context) error {
				if err := db.Ping(ctx); err != nil {
					return err
				}
				return rdb.Ping(ctx).Err()
			},
			close: func() { _ = rdb.Close() },
		}, nil

	case config.StorePostgres:
		b := &revocationBackend{
			store:  pg.NewRevocationRepo(db),
			tx:     pg.NewTransactor(db, logger),
			health: db.Ping,
			close:  func() {},
		}
		if cfg.Kafka.Enable {
			repo := pg.NewOutboxRepo(db)
			b.outbox = repo
			b.events = pg.NewOutboxEvents(repo)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown revocation store %q", cfg.Revocation.Store)
}
