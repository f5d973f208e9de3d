package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	redisstore "github.com/NordCoder/Sentinel/internal/repository/redis"
	"github.com/NordCoder/Sentinel/internal/services/auth-service/auth"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var app *cli.App

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "auth-service YAML config file",
		Value:   "../config/auth-service.yaml",
		EnvVars: []string{"AUTH_SERVICE_CONFIG"},
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	userIDFlag = &cli.Int64Flag{
		Name:     "user-id",
		Usage:    "Numeric user id",
		Required: true,
	}
)

func init() {
	app = cli.NewApp()
	app.Name = "authctl"
	app.Usage = "Sentinel auth administration"
	app.Flags = []cli.Flag{configFileFlag, debugFlag}
	app.Commands = []*cli.Command{
		{
			Name:  "create-admin",
			Usage: "Create the bootstrap admin account if it does not exist",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", EnvVars: []string{"ADMIN_USERNAME"}, Value: "admin"},
				&cli.StringFlag{Name: "email", EnvVars: []string{"ADMIN_EMAIL"}, Value: "admin@localhost"},
				&cli.StringFlag{Name: "password", EnvVars: []string{"ADMIN_PASSWORD"}, Required: true},
			},
			Action: withEnv(createAdmin, false),
		},
		{
			Name:   "sweep",
			Usage:  "Delete revocation records whose tokens have expired",
			Action: withEnv(sweep, true),
		},
		{
			Name:   "revoke-sessions",
			Usage:  "Invalidate every token issued to a user so far",
			Flags:  []cli.Flag{userIDFlag},
			Action: withEnv(revokeSessions, true),
		},
	}
}

type env struct {
	log    *zap.Logger
	tokens *authority.Authority
	uc     *auth.Usecase
}

// withEnv builds the usecase the way the service does. Commands that write
// revocations set revokes, which rules out a process-local store.
func withEnv(fn func(*cli.Context, *env) error, revokes bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String(configFileFlag.Name))
		if err != nil {
			return err
		}
		if cfg.Users.Store != config.StorePostgres {
			return fmt.Errorf("users store %q is process-local; authctl cannot reach it", cfg.Users.Store)
		}
		cfg.Log.App = "authctl"
		if c.Bool(debugFlag.Name) {
			cfg.Log.Level = "debug"
		}
		logger, err := obs.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		defer cancel()

		db, err := pg.New(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()

		store, closeStore, err := openStore(cfg, db, revokes)
		if err != nil {
			return err
		}
		defer closeStore()

		opts := authority.Opts{Logger: logger}
		if cfg.Revocation.Store == config.StorePostgres {
			opts.Tx = pg.NewTransactor(db, logger)
			if cfg.Kafka.Enable {
				opts.Events = pg.NewOutboxEvents(pg.NewOutboxRepo(db))
			}
		}
		tokens, err := authority.New(cfg.Token.AsAuthorityConfig(), store, opts)
		if err != nil {
			return err
		}
		uc := auth.NewUsecase(pg.NewUserRepo(db), auth.BcryptHasher{Cost: cfg.Token.BcryptCost}, tokens,
			auth.Config{RotateRefresh: cfg.Token.RotateRefresh},
			auth.Opts{Logger: logger, Tx: pg.NewTransactor(db, logger)})

		c.Context = ctx
		return fn(c, &env{log: logger, tokens: tokens, uc: uc})
	}
}

// openStore refuses the memory store to revoking commands, since whatever
// they wrote would vanish with the process. Others get a throwaway one.
func openStore(cfg *config.Config, db *pg.DB, revokes bool) (token.Store, func(), error) {
	switch cfg.Revocation.Store {
	case config.StoreMemory:
		if !revokes {
			return memory.NewRevocationStore(), func() {}, nil
		}
	case config.StorePostgres:
		return pg.NewRevocationRepo(db), func() {}, nil
	case config.StoreRedis:
		rdb := redisstore.NewClient(cfg.Revocation.Redis)
		return redisstore.NewRevocationStore(rdb, cfg.Revocation.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("revocation store %q is process-local; authctl cannot reach it", cfg.Revocation.Store)
}

func createAdmin(c *cli.Context, e *env) error {
	u, created, err := e.uc.EnsureAdmin(c.Context, auth.RegisterInput{
		Username: c.String("username"),
		Email:    c.String("email"),
		Password: c.String("password"),
		Role:     user.RoleAdmin,
	})
	if err != nil {
		var verr *auth.ValidationError
		if errors.As(err, &verr) {
			for field, msgs := range verr.Fields {
				e.log.Error("invalid input", zap.String("field", field), zap.Strings("problems", msgs))
			}
		}
		return err
	}
	if created {
		e.log.Info("admin created", zap.Int64("id", u.ID), zap.String("username", u.Username))
	} else {
		e.log.Info("admin already exists", zap.Int64("id", u.ID), zap.String("username", u.Username))
	}
	return nil
}

func sweep(c *cli.Context, e *env) error {
	n, err := e.tokens.SweepExpired(c.Context, e.tokens.Now())
	if err != nil {
		return err
	}
	e.log.Info("sweep done", zap.Int64("removed", n))
	return nil
}

func revokeSessions(c *cli.Context, e *env) error {
	rev, err := e.uc.RevokeUser(c.Context, c.Int64(userIDFlag.Name), token.ReasonAdmin)
	if err != nil {
		return err
	}
	e.log.Info("sessions revoked",
		zap.String("sub", rev.SubjectID),
		zap.Time("not_before", rev.NotBefore),
	)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
