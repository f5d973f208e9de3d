package main

import (
	"context"
	"testing"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/NordCoder/Sentinel/internal/services/auth-service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestDatabaseFreeStartup(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("USERS_STORE", "memory")
	t.Setenv("REVOCATION_STORE", "memory")
	t.Setenv("USERS_SEED_ADMIN_PASSWORD", "Admin#12345")
	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx := context.Background()
	log := zap.NewNop()

	backend, err := initRevocationStore(ctx, cfg, nil, log)
	require.NoError(t, err)
	assert.Nil(t, backend.health, "nothing to ping without a database")

	tokens, err := authority.New(cfg.Token.AsAuthorityConfig(), backend.store, authority.Opts{Logger: log})
	require.NoError(t, err)

	users, tx := initUsers(cfg, nil, log)
	assert.IsType(t, &memory.UserRepo{}, users)
	assert.Nil(t, tx)

	uc := auth.NewUsecase(users, auth.BcryptHasher{Cost: bcrypt.MinCost}, tokens,
		auth.Config{RotateRefresh: true}, auth.Opts{Logger: log, Tx: tx})
	require.NoError(t, seedAdmin(ctx, cfg.Users.SeedAdmin, uc, log))
	require.NoError(t, seedAdmin(ctx, cfg.Users.SeedAdmin, uc, log), "second seed is a no-op")

	s, err := uc.Login(ctx, "admin", "Admin#12345")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, s.User.Role)
	assert.NotEmpty(t, s.Pair.Access.Raw)
}

func TestSeedAdminDisabledWithoutPassword(t *testing.T) {
	uc := auth.NewUsecase(memory.NewUserRepo(), auth.BcryptHasher{Cost: bcrypt.MinCost}, nil,
		auth.Config{}, auth.Opts{})
	assert.NoError(t, seedAdmin(context.Background(), config.SeedAdmin{Username: "admin"}, uc, zap.NewNop()))
}
