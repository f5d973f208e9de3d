package main

import (
	"os"
	"path/filepath"
	"testing"

	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreMemory(t *testing.T) {
	cfg := &config.Config{Revocation: config.Revocation{Store: config.StoreMemory}}

	store, closeStore, err := openStore(cfg, nil, false)
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &memory.RevocationStore{}, store)

	_, _, err = openStore(cfg, nil, true)
	assert.ErrorContains(t, err, "process-local")
}

func TestOpenStoreUnknown(t *testing.T) {
	cfg := &config.Config{Revocation: config.Revocation{Store: "etcd"}}
	_, _, err := openStore(cfg, nil, false)
	assert.Error(t, err)
}

func TestRefusesProcessLocalUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
token:
  secret: "0123456789abcdef0123456789abcdef"
users:
  store: memory
  seed_admin:
    password: "Admin#12345"
revocation:
  store: memory
`), 0o600))

	err := app.Run([]string{"authctl", "--config", path, "create-admin", "--password", "Admin#12345"})
	assert.ErrorContains(t, err, "users store \"memory\" is process-local")
}
