package memory

import (
	"testing"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/repository/storetest"
)

func TestRevocationStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) token.Store { return NewRevocationStore() })
}
