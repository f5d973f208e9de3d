package authority

import (
	"errors"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
)

// MinSecretLen is the shortest HS256 secret the authority accepts.
const MinSecretLen = 32

var (
	ErrWeakSecret = errors.New("authority: signing secret must be at least 32 bytes")
	ErrBadTTL     = errors.New("authority: ttls must be positive and access ttl shorter than refresh ttl")
)

type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (c Config) Validate() error {
	if len(c.Secret) < MinSecretLen {
		return ErrWeakSecret
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.AccessTTL >= c.RefreshTTL {
		return ErrBadTTL
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func (c Config) ttl(k token.Kind) time.Duration {
	if k == token.KindRefresh {
		return c.RefreshTTL
	}
	return c.AccessTTL
}

// maxTTL bounds the lifetime of any token this authority has issued.
func (c Config) maxTTL() time.Duration {
	return max(c.AccessTTL, c.RefreshTTL)
}
