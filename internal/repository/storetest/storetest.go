// Package storetest holds behaviour checks every token.Store must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(sub string, expiresAt time.Time) token.RevocationRecord {
	return token.RevocationRecord{
		TokenID:   uuid.NewString(),
		SubjectID: sub,
		Kind:      token.KindAccess,
		Reason:    token.ReasonLogout,
		RevokedAt: base,
		ExpiresAt: expiresAt,
	}
}

// Run exercises newStore against the token.Store contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) token.Store) {
	t.Run("revoke then lookup", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := record("7", base.Add(time.Hour))

		revoked, err := s.IsRevoked(ctx, rec.TokenID, rec.SubjectID, base)
		require.NoError(t, err)
		assert.False(t, revoked)

		stored, created, err := s.Revoke(ctx, rec)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, rec.TokenID, stored.TokenID)

		revoked, err = s.IsRevoked(ctx, rec.TokenID, rec.SubjectID, base)
		require.NoError(t, err)
		assert.True(t, revoked)

		other, err := s.IsRevoked(ctx, uuid.NewString(), rec.SubjectID, base)
		require.NoError(t, err)
		assert.False(t, other)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := record("7", base.Add(time.Hour))

		first, created, err := s.Revoke(ctx, rec)
		require.NoError(t, err)
		require.True(t, created)

		again := rec
		again.Reason = token.ReasonAdmin
		again.RevokedAt = base.Add(time.Minute)
		second, created, err := s.Revoke(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.Reason, second.Reason)
		assert.True(t, first.RevokedAt.Equal(second.RevokedAt))
	})

	t.Run("concurrent revoke creates once", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := record("7", base.Add(time.Hour))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, c, err := s.Revoke(ctx, rec)
				assert.NoError(t, err)
				if c {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})

	t.Run("subject cutoff", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		cut := base.Add(10 * time.Minute)
		require.NoError(t, s.RevokeSubject(ctx, token.SubjectRevocation{
			SubjectID: "7", NotBefore: cut, Reason: token.ReasonPasswordChange, ExpiresAt: cut.Add(time.Hour),
		}))

		before, err := s.IsRevoked(ctx, uuid.NewString(), "7", cut.Add(-time.Microsecond))
		require.NoError(t, err)
		assert.True(t, before)

		at, err := s.IsRevoked(ctx, uuid.NewString(), "7", cut)
		require.NoError(t, err)
		assert.False(t, at)

		otherSubject, err := s.IsRevoked(ctx, uuid.NewString(), "8", base)
		require.NoError(t, err)
		assert.False(t, otherSubject)
	})

	t.Run("subject cutoff keeps latest", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		late := base.Add(20 * time.Minute)
		early := base.Add(5 * time.Minute)
		require.NoError(t, s.RevokeSubject(ctx, token.SubjectRevocation{
			SubjectID: "7", NotBefore: late, Reason: token.ReasonAdmin, ExpiresAt: late.Add(time.Hour),
		}))
		require.NoError(t, s.RevokeSubject(ctx, token.SubjectRevocation{
			SubjectID: "7", NotBefore: early, Reason: token.ReasonAdmin, ExpiresAt: early.Add(time.Hour),
		}))

		revoked, err := s.IsRevoked(ctx, uuid.NewString(), "7", base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("sweep removes only expired", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		live := record("7", base.Add(time.Hour))
		dead := record("7", base.Add(-time.Second))
		edge := record("8", base)
		for _, r := range []token.RevocationRecord{live, dead, edge} {
			_, _, err := s.Revoke(ctx, r)
			require.NoError(t, err)
		}
		require.NoError(t, s.RevokeSubject(ctx, token.SubjectRevocation{
			SubjectID: "9", NotBefore: base.Add(-time.Hour), Reason: token.ReasonDeactivation, ExpiresAt: base.Add(-time.Minute),
		}))

		n, err := s.SweepExpired(ctx, base)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		revoked, err := s.IsRevoked(ctx, live.TokenID, live.SubjectID, base)
		require.NoError(t, err)
		assert.True(t, revoked)

		for _, r := range []token.RevocationRecord{dead, edge} {
			revoked, err := s.IsRevoked(ctx, r.TokenID, r.SubjectID, base.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, revoked, r.TokenID)
		}
		revoked, err = s.IsRevoked(ctx, uuid.NewString(), "9", base.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.False(t, revoked)

		n, err = s.SweepExpired(ctx, base)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
