package token

import (
	"context"
	"time"
)

type RevocationChecker interface {
	// IsRevoked reports whether tokenID is revoked or the subject has a
	// cutoff covering issuedAt. It must answer with a single lookup.
	IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error)
}

type Store interface {
	RevocationChecker

	// Revoke inserts rec unless a record for rec.TokenID exists. It returns
	// the stored record and whether this call created it.
	Revoke(ctx context.Context, rec RevocationRecord) (RevocationRecord, bool, error)

	// RevokeSubject upserts the cutoff, keeping the later NotBefore.
	RevokeSubject(ctx context.Context, rev SubjectRevocation) error

	// SweepExpired deletes records with ExpiresAt <= now and returns how many
	// were removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Events is notified about newly created revocations.
type Events interface {
	TokenRevoked(ctx context.Context, rec RevocationRecord) error
	SubjectRevoked(ctx context.Context, rev SubjectRevocation) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
