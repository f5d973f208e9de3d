package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/jackc/pgx/v5"
)

var _ token.Store = (*RevocationRepo)(nil)

type RevocationRepo struct{ db *DB }

func NewRevocationRepo(db *DB) *RevocationRepo { return &RevocationRepo{db: db} }

const (
	qIsRevoked = `
SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1)
    OR EXISTS (SELECT 1 FROM subject_revocations WHERE subject_id = $2 AND not_before > $3);`

	qRevokeInsert = `
INSERT INTO revoked_tokens (token_id, subject_id, kind, reason, revoked_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (token_id) DO NOTHING
RETURNING token_id, subject_id, kind, reason, revoked_at, expires_at;`

	qRevokedByID = `
SELECT token_id, subject_id, kind, reason, revoked_at, expires_at
FROM revoked_tokens
WHERE token_id = $1;`

	qRevokeSubject = `
INSERT INTO subject_revocations (subject_id, not_before, reason, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (subject_id) DO UPDATE
SET not_before = EXCLUDED.not_before,
    reason     = EXCLUDED.reason,
    expires_at = EXCLUDED.expires_at
WHERE subject_revocations.not_before < EXCLUDED.not_before;`

	qSweep = `
WITH t AS (
    DELETE FROM revoked_tokens WHERE expires_at <= $1 RETURNING 1
), s AS (
    DELETE FROM subject_revocations WHERE expires_at <= $1 RETURNING 1
)
SELECT (SELECT count(*) FROM t) + (SELECT count(*) FROM s);`
)

func (r *RevocationRepo) IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var revoked bool
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qIsRevoked, tokenID, subjectID, issuedAt).Scan(&revoked); err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return revoked, nil
}

func (r *RevocationRepo) Revoke(ctx context.Context, rec token.RevocationRecord) (token.RevocationRecord, bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	stored, err := scanRevocation(eq.QueryRow(ctx, qRevokeInsert,
		rec.TokenID, rec.SubjectID, string(rec.Kind), string(rec.Reason), rec.RevokedAt, rec.ExpiresAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return token.RevocationRecord{}, false, fmt.Errorf("revoke insert: %w", err)
	}

	// conflict: someone revoked it first
	stored, err = scanRevocation(eq.QueryRow(ctx, qRevokedByID, rec.TokenID))
	if err != nil {
		return token.RevocationRecord{}, false, fmt.Errorf("revoke read existing: %w", err)
	}
	return stored, false, nil
}

func (r *RevocationRepo) RevokeSubject(ctx context.Context, rev token.SubjectRevocation) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRevokeSubject,
		rev.SubjectID, rev.NotBefore, string(rev.Reason), rev.ExpiresAt); err != nil {
		return fmt.Errorf("revoke subject: %w", err)
	}
	return nil
}

func (r *RevocationRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qSweep, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	return n, nil
}

func scanRevocation(row pgx.Row) (token.RevocationRecord, error) {
	var (
		rec          token.RevocationRecord
		kind, reason string
	)
	if err := row.Scan(&rec.TokenID, &rec.SubjectID, &kind, &reason, &rec.RevokedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return token.RevocationRecord{}, ErrNotFound
		}
		return token.RevocationRecord{}, err
	}
	rec.Kind = token.Kind(kind)
	rec.Reason = token.RevokeReason(reason)
	rec.RevokedAt = rec.RevokedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}
