package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ErrInvalidRevocation = errors.New("authority: revocation needs a token id and expiry")

type Opts struct {
	Logger *zap.Logger
	// Events, when set, is called for every newly created revocation inside
	// the same Tx as the store write.
	Events token.Events
	Tx     token.Transactor
}

// Authority mints tokens and owns the revocation record. Verification is
// provided by the embedded Verifier, backed by the same store.
type Authority struct {
	*Verifier
	store  token.Store
	events token.Events
	tx     token.Transactor
	log    *zap.Logger
}

func New(cfg Config, store token.Store, o Opts) (*Authority, error) {
	if store == nil {
		return nil, errors.New("authority: nil store")
	}
	v, err := NewVerifier(cfg, store)
	if err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tx == nil {
		o.Tx = passTx{}
	}
	return &Authority{Verifier: v, store: store, events: o.Events, tx: o.Tx, log: o.Logger}, nil
}

func (a *Authority) IssueAccess(ctx context.Context, id token.Identity) (*token.Token, error) {
	return a.issue(id, token.KindAccess)
}

func (a *Authority) IssueRefresh(ctx context.Context, id token.Identity) (*token.Token, error) {
	return a.issue(id, token.KindRefresh)
}

func (a *Authority) IssuePair(ctx context.Context, id token.Identity) (*token.Pair, error) {
	access, err := a.issue(id, token.KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := a.issue(id, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	return &token.Pair{Access: access, Refresh: refresh}, nil
}

func (a *Authority) issue(id token.Identity, kind token.Kind) (*token.Token, error) {
	if id.Subject == "" {
		return nil, token.ErrInvalidIdentity
	}
	jti, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate token id: %w", err)
	}

	issued := a.cfg.Now().UTC().Truncate(time.Microsecond)
	c := token.Claims{
		Version:   token.ClaimsVersion,
		TokenID:   jti.String(),
		Subject:   id.Subject,
		Kind:      kind,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(a.cfg.ttl(kind)),
	}
	// refresh tokens only identify the subject; attributes are re-read on refresh
	if kind == token.KindAccess {
		c.Username, c.Email, c.Role = id.Username, id.Email, id.Role
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, encodeClaims(c)).SignedString(a.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign %s token: %w", kind, err)
	}
	issuedTotal.WithLabelValues(kind.String()).Inc()
	return &token.Token{Raw: raw, Claims: c}, nil
}

type RevokeRequest struct {
	TokenID   string
	SubjectID string
	Kind      token.Kind
	ExpiresAt time.Time
	Reason    token.RevokeReason
}

// RequestFor builds a revocation request for already decoded claims.
func RequestFor(c *token.Claims, reason token.RevokeReason) RevokeRequest {
	return RevokeRequest{
		TokenID:   c.TokenID,
		SubjectID: c.Subject,
		Kind:      c.Kind,
		ExpiresAt: c.ExpiresAt,
		Reason:    reason,
	}
}

// Revoke records req.TokenID as revoked. Revoking an already revoked token
// returns the existing record and created=false.
func (a *Authority) Revoke(ctx context.Context, req RevokeRequest) (token.RevocationRecord, bool, error) {
	if req.TokenID == "" || req.ExpiresAt.IsZero() {
		return token.RevocationRecord{}, false, ErrInvalidRevocation
	}

	ctx, span := otel.Tracer("authority").Start(ctx, "authority.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("token.kind", req.Kind.String()),
		attribute.String("revoke.reason", string(req.Reason)),
	)

	rec := token.RevocationRecord{
		TokenID:   req.TokenID,
		SubjectID: req.SubjectID,
		Kind:      req.Kind,
		Reason:    req.Reason,
		RevokedAt: a.cfg.Now().UTC().Truncate(time.Microsecond),
		ExpiresAt: req.ExpiresAt,
	}

	var (
		stored  token.RevocationRecord
		created bool
	)
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		stored, created, err = a.store.Revoke(ctx, rec)
		if err != nil {
			return err
		}
		if created && a.events != nil {
			return a.events.TokenRevoked(ctx, stored)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		revocationsFailed.Inc()
		obs.WithTrace(ctx, a.log).Error("revoke token failed",
			zap.String("jti", req.TokenID), zap.String("sub", req.SubjectID), zap.Error(err))
		return token.RevocationRecord{}, false, fmt.Errorf("revoke %s: %w: %w", req.TokenID, token.ErrStorageUnavailable, err)
	}

	if created {
		revocationsTotal.WithLabelValues("token", string(stored.Reason)).Inc()
		obs.WithTrace(ctx, a.log).Info("token revoked",
			zap.String("jti", stored.TokenID),
			zap.String("sub", stored.SubjectID),
			zap.String("kind", stored.Kind.String()),
			zap.String("reason", string(stored.Reason)))
	}
	return stored, created, nil
}

// RevokeToken decodes raw without enforcing expiry and revokes it. A token
// that has already expired needs no record and reports created=false.
func (a *Authority) RevokeToken(ctx context.Context, raw string, reason token.RevokeReason) (bool, error) {
	claims, err := a.Decode(raw)
	if err != nil {
		return false, err
	}
	if !a.cfg.Now().Before(claims.ExpiresAt) {
		return false, nil
	}
	_, created, err := a.Revoke(ctx, RequestFor(claims, reason))
	return created, err
}

// RevokeSubject rejects every token of subject issued before now. Tokens
// issued afterwards are unaffected.
func (a *Authority) RevokeSubject(ctx context.Context, subject string, reason token.RevokeReason) (token.SubjectRevocation, error) {
	if subject == "" {
		return token.SubjectRevocation{}, token.ErrInvalidIdentity
	}

	ctx, span := otel.Tracer("authority").Start(ctx, "authority.revoke_subject")
	defer span.End()
	span.SetAttributes(attribute.String("revoke.reason", string(reason)))

	now := a.cfg.Now().UTC().Truncate(time.Microsecond)
	rev := token.SubjectRevocation{
		SubjectID: subject,
		NotBefore: now,
		Reason:    reason,
		ExpiresAt: now.Add(a.cfg.maxTTL()),
	}

	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.store.RevokeSubject(ctx, rev); err != nil {
			return err
		}
		if a.events != nil {
			return a.events.SubjectRevoked(ctx, rev)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		revocationsFailed.Inc()
		obs.WithTrace(ctx, a.log).Error("revoke subject failed", zap.String("sub", subject), zap.Error(err))
		return token.SubjectRevocation{}, fmt.Errorf("revoke subject %s: %w: %w", subject, token.ErrStorageUnavailable, err)
	}

	revocationsTotal.WithLabelValues("subject", string(reason)).Inc()
	obs.WithTrace(ctx, a.log).Info("subject revoked",
		zap.String("sub", subject), zap.String("reason", string(reason)), zap.Time("not_before", now))
	return rev, nil
}

// SweepExpired removes revocation records that expired at or before now.
func (a *Authority) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := otel.Tracer("authority").Start(ctx, "authority.sweep")
	defer span.End()

	n, err := a.store.SweepExpired(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("sweep: %w: %w", token.ErrStorageUnavailable, err)
	}
	span.SetAttributes(attribute.Int64("sweep.removed", n))
	return n, nil
}

// Now is the authority clock.
func (a *Authority) Now() time.Time { return a.cfg.Now() }

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
