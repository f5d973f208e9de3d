package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks tokens minted by an Authority sharing the same Config.
// It never writes and is safe for concurrent use.
type Verifier struct {
	cfg     Config
	checker token.RevocationChecker
	parser  *jwt.Parser
}

func NewVerifier(cfg Config, checker token.RevocationChecker) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if checker == nil {
		return nil, errors.New("authority: nil revocation checker")
	}
	return &Verifier{
		cfg:     cfg.withDefaults(),
		checker: checker,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			// expiry is checked against cfg.Now so the boundary is exact
			// and testable with a fake clock
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Verify runs the checks in order and stops at the first failure:
// signature, expiry, kind, revocation. An empty expected kind accepts both.
func (v *Verifier) Verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error) {
	claims, err := v.verify(ctx, raw, expected)
	verifyTotal.WithLabelValues(verifyResult(err)).Inc()
	return claims, err
}

func (v *Verifier) verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error) {
	claims, err := v.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !v.cfg.Now().Before(claims.ExpiresAt) {
		return nil, token.ErrExpired
	}
	if expected != "" && claims.Kind != expected {
		return nil, token.ErrWrongKind
	}

	revoked, err := v.checker.IsRevoked(ctx, claims.TokenID, claims.Subject, claims.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", token.ErrStorageUnavailable, err)
	}
	if revoked {
		return nil, token.ErrRevoked
	}
	return claims, nil
}

// Decode checks the signature and claim structure only. Expiry, kind and
// revocation are not looked at.
func (v *Verifier) Decode(raw string) (*token.Claims, error) {
	var wire jwtClaims
	if _, err := v.parser.ParseWithClaims(raw, &wire, v.key); err != nil {
		return nil, fmt.Errorf("%w: %w", token.ErrInvalidSignature, err)
	}
	claims, err := wire.decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", token.ErrInvalidSignature, err)
	}
	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", token.ErrInvalidSignature, claims.Issuer)
	}
	return &claims, nil
}

func (v *Verifier) key(*jwt.Token) (any, error) {
	return v.cfg.Secret, nil
}
