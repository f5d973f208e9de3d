package authority

import (
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/golang-jwt/jwt/v5"
)

var errMalformedClaims = errors.New("malformed claims")

// jwtClaims is the wire form of token.Claims. "iat" and "exp" are whole
// seconds; "ist" and "exs" carry the same instants in microseconds, and are
// the ones verification uses.
type jwtClaims struct {
	Version   int    `json:"ver"`
	Kind      string `json:"typ"`
	IssuedUs  int64  `json:"ist"`
	ExpiresUs int64  `json:"exs"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func encodeClaims(c token.Claims) jwtClaims {
	return jwtClaims{
		Version:   c.Version,
		Kind:      string(c.Kind),
		IssuedUs:  c.IssuedAt.UnixMicro(),
		ExpiresUs: c.ExpiresAt.UnixMicro(),
		Username:  c.Username,
		Email:     c.Email,
		Role:      c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
}

func (c *jwtClaims) decode() (token.Claims, error) {
	switch {
	case c.Version != token.ClaimsVersion:
		return token.Claims{}, fmt.Errorf("%w: unsupported version %d", errMalformedClaims, c.Version)
	case c.ID == "" || c.Subject == "":
		return token.Claims{}, fmt.Errorf("%w: missing jti or sub", errMalformedClaims)
	case c.IssuedAt == nil || c.ExpiresAt == nil:
		return token.Claims{}, fmt.Errorf("%w: missing iat or exp", errMalformedClaims)
	case !token.Kind(c.Kind).Valid():
		return token.Claims{}, fmt.Errorf("%w: unknown kind %q", errMalformedClaims, c.Kind)
	}

	issued := time.UnixMicro(c.IssuedUs).UTC()
	if issued.Unix() != c.IssuedAt.Unix() {
		return token.Claims{}, fmt.Errorf("%w: ist does not match iat", errMalformedClaims)
	}
	expires := time.UnixMicro(c.ExpiresUs).UTC()
	if expires.Unix() != c.ExpiresAt.Unix() {
		return token.Claims{}, fmt.Errorf("%w: exs does not match exp", errMalformedClaims)
	}
	if !issued.Before(expires) {
		return token.Claims{}, fmt.Errorf("%w: expires before issued", errMalformedClaims)
	}

	return token.Claims{
		Version:   c.Version,
		TokenID:   c.ID,
		Subject:   c.Subject,
		Kind:      token.Kind(c.Kind),
		Issuer:    c.Issuer,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Username:  c.Username,
		Email:     c.Email,
		Role:      c.Role,
	}, nil
}
