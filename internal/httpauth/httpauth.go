// Package httpauth is the HTTP side of token verification shared by every
// service: credential extraction, the auth middleware, request-scoped
// claims and the error envelope.
package httpauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.uber.org/zap"
)

const (
	AccessCookie  = "access_token_cookie"
	RefreshCookie = "refresh_token_cookie"
)

var errMissingToken = errors.New("missing token")

type Verifier interface {
	Verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error)
}

type Source int

const (
	SourceNone Source = iota
	SourceCookie
	SourceHeader
)

func (s Source) String() string {
	switch s {
	case SourceCookie:
		return "cookie"
	case SourceHeader:
		return "header"
	default:
		return "none"
	}
}

// Extract finds the raw token: the named cookie first, then an
// "Authorization: Bearer" header with a case-insensitive scheme.
func Extract(r *http.Request, cookieName string) (string, Source) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, SourceCookie
		}
	}
	if raw := BearerToken(r); raw != "" {
		return raw, SourceHeader
	}
	return "", SourceNone
}

func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, raw, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

type ctxKeyClaims struct{}

func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims{}, c)
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims{}).(*token.Claims)
	return c, ok && c != nil
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.Subject, true
}

type Options struct {
	// CookieName defaults to AccessCookie.
	CookieName string
	// Kind defaults to token.KindAccess.
	Kind   token.Kind
	Logger *zap.Logger
}

// Middleware rejects requests without a valid token and passes the claims
// of valid ones down through the request context.
func Middleware(v Verifier, o Options) func(http.Handler) http.Handler {
	if o.CookieName == "" {
		o.CookieName = AccessCookie
	}
	if o.Kind == "" {
		o.Kind = token.KindAccess
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, src := Extract(r, o.CookieName)
			if src == SourceNone {
				RespondVerifyError(w, errMissingToken)
				return
			}
			claims, err := v.Verify(r.Context(), raw, o.Kind)
			if err != nil {
				log := obs.WithTrace(r.Context(), o.Logger)
				if token.IsFatal(err) {
					log.Debug("token rejected", zap.String("source", src.String()), zap.Error(err))
				} else {
					log.Error("token verification failed", zap.String("source", src.String()), zap.Error(err))
				}
				RespondVerifyError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
