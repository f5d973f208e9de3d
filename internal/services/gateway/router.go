// Package gateway is the edge proxy: it forwards /api/auth/* untouched and
// puts token verification in front of /api/user/*.
package gateway

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUsername = "X-Username"

	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

var proxiedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

type RouterConfig struct {
	AuthUpstream *url.URL
	UserUpstream *url.URL
	// Verifier is an authority.Verifier (local mode) or an
	// introspect.Client (remote mode).
	Verifier httpauth.Verifier
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.AuthUpstream == nil || cfg.UserUpstream == nil {
		return nil, errors.New("gateway: upstream urls are required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("gateway: nil verifier")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	authProxy := newProxy(cfg.AuthUpstream, cfg.Logger)
	userProxy := httpauth.Middleware(cfg.Verifier, httpauth.Options{Logger: cfg.Logger})(
		withIdentity(newProxy(cfg.UserUpstream, cfg.Logger)),
	)

	mux := runtime.NewServeMux()
	for _, m := range proxiedMethods {
		if err := mux.HandlePath(m, "/api/auth/{path=**}", forward(authProxy)); err != nil {
			return nil, err
		}
		if err := mux.HandlePath(m, "/api/user/{path=**}", forward(userProxy)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func forward(h http.Handler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		h.ServeHTTP(w, r)
	}
}

func isIdentityHeader(name string) bool {
	name = http.CanonicalHeaderKey(name)
	return strings.HasPrefix(name, "X-User-") || name == HeaderUsername
}

// withIdentity replaces any client supplied identity headers with the
// verified claims.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := httpauth.ClaimsFromContext(r.Context())
		if !ok {
			httpauth.RespondVerifyError(w, errors.New("no claims in context"))
			return
		}
		r = r.Clone(r.Context())
		for name := range r.Header {
			if isIdentityHeader(name) {
				r.Header.Del(name)
			}
		}
		r.Header.Set(HeaderUserID, claims.Subject)
		r.Header.Set(HeaderUserRole, claims.Role)
		r.Header.Set(HeaderUsername, claims.Username)
		next.ServeHTTP(w, r)
	})
}

func newProxy(target *url.URL, log *zap.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			obs.WithTrace(r.Context(), log).Warn("upstream request failed",
				zap.String("upstream", target.Host), zap.String("path", r.URL.Path), zap.Error(err))
			httpauth.RespondError(w, http.StatusBadGateway, CodeUpstreamUnavailable, "upstream unavailable")
		},
	}
}
