package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/NordCoder/Sentinel/internal/services/auth-service/auth"
	"github.com/NordCoder/Sentinel/internal/services/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// topic stands in for the revocation topic: events are encoded the way the
// producer writes them and decoded by the consumer-side handler.
type topic struct {
	t       *testing.T
	handler kafka.Handler
}

func (b topic) publish(ctx context.Context, ev token.RevocationEvent) error {
	raw, err := json.Marshal(ev)
	require.NoError(b.t, err)
	return b.handler(ctx, []byte(ev.SubjectID), raw)
}

func (b topic) TokenRevoked(ctx context.Context, rec token.RevocationRecord) error {
	return b.publish(ctx, token.TokenRevokedEvent(rec))
}

func (b topic) SubjectRevoked(ctx context.Context, rev token.SubjectRevocation) error {
	return b.publish(ctx, token.SubjectRevokedEvent(rev))
}

type stack struct {
	gw string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := authority.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "sentinel",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}

	denylist := gateway.NewDenylist(nil)
	tokens, err := authority.New(cfg, memory.NewRevocationStore(), authority.Opts{
		Events: topic{t: t, handler: kafka.RevocationHandler(denylist.Apply)},
	})
	require.NoError(t, err)

	uc := auth.NewUsecase(memory.NewUserRepo(), auth.BcryptHasher{Cost: bcrypt.MinCost}, tokens, auth.Config{RotateRefresh: true}, auth.Opts{})
	_, _, err = uc.EnsureAdmin(context.Background(), auth.RegisterInput{Username: "root", Email: "root@example.com", Password: "Admin#12345"})
	require.NoError(t, err)

	r := chi.NewRouter()
	auth.NewController(uc, tokens, httpauth.CookieConfig{}, nil).Mount(r)
	authSrv := httptest.NewServer(r)
	t.Cleanup(authSrv.Close)

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpauth.RespondJSON(w, http.StatusOK, map[string]string{"user_id": r.Header.Get(gateway.HeaderUserID)})
	}))
	t.Cleanup(userSrv.Close)

	// The gateway trusts the event stream alone; auth-service is only
	// reached through the proxy.
	verifier, err := authority.NewVerifier(cfg, gateway.LayeredChecker{Local: denylist})
	require.NoError(t, err)
	authURL, _ := url.Parse(authSrv.URL)
	userURL, _ := url.Parse(userSrv.URL)
	h, err := gateway.NewRouter(gateway.RouterConfig{AuthUpstream: authURL, UserUpstream: userURL, Verifier: verifier})
	require.NoError(t, err)
	gw := httptest.NewServer(h)
	t.Cleanup(gw.Close)

	return &stack{gw: gw.URL}
}

type reply struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
	UserID string `json:"user_id"`
}

func (s *stack) do(t *testing.T, method, path, bearer string, body any) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.gw+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out reply
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

type pair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

func (s *stack) login(t *testing.T, username, password string) pair {
	t.Helper()
	code, out := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, code)
	var p pair
	require.NoError(t, json.Unmarshal(out.Data, &p))
	require.NotEmpty(t, p.Access)
	return p
}

func TestEndToEndLogoutIsSeenByGateway(t *testing.T) {
	s := newStack(t)
	p := s.login(t, "root", "Admin#12345")

	code, out := s.do(t, http.MethodGet, "/api/user/profile", p.Access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", out.UserID)

	code, _ = s.do(t, http.MethodPost, "/api/auth/logout", p.Access, map[string]string{"refresh_token": p.Refresh})
	require.Equal(t, http.StatusOK, code)

	code, out = s.do(t, http.MethodGet, "/api/user/profile", p.Access, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, token.CodeRevoked, out.Error.Code)

	code, out = s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": p.Refresh})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, token.CodeRevoked, out.Error.Code)
}

func TestEndToEndPasswordChangeEndsOtherSessions(t *testing.T) {
	s := newStack(t)
	laptop := s.login(t, "root", "Admin#12345")
	phone := s.login(t, "root", "Admin#12345")

	code, out := s.do(t, http.MethodPost, "/api/auth/change-password", laptop.Access,
		map[string]string{"old_password": "Admin#12345", "new_password": "Fresh#67890"})
	require.Equal(t, http.StatusOK, code)
	var fresh pair
	require.NoError(t, json.Unmarshal(out.Data, &fresh))

	for _, stale := range []string{laptop.Access, phone.Access} {
		code, out = s.do(t, http.MethodGet, "/api/user/profile", stale, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, token.CodeRevoked, out.Error.Code)
	}

	code, _ = s.do(t, http.MethodGet, "/api/user/profile", fresh.Access, nil)
	assert.Equal(t, http.StatusOK, code)

	code, out = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "root", "password": "Admin#12345"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, auth.CodeInvalidCredentials, out.Error.Code)
}

func TestEndToEndRefreshRotation(t *testing.T) {
	s := newStack(t)
	p := s.login(t, "root", "Admin#12345")

	code, out := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": p.Refresh})
	require.Equal(t, http.StatusOK, code)
	var next pair
	require.NoError(t, json.Unmarshal(out.Data, &next))
	assert.NotEqual(t, p.Refresh, next.Refresh)

	code, out = s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": p.Refresh})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, token.CodeRevoked, out.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/user/profile", next.Access, nil)
	assert.Equal(t, http.StatusOK, code)
}
