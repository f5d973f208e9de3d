package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string              `json:"code"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func newRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewController(f.uc, f.a, httpauth.CookieConfig{Secure: true}, nil).Mount(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, bearer string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func login(t *testing.T, h http.Handler, username, password string) tokensResponse {
	t.Helper()
	rec, resp := call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out tokensResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	h := newRouter(t, newFixture(t, Config{}))
	rec, _ := call(t, h, http.MethodGet, "/api/auth/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"auth-service"}`, rec.Body.String())
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)

	rec, resp := call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": userPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	var out tokensResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "Bearer", out.TokenType)
	assert.EqualValues(t, 15*60, out.ExpiresIn)
	assert.Equal(t, "alice", out.User.Username)
	assert.NotContains(t, string(resp.Data), "password")

	access := cookieNamed(rec, httpauth.AccessCookie)
	require.NotNil(t, access)
	assert.Equal(t, out.AccessToken, access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	refresh := cookieNamed(rec, httpauth.RefreshCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, "/api/auth/refresh", refresh.Path)

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad password", map[string]string{"username": "alice", "password": "nope"}, http.StatusUnauthorized, CodeInvalidCredentials},
		{"missing fields", map[string]string{}, http.StatusBadRequest, CodeValidation},
		{"not json", "{", http.StatusBadRequest, CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := call(t, h, http.MethodPost, "/api/auth/login", "", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}

	require.NoError(t, f.users.SetActive(context.Background(), f.user.ID, false))
	rec, resp = call(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": userPassword})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeAccountDisabled, resp.Error.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, Config{RotateRefresh: true})
	h := newRouter(t, f)
	first := login(t, h, "alice", userPassword)
	f.tick()

	rec, resp := call(t, h, http.MethodPost, "/api/auth/refresh", "", nil,
		&http.Cookie{Name: httpauth.RefreshCookie, Value: first.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second tokensResponse
	require.NoError(t, json.Unmarshal(resp.Data, &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)
	assert.NotNil(t, cookieNamed(rec, httpauth.AccessCookie), "cookies are cleared")

	rec, resp = call(t, h, http.MethodPost, "/api/auth/refresh", second.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, token.CodeWrongKind, resp.Error.Code)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httpauth.CodeMissingToken, resp.Error.Code)
}

func TestMeAndValidate(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	tokens := login(t, h, "alice", userPassword)

	rec, resp := call(t, h, http.MethodGet, "/api/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), `"username":"alice"`)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/validate-token", "", nil,
		&http.Cookie{Name: httpauth.AccessCookie, Value: tokens.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var v struct {
		Valid  bool       `json:"valid"`
		Claims claimsView `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	assert.True(t, v.Valid)
	assert.Equal(t, f.user.SubjectID(), v.Claims.Subject)
	assert.Equal(t, "access", v.Claims.Kind)

	rec, resp = call(t, h, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httpauth.CodeMissingToken, resp.Error.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	tokens := login(t, h, "alice", userPassword)

	rec, resp := call(t, h, http.MethodPost, "/api/auth/logout", tokens.AccessToken, map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	cleared := cookieNamed(rec, httpauth.AccessCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)

	rec, resp = call(t, h, http.MethodGet, "/api/auth/me", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)

	_, resp = call(t, h, http.MethodPost, "/api/auth/refresh", tokens.RefreshToken, nil)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)

	rec, _ = call(t, h, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "logout without credentials still succeeds")
}

// downStore fails every revocation write once down is set.
type downStore struct {
	token.Store
	down atomic.Bool
}

func (s *downStore) Revoke(ctx context.Context, rec token.RevocationRecord) (token.RevocationRecord, bool, error) {
	if s.down.Load() {
		return token.RevocationRecord{}, false, errors.New("connection refused")
	}
	return s.Store.Revoke(ctx, rec)
}

func revocationsFailed(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "authority_revocations_failed_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func assertCookiesCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	for _, name := range []string{httpauth.AccessCookie, httpauth.RefreshCookie} {
		c := cookieNamed(rec, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value, name)
		assert.Equal(t, -1, c.MaxAge, name)
	}
}

func TestLogoutWithStoreDown(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &downStore{Store: memory.NewRevocationStore()}
	f := newFixtureOn(t, Config{}, store, zap.New(core))
	h := newRouter(t, f)
	tokens := login(t, h, "alice", userPassword)

	store.down.Store(true)
	before := revocationsFailed(t)

	rec, resp := call(t, h, http.MethodPost, "/api/auth/logout", tokens.AccessToken,
		map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assertCookiesCleared(t, rec)

	assert.Equal(t, before+2, revocationsFailed(t), "access and refresh")
	assert.Equal(t, 2, logs.FilterMessage("logout: revoke failed").Len())
}

func TestLogoutWithExpiredAccessToken(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	tokens := login(t, h, "alice", userPassword)

	f.clock.Advance(16 * time.Minute)
	rec, _ := call(t, h, http.MethodGet, "/api/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := call(t, h, http.MethodPost, "/api/auth/logout", tokens.AccessToken,
		map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assertCookiesCleared(t, rec)

	// the refresh token was still live and is revoked now
	_, resp = call(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)
}

func TestBrowserLogoutNeedsRefreshTokenInBody(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	srv := httptest.NewTLSServer(h)
	defer srv.Close()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar

	post := func(path string, body any) apiResponse {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		res, err := client.Post(srv.URL+path, "application/json", &buf)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		var resp apiResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		return resp
	}
	browserLogin := func() tokensResponse {
		t.Helper()
		resp := post("/api/auth/login", map[string]string{"username": "alice", "password": userPassword})
		var out tokensResponse
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		return out
	}

	first := browserLogin()
	logoutURL, err := url.Parse(srv.URL + "/api/auth/logout")
	require.NoError(t, err)
	var sent []string
	for _, c := range jar.Cookies(logoutURL) {
		sent = append(sent, c.Name)
	}
	assert.Contains(t, sent, httpauth.AccessCookie)
	assert.NotContains(t, sent, httpauth.RefreshCookie)

	// cookies alone revoke the access token only
	post("/api/auth/logout", nil)
	_, resp := call(t, h, http.MethodGet, "/api/auth/me", first.AccessToken, nil)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)
	rec, _ := call(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	f.tick()
	second := browserLogin()
	post("/api/auth/logout", map[string]string{"refresh_token": second.RefreshToken})
	_, resp = call(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": second.RefreshToken})
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	old := login(t, h, "alice", userPassword)
	f.tick()

	rec, resp := call(t, h, http.MethodPost, "/api/auth/change-password", old.AccessToken,
		map[string]string{"old_password": userPassword, "new_password": "N3w#password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fresh tokensResponse
	require.NoError(t, json.Unmarshal(resp.Data, &fresh))

	rec, _ = call(t, h, http.MethodGet, "/api/auth/me", old.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = call(t, h, http.MethodGet, "/api/auth/me", fresh.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	h := newRouter(t, f)
	admin := login(t, h, "root", adminPassword)
	alice := login(t, h, "alice", userPassword)
	f.tick()

	newUser := map[string]string{"username": "bob", "email": "bob@example.com", "password": userPassword}

	rec, resp := call(t, h, http.MethodPost, "/api/auth/register", alice.AccessToken, newUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeInsufficientRole, resp.Error.Code)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/register", admin.AccessToken, newUser)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/register", admin.AccessToken, newUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeDuplicateUsername, resp.Error.Code)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/register", admin.AccessToken, map[string]string{"username": "b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "username")

	rec, resp = call(t, h, http.MethodPatch, "/api/auth/users/"+f.admin.SubjectID()+"/status", admin.AccessToken, map[string]bool{"is_active": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeCannotDeactivateSelf, resp.Error.Code)

	rec, _ = call(t, h, http.MethodPatch, "/api/auth/users/abc/status", admin.AccessToken, map[string]bool{"is_active": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = call(t, h, http.MethodPatch, "/api/auth/users/"+f.user.SubjectID()+"/status", admin.AccessToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error.Details, "is_active")

	rec, _ = call(t, h, http.MethodPatch, "/api/auth/users/"+f.user.SubjectID()+"/status", admin.AccessToken, map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	_, resp = call(t, h, http.MethodGet, "/api/auth/me", alice.AccessToken, nil)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)

	rec, resp = call(t, h, http.MethodPost, "/api/auth/users/999/revoke-sessions", admin.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUserNotFound, resp.Error.Code)

	rec, _ = call(t, h, http.MethodPost, "/api/auth/users/"+f.admin.SubjectID()+"/revoke-sessions", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, resp = call(t, h, http.MethodGet, "/api/auth/me", admin.AccessToken, nil)
	assert.Equal(t, token.CodeRevoked, resp.Error.Code)
}
