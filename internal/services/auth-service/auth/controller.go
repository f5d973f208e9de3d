package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountDisabled      = "ACCOUNT_DISABLED"
	CodeInsufficientRole     = "INSUFFICIENT_ROLE"
	CodeCannotDeactivateSelf = "CANNOT_DEACTIVATE_SELF"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeDuplicateUsername    = "DUPLICATE_USERNAME"
	CodeDuplicateEmail       = "DUPLICATE_EMAIL"
	CodeInternal             = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20

type Controller struct {
	uc       *Usecase
	verifier httpauth.Verifier
	cookies  httpauth.CookieConfig
	log      *zap.Logger
}

func NewController(uc *Usecase, verifier httpauth.Verifier, cookies httpauth.CookieConfig, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{uc: uc, verifier: verifier, cookies: cookies, log: log}
}

func (c *Controller) Mount(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/health", c.Health)
		r.Post("/login", c.Login)
		r.Post("/refresh", c.Refresh)
		r.Post("/logout", c.Logout)

		r.Group(func(r chi.Router) {
			r.Use(httpauth.Middleware(c.verifier, httpauth.Options{Logger: c.log}))
			r.Get("/me", c.Me)
			r.Post("/validate-token", c.ValidateToken)
			r.Post("/change-password", c.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(user.RoleAdmin))
				r.Post("/register", c.RegisterUser)
				r.Patch("/users/{id}/status", c.SetStatus)
				r.Post("/users/{id}/revoke-sessions", c.RevokeSessions)
			})
		})
	})
}

// RequireRole gates on the role carried in the token. Handlers that act on
// other accounts re-check the role against the identity store.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := httpauth.ClaimsFromContext(r.Context())
			if !ok || claims.Role != role {
				httpauth.RespondError(w, http.StatusForbidden, CodeInsufficientRole, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(w http.ResponseWriter, status int, data any) {
	httpauth.RespondJSON(w, status, envelope{Success: true, Data: data})
}

type tokensResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	User         *user.User `json:"user,omitempty"`
}

func (c *Controller) respondSession(w http.ResponseWriter, s *Session) {
	c.cookies.SetTokenCookies(w, s.Pair)
	access := s.Pair.Access.Claims
	ok(w, http.StatusOK, tokensResponse{
		AccessToken:  s.Pair.Access.Raw,
		RefreshToken: s.Pair.Refresh.Raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(access.ExpiresAt.Sub(access.IssuedAt) / time.Second),
		User:         s.User,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Controller) badJSON(w http.ResponseWriter, err error) {
	httpauth.RespondErrorDetails(w, http.StatusBadRequest, CodeValidation, "request body is not valid JSON",
		map[string][]string{"body": {err.Error()}})
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpauth.RespondErrorDetails(w, http.StatusBadRequest, CodeValidation, "invalid input", verr.Fields)
	case errors.Is(err, ErrInvalidCredentials):
		httpauth.RespondError(w, http.StatusUnauthorized, CodeInvalidCredentials, err.Error())
	case errors.Is(err, ErrAccountDisabled):
		httpauth.RespondError(w, http.StatusForbidden, CodeAccountDisabled, err.Error())
	case errors.Is(err, ErrInsufficientRole):
		httpauth.RespondError(w, http.StatusForbidden, CodeInsufficientRole, err.Error())
	case errors.Is(err, ErrCannotDeactivateSelf):
		httpauth.RespondError(w, http.StatusBadRequest, CodeCannotDeactivateSelf, err.Error())
	case errors.Is(err, user.ErrNotFound):
		httpauth.RespondError(w, http.StatusNotFound, CodeUserNotFound, err.Error())
	case errors.Is(err, user.ErrDuplicateUsername):
		httpauth.RespondError(w, http.StatusConflict, CodeDuplicateUsername, user.ErrDuplicateUsername.Error())
	case errors.Is(err, user.ErrDuplicateEmail):
		httpauth.RespondError(w, http.StatusConflict, CodeDuplicateEmail, user.ErrDuplicateEmail.Error())
	case token.Code(err) != "":
		if !token.IsFatal(err) {
			obs.WithTrace(r.Context(), c.log).Error("auth request failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		httpauth.RespondVerifyError(w, err)
	default:
		obs.WithTrace(r.Context(), c.log).Error("auth request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpauth.RespondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func (c *Controller) Health(w http.ResponseWriter, _ *http.Request) {
	httpauth.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "auth-service"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		c.badJSON(w, err)
		return
	}
	s, err := c.uc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.respondSession(w, s)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh takes the refresh token from its cookie, a bearer header or the
// body, in that order.
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, src := httpauth.Extract(r, httpauth.RefreshCookie)
	if src == httpauth.SourceNone {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.badJSON(w, err)
			return
		}
		raw = req.RefreshToken
	}
	if raw == "" {
		httpauth.RespondError(w, http.StatusUnauthorized, httpauth.CodeMissingToken, "refresh token is required")
		return
	}

	s, err := c.uc.Refresh(r.Context(), raw)
	if err != nil {
		if token.IsFatal(err) || errors.Is(err, ErrAccountDisabled) || errors.Is(err, user.ErrNotFound) {
			c.cookies.ClearTokenCookies(w)
		}
		c.fail(w, r, err)
		return
	}
	c.respondSession(w, s)
}

// Logout always succeeds and clears both cookies.
// Logout revokes what the request carries. The refresh cookie is scoped to
// the refresh path and never reaches this handler in a browser, so clients
// that want the refresh token revoked send it as refresh_token in the body.
// Without it only the access token is revoked and the refresh token lives
// until it expires.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := httpauth.Extract(r, httpauth.AccessCookie)
	var refresh string
	if ck, err := r.Cookie(httpauth.RefreshCookie); err == nil {
		refresh = ck.Value
	}
	if refresh == "" {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err == nil {
			refresh = req.RefreshToken
		}
	}

	c.uc.Logout(r.Context(), access, refresh)
	c.cookies.ClearTokenCookies(w)
	httpauth.RespondJSON(w, http.StatusOK, envelope{Success: true, Message: "logged out"})
}

func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	sub, _ := httpauth.SubjectFromContext(r.Context())
	u, err := c.uc.Me(r.Context(), sub)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"user": u})
}

type claimsView struct {
	TokenID   string    `json:"jti"`
	Subject   string    `json:"sub"`
	Kind      string    `json:"typ"`
	Issuer    string    `json:"iss,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
}

func (c *Controller) ValidateToken(w http.ResponseWriter, r *http.Request) {
	cl, _ := httpauth.ClaimsFromContext(r.Context())
	ok(w, http.StatusOK, map[string]any{
		"valid": true,
		"claims": claimsView{
			TokenID:   cl.TokenID,
			Subject:   cl.Subject,
			Kind:      cl.Kind.String(),
			Issuer:    cl.Issuer,
			IssuedAt:  cl.IssuedAt,
			ExpiresAt: cl.ExpiresAt,
			Username:  cl.Username,
			Email:     cl.Email,
			Role:      cl.Role,
		},
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (c *Controller) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		c.badJSON(w, err)
		return
	}
	sub, _ := httpauth.SubjectFromContext(r.Context())
	s, err := c.uc.ChangePassword(r.Context(), sub, req.OldPassword, req.NewPassword)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.respondSession(w, s)
}

func (c *Controller) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		c.badJSON(w, err)
		return
	}
	sub, _ := httpauth.SubjectFromContext(r.Context())
	u, err := c.uc.Register(r.Context(), sub, req)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, map[string]any{"user": u})
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Fields: map[string][]string{"id": {"id must be a positive integer"}}}
	}
	return id, nil
}

type statusRequest struct {
	Active *bool `json:"is_active"`
}

func (c *Controller) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		c.badJSON(w, err)
		return
	}
	if req.Active == nil {
		c.fail(w, r, &ValidationError{Fields: map[string][]string{"is_active": {"is_active is required"}}})
		return
	}

	sub, _ := httpauth.SubjectFromContext(r.Context())
	u, err := c.uc.SetActive(r.Context(), sub, id, *req.Active)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"user": u})
}

func (c *Controller) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	sub, _ := httpauth.SubjectFromContext(r.Context())
	rev, err := c.uc.RevokeSessions(r.Context(), sub, id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{
		"user_id":    id,
		"not_before": rev.NotBefore,
		"reason":     rev.Reason,
	})
}
