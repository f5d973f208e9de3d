package httpauth

import (
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
)

type CookieConfig struct {
	Domain string `mapstructure:"domain"`
	Secure bool   `mapstructure:"secure"`
	// SameSite is one of lax, strict, none.
	SameSite    string `mapstructure:"same_site"`
	RefreshPath string `mapstructure:"refresh_path"`
}

func (c CookieConfig) sameSite() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c CookieConfig) refreshPath() string {
	if c.RefreshPath == "" {
		return "/api/auth/refresh"
	}
	return c.RefreshPath
}

func (c CookieConfig) cookie(name, value, path string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	}
}

// SetTokenCookies sets the access cookie for the whole site and the refresh
// cookie only for the refresh endpoint.
func (c CookieConfig) SetTokenCookies(w http.ResponseWriter, pair *token.Pair) {
	if pair.Access != nil {
		http.SetCookie(w, c.cookie(AccessCookie, pair.Access.Raw, "/", pair.Access.ExpiresAt()))
	}
	if pair.Refresh != nil {
		http.SetCookie(w, c.cookie(RefreshCookie, pair.Refresh.Raw, c.refreshPath(), pair.Refresh.ExpiresAt()))
	}
}

func (c CookieConfig) ClearTokenCookies(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(AccessCookie, "", "/", time.Unix(0, 0)),
		c.cookie(RefreshCookie, "", c.refreshPath(), time.Unix(0, 0)),
	} {
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}
