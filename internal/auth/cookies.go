package auth

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AuthCookieName is the browser session cookie; Middleware reads it when no
// Authorization header is present.
const AuthCookieName = "inbound_session"

// secureCookies honors SECURE_COOKIES, then falls back to whether the request
// reached us over TLS (directly or behind a proxy).
func secureCookies(c *gin.Context) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SECURE_COOKIES"))) {
	case "true":
		return true
	case "false":
		return false
	}
	return c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}

// SetAuthCookie stores the session JWT until it expires
func SetAuthCookie(c *gin.Context, token string, expiry time.Time) {
	maxAge := int(time.Until(expiry).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AuthCookieName, token, maxAge, "/", os.Getenv("COOKIE_DOMAIN"), secureCookies(c), true)
}

// ClearAuthCookie expires the session cookie
func ClearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AuthCookieName, "", -1, "/", os.Getenv("COOKIE_DOMAIN"), secureCookies(c), true)
}
