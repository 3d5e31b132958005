package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/pkg/utils"
)

// SecurityHeaders adds the response headers for a JSON API
func SecurityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if production && (c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https") {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// RequestSizeLimit caps the request body. Handlers see the overflow as a read
// error; this turns an unanswered one into a 413.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.SendErrorResponse(c, http.StatusRequestEntityTooLarge, apperrors.ErrValidationFailed.WithDetails("request body too large"))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()

		var tooLarge *http.MaxBytesError
		for _, e := range c.Errors {
			if errors.As(e.Err, &tooLarge) && !c.Writer.Written() {
				utils.SendErrorResponse(c, http.StatusRequestEntityTooLarge, apperrors.ErrValidationFailed.WithDetails("request body too large"))
				return
			}
		}
	}
}

// SecurityMonitoring logs slow requests and scanner user agents
func SecurityMonitoring() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if ua := c.GetHeader("User-Agent"); isSuspiciousUserAgent(ua) {
			log.WithFields(logrus.Fields{"user_agent": ua, "client_ip": utils.GetClientIP(c)}).Warn("🚨 suspicious user agent")
		}

		c.Next()

		if d := time.Since(start); d > 5*time.Second {
			log.WithFields(logrus.Fields{
				"method":    c.Request.Method,
				"path":      c.Request.URL.Path,
				"duration":  d.String(),
				"client_ip": utils.GetClientIP(c),
			}).Warn("⚠️ slow request")
		}
	}
}

func isSuspiciousUserAgent(userAgent string) bool {
	suspiciousPatterns := []string{"sqlmap", "nmap", "nikto", "w3af", "masscan", "zgrab"}

	userAgentLower := strings.ToLower(userAgent)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(userAgentLower, pattern) {
			return true
		}
	}
	return false
}
