package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/pkg/utils"
)

// IPRateLimiter manages token-bucket limiters per client key
type IPRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new key-based rate limiter
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the rate limiter for a key
func (i *IPRateLimiter) GetLimiter(key string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Cleanup drops limiters idle for longer than maxIdle
func (i *IPRateLimiter) Cleanup(maxIdle time.Duration) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for key, entry := range i.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(i.limiters, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys
func (i *IPRateLimiter) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}

var (
	loginLimiter    = NewIPRateLimiter(rate.Every(time.Minute/5), 5)
	registerLimiter = NewIPRateLimiter(rate.Every(5*time.Minute), 3)
	apiLimiter      = NewIPRateLimiter(rate.Every(10*time.Millisecond), 100)
)

// exemptPaths bypass the general API limiter
var exemptPaths = []string{"/health", "/ready", "/metrics", "/api/v1/health", "/api/v1/internal/"}

func isExempt(path string) bool {
	for _, p := range exemptPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func limit(c *gin.Context, limiter *IPRateLimiter, key, retryAfter string) bool {
	l := limiter.GetLimiter(key)
	c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
	if !l.Allow() {
		c.Header("Retry-After", retryAfter)
		c.Header("X-RateLimit-Remaining", "0")
		log.WithFields(logrus.Fields{"key": key, "path": c.Request.URL.Path}).Warn("rate limit exceeded")
		utils.SendErrorResponse(c, http.StatusTooManyRequests, apperrors.ErrRateLimited.WithDetails("Retry after "+retryAfter+" seconds"))
		c.Abort()
		return false
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(int(l.Tokens())))
	return true
}

// loginKey prefers the validated email so a shared IP does not lock out
// every user behind it
func loginKey(c *gin.Context) string {
	email := strings.ToLower(c.GetString("validated_email"))
	if email == "" {
		return utils.GetClientIP(c)
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

func LoginRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit(c, loginLimiter, loginKey(c), "60") {
			c.Next()
		}
	}
}

func RegisterRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit(c, registerLimiter, utils.GetClientIP(c), "300") {
			c.Next()
		}
	}
}

// APIRateLimit limits authenticated traffic per user, falling back to the
// client IP before authentication has run
func APIRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		key := c.GetString("user_id")
		if key == "" {
			key = utils.GetClientIP(c)
		}
		if limit(c, apiLimiter, key, "1") {
			c.Next()
		}
	}
}

// StartCleanup periodically drops idle limiters until stop is closed
func StartCleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				utils.CaptureSentryPanic("middleware.StartCleanup", r)
			}
		}()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				removed := 0
				for _, l := range []*IPRateLimiter{loginLimiter, registerLimiter, apiLimiter} {
					removed += l.Cleanup(24 * time.Hour)
				}
				if removed > 0 {
					log.WithField("removed", removed).Debug("rate limiter cleanup")
				}
			}
		}
	}()
}
