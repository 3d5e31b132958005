package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/models"
	"inbound-backend/internal/tokens"
	"inbound-backend/pkg/utils"
)

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Middleware authenticates a user by session JWT or API key and sets user_id
func Middleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Allow OPTIONS requests to pass through for CORS preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			if cookie, err := c.Cookie(AuthCookieName); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized.WithDetails("No authorization token provided"))
			c.Abort()
			return
		}

		var userID, authMethod string
		if tokens.IsAPIKey(tokenString) {
			key, err := lookupAPIKey(db, tokenString)
			if err != nil {
				utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized.WithDetails("Invalid API key"))
				c.Abort()
				return
			}
			userID, authMethod = key.UserID, "api_key"
			c.Set("api_key_id", key.ID)
		} else {
			claims, err := ParseToken(tokenString)
			if err != nil {
				utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized.WithDetails("Invalid token"))
				c.Abort()
				return
			}
			userID, authMethod = claims.UserID, "session"
		}

		var user models.User
		if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized.WithDetails("User not found"))
			c.Abort()
			return
		}
		if !user.Active {
			utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrUnauthorized.WithDetails("User account is disabled"))
			c.Abort()
			return
		}

		c.Set("user_id", user.ID)
		c.Set("email", user.Email)
		c.Set("auth_method", authMethod)
		c.Set("user", user)

		c.Next()
	}
}

func lookupAPIKey(db *gorm.DB, value string) (*models.APIKey, error) {
	var key models.APIKey
	if err := db.Where("key_hash = ? AND enabled = ?", tokens.Hash(value), true).First(&key).Error; err != nil {
		return nil, err
	}
	now := time.Now()
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		return nil, errors.New("api key expired")
	}
	db.Model(&key).UpdateColumn("last_used_at", now)
	return &key, nil
}

// ServiceMiddleware guards internal endpoints called by our own infrastructure
func ServiceMiddleware(serviceKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceKey == "" {
			utils.SendErrorResponse(c, http.StatusServiceUnavailable, apperrors.New("SERVICE_AUTH_DISABLED", "Service API key is not configured"))
			c.Abort()
			return
		}

		token := bearerToken(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(serviceKey)) != 1 {
			utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized.WithDetails("Invalid service key"))
			c.Abort()
			return
		}

		c.Set("auth_method", "service")
		c.Next()
	}
}
