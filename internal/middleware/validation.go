package middleware

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/pkg/utils"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateCredentials checks the email and password fields of an auth body
// and stores the normalized email as validated_email for rate limiting. The
// body stays readable by the handler through ShouldBindBodyWith.
func ValidateCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload credentials
		if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Invalid JSON format"))
			c.Abort()
			return
		}

		email := strings.ToLower(strings.TrimSpace(payload.Email))
		if email == "" {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Email is required"))
			c.Abort()
			return
		}
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Invalid email format"))
			c.Abort()
			return
		}
		if payload.Password == "" {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Password is required"))
			c.Abort()
			return
		}

		c.Set("validated_email", email)
		c.Next()
	}
}
