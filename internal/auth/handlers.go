package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/models"
	"inbound-backend/pkg/utils"
)

var log = logging.WithComponent("auth")

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Name     string `json:"name" binding:"max=255"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func userResponse(user models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"name":        user.Name,
		"lastLoginAt": user.LastLoginAt,
		"createdAt":   user.CreatedAt,
	}
}

// HandleRegister creates a user account and starts a session
func HandleRegister(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if os.Getenv("DISABLE_REGISTRATION") == "true" {
			utils.SendErrorResponse(c, http.StatusForbidden, apperrors.New("REGISTRATION_DISABLED", "User registration is disabled"))
			return
		}

		var req registerRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		var existing models.User
		if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
			utils.SendErrorResponse(c, http.StatusConflict, apperrors.ErrConflict.WithDetails("User with this email already exists"))
			return
		}

		hashed, err := HashPassword(req.Password)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		user := models.User{
			Email:    email,
			Password: hashed,
			Name:     strings.TrimSpace(req.Name),
			Active:   true,
		}
		if err := db.Create(&user).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		token, expiry, err := GenerateToken(user)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		SetAuthCookie(c, token, expiry)

		log.WithField("user_id", user.ID).Info("user registered")
		c.JSON(http.StatusCreated, gin.H{
			"message":   "User registered successfully",
			"user":      userResponse(user),
			"token":     token,
			"expiresAt": expiry,
		})
	}
}

// HandleLogin verifies credentials and issues a session token
func HandleLogin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		var user models.User
		if err := db.Where("email = ? AND active = ?", email, true).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondInvalidCredentials(c)
				return
			}
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrDatabaseConnection.WithErr(err))
			return
		}

		if IsAccountLocked(&user) {
			remaining := time.Until(*user.LockedUntil)
			utils.SendErrorResponse(c, http.StatusLocked, apperrors.ErrAccountLocked.WithDetails(
				fmt.Sprintf("Account locked until %s (%.0f minutes remaining)",
					user.LockedUntil.Format(time.RFC3339), remaining.Minutes())))
			return
		}

		if !CheckPassword(req.Password, user.Password) {
			if err := RecordFailedLogin(db, &user); err != nil {
				utils.HandleError(err, "record failed login")
			}
			log.WithFields(logrus.Fields{
				"user_id":   user.ID,
				"client_ip": utils.GetClientIP(c),
				"attempts":  user.FailedLoginAttempts,
			}).Warn("failed login")
			respondInvalidCredentials(c)
			return
		}

		if err := RecordSuccessfulLogin(db, &user); err != nil {
			utils.HandleError(err, "record successful login")
		}

		token, expiry, err := GenerateToken(user)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		SetAuthCookie(c, token, expiry)

		c.JSON(http.StatusOK, gin.H{
			"user":      userResponse(user),
			"token":     token,
			"expiresAt": expiry,
		})
	}
}

// HandleLogout clears the session cookie
func HandleLogout(c *gin.Context) {
	ClearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// HandleGetProfile returns the authenticated user
func HandleGetProfile(c *gin.Context) {
	value, ok := c.Get("user")
	user, isUser := value.(models.User)
	if !ok || !isUser {
		utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       userResponse(user),
		"authMethod": c.GetString("auth_method"),
	})
}

func respondInvalidCredentials(c *gin.Context) {
	utils.SendErrorResponse(c, http.StatusUnauthorized, apperrors.ErrInvalidCredentials)
}
