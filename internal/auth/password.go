package auth

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"inbound-backend/internal/models"
)

const (
	maxFailedLogins = 5
	lockDuration    = 30 * time.Minute
)

// BcryptCost is lowered by tests
var BcryptCost = 12

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword verifies a password against a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsAccountLocked checks if a user account is locked
func IsAccountLocked(user *models.User) bool {
	return user.LockedUntil != nil && time.Now().Before(*user.LockedUntil)
}

// RecordFailedLogin records a failed login attempt, locking the account after repeated failures
func RecordFailedLogin(db *gorm.DB, user *models.User) error {
	now := time.Now()
	user.FailedLoginAttempts++
	user.LastFailedLogin = &now

	if user.FailedLoginAttempts >= maxFailedLogins {
		lockUntil := now.Add(lockDuration)
		user.LockedUntil = &lockUntil
	}

	return db.Model(user).Updates(map[string]interface{}{
		"failed_login_attempts": user.FailedLoginAttempts,
		"last_failed_login":     user.LastFailedLogin,
		"locked_until":          user.LockedUntil,
	}).Error
}

// RecordSuccessfulLogin resets failed login attempts
func RecordSuccessfulLogin(db *gorm.DB, user *models.User) error {
	now := time.Now()
	user.FailedLoginAttempts = 0
	user.LastFailedLogin = nil
	user.LockedUntil = nil
	user.LastLoginAt = &now

	return db.Model(user).Updates(map[string]interface{}{
		"failed_login_attempts": 0,
		"last_failed_login":     nil,
		"locked_until":          nil,
		"last_login_at":         now,
	}).Error
}
