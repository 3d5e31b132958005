package apikeys

import (
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

func sanitize(key models.APIKey) gin.H {
	return gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"prefix":     key.KeyPrefix,
		"enabled":    key.Enabled,
		"expiresAt":  key.ExpiresAt,
		"lastUsedAt": key.LastUsedAt,
		"createdAt":  key.CreatedAt,
		"updatedAt":  key.UpdatedAt,
	}
}

func findKey(c *gin.Context, db *gorm.DB) (*models.APIKey, bool) {
	var key models.APIKey
	err := db.Where("id = ? AND user_id = ?", c.Param("id"), c.GetString("user_id")).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("API key not found"))
		return nil, false
	}
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return nil, false
	}
	return &key, true
}

// HandleList returns the user's API keys without secrets
func HandleList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var keys []models.APIKey
		if err := db.Where("user_id = ?", c.GetString("user_id")).Order("created_at DESC").Find(&keys).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		sanitized := make([]gin.H, len(keys))
		for i, key := range keys {
			sanitized[i] = sanitize(key)
		}
		c.JSON(http.StatusOK, gin.H{"apiKeys": sanitized, "total": len(keys)})
	}
}

// HandleCreate issues a new key. The value is only ever returned here.
func HandleCreate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      string     `json:"name" binding:"required,max=255"`
			ExpiresAt *time.Time `json:"expiresAt"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Key name is required"))
			return
		}
		if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("expiresAt must be in the future"))
			return
		}

		value, hash, err := tokens.GenerateAPIKey()
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		key := models.APIKey{
			UserID:    c.GetString("user_id"),
			Name:      name,
			KeyHash:   hash,
			KeyPrefix: tokens.Prefix(value),
			Enabled:   true,
			ExpiresAt: req.ExpiresAt,
		}
		if err := db.Create(&key).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "API key created successfully",
			"key":     value,
			"apiKey":  sanitize(key),
		})
	}
}

// HandleUpdate renames, enables or disables a key
func HandleUpdate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      *string    `json:"name"`
			Enabled   *bool      `json:"enabled"`
			ExpiresAt *time.Time `json:"expiresAt"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}

		key, ok := findKey(c, db)
		if !ok {
			return
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Key name cannot be empty"))
				return
			}
			updates["name"] = name
		}
		if req.Enabled != nil {
			updates["enabled"] = *req.Enabled
		}
		if req.ExpiresAt != nil {
			updates["expires_at"] = *req.ExpiresAt
		}

		if len(updates) > 0 {
			if err := db.Model(key).Updates(updates).Error; err != nil {
				utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"message": "API key updated successfully", "apiKey": sanitize(*key)})
	}
}

// HandleRotate replaces the key value, keeping its id and name
func HandleRotate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := findKey(c, db)
		if !ok {
			return
		}

		value, hash, err := tokens.GenerateAPIKey()
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		key.KeyHash = hash
		key.KeyPrefix = tokens.Prefix(value)
		key.Enabled = true
		if err := db.Save(key).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "API key rotated successfully",
			"key":     value,
			"apiKey":  sanitize(*key),
		})
	}
}

// HandleDelete removes a key
func HandleDelete(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := db.Where("id = ? AND user_id = ?", c.Param("id"), c.GetString("user_id")).Delete(&models.APIKey{})
		if result.Error != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(result.Error))
			return
		}
		if result.RowsAffected == 0 {
			utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("API key not found"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
	}
}
