package apikeys

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbound-backend/internal/database/dbtest"
	"inbound-backend/internal/models"
	"inbound-backend/internal/tokens"
)

func router(db *gorm.DB, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", userID) })
	r.GET("/api-keys", HandleList(db))
	r.POST("/api-keys", HandleCreate(db))
	r.PUT("/api-keys/:id", HandleUpdate(db))
	r.POST("/api-keys/:id/rotate", HandleRotate(db))
	r.DELETE("/api-keys/:id", HandleDelete(db))
	return r
}

func call(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateListDelete(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")

	w := call(r, http.MethodPost, "/api-keys", gin.H{"name": "ci"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Key    string `json:"key"`
		APIKey struct {
			ID     string `json:"id"`
			Prefix string `json:"prefix"`
		} `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, tokens.IsAPIKey(created.Key))
	assert.Equal(t, tokens.Prefix(created.Key), created.APIKey.Prefix)

	var stored models.APIKey
	require.NoError(t, db.First(&stored, "id = ?", created.APIKey.ID).Error)
	assert.Equal(t, tokens.Hash(created.Key), stored.KeyHash)

	w = call(r, http.MethodGet, "/api-keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Key)
	assert.Contains(t, w.Body.String(), `"total":1`)

	// other users cannot see or delete it
	other := router(db, "user-2")
	assert.Equal(t, http.StatusNotFound, call(other, http.MethodDelete, "/api-keys/"+created.APIKey.ID, nil).Code)

	assert.Equal(t, http.StatusOK, call(r, http.MethodDelete, "/api-keys/"+created.APIKey.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodDelete, "/api-keys/"+created.APIKey.ID, nil).Code)
}

func TestRotateAndDisable(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")

	key := models.APIKey{UserID: "user-1", Name: "old", KeyHash: "h", KeyPrefix: "inb_old", Enabled: true}
	require.NoError(t, db.Create(&key).Error)

	w := call(r, http.MethodPost, "/api-keys/"+key.ID+"/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rotated struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))

	var stored models.APIKey
	require.NoError(t, db.First(&stored, "id = ?", key.ID).Error)
	assert.Equal(t, tokens.Hash(rotated.Key), stored.KeyHash)

	w = call(r, http.MethodPut, "/api-keys/"+key.ID, gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, db.First(&stored, "id = ?", key.ID).Error)
	assert.False(t, stored.Enabled)
}

func TestCreateValidation(t *testing.T) {
	r := router(dbtest.New(t), "user-1")
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/api-keys", gin.H{}).Code)
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/api-keys", gin.H{"name": "  "}).Code)
}
