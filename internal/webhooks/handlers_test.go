package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbound-backend/internal/database/dbtest"
	"inbound-backend/internal/delivery"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
	"inbound-backend/internal/sesrules/sestest"
)

const ruleSet = "inbound-email-rules"

func router(db *gorm.DB, userID string) *gin.Engine {
	return routerWithSES(db, userID, nil)
}

func routerWithSES(db *gorm.DB, userID string, ses *sesrules.Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(db, ses, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", userID) })
	r.GET("/webhooks", h.HandleList)
	r.POST("/webhooks", h.HandleCreate)
	r.GET("/webhooks/:id", h.HandleGet)
	r.PUT("/webhooks/:id", h.HandleUpdate)
	r.DELETE("/webhooks/:id", h.HandleDelete)
	r.POST("/webhooks/:id/test", h.HandleTest)
	r.GET("/webhooks/:id/deliveries", h.HandleDeliveries)
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

func createHook(t *testing.T, r *gin.Engine, body gin.H) models.Webhook {
	t.Helper()
	w := call(r, http.MethodPost, "/webhooks", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Webhook models.Webhook `json:"webhook"`
		Secret  string         `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	resp.Webhook.Secret = resp.Secret
	return resp.Webhook
}

func TestCreateDefaults(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")

	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})
	assert.True(t, hook.IsActive)
	assert.Equal(t, 30, hook.Timeout)
	assert.Equal(t, 3, hook.RetryAttempts)
	assert.Contains(t, hook.Secret, "whsec_")

	zero := createHook(t, r, gin.H{"name": "no-retry", "url": "http://example.com", "retryAttempts": 0, "isActive": false})
	var stored models.Webhook
	require.NoError(t, db.First(&stored, "id = ?", zero.ID).Error)
	assert.Equal(t, 0, stored.RetryAttempts)
	assert.False(t, stored.IsActive)
}

func TestCreateValidation(t *testing.T) {
	r := router(dbtest.New(t), "user-1")

	cases := []gin.H{
		{"url": "https://example.com"},
		{"name": "x", "url": "ftp://example.com"},
		{"name": "x", "url": "not a url"},
		{"name": "x", "url": "https://example.com", "timeout": 301},
		{"name": "x", "url": "https://example.com", "retryAttempts": 11},
	}
	for _, body := range cases {
		assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/webhooks", body).Code, body)
	}
}

func TestUpdateAndScoping(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")
	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})

	w := call(r, http.MethodPut, "/webhooks/"+hook.ID, gin.H{"timeout": 10, "headers": map[string]string{"X-Env": "prod"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.Webhook
	require.NoError(t, db.First(&stored, "id = ?", hook.ID).Error)
	assert.Equal(t, 10, stored.Timeout)
	assert.Equal(t, "prod", stored.HeaderMap()["X-Env"])

	other := router(db, "user-2")
	assert.Equal(t, http.StatusNotFound, call(other, http.MethodGet, "/webhooks/"+hook.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(other, http.MethodPut, "/webhooks/"+hook.ID, gin.H{"timeout": 5}).Code)
}

func TestDeleteInUseRequiresForce(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")
	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})

	domain := models.EmailDomain{Domain: "example.com", Status: models.DomainStatusVerified, UserID: "user-1",
		IsCatchAllEnabled: true, CatchAllWebhookID: &hook.ID}
	require.NoError(t, db.Create(&domain).Error)
	addr := models.EmailAddress{Address: "a@example.com", DomainID: domain.ID, WebhookID: &hook.ID, IsActive: true, UserID: "user-1"}
	require.NoError(t, db.Create(&addr).Error)

	w := call(r, http.MethodDelete, "/webhooks/"+hook.ID, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = call(r, http.MethodDelete, "/webhooks/"+hook.ID+"?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, db.First(&addr, "id = ?", addr.ID).Error)
	assert.Nil(t, addr.WebhookID)
	require.NoError(t, db.First(&domain, "id = ?", domain.ID).Error)
	assert.Nil(t, domain.CatchAllWebhookID)
	assert.False(t, domain.IsCatchAllEnabled)

	var count int64
	db.Model(&models.Webhook{}).Count(&count)
	assert.Zero(t, count)
}

func newManager(fake *sestest.Fake) *sesrules.Manager {
	return sesrules.NewWithClient(fake, sesrules.Config{
		Region:       "us-east-2",
		RuleSetName:  ruleSet,
		S3BucketName: "inbound-mail",
		LambdaARN:    sesrules.LambdaARN("email-processor", "123456789012", "us-east-2"),
	})
}

// catchAllDomain stores a verified domain routed to hook with a live SES catch-all rule
func catchAllDomain(t *testing.T, db *gorm.DB, ses *sesrules.Manager, hook models.Webhook) models.EmailDomain {
	t.Helper()
	res := ses.ConfigureCatchAll(context.Background(), "example.com")
	require.True(t, res.OK(), res.Error)

	ruleName := res.RuleName
	domain := models.EmailDomain{Domain: "example.com", Status: models.DomainStatusVerified, UserID: "user-1",
		IsCatchAllEnabled: true, CatchAllWebhookID: &hook.ID, CatchAllReceiptRuleName: &ruleName}
	require.NoError(t, db.Create(&domain).Error)
	return domain
}

func TestForceDeleteRemovesCatchAllRule(t *testing.T) {
	db := dbtest.New(t)
	fake := sestest.New()
	r := routerWithSES(db, "user-1", newManager(fake))
	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})
	domain := catchAllDomain(t, db, newManager(fake), hook)

	_, ok := fake.Rule(ruleSet, "example-com-catchall-rule")
	require.True(t, ok)

	w := call(r, http.MethodDelete, "/webhooks/"+hook.ID+"?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["removedCatchAllRules"])
	assert.NotContains(t, resp, "awsConfigurationWarnings")

	_, ok = fake.Rule(ruleSet, "example-com-catchall-rule")
	assert.False(t, ok)

	require.NoError(t, db.First(&domain, "id = ?", domain.ID).Error)
	assert.False(t, domain.IsCatchAllEnabled)
	assert.Nil(t, domain.CatchAllWebhookID)
	assert.Nil(t, domain.CatchAllReceiptRuleName)
}

func TestForceDeleteReportsRuleRemovalFailure(t *testing.T) {
	db := dbtest.New(t)
	fake := sestest.New()
	r := routerWithSES(db, "user-1", newManager(fake))
	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})
	domain := catchAllDomain(t, db, newManager(fake), hook)

	fake.FailOn["DeleteReceiptRule"] = true
	w := call(r, http.MethodDelete, "/webhooks/"+hook.ID+"?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Removed  int               `json:"removedCatchAllRules"`
		Warnings map[string]string `json:"awsConfigurationWarnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Removed)
	assert.Contains(t, resp.Warnings, "example.com")

	require.NoError(t, db.First(&domain, "id = ?", domain.ID).Error)
	assert.False(t, domain.IsCatchAllEnabled)
	require.NotNil(t, domain.CatchAllReceiptRuleName)
	assert.Equal(t, "example-com-catchall-rule", *domain.CatchAllReceiptRuleName)
}

func TestHandleTestSendsSignedPayload(t *testing.T) {
	var signature string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(delivery.SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("received"))
	}))
	defer srv.Close()

	db := dbtest.New(t)
	r := router(db, "user-1")
	hook := createHook(t, r, gin.H{"name": "prod", "url": srv.URL, "secret": "known-secret"})

	w := call(r, http.MethodPost, "/webhooks/"+hook.ID+"/test", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success      bool   `json:"success"`
		StatusCode   int    `json:"statusCode"`
		ResponseBody string `json:"responseBody"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "received", resp.ResponseBody)

	assert.True(t, delivery.VerifySignature("known-secret", body, signature))
	assert.Contains(t, string(body), `"event":"email.received"`)
}

func TestDeliveriesList(t *testing.T) {
	db := dbtest.New(t)
	r := router(db, "user-1")
	hook := createHook(t, r, gin.H{"name": "prod", "url": "https://example.com/hook"})

	for _, status := range []string{models.DeliveryStatusSuccess, models.DeliveryStatusFailed} {
		require.NoError(t, db.Create(&models.WebhookDelivery{WebhookID: hook.ID, Endpoint: hook.URL, Status: status}).Error)
	}

	w := call(r, http.MethodGet, "/webhooks/"+hook.ID+"/deliveries?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}
