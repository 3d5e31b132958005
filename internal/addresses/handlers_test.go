package addresses

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
	"inbound-backend/internal/sesrules"
	"inbound-backend/internal/sesrules/sestest"
)

const ruleSet = "inbound-email-rules"

func setup(t *testing.T) (*gorm.DB, *sestest.Fake, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	fake := sestest.New()
	manager := sesrules.NewWithClient(fake, sesrules.Config{
		Region:       "us-east-2",
		RuleSetName:  ruleSet,
		S3BucketName: "inbound-mail",
		LambdaARN:    sesrules.LambdaARN("email-processor", "123456789012", "us-east-2"),
	})

	h := NewHandler(db, manager)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "user-1") })
	r.GET("/email-addresses", h.HandleList)
	r.POST("/email-addresses", h.HandleCreate)
	r.GET("/email-addresses/:id", h.HandleGet)
	r.PUT("/email-addresses/:id", h.HandleUpdate)
	r.DELETE("/email-addresses/:id", h.HandleDelete)
	return db, fake, r
}

func seedDomain(t *testing.T, db *gorm.DB, name, status string) *models.EmailDomain {
	t.Helper()
	d := &models.EmailDomain{Domain: name, Status: status, CanReceiveEmails: status == models.DomainStatusVerified, UserID: "user-1"}
	require.NoError(t, db.Create(d).Error)
	return d
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
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

func createAddress(t *testing.T, r *gin.Engine, address string) models.EmailAddress {
	t.Helper()
	w := do(r, http.MethodPost, "/email-addresses", gin.H{"address": address})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		EmailAddress models.EmailAddress `json:"emailAddress"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.EmailAddress
}

func TestSplitAddress(t *testing.T) {
	local, domain, err := SplitAddress(" Hello@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "hello", local)
	assert.Equal(t, "example.com", domain)

	for _, bad := range []string{"", "no-at", "a b@example.com", "Name <a@example.com>"} {
		_, _, err := SplitAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateRequiresVerifiedDomain(t *testing.T) {
	db, _, r := setup(t)
	seedDomain(t, db, "pending.com", models.DomainStatusPending)

	w := do(r, http.MethodPost, "/email-addresses", gin.H{"address": "a@pending.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "DOMAIN_NOT_VERIFIED")

	w = do(r, http.MethodPost, "/email-addresses", gin.H{"address": "a@unknown.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleTracksActiveAddresses(t *testing.T) {
	db, fake, r := setup(t)
	domain := seedDomain(t, db, "example.com", models.DomainStatusVerified)

	first := createAddress(t, r, "a@example.com")
	assert.True(t, first.IsActive)
	assert.True(t, first.IsReceiptRuleConfigured)
	second := createAddress(t, r, "b@example.com")

	rule, ok := fake.Rule(ruleSet, "example-com-rule")
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, rule.Recipients)

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/email-addresses", gin.H{"address": "a@example.com"}).Code)

	w := do(r, http.MethodPut, "/email-addresses/"+first.ID, gin.H{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rule, _ = fake.Rule(ruleSet, "example-com-rule")
	assert.Equal(t, []string{"b@example.com"}, rule.Recipients)

	var stored models.EmailAddress
	require.NoError(t, db.First(&stored, "id = ?", first.ID).Error)
	assert.False(t, stored.IsReceiptRuleConfigured)

	w = do(r, http.MethodDelete, "/email-addresses/"+second.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok = fake.Rule(ruleSet, "example-com-rule")
	assert.False(t, ok)

	var d models.EmailDomain
	require.NoError(t, db.First(&d, "id = ?", domain.ID).Error)
	assert.Nil(t, d.ReceiptRuleName)
}

func TestCreateWithForeignWebhook(t *testing.T) {
	db, _, r := setup(t)
	seedDomain(t, db, "example.com", models.DomainStatusVerified)
	hook := models.Webhook{Name: "x", URL: "https://x.test", Secret: "s", IsActive: true, Timeout: 30, UserID: "user-2"}
	require.NoError(t, db.Create(&hook).Error)

	w := do(r, http.MethodPost, "/email-addresses", gin.H{"address": "a@example.com", "webhookId": hook.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateWarnsWhenSESFails(t *testing.T) {
	db, fake, r := setup(t)
	seedDomain(t, db, "example.com", models.DomainStatusVerified)
	fake.FailOn["CreateReceiptRule"] = true

	w := do(r, http.MethodPost, "/email-addresses", gin.H{"address": "a@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"warning":"create receipt rule`)

	var stored models.EmailAddress
	require.NoError(t, db.First(&stored, "address = ?", "a@example.com").Error)
	assert.False(t, stored.IsReceiptRuleConfigured)
}
