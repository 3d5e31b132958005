package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"inbound-backend/internal/delivery"
	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
	"inbound-backend/internal/tokens"
	"inbound-backend/pkg/utils"
)

var log = logging.WithComponent("webhooks")

const (
	defaultTimeout = 30
	maxTimeout     = 300
	defaultRetries = 3
	maxRetries     = 10
)

// Handler serves the webhook endpoints
type Handler struct {
	db     *gorm.DB
	ses    *sesrules.Manager
	sender *delivery.Sender
}

// NewHandler returns the webhook handler. ses may be nil when AWS is not
// configured; force deletes then cannot remove catch-all rules and say so.
func NewHandler(db *gorm.DB, ses *sesrules.Manager, sender *delivery.Sender) *Handler {
	if sender == nil {
		sender = delivery.NewSender(nil)
	}
	return &Handler{db: db, ses: ses, sender: sender}
}

type webhookRequest struct {
	Name          *string            `json:"name"`
	URL           *string            `json:"url"`
	Secret        *string            `json:"secret"`
	Description   *string            `json:"description"`
	IsActive      *bool              `json:"isActive"`
	Timeout       *int               `json:"timeout"`
	RetryAttempts *int               `json:"retryAttempts"`
	Headers       *map[string]string `json:"headers"`
}

func (r *webhookRequest) validate(creating bool) error {
	if creating {
		if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
			return errors.New("name is required")
		}
		if r.URL == nil {
			return errors.New("url is required")
		}
	}
	if r.Name != nil && len(*r.Name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	if r.URL != nil {
		if err := ValidateURL(*r.URL); err != nil {
			return err
		}
	}
	if r.Timeout != nil && (*r.Timeout < 1 || *r.Timeout > maxTimeout) {
		return errors.New("timeout must be between 1 and 300 seconds")
	}
	if r.RetryAttempts != nil && (*r.RetryAttempts < 0 || *r.RetryAttempts > maxRetries) {
		return errors.New("retryAttempts must be between 0 and 10")
	}
	return nil
}

// ValidateURL accepts absolute http(s) URLs only
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return errors.New("url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	return nil
}

func (h *Handler) find(c *gin.Context) (*models.Webhook, bool) {
	var hook models.Webhook
	err := h.db.Where("id = ? AND user_id = ?", c.Param("id"), c.GetString("user_id")).First(&hook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Webhook not found"))
		return nil, false
	}
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return nil, false
	}
	return &hook, true
}

// HandleList returns the user's webhooks
func (h *Handler) HandleList(c *gin.Context) {
	var hooks []models.Webhook
	if err := h.db.Where("user_id = ?", c.GetString("user_id")).Order("created_at DESC").Find(&hooks).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks, "total": len(hooks)})
}

// HandleGet returns one webhook
func (h *Handler) HandleGet(c *gin.Context) {
	hook, ok := h.find(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": hook})
}

// HandleCreate creates a webhook, generating a signing secret when none is given
func (h *Handler) HandleCreate(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}
	if err := req.validate(true); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}

	hook := models.Webhook{
		Name:          strings.TrimSpace(*req.Name),
		URL:           strings.TrimSpace(*req.URL),
		IsActive:      true,
		Timeout:       defaultTimeout,
		RetryAttempts: defaultRetries,
		UserID:        c.GetString("user_id"),
	}
	if req.Description != nil {
		hook.Description = *req.Description
	}
	if req.IsActive != nil {
		hook.IsActive = *req.IsActive
	}
	if req.Timeout != nil {
		hook.Timeout = *req.Timeout
	}
	if req.RetryAttempts != nil {
		hook.RetryAttempts = *req.RetryAttempts
	}
	if req.Headers != nil {
		hook.Headers = models.NewJSON(*req.Headers)
	}

	secret := ""
	if req.Secret != nil {
		secret = strings.TrimSpace(*req.Secret)
	}
	if secret == "" {
		generated, err := tokens.GenerateSecret(32)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		secret = "whsec_" + generated
	}
	hook.Secret = secret

	if err := h.db.Create(&hook).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	log.WithField("webhook_id", hook.ID).Info("webhook created")
	c.JSON(http.StatusCreated, gin.H{
		"message": "Webhook created successfully",
		"webhook": hook,
		"secret":  secret,
	})
}

// HandleUpdate updates the given webhook fields
func (h *Handler) HandleUpdate(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}
	if err := req.validate(false); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}

	hook, ok := h.find(c)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		updates["url"] = strings.TrimSpace(*req.URL)
	}
	if req.Secret != nil && strings.TrimSpace(*req.Secret) != "" {
		updates["secret"] = strings.TrimSpace(*req.Secret)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Timeout != nil {
		updates["timeout"] = *req.Timeout
	}
	if req.RetryAttempts != nil {
		updates["retry_attempts"] = *req.RetryAttempts
	}
	if req.Headers != nil {
		updates["headers"] = models.NewJSON(*req.Headers)
	}

	if len(updates) > 0 {
		if err := h.db.Model(hook).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
	}
	if err := h.db.First(hook, "id = ?", hook.ID).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook updated successfully", "webhook": hook})
}

// HandleDelete deletes a webhook. References from addresses and catch-all
// domains block the delete unless force=true, which clears them.
func (h *Handler) HandleDelete(c *gin.Context) {
	hook, ok := h.find(c)
	if !ok {
		return
	}

	var addressRefs, domainRefs int64
	h.db.Model(&models.EmailAddress{}).Where("webhook_id = ?", hook.ID).Count(&addressRefs)
	h.db.Model(&models.EmailDomain{}).Where("catch_all_webhook_id = ?", hook.ID).Count(&domainRefs)

	if (addressRefs > 0 || domainRefs > 0) && c.Query("force") != "true" {
		c.JSON(http.StatusConflict, gin.H{
			"error":           apperrors.ErrConflict.Code,
			"message":         "Webhook is in use",
			"emailAddresses":  addressRefs,
			"catchAllDomains": domainRefs,
			"hint":            "Pass force=true to detach it and delete anyway",
		})
		return
	}

	var catchAll []models.EmailDomain
	if err := h.db.Where("catch_all_webhook_id = ?", hook.ID).Find(&catchAll).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	// a catch-all without a webhook has nowhere to route, so its SES rule goes too
	removed := make([]string, 0, len(catchAll))
	warnings := map[string]string{}
	for _, d := range catchAll {
		if h.ses == nil {
			warnings[d.Domain] = "AWS SES is not configured; catch-all rule was not removed"
			continue
		}
		rule := h.ses.RemoveCatchAll(c.Request.Context(), d.Domain)
		if !rule.OK() {
			warnings[d.Domain] = rule.Error
			log.WithField("domain", d.Domain).Warn("failed to remove catch-all rule: " + rule.Error)
			continue
		}
		removed = append(removed, d.ID)
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EmailAddress{}).Where("webhook_id = ?", hook.ID).
			Update("webhook_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.EmailDomain{}).Where("catch_all_webhook_id = ?", hook.ID).
			Updates(map[string]interface{}{"catch_all_webhook_id": nil, "is_catch_all_enabled": false}).Error; err != nil {
			return err
		}
		// rule names stay on domains whose rule could not be removed, so a later
		// delete still knows to clean it up
		if len(removed) > 0 {
			if err := tx.Model(&models.EmailDomain{}).Where("id IN ?", removed).
				Update("catch_all_receipt_rule_name", nil).Error; err != nil {
				return err
			}
		}
		return tx.Delete(hook).Error
	})
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	resp := gin.H{
		"message":                "Webhook deleted successfully",
		"detachedEmailAddresses": addressRefs,
		"detachedDomains":        domainRefs,
		"removedCatchAllRules":   len(removed),
	}
	if len(warnings) > 0 {
		resp["awsConfigurationWarnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// TestPayload builds a synthetic email.received event
func TestPayload(hook *models.Webhook) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(gin.H{
		"event":     "email.received",
		"timestamp": now,
		"test":      true,
		"email": gin.H{
			"id":         "test-" + uuid.NewString(),
			"messageId":  "<test-" + uuid.NewString() + "@inbound.new>",
			"from":       "test@example.com",
			"to":         []string{"webhook-test@example.com"},
			"recipient":  "webhook-test@example.com",
			"subject":    "Test webhook from Inbound",
			"receivedAt": now,
			"parsedData": gin.H{
				"textBody": "This is a test email sent to verify your webhook endpoint.",
				"htmlBody": "<p>This is a test email sent to verify your webhook endpoint.</p>",
			},
			"cleanedContent": gin.H{
				"text":        "This is a test email sent to verify your webhook endpoint.",
				"html":        "<p>This is a test email sent to verify your webhook endpoint.</p>",
				"hasText":     true,
				"hasHtml":     true,
				"attachments": []interface{}{},
				"headers":     gin.H{},
			},
		},
		"webhook": gin.H{"id": hook.ID, "name": hook.Name},
	})
}

// HandleTest sends a synthetic event synchronously and reports the outcome
func (h *Handler) HandleTest(c *gin.Context) {
	hook, ok := h.find(c)
	if !ok {
		return
	}

	payload, err := TestPayload(hook)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(maxTimeout)*time.Second)
	defer cancel()
	result := h.sender.Send(ctx, hook, "", payload)

	resp := gin.H{
		"success":         result.OK(),
		"statusCode":      result.StatusCode,
		"responseTime":    result.Duration.Milliseconds(),
		"responseBody":    result.Body,
		"responseHeaders": result.ResponseHeaders,
		"timestamp":       time.Now(),
		"details": gin.H{
			"url":        hook.URL,
			"timeout":    hook.Timeout,
			"statusText": result.StatusText,
			"errorType":  result.ErrorType,
		},
	}
	if result.OK() {
		resp["message"] = "Webhook responded successfully"
	} else {
		resp["error"] = result.ErrorMessage()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeliveries lists recent delivery attempts for a webhook
func (h *Handler) HandleDeliveries(c *gin.Context) {
	hook, ok := h.find(c)
	if !ok {
		return
	}
	limit, offset := utils.Pagination(c, 50, 200)

	query := h.db.Model(&models.WebhookDelivery{}).Where("webhook_id = ?", hook.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var deliveries []models.WebhookDelivery
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&deliveries).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deliveries": deliveries,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}
