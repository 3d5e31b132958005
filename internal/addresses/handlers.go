package addresses

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
	"inbound-backend/pkg/utils"
)

var log = logging.WithComponent("addresses")

// Handler serves the /email-addresses endpoints
type Handler struct {
	db  *gorm.DB
	ses *sesrules.Manager
}

// NewHandler returns an address handler. ses may be nil, in which case rule
// changes are skipped and reported as warnings.
func NewHandler(db *gorm.DB, ses *sesrules.Manager) *Handler {
	return &Handler{db: db, ses: ses}
}

// SplitAddress validates an email address and returns its lowercased local
// part and domain.
func SplitAddress(raw string) (string, string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	parsed, err := mail.ParseAddress(raw)
	if err != nil || parsed.Address != raw {
		return "", "", errors.New("invalid email address")
	}
	at := strings.LastIndex(raw, "@")
	local, domain := raw[:at], raw[at+1:]
	if local == "" || len(local) > 64 {
		return "", "", errors.New("local part must be 1 to 64 characters")
	}
	return local, domain, nil
}

// ruleOutcome is what happened to the domain's receipt rule after a change
type ruleOutcome struct {
	Rule    *sesrules.RuleResult `json:"receiptRule,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

// refreshRule makes the domain's per-address rule list exactly the active
// addresses, removing the rule when none remain, and records the outcome on
// the address rows.
func (h *Handler) refreshRule(ctx context.Context, domain *models.EmailDomain) ruleOutcome {
	var active []string
	if err := h.db.Model(&models.EmailAddress{}).
		Where("domain_id = ? AND is_active = ?", domain.ID, true).
		Order("address ASC").
		Pluck("address", &active).Error; err != nil {
		return ruleOutcome{Warning: err.Error()}
	}

	if h.ses == nil {
		h.markConfigured(domain, nil)
		return ruleOutcome{Warning: "AWS SES is not configured; receipt rule not updated"}
	}

	var result sesrules.RuleResult
	if len(active) == 0 {
		result = h.ses.RemoveEmailReceiving(ctx, domain.Domain)
	} else {
		result = h.ses.ConfigureEmailReceiving(ctx, domain.Domain, active)
	}

	out := ruleOutcome{Rule: &result}
	entry := log.WithFields(logrus.Fields{"domain": domain.Domain, "recipients": len(active), "status": result.Status})
	if !result.OK() {
		out.Warning = result.Error
		h.markConfigured(domain, nil)
		entry.Warn("receipt rule update failed: " + result.Error)
		return out
	}

	if result.Status == sesrules.RuleRemoved {
		h.markConfigured(domain, nil)
	} else {
		h.markConfigured(domain, &result.RuleName)
	}
	entry.Info("receipt rule refreshed")
	return out
}

func (h *Handler) markConfigured(domain *models.EmailDomain, ruleName *string) {
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EmailDomain{}).Where("id = ?", domain.ID).
			Update("receipt_rule_name", ruleName).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.EmailAddress{}).Where("domain_id = ? AND is_active = ?", domain.ID, false).
			Updates(map[string]interface{}{"is_receipt_rule_configured": false, "receipt_rule_name": nil}).Error; err != nil {
			return err
		}
		return tx.Model(&models.EmailAddress{}).Where("domain_id = ? AND is_active = ?", domain.ID, true).
			Updates(map[string]interface{}{"is_receipt_rule_configured": ruleName != nil, "receipt_rule_name": ruleName}).Error
	})
	if err != nil {
		utils.HandleError(err, "mark receipt rule configuration")
	}
	domain.ReceiptRuleName = ruleName
}

func (h *Handler) find(c *gin.Context) (*models.EmailAddress, bool) {
	var address models.EmailAddress
	err := h.db.Where("id = ? AND user_id = ?", c.Param("id"), c.GetString("user_id")).First(&address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Email address not found"))
		return nil, false
	}
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return nil, false
	}
	return &address, true
}

// ownedWebhook checks the webhook belongs to the user
func (h *Handler) ownedWebhook(userID, id string) (bool, error) {
	var n int64
	err := h.db.Model(&models.Webhook{}).Where("id = ? AND user_id = ?", id, userID).Count(&n).Error
	return n > 0, err
}

// HandleList lists the user's addresses, optionally for one domain
func (h *Handler) HandleList(c *gin.Context) {
	limit, offset := utils.Pagination(c, 50, 200)
	query := h.db.Model(&models.EmailAddress{}).Where("user_id = ?", c.GetString("user_id"))
	if domainID := c.Query("domainId"); domainID != "" {
		query = query.Where("domain_id = ?", domainID)
	}
	if active := c.Query("isActive"); active != "" {
		query = query.Where("is_active = ?", active == "true")
	}

	var total int64
	query.Count(&total)

	var addresses []models.EmailAddress
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&addresses).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": addresses, "total": total, "limit": limit, "offset": offset})
}

// HandleGet returns one address
func (h *Handler) HandleGet(c *gin.Context) {
	address, ok := h.find(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, address)
}

// HandleCreate adds an address on a verified domain and refreshes the rule
func (h *Handler) HandleCreate(c *gin.Context) {
	var req struct {
		Address   string  `json:"address" binding:"required"`
		DomainID  string  `json:"domainId"`
		WebhookID *string `json:"webhookId"`
		IsActive  *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}

	local, domainName, err := SplitAddress(req.Address)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails(err.Error()))
		return
	}
	userID := c.GetString("user_id")

	var domain models.EmailDomain
	query := h.db.Where("user_id = ? AND domain = ?", userID, domainName)
	if req.DomainID != "" {
		query = query.Where("id = ?", req.DomainID)
	}
	if err := query.First(&domain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Domain not found"))
			return
		}
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	if !domain.IsVerified() {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrDomainNotVerified)
		return
	}

	if req.WebhookID != nil && *req.WebhookID != "" {
		owned, err := h.ownedWebhook(userID, *req.WebhookID)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		if !owned {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Webhook not found"))
			return
		}
	} else {
		req.WebhookID = nil
	}

	full := local + "@" + domainName
	var existing int64
	h.db.Model(&models.EmailAddress{}).Where("address = ?", full).Count(&existing)
	if existing > 0 {
		utils.SendErrorResponse(c, http.StatusConflict, apperrors.ErrConflict.WithDetails("Email address already exists"))
		return
	}

	address := models.EmailAddress{
		Address:   full,
		DomainID:  domain.ID,
		WebhookID: req.WebhookID,
		IsActive:  true,
		UserID:    userID,
	}
	if req.IsActive != nil {
		address.IsActive = *req.IsActive
	}
	if err := h.db.Create(&address).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	outcome := h.refreshRule(c.Request.Context(), &domain)
	h.db.First(&address, "id = ?", address.ID)

	c.JSON(http.StatusCreated, gin.H{
		"emailAddress": address,
		"receiptRule":  outcome.Rule,
		"warning":      outcome.Warning,
	})
}

// HandleUpdate changes the webhook or active flag of an address
func (h *Handler) HandleUpdate(c *gin.Context) {
	var req struct {
		WebhookID *string `json:"webhookId"`
		IsActive  *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}

	address, ok := h.find(c)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.WebhookID != nil {
		if *req.WebhookID == "" {
			updates["webhook_id"] = nil
		} else {
			owned, err := h.ownedWebhook(address.UserID, *req.WebhookID)
			if err != nil {
				utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
				return
			}
			if !owned {
				utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("Webhook not found"))
				return
			}
			updates["webhook_id"] = *req.WebhookID
		}
	}
	activeChanged := req.IsActive != nil && *req.IsActive != address.IsActive
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := h.db.Model(address).Updates(updates).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
	}

	resp := gin.H{}
	if activeChanged {
		var domain models.EmailDomain
		if err := h.db.First(&domain, "id = ?", address.DomainID).Error; err == nil {
			outcome := h.refreshRule(c.Request.Context(), &domain)
			resp["receiptRule"] = outcome.Rule
			resp["warning"] = outcome.Warning
		}
	}

	h.db.First(address, "id = ?", address.ID)
	resp["emailAddress"] = address
	c.JSON(http.StatusOK, resp)
}

// HandleDelete removes an address and refreshes the domain's rule
func (h *Handler) HandleDelete(c *gin.Context) {
	address, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.db.Delete(address).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	resp := gin.H{"message": "Email address deleted successfully"}
	var domain models.EmailDomain
	if err := h.db.First(&domain, "id = ?", address.DomainID).Error; err == nil {
		outcome := h.refreshRule(c.Request.Context(), &domain)
		resp["receiptRule"] = outcome.Rule
		resp["warning"] = outcome.Warning
	}
	c.JSON(http.StatusOK, resp)
}
