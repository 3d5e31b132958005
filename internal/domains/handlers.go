package domains

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/models"
	"inbound-backend/pkg/utils"
)

// Handler serves the /domains endpoints
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// respondServiceError maps service errors onto API errors
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidDomain):
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails(err.Error()))
	case errors.Is(err, ErrDomainExists):
		utils.SendErrorResponse(c, http.StatusConflict, apperrors.ErrConflict.WithDetails(err.Error()))
	case errors.Is(err, ErrLimitReached):
		utils.SendErrorResponse(c, http.StatusForbidden, apperrors.ErrLimitReached.WithDetails(err.Error()))
	case errors.Is(err, ErrNotVerified):
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrDomainNotVerified)
	case errors.Is(err, ErrWebhookRequired), errors.Is(err, ErrWebhookInvalid):
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails(err.Error()))
	case errors.Is(err, ErrSESUnavailable):
		utils.SendErrorResponse(c, http.StatusServiceUnavailable, apperrors.ErrAWSNotConfigured)
	case errors.Is(err, gorm.ErrRecordNotFound):
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Domain not found"))
	default:
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
	}
}

func (h *Handler) load(c *gin.Context) (*models.EmailDomain, bool) {
	domain, err := h.service.Get(c.GetString("user_id"), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return nil, false
	}
	return domain, true
}

// HandleList returns the user's domains
func (h *Handler) HandleList(c *gin.Context) {
	limit, offset := utils.Pagination(c, 50, 100)
	query := h.service.db.Model(&models.EmailDomain{}).Where("user_id = ?", c.GetString("user_id"))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var domains []models.EmailDomain
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&domains).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": domains, "total": total, "limit": limit, "offset": offset})
}

// HandleCreate adds a domain
func (h *Handler) HandleCreate(c *gin.Context) {
	var req struct {
		Domain string `json:"domain" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}

	result, err := h.service.Create(c.Request.Context(), c.GetString("user_id"), req.Domain)
	if errors.Is(err, ErrLimitReached) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   apperrors.ErrLimitReached.Code,
			"message": err.Error(),
			"limits":  result.Limits,
		})
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// HandleGet returns a domain with its records and stats. With check=true the
// records and SES identity are re-verified first.
func (h *Handler) HandleGet(c *gin.Context) {
	domain, ok := h.load(c)
	if !ok {
		return
	}

	resp := gin.H{}
	if c.Query("check") == "true" {
		check, err := h.service.Check(c.Request.Context(), domain)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		resp["verificationCheck"] = check
	}

	var records []models.DomainDNSRecord
	if err := h.service.db.Where("domain_id = ?", domain.ID).Order("created_at ASC").Find(&records).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	stats, err := h.service.Stats(domain)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	resp["domain"] = domain
	resp["dnsRecords"] = records
	resp["stats"] = stats
	if domain.CatchAllWebhookID != nil {
		var hook models.Webhook
		if err := h.service.db.Where("id = ?", *domain.CatchAllWebhookID).First(&hook).Error; err == nil {
			resp["catchAllWebhook"] = gin.H{"id": hook.ID, "name": hook.Name, "url": hook.URL, "isActive": hook.IsActive}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleUpdate toggles catch-all routing
func (h *Handler) HandleUpdate(c *gin.Context) {
	var req struct {
		IsCatchAllEnabled *bool  `json:"isCatchAllEnabled"`
		CatchAllWebhookID string `json:"catchAllWebhookId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}
	if req.IsCatchAllEnabled == nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("isCatchAllEnabled is required"))
		return
	}

	domain, ok := h.load(c)
	if !ok {
		return
	}

	result, err := h.service.SetCatchAll(c.Request.Context(), domain, *req.IsCatchAllEnabled, strings.TrimSpace(req.CatchAllWebhookID))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleDelete deletes a domain and everything that belongs to it
func (h *Handler) HandleDelete(c *gin.Context) {
	domain, ok := h.load(c)
	if !ok {
		return
	}

	result, err := h.service.Delete(c.Request.Context(), domain)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "Domain deleted successfully",
		"deletedResources": result,
	})
}

// HandleStats returns the per-user domain overview
func (h *Handler) HandleStats(c *gin.Context) {
	overview, err := h.service.Overview(c.GetString("user_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// HandleSync refreshes every domain's SES status
func (h *Handler) HandleSync(c *gin.Context) {
	results, err := h.service.Sync(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	updated := 0
	for _, r := range results {
		if r.Updated {
			updated++
		}
	}
	c.JSON(http.StatusOK, gin.H{"domains": results, "updated": updated, "total": len(results)})
}

// HandleMailFrom configures the domain's MAIL FROM subdomain
func (h *Handler) HandleMailFrom(c *gin.Context) {
	domain, ok := h.load(c)
	if !ok {
		return
	}

	mf, err := h.service.ConfigureMailFrom(c.Request.Context(), domain)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mf)
}

// HandleListBlocked lists blocked senders for a domain
func (h *Handler) HandleListBlocked(c *gin.Context) {
	domain, ok := h.load(c)
	if !ok {
		return
	}

	var blocked []models.BlockedEmail
	if err := h.service.db.Where("domain_id = ?", domain.ID).Order("created_at DESC").Find(&blocked).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked, "total": len(blocked)})
}

// HandleBlock adds a blocked sender
func (h *Handler) HandleBlock(c *gin.Context) {
	var req struct {
		EmailAddress string `json:"emailAddress" binding:"required"`
		Reason       string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
		return
	}
	address := strings.ToLower(strings.TrimSpace(req.EmailAddress))
	if !strings.Contains(address, "@") {
		utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("emailAddress must be an email address"))
		return
	}

	domain, ok := h.load(c)
	if !ok {
		return
	}

	var existing int64
	h.service.db.Model(&models.BlockedEmail{}).Where("domain_id = ? AND email_address = ?", domain.ID, address).Count(&existing)
	if existing > 0 {
		utils.SendErrorResponse(c, http.StatusConflict, apperrors.ErrConflict.WithDetails("Sender is already blocked"))
		return
	}

	blocked := models.BlockedEmail{
		EmailAddress: address,
		DomainID:     domain.ID,
		Reason:       req.Reason,
		BlockedBy:    c.GetString("user_id"),
	}
	if err := h.service.db.Create(&blocked).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}
	c.JSON(http.StatusCreated, blocked)
}

// HandleUnblock removes a blocked sender
func (h *Handler) HandleUnblock(c *gin.Context) {
	domain, ok := h.load(c)
	if !ok {
		return
	}

	res := h.service.db.Where("id = ? AND domain_id = ?", c.Param("blockedId"), domain.ID).Delete(&models.BlockedEmail{})
	if res.Error != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Blocked sender not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sender unblocked"})
}
