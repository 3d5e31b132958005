// Package mail exposes the received-email inbox.
package mail

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/internal/inbound"
	"inbound-backend/internal/models"
	"inbound-backend/pkg/utils"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// Addresses groups the parsed address headers
type Addresses struct {
	From    *inbound.AddressList `json:"from"`
	To      *inbound.AddressList `json:"to"`
	Cc      *inbound.AddressList `json:"cc"`
	Bcc     *inbound.AddressList `json:"bcc"`
	ReplyTo *inbound.AddressList `json:"replyTo"`
}

type Content struct {
	TextBody    string               `json:"textBody"`
	HTMLBody    string               `json:"htmlBody"`
	Attachments []inbound.Attachment `json:"attachments"`
	Headers     map[string]string    `json:"headers"`
}

type Metadata struct {
	InReplyTo       string     `json:"inReplyTo,omitempty"`
	References      []string   `json:"references"`
	Priority        string     `json:"priority,omitempty"`
	Date            *time.Time `json:"date,omitempty"`
	ParseSuccess    bool       `json:"parseSuccess"`
	ParseError      string     `json:"parseError,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	HasAttachments  bool       `json:"hasAttachments"`
	AttachmentCount int        `json:"attachmentCount"`
	HasTextContent  bool       `json:"hasTextContent"`
	HasHTMLContent  bool       `json:"hasHtmlContent"`
}

// Security holds the SES verdicts for the message
type Security struct {
	Spam  string `json:"spam"`
	Virus string `json:"virus"`
	SPF   string `json:"spf"`
	DKIM  string `json:"dkim"`
	DMARC string `json:"dmarc"`
}

type Processing struct {
	SESEventID       string                   `json:"sesEventId"`
	Status           string                   `json:"status"`
	StatusNote       string                   `json:"statusNote,omitempty"`
	ProcessedAt      *time.Time               `json:"processedAt"`
	S3Bucket         string                   `json:"s3BucketName,omitempty"`
	S3Key            string                   `json:"s3ObjectKey,omitempty"`
	S3ContentFetched bool                     `json:"s3ContentFetched"`
	S3ContentSize    int                      `json:"s3ContentSize"`
	S3Error          string                   `json:"s3Error,omitempty"`
	Deliveries       []models.WebhookDelivery `json:"deliveries"`
}

// Detail is the structured view of one received email
type Detail struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"messageId"`
	Subject    string     `json:"subject"`
	From       string     `json:"from"`
	FromName   string     `json:"fromName"`
	Recipient  string     `json:"recipient"`
	ReceivedAt time.Time  `json:"receivedAt"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt"`
	WebhookID  *string    `json:"webhookId"`
	Addresses  Addresses  `json:"addresses"`
	Content    Content    `json:"content"`
	Metadata   Metadata   `json:"metadata"`
	Security   Security   `json:"security"`
	Processing Processing `json:"processing"`
}

func (h *Handler) find(c *gin.Context) (*models.ReceivedEmail, bool) {
	var email models.ReceivedEmail
	err := h.db.Where("id = ? AND user_id = ?", c.Param("id"), c.GetString("user_id")).First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, apperrors.ErrNotFound.WithDetails("Email not found"))
		return nil, false
	}
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return nil, false
	}
	return &email, true
}

// HandleList lists received emails, newest first. domain accepts a domain id
// or name.
func (h *Handler) HandleList(c *gin.Context) {
	userID := c.GetString("user_id")
	limit, offset := utils.Pagination(c, 50, 100)

	query := h.db.Model(&models.ReceivedEmail{}).Where("user_id = ?", userID)
	if domain := c.Query("domain"); domain != "" {
		query = query.Where("domain_id IN (?)", h.db.Model(&models.EmailDomain{}).
			Select("id").
			Where("user_id = ? AND (id = ? OR domain = ?)", userID, domain, domain))
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	switch c.Query("isRead") {
	case "true":
		query = query.Where("is_read = ?", true)
	case "false":
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	emails := []models.ReceivedEmail{}
	if err := query.Order("received_at DESC").Limit(limit).Offset(offset).Find(&emails).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"emails": emails,
		"pagination": gin.H{
			"total":   total,
			"limit":   limit,
			"offset":  offset,
			"hasMore": int64(offset+len(emails)) < total,
		},
	})
}

// HandleGet returns the structured view of one email
func (h *Handler) HandleGet(c *gin.Context) {
	email, ok := h.find(c)
	if !ok {
		return
	}

	var event models.SESEvent
	if err := h.db.Where("id = ?", email.SESEventID).First(&event).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	deliveries := []models.WebhookDelivery{}
	if err := h.db.Where("email_id = ?", email.ID).Order("created_at DESC").Find(&deliveries).Error; err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
		return
	}

	c.JSON(http.StatusOK, BuildDetail(email, &event, deliveries))
}

// BuildDetail assembles the structured view from the stored rows
func BuildDetail(email *models.ReceivedEmail, event *models.SESEvent, deliveries []models.WebhookDelivery) Detail {
	parsed := inbound.ParsedEmail{}
	if len(email.ParsedData) > 0 {
		_ = json.Unmarshal(email.ParsedData, &parsed)
	}
	if parsed.Attachments == nil {
		parsed.Attachments = []inbound.Attachment{}
	}
	if parsed.Headers == nil {
		parsed.Headers = map[string]string{}
	}
	if parsed.References == nil {
		parsed.References = []string{}
	}

	return Detail{
		ID:         email.ID,
		MessageID:  email.MessageID,
		Subject:    email.Subject,
		From:       email.From,
		FromName:   email.FromName,
		Recipient:  email.Recipient,
		ReceivedAt: email.ReceivedAt,
		IsRead:     email.IsRead,
		ReadAt:     email.ReadAt,
		WebhookID:  email.WebhookID,
		Addresses: Addresses{
			From:    parsed.From,
			To:      parsed.To,
			Cc:      parsed.Cc,
			Bcc:     parsed.Bcc,
			ReplyTo: parsed.ReplyTo,
		},
		Content: Content{
			TextBody:    parsed.TextBody,
			HTMLBody:    parsed.HTMLBody,
			Attachments: parsed.Attachments,
			Headers:     parsed.Headers,
		},
		Metadata: Metadata{
			InReplyTo:       parsed.InReplyTo,
			References:      parsed.References,
			Priority:        parsed.Priority,
			Date:            parsed.Date,
			ParseSuccess:    parsed.ParseSuccess,
			ParseError:      parsed.ParseError,
			Warnings:        parsed.Warnings,
			HasAttachments:  len(parsed.Attachments) > 0,
			AttachmentCount: len(parsed.Attachments),
			HasTextContent:  parsed.TextBody != "",
			HasHTMLContent:  parsed.HTMLBody != "",
		},
		Security: Security{
			Spam:  event.SpamVerdict,
			Virus: event.VirusVerdict,
			SPF:   event.SPFVerdict,
			DKIM:  event.DKIMVerdict,
			DMARC: event.DMARCVerdict,
		},
		Processing: Processing{
			SESEventID:       email.SESEventID,
			Status:           email.Status,
			StatusNote:       email.StatusNote,
			ProcessedAt:      email.ProcessedAt,
			S3Bucket:         event.S3BucketName,
			S3Key:            event.S3ObjectKey,
			S3ContentFetched: event.S3ContentFetched,
			S3ContentSize:    event.S3ContentSize,
			S3Error:          event.S3Error,
			Deliveries:       deliveries,
		},
	}
}

// HandleMarkRead flags the email as read; repeated calls keep the first read time
func (h *Handler) HandleMarkRead(c *gin.Context) {
	email, ok := h.find(c)
	if !ok {
		return
	}

	if !email.IsRead {
		now := time.Now()
		if err := h.db.Model(email).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		email.IsRead = true
		email.ReadAt = &now
	}

	c.JSON(http.StatusOK, gin.H{"email": email})
}
