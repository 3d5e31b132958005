package billing

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/pkg/utils"
)

// Stripe rejects payloads over this size anyway
const maxWebhookBody = 65536

// HandleGetLimits returns the user's plan and domain allowance
func HandleGetLimits(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limits, err := DomainLimits(db, c.GetString("user_id"))
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"limits": limits})
	}
}

// HandleStripeWebhook verifies the Stripe signature and syncs subscriptions
func HandleStripeWebhook(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			utils.SendErrorResponse(c, http.StatusServiceUnavailable, apperrors.New("BILLING_DISABLED", "Stripe webhooks are not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.New("INVALID_SIGNATURE", "Invalid Stripe signature").WithErr(err))
			return
		}

		if err := ApplySubscriptionEvent(db, event); err != nil {
			log.WithError(err).WithField("event", event.Type).Error("failed to apply stripe event")
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
