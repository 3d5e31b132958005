package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"inbound-backend/internal/logging"
	"inbound-backend/internal/models"
)

var log = logging.WithComponent("billing")

// ApplySubscriptionEvent upserts the local subscription from a Stripe
// customer.subscription.* event. Other event types are ignored.
func ApplySubscriptionEvent(db *gorm.DB, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
	default:
		return nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	userID := sub.Metadata["referenceId"]
	if userID == "" {
		userID = sub.Metadata["userId"]
	}
	if userID == "" {
		return errors.New("subscription has no referenceId metadata")
	}

	status := string(sub.Status)
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
		status = string(stripe.SubscriptionStatusCanceled)
	}

	record := models.Subscription{
		Plan:                 planFromSubscription(&sub),
		ReferenceID:          userID,
		StripeSubscriptionID: sub.ID,
		Status:               status,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		record.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		record.PeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		record.PeriodEnd = &t
	}

	var existing models.Subscription
	err := db.Where("reference_id = ?", userID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&record).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load subscription: %w", err)
	default:
		if err := db.Model(&existing).Updates(map[string]interface{}{
			"plan":                   record.Plan,
			"stripe_customer_id":     record.StripeCustomerID,
			"stripe_subscription_id": record.StripeSubscriptionID,
			"status":                 record.Status,
			"period_start":           record.PeriodStart,
			"period_end":             record.PeriodEnd,
			"cancel_at_period_end":   record.CancelAtPeriodEnd,
		}).Error; err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"user_id": userID,
		"plan":    record.Plan,
		"status":  record.Status,
		"event":   event.Type,
	}).Info("subscription synced")
	return nil
}

func planFromSubscription(sub *stripe.Subscription) string {
	if p := sub.Metadata["plan"]; p != "" {
		return LookupPlan(p).Name
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price != nil && item.Price.LookupKey != "" {
				return LookupPlan(item.Price.LookupKey).Name
			}
		}
	}
	return PlanFree
}
