package billing

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"inbound-backend/internal/models"
)

// Plan names
const (
	PlanFree  = "free"
	PlanPro   = "pro"
	PlanScale = "scale"
)

// Plan describes what a subscription tier allows; DomainLimit < 0 means unlimited
type Plan struct {
	Name        string `json:"name"`
	DomainLimit int    `json:"domainLimit"`
}

var plans = map[string]Plan{
	PlanFree:  {Name: PlanFree, DomainLimit: 1},
	PlanPro:   {Name: PlanPro, DomainLimit: 50},
	PlanScale: {Name: PlanScale, DomainLimit: -1},
}

// LookupPlan returns the plan by name, falling back to free
func LookupPlan(name string) Plan {
	if p, ok := plans[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return plans[PlanFree]
}

// Limits is the domain allowance of a user
type Limits struct {
	Plan      string `json:"plan"`
	Allowed   bool   `json:"allowed"`
	Unlimited bool   `json:"unlimited"`
	Balance   int    `json:"balance"`
	Current   int64  `json:"current"`
	Remaining int    `json:"remaining"`
}

// ActivePlan returns the plan of the user's live subscription, or free
func ActivePlan(db *gorm.DB, userID string) (Plan, error) {
	var sub models.Subscription
	err := db.Where("reference_id = ? AND status IN ?", userID, []string{"active", "trialing"}).
		Order("updated_at DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return plans[PlanFree], nil
	}
	if err != nil {
		return Plan{}, fmt.Errorf("load subscription: %w", err)
	}
	return LookupPlan(sub.Plan), nil
}

// DomainLimits reports how many more domains the user may add
func DomainLimits(db *gorm.DB, userID string) (*Limits, error) {
	plan, err := ActivePlan(db, userID)
	if err != nil {
		return nil, err
	}

	var current int64
	if err := db.Model(&models.EmailDomain{}).Where("user_id = ?", userID).Count(&current).Error; err != nil {
		return nil, fmt.Errorf("count domains: %w", err)
	}

	limits := &Limits{Plan: plan.Name, Current: current}
	if plan.DomainLimit < 0 {
		limits.Unlimited = true
		limits.Allowed = true
		return limits, nil
	}

	limits.Balance = plan.DomainLimit
	limits.Remaining = plan.DomainLimit - int(current)
	if limits.Remaining < 0 {
		limits.Remaining = 0
	}
	limits.Allowed = limits.Remaining > 0
	return limits, nil
}
