package domains

import (
	"context"
	"fmt"
	"time"

	"inbound-backend/internal/models"
	"inbound-backend/pkg/utils"
)

// pendingWindow bounds how long the verifier keeps polling a pending domain
const pendingWindow = 72 * time.Hour

// Verifier periodically re-checks recently added pending domains
type Verifier struct {
	service  *Service
	interval time.Duration
}

func NewVerifier(service *Service, interval time.Duration) *Verifier {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Verifier{service: service, interval: interval}
}

// Run checks pending domains on every tick until ctx is cancelled
func (v *Verifier) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			utils.CaptureSentryPanic("domain verifier", r)
			v.service.log.Errorf("domain verifier panic: %v", r)
		}
	}()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.service.log.WithField("interval", v.interval.String()).Info("domain verifier started")
	for {
		select {
		case <-ctx.Done():
			v.service.log.Info("domain verifier stopped")
			return
		case <-ticker.C:
			if n, err := v.RunOnce(ctx); err != nil {
				utils.HandleError(err, "domain verifier")
			} else if n > 0 {
				v.service.log.WithField("checked", n).Debug("pending domains re-checked")
			}
		}
	}
}

// RunOnce checks every pending domain created within the polling window and
// returns how many were checked.
func (v *Verifier) RunOnce(ctx context.Context) (int, error) {
	var pending []models.EmailDomain
	err := v.service.db.
		Where("status = ? AND created_at > ?", models.DomainStatusPending, time.Now().Add(-pendingWindow)).
		Order("created_at ASC").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("load pending domains: %w", err)
	}

	checked := 0
	for i := range pending {
		if ctx.Err() != nil {
			return checked, nil
		}
		if _, err := v.service.Check(ctx, &pending[i]); err != nil {
			v.service.log.WithError(err).WithField("domain", pending[i].Domain).Warn("background check failed")
			continue
		}
		checked++
	}
	return checked, nil
}
