package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inbound-backend/internal/logging"
	"inbound-backend/internal/metrics"
	"inbound-backend/internal/models"
	"inbound-backend/pkg/utils"
)

const (
	// bounds accepted by the webhook API
	maxRetryAttempts  = 10
	maxWebhookTimeout = 300 * time.Second
)

// Options tunes the dispatcher
type Options struct {
	Workers     int
	BaseBackoff time.Duration
	Sender      *Sender
}

// Dispatcher runs workers that attempt queued deliveries
type Dispatcher struct {
	db          *gorm.DB
	queue       Queue
	sender      *Sender
	workers     int
	baseBackoff time.Duration
	log         *logrus.Entry

	wg sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, queue Queue, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.Sender == nil {
		opts.Sender = NewSender(nil)
	}
	return &Dispatcher{
		db:          db,
		queue:       queue,
		sender:      opts.Sender,
		workers:     opts.Workers,
		baseBackoff: opts.BaseBackoff,
		log:         logging.WithComponent("delivery"),
	}
}

// Queue returns the underlying queue
func (d *Dispatcher) Queue() Queue {
	return d.queue
}

// Submit records a pending delivery for the webhook and queues it
func (d *Dispatcher) Submit(ctx context.Context, emailID *string, hook *models.Webhook, payload []byte) (*models.WebhookDelivery, error) {
	record := &models.WebhookDelivery{
		EmailID:   emailID,
		WebhookID: hook.ID,
		Endpoint:  hook.URL,
		Payload:   models.JSON(payload),
		Status:    models.DeliveryStatusPending,
	}
	if err := d.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	if err := d.queue.Enqueue(ctx, Job{DeliveryID: record.ID}); err != nil {
		return record, fmt.Errorf("enqueue delivery %s: %w", record.ID, err)
	}
	return record, nil
}

// RecoverPending queues every delivery still marked pending. It is meant for
// startup with a non-persistent queue, where queued jobs did not survive.
func (d *Dispatcher) RecoverPending(ctx context.Context) (int, error) {
	return d.requeue(ctx, d.db.Where("status = ?", models.DeliveryStatusPending))
}

// RecoverStale queues pending deliveries with no activity for longer than
// olderThan. A persistent queue loses a job when the process dies between
// dequeue and the attempt, or when scheduling the retry fails.
func (d *Dispatcher) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	return d.requeue(ctx, d.db.
		Where("status = ?", models.DeliveryStatusPending).
		Where("(last_attempt_at IS NULL AND created_at < ?) OR last_attempt_at < ?", cutoff, cutoff))
}

// StaleAfter is how long a pending delivery may sit untouched before it is
// treated as lost: the longest retry backoff plus the longest webhook timeout.
func (d *Dispatcher) StaleAfter() time.Duration {
	return d.Backoff(maxRetryAttempts) + maxWebhookTimeout + time.Minute
}

// RunRecovery requeues stale deliveries every interval until ctx is done
func (d *Dispatcher) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.RecoverStale(ctx, d.StaleAfter())
			if err != nil {
				if ctx.Err() == nil {
					d.log.WithError(err).Warn("stale delivery recovery failed")
				}
				continue
			}
			if n > 0 {
				d.log.WithField("deliveries", n).Warn("requeued stale webhook deliveries")
			}
		}
	}
}

func (d *Dispatcher) requeue(ctx context.Context, query *gorm.DB) (int, error) {
	var ids []string
	if err := query.Model(&models.WebhookDelivery{}).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("load pending deliveries: %w", err)
	}
	for i, id := range ids {
		if err := d.queue.Enqueue(ctx, Job{DeliveryID: id}); err != nil {
			return i, fmt.Errorf("enqueue delivery %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Start launches the workers; they stop when ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.log.WithFields(logrus.Fields{"workers": d.workers, "backend": d.queue.Backend()}).Info("webhook dispatcher started")
}

// Wait blocks until every worker has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			utils.CaptureSentryPanic(fmt.Sprintf("delivery worker %d", n), r)
			d.log.WithField("worker", n).Errorf("worker panic: %v", r)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			d.log.WithError(err).Warn("dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := d.Process(ctx, job); err != nil {
			d.log.WithError(err).WithField("delivery_id", job.DeliveryID).Error("delivery processing failed")
		}
	}
}

// Process makes one attempt for the job and schedules a retry if needed
func (d *Dispatcher) Process(ctx context.Context, job Job) error {
	var record models.WebhookDelivery
	if err := d.db.Where("id = ?", job.DeliveryID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load delivery: %w", err)
	}
	if record.Status != models.DeliveryStatusPending {
		return nil
	}

	entry := d.log.WithFields(logrus.Fields{"delivery_id": record.ID, "webhook_id": record.WebhookID})

	var hook models.Webhook
	err := d.db.Where("id = ?", record.WebhookID).First(&hook).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load webhook: %w", err)
	}
	if err != nil || !hook.IsActive {
		now := time.Now()
		record.Status = models.DeliveryStatusFailed
		record.Error = "webhook is inactive or was deleted"
		record.LastAttemptAt = &now
		if err := d.db.Save(&record).Error; err != nil {
			return fmt.Errorf("save delivery: %w", err)
		}
		metrics.WebhookDeliveries.WithLabelValues("skipped").Inc()
		d.finishEmail(record.EmailID, models.EmailStatusFailed, record.Error)
		entry.Warn("delivery skipped: webhook inactive")
		return nil
	}

	result := d.sender.Send(ctx, &hook, record.ID, record.Payload)
	metrics.WebhookDuration.Observe(result.Duration.Seconds())

	now := time.Now()
	record.Attempts++
	record.LastAttemptAt = &now
	record.ResponseCode = result.StatusCode
	record.ResponseBody = result.Body
	record.Error = result.ErrorMessage()
	record.DeliveryTime = result.Duration.Milliseconds()

	maxAttempts := 1 + hook.RetryAttempts
	switch {
	case result.OK():
		record.Status = models.DeliveryStatusSuccess
	case record.Attempts < maxAttempts:
		record.Status = models.DeliveryStatusPending
	default:
		record.Status = models.DeliveryStatusFailed
	}

	if err := d.db.Save(&record).Error; err != nil {
		return fmt.Errorf("save delivery: %w", err)
	}

	switch record.Status {
	case models.DeliveryStatusSuccess:
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		d.bumpWebhook(&hook, true, now)
		d.finishEmail(record.EmailID, models.EmailStatusForwarded, "")
		entry.WithFields(logrus.Fields{"status": result.StatusCode, "attempt": record.Attempts}).Info("webhook delivered")
	case models.DeliveryStatusPending:
		metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
		delay := d.Backoff(record.Attempts)
		entry.WithFields(logrus.Fields{"attempt": record.Attempts, "retry_in": delay.String()}).
			Warn("webhook attempt failed: " + record.Error)
		if err := d.queue.Schedule(ctx, Job{DeliveryID: record.ID}, now.Add(delay)); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
	default:
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		d.bumpWebhook(&hook, false, now)
		d.finishEmail(record.EmailID, models.EmailStatusFailed, record.Error)
		entry.WithField("attempts", record.Attempts).Error("webhook delivery failed permanently")
	}
	return nil
}

// Backoff returns the wait before the next attempt after the given number of attempts: 1s, 2s, 4s...
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		attempts = 16
	}
	return d.baseBackoff * time.Duration(1<<(attempts-1))
}

func (d *Dispatcher) bumpWebhook(hook *models.Webhook, success bool, at time.Time) {
	updates := map[string]interface{}{
		"total_deliveries": gorm.Expr("total_deliveries + 1"),
		"last_used":        at,
	}
	if success {
		updates["successful_deliveries"] = gorm.Expr("successful_deliveries + 1")
	} else {
		updates["failed_deliveries"] = gorm.Expr("failed_deliveries + 1")
	}
	if err := d.db.Model(&models.Webhook{}).Where("id = ?", hook.ID).Updates(updates).Error; err != nil {
		d.log.WithError(err).WithField("webhook_id", hook.ID).Warn("failed to update webhook counters")
	}
}

func (d *Dispatcher) finishEmail(emailID *string, status, note string) {
	if emailID == nil || *emailID == "" {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{"status": status, "processed_at": now}
	if note != "" {
		updates["status_note"] = note
	}
	if err := d.db.Model(&models.ReceivedEmail{}).Where("id = ?", *emailID).Updates(updates).Error; err != nil {
		d.log.WithError(err).WithField("email_id", *emailID).Warn("failed to update email status")
	}
}
