// Package domains owns the domain lifecycle: registration with SES, DNS and
// SES verification, catch-all routing, MAIL FROM setup and teardown.
package domains

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inbound-backend/internal/billing"
	"inbound-backend/internal/dnscheck"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/metrics"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
)

var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrDomainExists    = errors.New("domain already exists")
	ErrLimitReached    = errors.New("domain limit reached for current plan")
	ErrNotVerified     = errors.New("domain must be verified first")
	ErrWebhookRequired = errors.New("webhookId is required to enable catch-all")
	ErrWebhookInvalid  = errors.New("webhook not found or inactive")
	ErrSESUnavailable  = errors.New("AWS SES is not configured")
)

// Service coordinates the database, SES and DNS for domain operations
type Service struct {
	db  *gorm.DB
	ses *sesrules.Manager
	dns *dnscheck.Checker
	log *logrus.Entry
}

// NewService returns a domain service. ses may be nil when AWS is not
// configured; operations that need it then degrade to warnings.
func NewService(db *gorm.DB, ses *sesrules.Manager, dns *dnscheck.Checker) *Service {
	return &Service{db: db, ses: ses, dns: dns, log: logging.WithComponent("domains")}
}

// Normalize lowercases the name and strips a trailing dot
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// Get loads a domain owned by the user
func (s *Service) Get(userID, id string) (*models.EmailDomain, error) {
	var domain models.EmailDomain
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&domain).Error; err != nil {
		return nil, err
	}
	return &domain, nil
}

// CreateResult is returned when a domain is added
type CreateResult struct {
	Domain       *models.EmailDomain      `json:"domain"`
	DNSRecords   []models.DomainDNSRecord `json:"dnsRecords"`
	Provider     *dnscheck.Provider       `json:"provider,omitempty"`
	HasMXRecords bool                     `json:"hasMxRecords"`
	ExistingMX   []dnscheck.MX            `json:"existingMxRecords,omitempty"`
	Limits       *billing.Limits          `json:"limits,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
}

// Create registers a domain for the user. SES problems do not fail the call;
// the domain is stored as pending with whatever records can be derived.
func (s *Service) Create(ctx context.Context, userID, name string) (*CreateResult, error) {
	name = Normalize(name)
	if !dnscheck.ValidDomain(name) {
		return nil, ErrInvalidDomain
	}

	limits, err := billing.DomainLimits(s.db, userID)
	if err != nil {
		return nil, err
	}
	if !limits.Allowed {
		return &CreateResult{Limits: limits}, ErrLimitReached
	}

	var existing int64
	if err := s.db.Model(&models.EmailDomain{}).Where("domain = ?", name).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check existing domain: %w", err)
	}
	if existing > 0 {
		return nil, ErrDomainExists
	}

	result := &CreateResult{Limits: limits}
	domain := &models.EmailDomain{
		Domain: name,
		Status: models.DomainStatusPending,
		UserID: userID,
	}

	var records []dnscheck.Record
	region := "us-east-2"
	if s.ses != nil {
		region = s.ses.Region()
		v, err := s.ses.VerifyDomain(ctx, name)
		if err != nil {
			s.log.WithError(err).WithField("domain", name).Warn("SES domain verification request failed")
			result.Warnings = append(result.Warnings, "AWS SES verification could not be started: "+err.Error())
		} else {
			domain.VerificationToken = v.Token
			records = v.Records
		}
	} else {
		result.Warnings = append(result.Warnings, ErrSESUnavailable.Error())
	}
	if records == nil {
		records = sesrules.RequiredRecords(name, "", nil, region)
	}

	if s.dns != nil {
		if provider, err := s.dns.DetectProvider(ctx, name); err == nil {
			result.Provider = provider
			domain.DomainProvider = provider.Name
			domain.ProviderConfidence = provider.Confidence
		} else {
			s.log.WithError(err).WithField("domain", name).Debug("provider detection failed")
		}
		if has, mx, err := s.dns.CheckMX(ctx, name); err == nil {
			domain.HasMXRecords = has
			result.HasMXRecords = has
			result.ExistingMX = mx
			if has {
				result.Warnings = append(result.Warnings,
					"Domain already has MX records; they must be replaced for Inbound to receive mail")
			}
		}
	}

	now := time.Now()
	domain.LastDNSCheck = &now

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(domain).Error; err != nil {
			return err
		}
		for _, rec := range records {
			row := models.DomainDNSRecord{
				DomainID:   domain.ID,
				RecordType: rec.Type,
				Name:       rec.Name,
				Value:      rec.Value,
				IsRequired: true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			result.DNSRecords = append(result.DNSRecords, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create domain: %w", err)
	}

	result.Domain = domain
	s.log.WithFields(logrus.Fields{"domain": name, "user_id": userID}).Info("domain created")
	return result, nil
}

// CheckResult is the outcome of a verification pass
type CheckResult struct {
	DNSRecords      []dnscheck.Result `json:"dnsRecords"`
	SESStatus       string            `json:"sesStatus"`
	SESError        string            `json:"sesError,omitempty"`
	IsFullyVerified bool              `json:"isFullyVerified"`
	Status          string            `json:"status"`
	PreviousStatus  string            `json:"previousStatus"`
	LastChecked     time.Time         `json:"lastChecked"`
}

// Check re-verifies the stored DNS records and the SES identity, then moves
// the domain through its status transitions.
func (s *Service) Check(ctx context.Context, domain *models.EmailDomain) (*CheckResult, error) {
	var rows []models.DomainDNSRecord
	if err := s.db.Where("domain_id = ?", domain.ID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load dns records: %w", err)
	}

	now := time.Now()
	result := &CheckResult{PreviousStatus: domain.Status, LastChecked: now}

	if s.dns != nil && len(rows) > 0 {
		records := make([]dnscheck.Record, len(rows))
		for i, r := range rows {
			records[i] = dnscheck.Record{Type: r.RecordType, Name: r.Name, Value: r.Value}
		}
		result.DNSRecords = s.dns.VerifyRecords(ctx, records)

		for i, r := range result.DNSRecords {
			if err := s.db.Model(&rows[i]).Updates(map[string]interface{}{
				"is_verified":  r.IsVerified,
				"last_checked": now,
			}).Error; err != nil {
				return nil, fmt.Errorf("update dns record: %w", err)
			}
		}
	}

	allDNS := len(result.DNSRecords) > 0
	for _, r := range result.DNSRecords {
		if !r.IsVerified {
			allDNS = false
			break
		}
	}

	if s.ses == nil {
		result.SESStatus = models.SESStatusUnknown
		result.SESError = ErrSESUnavailable.Error()
	} else {
		statuses, err := s.ses.VerificationStatus(ctx, domain.Domain)
		if err != nil {
			result.SESStatus = models.SESStatusError
			result.SESError = err.Error()
			s.log.WithError(err).WithField("domain", domain.Domain).Warn("SES status check failed")
		} else {
			result.SESStatus = statuses[domain.Domain]
		}
	}

	if err := s.applySESStatus(domain, result.SESStatus, now); err != nil {
		return nil, err
	}
	if err := s.db.Model(domain).Update("last_dns_check", now).Error; err != nil {
		return nil, fmt.Errorf("update domain: %w", err)
	}
	domain.LastDNSCheck = &now

	result.Status = domain.Status
	result.IsFullyVerified = allDNS && result.SESStatus == models.SESStatusSuccess
	return result, nil
}

// applySESStatus is the single place domain status moves. Success verifies,
// Failed fails, and any other answer only stamps the check time. Error and
// Unknown mean SES was not asked, so nothing moves.
func (s *Service) applySESStatus(domain *models.EmailDomain, sesStatus string, at time.Time) error {
	answered := sesStatus != models.SESStatusError && sesStatus != models.SESStatusUnknown
	updates := map[string]interface{}{}
	if answered {
		updates["last_ses_check"] = at
	}

	next := domain.Status
	switch sesStatus {
	case models.SESStatusSuccess:
		next = models.DomainStatusVerified
		updates["can_receive_emails"] = true
	case models.SESStatusFailed:
		next = models.DomainStatusFailed
		updates["can_receive_emails"] = false
	}
	if next != domain.Status {
		updates["status"] = next
	}
	if len(updates) == 0 {
		return nil
	}

	if err := s.db.Model(domain).Updates(updates).Error; err != nil {
		return fmt.Errorf("update domain status: %w", err)
	}

	if next != domain.Status {
		metrics.DomainTransitions.WithLabelValues(domain.Status, next).Inc()
		s.log.WithFields(logrus.Fields{
			"domain": domain.Domain,
			"from":   domain.Status,
			"to":     next,
		}).Info("domain status changed")
	}
	domain.Status = next
	if sesStatus == models.SESStatusSuccess {
		domain.CanReceiveEmails = true
	} else if sesStatus == models.SESStatusFailed {
		domain.CanReceiveEmails = false
	}
	if answered {
		domain.LastSESCheck = &at
	}
	return nil
}

// SyncResult reports one domain's state after a sync
type SyncResult struct {
	ID             string `json:"id"`
	Domain         string `json:"domain"`
	PreviousStatus string `json:"previousStatus"`
	Status         string `json:"status"`
	SESStatus      string `json:"sesStatus"`
	Updated        bool   `json:"updated"`
}

// Sync fetches SES status for all the user's domains in one batch and
// applies any changes.
func (s *Service) Sync(ctx context.Context, userID string) ([]SyncResult, error) {
	if s.ses == nil {
		return nil, ErrSESUnavailable
	}

	var domains []models.EmailDomain
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	if len(domains) == 0 {
		return []SyncResult{}, nil
	}

	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = d.Domain
	}
	statuses, err := s.ses.VerificationStatus(ctx, names...)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]SyncResult, 0, len(domains))
	for i := range domains {
		d := &domains[i]
		previous := d.Status
		if err := s.applySESStatus(d, statuses[d.Domain], now); err != nil {
			return nil, err
		}
		results = append(results, SyncResult{
			ID:             d.ID,
			Domain:         d.Domain,
			PreviousStatus: previous,
			Status:         d.Status,
			SESStatus:      statuses[d.Domain],
			Updated:        previous != d.Status,
		})
	}
	return results, nil
}

// CatchAllResult describes the outcome of a catch-all change
type CatchAllResult struct {
	Domain                  *models.EmailDomain  `json:"domain"`
	Rule                    *sesrules.RuleResult `json:"receiptRule,omitempty"`
	AWSConfigurationWarning string               `json:"awsConfigurationWarning,omitempty"`
}

// SetCatchAll enables or disables catch-all routing for a verified domain.
// The database records the user's intent even when the SES rule cannot be
// changed; the failure is returned as a warning.
func (s *Service) SetCatchAll(ctx context.Context, domain *models.EmailDomain, enable bool, webhookID string) (*CatchAllResult, error) {
	if !domain.IsVerified() {
		return nil, ErrNotVerified
	}

	result := &CatchAllResult{Domain: domain}

	if enable {
		if webhookID == "" {
			return nil, ErrWebhookRequired
		}
		var hook models.Webhook
		err := s.db.Where("id = ? AND user_id = ? AND is_active = ?", webhookID, domain.UserID, true).First(&hook).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookInvalid
		}
		if err != nil {
			return nil, fmt.Errorf("load webhook: %w", err)
		}

		ruleName := sesrules.CatchAllRuleName(domain.Domain)
		if s.ses == nil {
			result.AWSConfigurationWarning = ErrSESUnavailable.Error()
		} else {
			rule := s.ses.ConfigureCatchAll(ctx, domain.Domain)
			result.Rule = &rule
			if !rule.OK() {
				result.AWSConfigurationWarning = rule.Error
			}
		}

		updates := map[string]interface{}{
			"is_catch_all_enabled":        true,
			"catch_all_webhook_id":        hook.ID,
			"catch_all_receipt_rule_name": ruleName,
		}
		if err := s.db.Model(domain).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update domain: %w", err)
		}
		domain.IsCatchAllEnabled = true
		domain.CatchAllWebhookID = &hook.ID
		domain.CatchAllReceiptRuleName = &ruleName
	} else {
		if s.ses == nil {
			result.AWSConfigurationWarning = ErrSESUnavailable.Error()
		} else {
			rule := s.ses.RemoveCatchAll(ctx, domain.Domain)
			result.Rule = &rule
			if !rule.OK() {
				result.AWSConfigurationWarning = rule.Error
			}
		}

		updates := map[string]interface{}{
			"is_catch_all_enabled":        false,
			"catch_all_webhook_id":        nil,
			"catch_all_receipt_rule_name": nil,
		}
		if err := s.db.Model(domain).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update domain: %w", err)
		}
		domain.IsCatchAllEnabled = false
		domain.CatchAllWebhookID = nil
		domain.CatchAllReceiptRuleName = nil
	}

	if result.AWSConfigurationWarning != "" {
		s.log.WithFields(logrus.Fields{"domain": domain.Domain, "enable": enable}).
			Warn("catch-all saved but SES rule not updated: " + result.AWSConfigurationWarning)
	}
	return result, nil
}

// DeleteResult lists what a domain delete removed
type DeleteResult struct {
	Domain          string            `json:"domain"`
	EmailAddresses  int64             `json:"emailAddresses"`
	DNSRecords      int64             `json:"dnsRecords"`
	BlockedEmails   int64             `json:"blockedEmails"`
	CatchAllRule    string            `json:"catchAllRule,omitempty"`
	ReceiptRule     string            `json:"receiptRule,omitempty"`
	SESIdentity     string            `json:"sesIdentity,omitempty"`
	CleanupWarnings map[string]string `json:"cleanupWarnings,omitempty"`
}

// Delete tears down the domain's SES state best-effort, then removes the
// domain and all of its rows in one transaction.
func (s *Service) Delete(ctx context.Context, domain *models.EmailDomain) (*DeleteResult, error) {
	result := &DeleteResult{Domain: domain.Domain, CleanupWarnings: map[string]string{}}
	entry := s.log.WithField("domain", domain.Domain)

	if s.ses != nil {
		if domain.IsCatchAllEnabled || domain.CatchAllReceiptRuleName != nil {
			rule := s.ses.RemoveCatchAll(ctx, domain.Domain)
			result.CatchAllRule = rule.Status
			if !rule.OK() {
				result.CleanupWarnings["catchAllRule"] = rule.Error
				entry.Warn("failed to remove catch-all rule: " + rule.Error)
			}
		}

		rule := s.ses.RemoveEmailReceiving(ctx, domain.Domain)
		result.ReceiptRule = rule.Status
		if !rule.OK() {
			result.CleanupWarnings["receiptRule"] = rule.Error
			entry.Warn("failed to remove receipt rule: " + rule.Error)
		}

		if err := s.ses.DeleteIdentity(ctx, domain.Domain); err != nil {
			result.SESIdentity = sesrules.RuleFailed
			result.CleanupWarnings["sesIdentity"] = err.Error()
			entry.WithError(err).Warn("failed to delete SES identity")
		} else {
			result.SESIdentity = sesrules.RuleRemoved
		}
	} else {
		result.CleanupWarnings["aws"] = ErrSESUnavailable.Error()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("domain_id = ?", domain.ID).Delete(&models.BlockedEmail{})
		if res.Error != nil {
			return res.Error
		}
		result.BlockedEmails = res.RowsAffected

		res = tx.Where("domain_id = ?", domain.ID).Delete(&models.EmailAddress{})
		if res.Error != nil {
			return res.Error
		}
		result.EmailAddresses = res.RowsAffected

		res = tx.Where("domain_id = ?", domain.ID).Delete(&models.DomainDNSRecord{})
		if res.Error != nil {
			return res.Error
		}
		result.DNSRecords = res.RowsAffected

		return tx.Delete(domain).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete domain: %w", err)
	}

	if len(result.CleanupWarnings) == 0 {
		result.CleanupWarnings = nil
	}
	entry.WithFields(logrus.Fields{
		"addresses":   result.EmailAddresses,
		"dns_records": result.DNSRecords,
		"blocked":     result.BlockedEmails,
	}).Info("domain deleted")
	return result, nil
}

// ConfigureMailFrom sets up mail.<domain> as the MAIL FROM domain
func (s *Service) ConfigureMailFrom(ctx context.Context, domain *models.EmailDomain) (*sesrules.MailFrom, error) {
	if !domain.IsVerified() {
		return nil, ErrNotVerified
	}
	if s.ses == nil {
		return nil, ErrSESUnavailable
	}

	mf, err := s.ses.ConfigureMailFrom(ctx, domain.Domain)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(domain).Updates(map[string]interface{}{
		"mail_from_domain": mf.Domain,
		"mail_from_status": mf.Status,
	}).Error; err != nil {
		return nil, fmt.Errorf("update domain: %w", err)
	}
	domain.MailFromDomain = mf.Domain
	domain.MailFromStatus = mf.Status
	return mf, nil
}

// MailFromDomain returns the MAIL FROM domain to use for a sender address,
// or "" when the sender's domain is not a verified domain of the user.
func (s *Service) MailFromDomain(userID, fromAddress string) string {
	at := strings.LastIndex(fromAddress, "@")
	if at < 0 {
		return ""
	}
	name := Normalize(strings.Trim(fromAddress[at+1:], "> "))

	var domain models.EmailDomain
	err := s.db.Where("domain = ? AND user_id = ? AND status = ?", name, userID, models.DomainStatusVerified).
		First(&domain).Error
	if err != nil {
		return ""
	}
	return domain.MailFromDomain
}
