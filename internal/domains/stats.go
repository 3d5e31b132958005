package domains

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"inbound-backend/internal/billing"
	"inbound-backend/internal/models"
)

// DomainSummary is one row of the stats listing
type DomainSummary struct {
	ID                string     `json:"id"`
	Domain            string     `json:"domain"`
	Status            string     `json:"status"`
	IsVerified        bool       `json:"isVerified"`
	IsCatchAllEnabled bool       `json:"isCatchAllEnabled"`
	EmailAddressCount int64      `json:"emailAddressCount"`
	EmailsLast24h     int64      `json:"emailsLast24h"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastSESCheck      *time.Time `json:"lastSesCheck"`
}

// Overview is the user-level stats response
type Overview struct {
	Domains             []DomainSummary `json:"domains"`
	TotalDomains        int             `json:"totalDomains"`
	VerifiedDomains     int             `json:"verifiedDomains"`
	TotalEmailAddresses int64           `json:"totalEmailAddresses"`
	TotalEmailsLast24h  int64           `json:"totalEmailsLast24h"`
	Limits              *billing.Limits `json:"limits"`
}

// DetailStats are the per-domain counters shown on the domain page
type DetailStats struct {
	TotalEmailAddresses  int64 `json:"totalEmailAddresses"`
	ActiveEmailAddresses int64 `json:"activeEmailAddresses"`
	EmailsLast24h        int64 `json:"emailsLast24h"`
	EmailsLast7d         int64 `json:"emailsLast7d"`
	EmailsLast30d        int64 `json:"emailsLast30d"`
}

type countRow struct {
	DomainID string
	Count    int64
}

func countsByDomain(q *gorm.DB) (map[string]int64, error) {
	var rows []countRow
	if err := q.Select("domain_id, COUNT(*) AS count").Group("domain_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.DomainID] = r.Count
	}
	return out, nil
}

// Overview summarizes all of the user's domains
func (s *Service) Overview(userID string) (*Overview, error) {
	var domains []models.EmailDomain
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&domains).Error; err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}

	addresses, err := countsByDomain(s.db.Model(&models.EmailAddress{}).
		Where("user_id = ? AND is_active = ?", userID, true))
	if err != nil {
		return nil, fmt.Errorf("count addresses: %w", err)
	}
	recent, err := countsByDomain(s.db.Model(&models.ReceivedEmail{}).
		Where("user_id = ? AND received_at > ?", userID, time.Now().Add(-24*time.Hour)))
	if err != nil {
		return nil, fmt.Errorf("count emails: %w", err)
	}

	limits, err := billing.DomainLimits(s.db, userID)
	if err != nil {
		return nil, err
	}

	out := &Overview{Domains: make([]DomainSummary, 0, len(domains)), TotalDomains: len(domains), Limits: limits}
	for _, d := range domains {
		summary := DomainSummary{
			ID:                d.ID,
			Domain:            d.Domain,
			Status:            d.Status,
			IsVerified:        d.IsVerified(),
			IsCatchAllEnabled: d.IsCatchAllEnabled,
			EmailAddressCount: addresses[d.ID],
			EmailsLast24h:     recent[d.ID],
			CreatedAt:         d.CreatedAt,
			LastSESCheck:      d.LastSESCheck,
		}
		if summary.IsVerified {
			out.VerifiedDomains++
		}
		out.TotalEmailAddresses += summary.EmailAddressCount
		out.TotalEmailsLast24h += summary.EmailsLast24h
		out.Domains = append(out.Domains, summary)
	}
	return out, nil
}

// Stats computes address and received-mail counters for one domain
func (s *Service) Stats(domain *models.EmailDomain) (*DetailStats, error) {
	stats := &DetailStats{}

	if err := s.db.Model(&models.EmailAddress{}).Where("domain_id = ?", domain.ID).
		Count(&stats.TotalEmailAddresses).Error; err != nil {
		return nil, fmt.Errorf("count addresses: %w", err)
	}
	if err := s.db.Model(&models.EmailAddress{}).Where("domain_id = ? AND is_active = ?", domain.ID, true).
		Count(&stats.ActiveEmailAddresses).Error; err != nil {
		return nil, fmt.Errorf("count active addresses: %w", err)
	}

	now := time.Now()
	windows := []struct {
		since time.Duration
		dst   *int64
	}{
		{24 * time.Hour, &stats.EmailsLast24h},
		{7 * 24 * time.Hour, &stats.EmailsLast7d},
		{30 * 24 * time.Hour, &stats.EmailsLast30d},
	}
	for _, w := range windows {
		err := s.db.Model(&models.ReceivedEmail{}).
			Where("domain_id = ? AND received_at > ?", domain.ID, now.Add(-w.since)).
			Count(w.dst).Error
		if err != nil {
			return nil, fmt.Errorf("count emails: %w", err)
		}
	}
	return stats, nil
}
