package sesrules

import (
	"fmt"
	"strings"

	"inbound-backend/internal/dnscheck"
)

// RequiredRecords lists the records a domain must publish for SES receiving
func RequiredRecords(domain, token string, dkimTokens []string, region string) []dnscheck.Record {
	var records []dnscheck.Record

	if token != "" {
		records = append(records, dnscheck.Record{
			Type:  "TXT",
			Name:  "_amazonses." + domain,
			Value: token,
		})
	}

	for _, t := range dkimTokens {
		records = append(records, dnscheck.Record{
			Type:  "CNAME",
			Name:  fmt.Sprintf("%s._domainkey.%s", t, domain),
			Value: fmt.Sprintf("%s.dkim.amazonses.com", t),
		})
	}

	records = append(records, dnscheck.Record{
		Type:  "MX",
		Name:  domain,
		Value: fmt.Sprintf("10 inbound-smtp.%s.amazonaws.com", region),
	})

	return records
}

// MailFromRecords lists the MX and SPF records for a MAIL FROM subdomain
func MailFromRecords(mailFromDomain, region string) []dnscheck.Record {
	return []dnscheck.Record{
		{Type: "MX", Name: mailFromDomain, Value: fmt.Sprintf("10 feedback-smtp.%s.amazonses.com", region)},
		{Type: "TXT", Name: mailFromDomain, Value: "v=spf1 include:amazonses.com ~all"},
	}
}

// RuleName is the per-address receipt rule name for a domain
func RuleName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-rule"
}

// CatchAllRuleName is the catch-all receipt rule name for a domain
func CatchAllRuleName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-catchall-rule"
}

// ObjectPrefix is where SES stores a domain's raw messages in the bucket
func ObjectPrefix(domain string) string {
	return "emails/" + domain + "/"
}
