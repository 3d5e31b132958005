package sesrules

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"inbound-backend/internal/dnscheck"
	"inbound-backend/internal/models"
)

// SES accepts at most this many identities per attributes call
const identityBatchSize = 100

// Verification is the result of registering a domain identity
type Verification struct {
	Token      string            `json:"verificationToken"`
	DKIMTokens []string          `json:"dkimTokens"`
	Records    []dnscheck.Record `json:"dnsRecords"`
}

// MailFrom describes a custom MAIL FROM configuration
type MailFrom struct {
	Domain  string            `json:"mailFromDomain"`
	Status  string            `json:"mailFromStatus"`
	Records []dnscheck.Record `json:"dnsRecords,omitempty"`
}

// VerifyDomain registers the domain with SES and returns the records to publish.
// DKIM failure is not fatal: the TXT and MX records are still usable.
func (m *Manager) VerifyDomain(ctx context.Context, domain string) (*Verification, error) {
	out, err := m.client.VerifyDomainIdentity(ctx, &ses.VerifyDomainIdentityInput{Domain: aws.String(domain)})
	observe("VerifyDomainIdentity", err)
	if err != nil {
		return nil, fmt.Errorf("verify domain identity %s: %w", domain, err)
	}

	v := &Verification{Token: aws.ToString(out.VerificationToken)}

	dkim, err := m.client.VerifyDomainDkim(ctx, &ses.VerifyDomainDkimInput{Domain: aws.String(domain)})
	observe("VerifyDomainDkim", err)
	if err == nil {
		v.DKIMTokens = dkim.DkimTokens
	}

	v.Records = RequiredRecords(domain, v.Token, v.DKIMTokens, m.cfg.Region)
	return v, nil
}

// VerificationStatus looks up the SES status of each domain. Domains SES does
// not know about are reported as NotFound.
func (m *Manager) VerificationStatus(ctx context.Context, domains ...string) (map[string]string, error) {
	statuses := make(map[string]string, len(domains))

	for start := 0; start < len(domains); start += identityBatchSize {
		end := start + identityBatchSize
		if end > len(domains) {
			end = len(domains)
		}
		batch := domains[start:end]

		out, err := m.client.GetIdentityVerificationAttributes(ctx, &ses.GetIdentityVerificationAttributesInput{
			Identities: batch,
		})
		observe("GetIdentityVerificationAttributes", err)
		if err != nil {
			return nil, fmt.Errorf("get verification attributes: %w", err)
		}

		for _, d := range batch {
			attrs, ok := out.VerificationAttributes[d]
			if !ok {
				statuses[d] = models.SESStatusNotFound
				continue
			}
			statuses[d] = string(attrs.VerificationStatus)
		}
	}

	return statuses, nil
}

// DeleteIdentity removes the domain identity from SES
func (m *Manager) DeleteIdentity(ctx context.Context, domain string) error {
	_, err := m.client.DeleteIdentity(ctx, &ses.DeleteIdentityInput{Identity: aws.String(domain)})
	observe("DeleteIdentity", err)
	if err != nil {
		return fmt.Errorf("delete identity %s: %w", domain, err)
	}
	return nil
}

// ConfigureMailFrom points the identity's MAIL FROM at mail.<domain>
func (m *Manager) ConfigureMailFrom(ctx context.Context, domain string) (*MailFrom, error) {
	mailFrom := "mail." + domain

	_, err := m.client.SetIdentityMailFromDomain(ctx, &ses.SetIdentityMailFromDomainInput{
		Identity:            aws.String(domain),
		MailFromDomain:      aws.String(mailFrom),
		BehaviorOnMXFailure: types.BehaviorOnMXFailureUseDefaultValue,
	})
	observe("SetIdentityMailFromDomain", err)
	if err != nil {
		return nil, fmt.Errorf("set mail from domain for %s: %w", domain, err)
	}

	status := string(types.CustomMailFromStatusPending)
	if current, err := m.MailFromStatus(ctx, domain); err == nil && current != nil && current.Status != "" {
		status = current.Status
	}

	return &MailFrom{
		Domain:  mailFrom,
		Status:  status,
		Records: MailFromRecords(mailFrom, m.cfg.Region),
	}, nil
}

// MailFromStatus returns the identity's MAIL FROM attributes, nil when unset
func (m *Manager) MailFromStatus(ctx context.Context, domain string) (*MailFrom, error) {
	out, err := m.client.GetIdentityMailFromDomainAttributes(ctx, &ses.GetIdentityMailFromDomainAttributesInput{
		Identities: []string{domain},
	})
	observe("GetIdentityMailFromDomainAttributes", err)
	if err != nil {
		return nil, fmt.Errorf("get mail from attributes for %s: %w", domain, err)
	}

	attrs, ok := out.MailFromDomainAttributes[domain]
	if !ok || aws.ToString(attrs.MailFromDomain) == "" {
		return nil, nil
	}
	return &MailFrom{
		Domain: aws.ToString(attrs.MailFromDomain),
		Status: string(attrs.MailFromDomainStatus),
	}, nil
}

// IsNotFound reports whether err is an SES "does not exist" error
func IsNotFound(err error) bool {
	var ruleMissing *types.RuleDoesNotExistException
	var setMissing *types.RuleSetDoesNotExistException
	return errors.As(err, &ruleMissing) || errors.As(err, &setMissing)
}
