package dnscheck

import (
	"context"
	"strings"

	"inbound-backend/internal/models"
)

// Provider is the DNS host detected from a domain's nameservers
type Provider struct {
	Name        string   `json:"name"`
	Confidence  string   `json:"confidence"`
	DocURL      string   `json:"docUrl,omitempty"`
	Nameservers []string `json:"nameservers"`
}

type knownProvider struct {
	name     string
	patterns []string
	docURL   string
}

var knownProviders = []knownProvider{
	{name: "Cloudflare", patterns: []string{"ns.cloudflare.com"}, docURL: "https://resend.com/docs/knowledge-base/cloudflare"},
	{name: "Amazon Route 53", patterns: []string{"awsdns"}, docURL: "https://resend.com/docs/knowledge-base/route53"},
	{name: "GoDaddy", patterns: []string{"domaincontrol.com"}},
	{name: "Namecheap", patterns: []string{"registrar-servers.com", "namecheaphosting.com"}, docURL: "https://resend.com/docs/knowledge-base/namecheap"},
	{name: "Google Cloud DNS", patterns: []string{"googledomains.com", "ns-cloud-"}},
	{name: "Vercel", patterns: []string{"vercel-dns.com"}, docURL: "https://resend.com/docs/knowledge-base/vercel"},
	{name: "DigitalOcean", patterns: []string{"digitalocean.com"}},
	{name: "Squarespace", patterns: []string{"squarespacedns.com", "squarespace"}, docURL: "https://resend.com/docs/knowledge-base/squarespace"},
	{name: "IONOS", patterns: []string{"ui-dns."}, docURL: "https://resend.com/docs/knowledge-base/ionos"},
	{name: "Gandi", patterns: []string{"gandi.net"}, docURL: "https://resend.com/docs/knowledge-base/gandi"},
	{name: "Porkbun", patterns: []string{"porkbun.com"}, docURL: "https://resend.com/docs/knowledge-base/porkbun"},
	{name: "Hostinger", patterns: []string{"dns-parking.com", "hostinger"}, docURL: "https://resend.com/docs/knowledge-base/hostinger"},
	{name: "Azure DNS", patterns: []string{"azure-dns."}},
	{name: "NS1", patterns: []string{"nsone.net"}},
}

// DetectProvider maps the domain's nameservers to a known DNS host.
// Confidence is high when every nameserver matches, medium when only some do.
func (c *Checker) DetectProvider(ctx context.Context, domain string) (*Provider, error) {
	nameservers, err := c.resolver.LookupNS(ctx, domain)
	if err != nil {
		return nil, err
	}
	return classify(nameservers), nil
}

func classify(nameservers []string) *Provider {
	result := &Provider{Name: "Unknown", Confidence: models.ConfidenceLow, Nameservers: nameservers}
	if len(nameservers) == 0 {
		return result
	}

	best, bestHits := -1, 0
	for i, p := range knownProviders {
		hits := 0
		for _, ns := range nameservers {
			if p.matches(ns) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return result
	}

	result.Name = knownProviders[best].name
	result.DocURL = knownProviders[best].docURL
	if bestHits == len(nameservers) {
		result.Confidence = models.ConfidenceHigh
	} else {
		result.Confidence = models.ConfidenceMedium
	}
	return result
}

func (p knownProvider) matches(ns string) bool {
	ns = normalizeHost(ns)
	for _, pattern := range p.patterns {
		if strings.Contains(ns, pattern) {
			return true
		}
	}
	return false
}
