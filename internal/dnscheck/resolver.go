package dnscheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// MX is a single mail exchanger answer
type MX struct {
	Host       string `json:"host"`
	Preference uint16 `json:"priority"`
}

// Resolver answers the lookups needed to verify a domain's records
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]MX, error)
	LookupCNAME(ctx context.Context, name string) (string, error)
	LookupNS(ctx context.Context, name string) ([]string, error)
}

// DNSResolver queries a single upstream server directly, bypassing the host
// resolver cache so freshly published records are seen as soon as possible.
type DNSResolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewResolver returns a resolver for server ("host:port")
func NewResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !strings.Contains(server, ":") {
		server += ":53"
	}
	return &DNSResolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true
	m.SetEdns0(4096, false)

	in, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return nil, fmt.Errorf("%s lookup for %s: %w", dns.TypeToString[qtype], name, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
		return in.Answer, nil
	case dns.RcodeNameError:
		// NXDOMAIN: the name simply has no records yet
		return nil, nil
	default:
		return nil, fmt.Errorf("%s lookup for %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[in.Rcode])
	}
}

func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	answers, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, rr := range answers {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values, nil
}

func (r *DNSResolver) LookupMX(ctx context.Context, name string) ([]MX, error) {
	answers, err := r.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var values []MX
	for _, rr := range answers {
		if mx, ok := rr.(*dns.MX); ok {
			values = append(values, MX{Host: normalizeHost(mx.Mx), Preference: mx.Preference})
		}
	}
	return values, nil
}

func (r *DNSResolver) LookupCNAME(ctx context.Context, name string) (string, error) {
	answers, err := r.exchange(ctx, name, dns.TypeCNAME)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if cname, ok := rr.(*dns.CNAME); ok {
			return normalizeHost(cname.Target), nil
		}
	}
	return "", nil
}

func (r *DNSResolver) LookupNS(ctx context.Context, name string) ([]string, error) {
	answers, err := r.exchange(ctx, name, dns.TypeNS)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, rr := range answers {
		if ns, ok := rr.(*dns.NS); ok {
			values = append(values, normalizeHost(ns.Ns))
		}
	}
	return values, nil
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}

// ValidDomain reports whether name is a registrable hostname: at least two
// letter-digit-hyphen labels, no leading or trailing hyphens.
func ValidDomain(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if name == "" || len(name) > 253 {
		return false
	}
	if _, ok := dns.IsDomainName(name); !ok || dns.CountLabel(name) < 2 {
		return false
	}
	for _, label := range dns.SplitDomainName(name) {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}
