// Package dnscheck verifies the DNS records a domain must publish before it can
// receive mail, and inspects its current nameservers and mail exchangers.
package dnscheck

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Record is a DNS record the user is expected to publish
type Record struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result is the outcome of checking one Record
type Result struct {
	Record
	IsVerified bool     `json:"isVerified"`
	Actual     []string `json:"actualValues,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Checker runs record checks against a Resolver
type Checker struct {
	resolver    Resolver
	parallelism int
}

func NewChecker(resolver Resolver) *Checker {
	return &Checker{resolver: resolver, parallelism: 8}
}

// VerifyRecords checks every record concurrently. A lookup failure marks only
// that record as unverified; the call itself never fails.
func (c *Checker) VerifyRecords(ctx context.Context, records []Record) []Result {
	results := make([]Result, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = c.verify(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Checker) verify(ctx context.Context, rec Record) Result {
	res := Result{Record: rec}

	switch strings.ToUpper(rec.Type) {
	case "TXT":
		values, err := c.resolver.LookupTXT(ctx, rec.Name)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Actual = values
		res.IsVerified = matchTXT(values, rec.Value)
	case "MX":
		values, err := c.resolver.LookupMX(ctx, rec.Name)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		for _, mx := range values {
			res.Actual = append(res.Actual, fmt.Sprintf("%d %s", mx.Preference, mx.Host))
		}
		res.IsVerified = matchMX(values, rec.Value)
	case "CNAME":
		target, err := c.resolver.LookupCNAME(ctx, rec.Name)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if target != "" {
			res.Actual = []string{target}
		}
		res.IsVerified = target != "" && normalizeHost(target) == normalizeHost(rec.Value)
	default:
		res.Error = fmt.Sprintf("unsupported record type %q", rec.Type)
		return res
	}

	if !res.IsVerified && res.Error == "" {
		if len(res.Actual) == 0 {
			res.Error = "no records found"
		} else {
			res.Error = "record value does not match"
		}
	}
	return res
}

func matchTXT(values []string, expected string) bool {
	want := strings.Trim(strings.TrimSpace(expected), `"`)
	for _, v := range values {
		if strings.Trim(strings.TrimSpace(v), `"`) == want {
			return true
		}
	}
	return false
}

// matchMX accepts "priority host" or a bare host. A given priority must match.
func matchMX(values []MX, expected string) bool {
	fields := strings.Fields(expected)
	if len(fields) == 0 {
		return false
	}

	host := fields[len(fields)-1]
	priority := -1
	if len(fields) >= 2 {
		if p, err := strconv.Atoi(fields[0]); err == nil {
			priority = p
		}
	}

	for _, mx := range values {
		if normalizeHost(mx.Host) != normalizeHost(host) {
			continue
		}
		if priority < 0 || int(mx.Preference) == priority {
			return true
		}
	}
	return false
}

// CheckMX reports whether the domain already publishes MX records
func (c *Checker) CheckMX(ctx context.Context, domain string) (bool, []MX, error) {
	values, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		return false, nil, err
	}
	return len(values) > 0, values, nil
}
