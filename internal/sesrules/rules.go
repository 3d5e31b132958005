package sesrules

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Rule outcomes
const (
	RuleCreated = "created"
	RuleUpdated = "updated"
	RuleRemoved = "removed"
	RuleFailed  = "failed"
)

// RuleResult reports what happened to a receipt rule
type RuleResult struct {
	RuleName string `json:"ruleName"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the rule operation succeeded
func (r RuleResult) OK() bool {
	return r.Status != RuleFailed
}

func failed(name string, err error) RuleResult {
	return RuleResult{RuleName: name, Status: RuleFailed, Error: err.Error()}
}

// ConfigureEmailReceiving creates or updates the domain's per-address rule so
// its recipients are exactly the given addresses.
func (m *Manager) ConfigureEmailReceiving(ctx context.Context, domain string, recipients []string) RuleResult {
	name := RuleName(domain)
	if len(recipients) == 0 {
		return failed(name, errors.New("at least one recipient is required"))
	}
	return m.upsertRule(ctx, domain, name, recipients, false)
}

// ConfigureCatchAll creates or updates the domain's catch-all rule. It is kept
// after the per-address rule so specific addresses are matched first.
func (m *Manager) ConfigureCatchAll(ctx context.Context, domain string) RuleResult {
	return m.upsertRule(ctx, domain, CatchAllRuleName(domain), []string{domain}, true)
}

// RemoveEmailReceiving deletes the per-address rule. A missing rule counts as removed.
func (m *Manager) RemoveEmailReceiving(ctx context.Context, domain string) RuleResult {
	return m.removeRule(ctx, RuleName(domain))
}

// RemoveCatchAll deletes the catch-all rule. A missing rule counts as removed.
func (m *Manager) RemoveCatchAll(ctx context.Context, domain string) RuleResult {
	return m.removeRule(ctx, CatchAllRuleName(domain))
}

func (m *Manager) upsertRule(ctx context.Context, domain, name string, recipients []string, last bool) RuleResult {
	if !m.ReceivingReady() {
		return failed(name, errors.New("S3 bucket or Lambda function not configured"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.ensureRuleSet(ctx)
	if err != nil {
		return failed(name, err)
	}

	rule := m.buildRule(domain, name, recipients)

	if existing.has(name) {
		_, err := m.client.UpdateReceiptRule(ctx, &ses.UpdateReceiptRuleInput{
			RuleSetName: aws.String(m.cfg.RuleSetName),
			Rule:        rule,
		})
		observe("UpdateReceiptRule", err)
		if err != nil {
			return failed(name, fmt.Errorf("update receipt rule: %w", err))
		}
		return RuleResult{RuleName: name, Status: RuleUpdated}
	}

	input := &ses.CreateReceiptRuleInput{
		RuleSetName: aws.String(m.cfg.RuleSetName),
		Rule:        rule,
	}
	if last {
		if perAddress := RuleName(domain); existing.has(perAddress) {
			input.After = aws.String(perAddress)
		} else if tail := existing.last(); tail != "" {
			input.After = aws.String(tail)
		}
	}

	_, err = m.client.CreateReceiptRule(ctx, input)
	observe("CreateReceiptRule", err)
	if err != nil {
		return failed(name, fmt.Errorf("create receipt rule: %w", err))
	}
	return RuleResult{RuleName: name, Status: RuleCreated}
}

func (m *Manager) removeRule(ctx context.Context, name string) RuleResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.describeRules(ctx)
	if err != nil {
		if IsNotFound(err) {
			return RuleResult{RuleName: name, Status: RuleRemoved}
		}
		return failed(name, err)
	}
	if !rules.has(name) {
		return RuleResult{RuleName: name, Status: RuleRemoved}
	}

	_, err = m.client.DeleteReceiptRule(ctx, &ses.DeleteReceiptRuleInput{
		RuleSetName: aws.String(m.cfg.RuleSetName),
		RuleName:    aws.String(name),
	})
	observe("DeleteReceiptRule", err)
	if err != nil && !IsNotFound(err) {
		return failed(name, fmt.Errorf("delete receipt rule: %w", err))
	}
	return RuleResult{RuleName: name, Status: RuleRemoved}
}

func (m *Manager) buildRule(domain, name string, recipients []string) *types.ReceiptRule {
	return &types.ReceiptRule{
		Name:        aws.String(name),
		Enabled:     true,
		ScanEnabled: true,
		TlsPolicy:   types.TlsPolicyOptional,
		Recipients:  recipients,
		Actions: []types.ReceiptAction{
			{
				S3Action: &types.S3Action{
					BucketName:      aws.String(m.cfg.S3BucketName),
					ObjectKeyPrefix: aws.String(ObjectPrefix(domain)),
				},
			},
			{
				LambdaAction: &types.LambdaAction{
					FunctionArn:    aws.String(m.cfg.LambdaARN),
					InvocationType: types.InvocationTypeEvent,
				},
			},
		},
	}
}

type ruleList []string

func (r ruleList) has(name string) bool {
	for _, n := range r {
		if n == name {
			return true
		}
	}
	return false
}

func (r ruleList) last() string {
	if len(r) == 0 {
		return ""
	}
	return r[len(r)-1]
}

func (m *Manager) describeRules(ctx context.Context) (ruleList, error) {
	out, err := m.client.DescribeReceiptRuleSet(ctx, &ses.DescribeReceiptRuleSetInput{
		RuleSetName: aws.String(m.cfg.RuleSetName),
	})
	observe("DescribeReceiptRuleSet", err)
	if err != nil {
		return nil, err
	}

	names := make(ruleList, 0, len(out.Rules))
	for _, r := range out.Rules {
		names = append(names, aws.ToString(r.Name))
	}
	return names, nil
}

// ensureRuleSet creates the rule set when missing and makes sure it is active
func (m *Manager) ensureRuleSet(ctx context.Context) (ruleList, error) {
	rules, err := m.describeRules(ctx)
	if err != nil {
		if !IsNotFound(err) {
			return nil, fmt.Errorf("describe rule set: %w", err)
		}
		_, err = m.client.CreateReceiptRuleSet(ctx, &ses.CreateReceiptRuleSetInput{
			RuleSetName: aws.String(m.cfg.RuleSetName),
		})
		observe("CreateReceiptRuleSet", err)
		var exists *types.AlreadyExistsException
		if err != nil && !errors.As(err, &exists) {
			return nil, fmt.Errorf("create rule set: %w", err)
		}
		rules = ruleList{}
	}

	active, err := m.client.DescribeActiveReceiptRuleSet(ctx, &ses.DescribeActiveReceiptRuleSetInput{})
	observe("DescribeActiveReceiptRuleSet", err)
	if err != nil {
		return nil, fmt.Errorf("describe active rule set: %w", err)
	}
	if active.Metadata == nil || aws.ToString(active.Metadata.Name) != m.cfg.RuleSetName {
		_, err = m.client.SetActiveReceiptRuleSet(ctx, &ses.SetActiveReceiptRuleSetInput{
			RuleSetName: aws.String(m.cfg.RuleSetName),
		})
		observe("SetActiveReceiptRuleSet", err)
		if err != nil {
			return nil, fmt.Errorf("activate rule set: %w", err)
		}
	}

	return rules, nil
}
