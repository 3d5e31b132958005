// Package sestest provides an in-memory SES receipt API for tests.
package sestest

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Fake keeps identities and rule sets in memory
type Fake struct {
	mu sync.Mutex

	Identities map[string]types.VerificationStatus
	MailFrom   map[string]string
	RuleSets   map[string][]types.ReceiptRule
	Active     string

	// Calls records operation names in order
	Calls []string
	// FailOn makes the named operation return Err
	FailOn map[string]bool
	Err    error
}

func New() *Fake {
	return &Fake{
		Identities: map[string]types.VerificationStatus{},
		MailFrom:   map[string]string{},
		RuleSets:   map[string][]types.ReceiptRule{},
		FailOn:     map[string]bool{},
		Err:        errors.New("ses unavailable"),
	}
}

// Rule returns the named rule from a rule set
func (f *Fake) Rule(ruleSet, name string) (types.ReceiptRule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.RuleSets[ruleSet] {
		if aws.ToString(r.Name) == name {
			return r, true
		}
	}
	return types.ReceiptRule{}, false
}

// RuleNames lists the rule names of a rule set in order
func (f *Fake) RuleNames(ruleSet string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, r := range f.RuleSets[ruleSet] {
		names = append(names, aws.ToString(r.Name))
	}
	return names
}

func (f *Fake) SetStatus(domain string, status types.VerificationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Identities[domain] = status
}

func (f *Fake) call(op string) error {
	f.Calls = append(f.Calls, op)
	if f.FailOn[op] {
		return f.Err
	}
	return nil
}

func (f *Fake) VerifyDomainIdentity(_ context.Context, in *ses.VerifyDomainIdentityInput, _ ...func(*ses.Options)) (*ses.VerifyDomainIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("VerifyDomainIdentity"); err != nil {
		return nil, err
	}
	domain := aws.ToString(in.Domain)
	if _, ok := f.Identities[domain]; !ok {
		f.Identities[domain] = types.VerificationStatusPending
	}
	return &ses.VerifyDomainIdentityOutput{VerificationToken: aws.String("token-" + domain)}, nil
}

func (f *Fake) VerifyDomainDkim(_ context.Context, in *ses.VerifyDomainDkimInput, _ ...func(*ses.Options)) (*ses.VerifyDomainDkimOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("VerifyDomainDkim"); err != nil {
		return nil, err
	}
	return &ses.VerifyDomainDkimOutput{DkimTokens: []string{"dkim1", "dkim2", "dkim3"}}, nil
}

func (f *Fake) GetIdentityVerificationAttributes(_ context.Context, in *ses.GetIdentityVerificationAttributesInput, _ ...func(*ses.Options)) (*ses.GetIdentityVerificationAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetIdentityVerificationAttributes"); err != nil {
		return nil, err
	}
	attrs := map[string]types.IdentityVerificationAttributes{}
	for _, id := range in.Identities {
		if status, ok := f.Identities[id]; ok {
			attrs[id] = types.IdentityVerificationAttributes{VerificationStatus: status}
		}
	}
	return &ses.GetIdentityVerificationAttributesOutput{VerificationAttributes: attrs}, nil
}

func (f *Fake) DeleteIdentity(_ context.Context, in *ses.DeleteIdentityInput, _ ...func(*ses.Options)) (*ses.DeleteIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteIdentity"); err != nil {
		return nil, err
	}
	delete(f.Identities, aws.ToString(in.Identity))
	return &ses.DeleteIdentityOutput{}, nil
}

func (f *Fake) SetIdentityMailFromDomain(_ context.Context, in *ses.SetIdentityMailFromDomainInput, _ ...func(*ses.Options)) (*ses.SetIdentityMailFromDomainOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetIdentityMailFromDomain"); err != nil {
		return nil, err
	}
	f.MailFrom[aws.ToString(in.Identity)] = aws.ToString(in.MailFromDomain)
	return &ses.SetIdentityMailFromDomainOutput{}, nil
}

func (f *Fake) GetIdentityMailFromDomainAttributes(_ context.Context, in *ses.GetIdentityMailFromDomainAttributesInput, _ ...func(*ses.Options)) (*ses.GetIdentityMailFromDomainAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetIdentityMailFromDomainAttributes"); err != nil {
		return nil, err
	}
	attrs := map[string]types.IdentityMailFromDomainAttributes{}
	for _, id := range in.Identities {
		if mf, ok := f.MailFrom[id]; ok {
			attrs[id] = types.IdentityMailFromDomainAttributes{
				MailFromDomain:       aws.String(mf),
				MailFromDomainStatus: types.CustomMailFromStatusPending,
			}
		}
	}
	return &ses.GetIdentityMailFromDomainAttributesOutput{MailFromDomainAttributes: attrs}, nil
}

func (f *Fake) DescribeReceiptRuleSet(_ context.Context, in *ses.DescribeReceiptRuleSetInput, _ ...func(*ses.Options)) (*ses.DescribeReceiptRuleSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DescribeReceiptRuleSet"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.RuleSetName)
	rules, ok := f.RuleSets[name]
	if !ok {
		return nil, &types.RuleSetDoesNotExistException{Message: aws.String("rule set does not exist"), Name: aws.String(name)}
	}
	return &ses.DescribeReceiptRuleSetOutput{
		Metadata: &types.ReceiptRuleSetMetadata{Name: aws.String(name)},
		Rules:    append([]types.ReceiptRule(nil), rules...),
	}, nil
}

func (f *Fake) CreateReceiptRuleSet(_ context.Context, in *ses.CreateReceiptRuleSetInput, _ ...func(*ses.Options)) (*ses.CreateReceiptRuleSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateReceiptRuleSet"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.RuleSetName)
	if _, ok := f.RuleSets[name]; ok {
		return nil, &types.AlreadyExistsException{Message: aws.String("exists"), Name: aws.String(name)}
	}
	f.RuleSets[name] = []types.ReceiptRule{}
	return &ses.CreateReceiptRuleSetOutput{}, nil
}

func (f *Fake) SetActiveReceiptRuleSet(_ context.Context, in *ses.SetActiveReceiptRuleSetInput, _ ...func(*ses.Options)) (*ses.SetActiveReceiptRuleSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetActiveReceiptRuleSet"); err != nil {
		return nil, err
	}
	f.Active = aws.ToString(in.RuleSetName)
	return &ses.SetActiveReceiptRuleSetOutput{}, nil
}

func (f *Fake) DescribeActiveReceiptRuleSet(_ context.Context, _ *ses.DescribeActiveReceiptRuleSetInput, _ ...func(*ses.Options)) (*ses.DescribeActiveReceiptRuleSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DescribeActiveReceiptRuleSet"); err != nil {
		return nil, err
	}
	if f.Active == "" {
		return &ses.DescribeActiveReceiptRuleSetOutput{}, nil
	}
	return &ses.DescribeActiveReceiptRuleSetOutput{
		Metadata: &types.ReceiptRuleSetMetadata{Name: aws.String(f.Active)},
		Rules:    append([]types.ReceiptRule(nil), f.RuleSets[f.Active]...),
	}, nil
}

func (f *Fake) CreateReceiptRule(_ context.Context, in *ses.CreateReceiptRuleInput, _ ...func(*ses.Options)) (*ses.CreateReceiptRuleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateReceiptRule"); err != nil {
		return nil, err
	}
	set := aws.ToString(in.RuleSetName)
	rules, ok := f.RuleSets[set]
	if !ok {
		return nil, &types.RuleSetDoesNotExistException{Message: aws.String("rule set does not exist"), Name: aws.String(set)}
	}
	for _, r := range rules {
		if aws.ToString(r.Name) == aws.ToString(in.Rule.Name) {
			return nil, &types.AlreadyExistsException{Message: aws.String("exists"), Name: in.Rule.Name}
		}
	}

	pos := 0
	if after := aws.ToString(in.After); after != "" {
		pos = -1
		for i, r := range rules {
			if aws.ToString(r.Name) == after {
				pos = i + 1
			}
		}
		if pos < 0 {
			return nil, &types.RuleDoesNotExistException{Message: aws.String("after rule missing"), Name: in.After}
		}
	}

	rules = append(rules, types.ReceiptRule{})
	copy(rules[pos+1:], rules[pos:])
	rules[pos] = *in.Rule
	f.RuleSets[set] = rules
	return &ses.CreateReceiptRuleOutput{}, nil
}

func (f *Fake) UpdateReceiptRule(_ context.Context, in *ses.UpdateReceiptRuleInput, _ ...func(*ses.Options)) (*ses.UpdateReceiptRuleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateReceiptRule"); err != nil {
		return nil, err
	}
	set := aws.ToString(in.RuleSetName)
	for i, r := range f.RuleSets[set] {
		if aws.ToString(r.Name) == aws.ToString(in.Rule.Name) {
			f.RuleSets[set][i] = *in.Rule
			return &ses.UpdateReceiptRuleOutput{}, nil
		}
	}
	return nil, &types.RuleDoesNotExistException{Message: aws.String("rule does not exist"), Name: in.Rule.Name}
}

func (f *Fake) DeleteReceiptRule(_ context.Context, in *ses.DeleteReceiptRuleInput, _ ...func(*ses.Options)) (*ses.DeleteReceiptRuleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteReceiptRule"); err != nil {
		return nil, err
	}
	set := aws.ToString(in.RuleSetName)
	rules := f.RuleSets[set]
	for i, r := range rules {
		if aws.ToString(r.Name) == aws.ToString(in.RuleName) {
			f.RuleSets[set] = append(rules[:i], rules[i+1:]...)
			break
		}
	}
	return &ses.DeleteReceiptRuleOutput{}, nil
}
