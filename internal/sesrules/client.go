// Package sesrules manages SES domain identities and the receipt rules that
// route a domain's inbound mail to S3 and the email-processor Lambda.
package sesrules

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"inbound-backend/internal/metrics"
)

// API is the subset of the SES v1 client used here. Tests substitute a fake.
type API interface {
	VerifyDomainIdentity(ctx context.Context, params *ses.VerifyDomainIdentityInput, optFns ...func(*ses.Options)) (*ses.VerifyDomainIdentityOutput, error)
	VerifyDomainDkim(ctx context.Context, params *ses.VerifyDomainDkimInput, optFns ...func(*ses.Options)) (*ses.VerifyDomainDkimOutput, error)
	GetIdentityVerificationAttributes(ctx context.Context, params *ses.GetIdentityVerificationAttributesInput, optFns ...func(*ses.Options)) (*ses.GetIdentityVerificationAttributesOutput, error)
	DeleteIdentity(ctx context.Context, params *ses.DeleteIdentityInput, optFns ...func(*ses.Options)) (*ses.DeleteIdentityOutput, error)
	SetIdentityMailFromDomain(ctx context.Context, params *ses.SetIdentityMailFromDomainInput, optFns ...func(*ses.Options)) (*ses.SetIdentityMailFromDomainOutput, error)
	GetIdentityMailFromDomainAttributes(ctx context.Context, params *ses.GetIdentityMailFromDomainAttributesInput, optFns ...func(*ses.Options)) (*ses.GetIdentityMailFromDomainAttributesOutput, error)
	DescribeReceiptRuleSet(ctx context.Context, params *ses.DescribeReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.DescribeReceiptRuleSetOutput, error)
	CreateReceiptRuleSet(ctx context.Context, params *ses.CreateReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.CreateReceiptRuleSetOutput, error)
	SetActiveReceiptRuleSet(ctx context.Context, params *ses.SetActiveReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.SetActiveReceiptRuleSetOutput, error)
	DescribeActiveReceiptRuleSet(ctx context.Context, params *ses.DescribeActiveReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.DescribeActiveReceiptRuleSetOutput, error)
	CreateReceiptRule(ctx context.Context, params *ses.CreateReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.CreateReceiptRuleOutput, error)
	UpdateReceiptRule(ctx context.Context, params *ses.UpdateReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.UpdateReceiptRuleOutput, error)
	DeleteReceiptRule(ctx context.Context, params *ses.DeleteReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.DeleteReceiptRuleOutput, error)
}

// Config holds what the manager needs to build identities and rules
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RuleSetName     string
	S3BucketName    string
	LambdaARN       string
}

// Manager performs SES identity and receipt-rule operations
type Manager struct {
	client API
	cfg    Config

	// SES rule sets are edited read-modify-write; serialize edits in-process
	mu sync.Mutex
}

// LoadAWSConfig builds an AWS config for region, using static credentials when
// both keys are given and the default provider chain otherwise.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// New returns a Manager backed by a real SES client
func New(ctx context.Context, cfg Config) (*Manager, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	return NewWithClient(ses.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient returns a Manager using the given client
func NewWithClient(client API, cfg Config) *Manager {
	if cfg.RuleSetName == "" {
		cfg.RuleSetName = "inbound-email-rules"
	}
	return &Manager{client: client, cfg: cfg}
}

// Region returns the SES region
func (m *Manager) Region() string {
	return m.cfg.Region
}

// ReceivingReady reports whether receipt rules can be built
func (m *Manager) ReceivingReady() bool {
	return m.cfg.S3BucketName != "" && m.cfg.LambdaARN != ""
}

// LambdaARN builds the ARN of the email-processor function
func LambdaARN(function, accountID, region string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, accountID, function)
}

func observe(operation string, err error) {
	metrics.SESCalls.WithLabelValues(operation, metrics.Outcome(err)).Inc()
}
