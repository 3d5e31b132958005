package sesrules

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules/sestest"
)

const ruleSet = "inbound-email-rules"

func newManager(fake *sestest.Fake) *Manager {
	return NewWithClient(fake, Config{
		Region:       "us-east-2",
		RuleSetName:  ruleSet,
		S3BucketName: "inbound-mail",
		LambdaARN:    LambdaARN("email-processor", "123456789012", "us-east-2"),
	})
}

func TestNames(t *testing.T) {
	assert.Equal(t, "example-com-rule", RuleName("example.com"))
	assert.Equal(t, "mail-example-co-uk-catchall-rule", CatchAllRuleName("mail.example.co.uk"))
	assert.Equal(t, "emails/example.com/", ObjectPrefix("example.com"))
	assert.Equal(t, "arn:aws:lambda:us-east-2:123456789012:function:email-processor",
		LambdaARN("email-processor", "123456789012", "us-east-2"))
}

func TestVerifyDomain(t *testing.T) {
	fake := sestest.New()
	m := newManager(fake)

	v, err := m.VerifyDomain(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, "token-example.com", v.Token)
	assert.Len(t, v.DKIMTokens, 3)
	require.Len(t, v.Records, 5)
	assert.Equal(t, "_amazonses.example.com", v.Records[0].Name)
	assert.Equal(t, "dkim1._domainkey.example.com", v.Records[1].Name)
	assert.Equal(t, "dkim1.dkim.amazonses.com", v.Records[1].Value)
	assert.Equal(t, "10 inbound-smtp.us-east-2.amazonaws.com", v.Records[4].Value)
}

func TestVerifyDomainWithoutDKIM(t *testing.T) {
	fake := sestest.New()
	fake.FailOn["VerifyDomainDkim"] = true

	v, err := newManager(fake).VerifyDomain(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Empty(t, v.DKIMTokens)
	assert.Len(t, v.Records, 2)
}

func TestVerificationStatus(t *testing.T) {
	fake := sestest.New()
	fake.SetStatus("a.com", types.VerificationStatusSuccess)
	fake.SetStatus("b.com", types.VerificationStatusPending)

	statuses, err := newManager(fake).VerificationStatus(context.Background(), "a.com", "b.com", "c.com")
	require.NoError(t, err)
	assert.Equal(t, models.SESStatusSuccess, statuses["a.com"])
	assert.Equal(t, models.SESStatusPending, statuses["b.com"])
	assert.Equal(t, models.SESStatusNotFound, statuses["c.com"])
}

func TestConfigureEmailReceivingCreatesAndActivatesRuleSet(t *testing.T) {
	fake := sestest.New()
	m := newManager(fake)

	res := m.ConfigureEmailReceiving(context.Background(), "example.com", []string{"a@example.com"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, RuleCreated, res.Status)
	assert.Equal(t, ruleSet, fake.Active)

	rule, ok := fake.Rule(ruleSet, "example-com-rule")
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com"}, rule.Recipients)
	require.Len(t, rule.Actions, 2)
	assert.Equal(t, "emails/example.com/", aws.ToString(rule.Actions[0].S3Action.ObjectKeyPrefix))
	assert.Equal(t, types.InvocationTypeEvent, rule.Actions[1].LambdaAction.InvocationType)

	res = m.ConfigureEmailReceiving(context.Background(), "example.com", []string{"a@example.com", "b@example.com"})
	assert.Equal(t, RuleUpdated, res.Status)
	rule, _ = fake.Rule(ruleSet, "example-com-rule")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, rule.Recipients)
}

func TestConfigureEmailReceivingRequiresRecipients(t *testing.T) {
	res := newManager(sestest.New()).ConfigureEmailReceiving(context.Background(), "example.com", nil)
	assert.False(t, res.OK())
}

func TestCatchAllIsPlacedAfterAddressRule(t *testing.T) {
	fake := sestest.New()
	m := newManager(fake)
	ctx := context.Background()

	require.True(t, m.ConfigureEmailReceiving(ctx, "other.com", []string{"x@other.com"}).OK())
	require.True(t, m.ConfigureEmailReceiving(ctx, "example.com", []string{"a@example.com"}).OK())

	res := m.ConfigureCatchAll(ctx, "example.com")
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "example-com-catchall-rule", res.RuleName)

	assert.Equal(t, []string{"example-com-rule", "example-com-catchall-rule", "other-com-rule"}, fake.RuleNames(ruleSet))

	rule, _ := fake.Rule(ruleSet, "example-com-catchall-rule")
	assert.Equal(t, []string{"example.com"}, rule.Recipients)
}

func TestRemoveIsIdempotent(t *testing.T) {
	fake := sestest.New()
	m := newManager(fake)
	ctx := context.Background()

	// rule set does not exist yet
	assert.Equal(t, RuleRemoved, m.RemoveCatchAll(ctx, "example.com").Status)

	require.True(t, m.ConfigureCatchAll(ctx, "example.com").OK())
	assert.Equal(t, RuleRemoved, m.RemoveCatchAll(ctx, "example.com").Status)
	assert.Empty(t, fake.RuleNames(ruleSet))

	assert.Equal(t, RuleRemoved, m.RemoveCatchAll(ctx, "example.com").Status)
	assert.Equal(t, RuleRemoved, m.RemoveEmailReceiving(ctx, "example.com").Status)
}

func TestRuleFailuresAreReported(t *testing.T) {
	fake := sestest.New()
	fake.FailOn["CreateReceiptRule"] = true

	res := newManager(fake).ConfigureCatchAll(context.Background(), "example.com")
	assert.Equal(t, RuleFailed, res.Status)
	assert.Contains(t, res.Error, "ses unavailable")
}

func TestNotReadyWithoutBucket(t *testing.T) {
	m := NewWithClient(sestest.New(), Config{Region: "us-east-2"})
	assert.False(t, m.ReceivingReady())
	assert.Equal(t, RuleFailed, m.ConfigureCatchAll(context.Background(), "example.com").Status)
}

func TestMailFrom(t *testing.T) {
	fake := sestest.New()
	m := newManager(fake)

	mf, err := m.ConfigureMailFrom(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", mf.Domain)
	assert.Equal(t, "Pending", mf.Status)
	require.Len(t, mf.Records, 2)
	assert.Equal(t, "10 feedback-smtp.us-east-2.amazonses.com", mf.Records[0].Value)

	current, err := m.MailFromStatus(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", current.Domain)

	none, err := m.MailFromStatus(context.Background(), "nothing.com")
	require.NoError(t, err)
	assert.Nil(t, none)
}
