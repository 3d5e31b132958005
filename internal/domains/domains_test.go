package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbound-backend/internal/database/dbtest"
	"inbound-backend/internal/dnscheck"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
	"inbound-backend/internal/sesrules/sestest"
)

const ruleSet = "inbound-email-rules"

type staticResolver struct {
	txt   map[string][]string
	mx    map[string][]dnscheck.MX
	cname map[string]string
	ns    map[string][]string
}

func newResolver() *staticResolver {
	return &staticResolver{
		txt:   map[string][]string{},
		mx:    map[string][]dnscheck.MX{},
		cname: map[string]string{},
		ns:    map[string][]string{},
	}
}

func (r *staticResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	return r.txt[name], nil
}

func (r *staticResolver) LookupMX(_ context.Context, name string) ([]dnscheck.MX, error) {
	return r.mx[name], nil
}

func (r *staticResolver) LookupCNAME(_ context.Context, name string) (string, error) {
	return r.cname[name], nil
}

func (r *staticResolver) LookupNS(_ context.Context, name string) ([]string, error) {
	return r.ns[name], nil
}

// publish makes every record of the domain resolvable
func (r *staticResolver) publish(domain string) {
	r.txt["_amazonses."+domain] = []string{"token-" + domain}
	for _, t := range []string{"dkim1", "dkim2", "dkim3"} {
		r.cname[t+"._domainkey."+domain] = t + ".dkim.amazonses.com."
	}
	r.mx[domain] = []dnscheck.MX{{Host: "inbound-smtp.us-east-2.amazonaws.com.", Preference: 10}}
}

type fixture struct {
	db       *gorm.DB
	fake     *sestest.Fake
	resolver *staticResolver
	service  *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	fake := sestest.New()
	resolver := newResolver()
	manager := sesrules.NewWithClient(fake, sesrules.Config{
		Region:       "us-east-2",
		RuleSetName:  ruleSet,
		S3BucketName: "inbound-mail",
		LambdaARN:    sesrules.LambdaARN("email-processor", "123456789012", "us-east-2"),
	})
	return &fixture{
		db:       db,
		fake:     fake,
		resolver: resolver,
		service:  NewService(db, manager, dnscheck.NewChecker(resolver)),
	}
}

func (f *fixture) upgrade(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Subscription{Plan: "pro", ReferenceID: userID, Status: "active"}).Error)
}

func (f *fixture) verified(t *testing.T, userID, name string) *models.EmailDomain {
	t.Helper()
	res, err := f.service.Create(context.Background(), userID, name)
	require.NoError(t, err)
	f.fake.SetStatus(name, types.VerificationStatusSuccess)
	f.resolver.publish(name)
	_, err = f.service.Check(context.Background(), res.Domain)
	require.NoError(t, err)
	require.True(t, res.Domain.IsVerified())
	return res.Domain
}

func (f *fixture) webhook(t *testing.T, userID string, active bool) *models.Webhook {
	t.Helper()
	hook := &models.Webhook{Name: "hook", URL: "https://example.net/hook", Secret: "s", IsActive: active,
		Timeout: 30, RetryAttempts: 3, UserID: userID}
	require.NoError(t, f.db.Create(hook).Error)
	return hook
}

func TestCreateDomain(t *testing.T) {
	f := setup(t)
	f.resolver.ns["example.com"] = []string{"ada.ns.cloudflare.com.", "bob.ns.cloudflare.com."}
	f.resolver.mx["example.com"] = []dnscheck.MX{{Host: "aspmx.l.google.com.", Preference: 1}}

	res, err := f.service.Create(context.Background(), "user-1", " Example.COM. ")
	require.NoError(t, err)

	assert.Equal(t, "example.com", res.Domain.Domain)
	assert.Equal(t, models.DomainStatusPending, res.Domain.Status)
	assert.Equal(t, "token-example.com", res.Domain.VerificationToken)
	assert.Len(t, res.DNSRecords, 5)
	assert.Equal(t, "Cloudflare", res.Domain.DomainProvider)
	assert.Equal(t, models.ConfidenceHigh, res.Domain.ProviderConfidence)
	assert.True(t, res.HasMXRecords)
	assert.NotEmpty(t, res.Warnings)

	var count int64
	f.db.Model(&models.DomainDNSRecord{}).Where("domain_id = ?", res.Domain.ID).Count(&count)
	assert.Equal(t, int64(5), count)
}

func TestCreateDomainRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, "user-1", "not_a_domain")
	assert.ErrorIs(t, err, ErrInvalidDomain)

	_, err = f.service.Create(ctx, "user-1", "example.com")
	require.NoError(t, err)

	_, err = f.service.Create(ctx, "user-2", "example.com")
	assert.ErrorIs(t, err, ErrDomainExists)

	res, err := f.service.Create(ctx, "user-1", "second.com")
	assert.ErrorIs(t, err, ErrLimitReached)
	require.NotNil(t, res)
	assert.Equal(t, int64(1), res.Limits.Current)
}

func TestCreateDomainWithoutSES(t *testing.T) {
	db := dbtest.New(t)
	service := NewService(db, nil, dnscheck.NewChecker(newResolver()))

	res, err := service.Create(context.Background(), "user-1", "example.com")
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, ErrSESUnavailable.Error())
	require.Len(t, res.DNSRecords, 1)
	assert.Equal(t, "MX", res.DNSRecords[0].RecordType)
}

func TestCheckWithoutSESReportsUnknown(t *testing.T) {
	db := dbtest.New(t)
	service := NewService(db, nil, dnscheck.NewChecker(newResolver()))

	res, err := service.Create(context.Background(), "user-1", "example.com")
	require.NoError(t, err)

	check, err := service.Check(context.Background(), res.Domain)
	require.NoError(t, err)
	assert.Equal(t, models.SESStatusUnknown, check.SESStatus)
	assert.Equal(t, ErrSESUnavailable.Error(), check.SESError)
	assert.Equal(t, models.DomainStatusPending, check.Status)

	var stored models.EmailDomain
	require.NoError(t, db.First(&stored, "id = ?", res.Domain.ID).Error)
	assert.Nil(t, stored.LastSESCheck)
}

func TestCheckTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.service.Create(ctx, "user-1", "example.com")
	require.NoError(t, err)
	domain := res.Domain

	check, err := f.service.Check(ctx, domain)
	require.NoError(t, err)
	assert.Equal(t, string(types.VerificationStatusPending), check.SESStatus)
	assert.Equal(t, models.DomainStatusPending, check.Status)
	assert.False(t, check.IsFullyVerified)

	f.fake.SetStatus("example.com", types.VerificationStatusSuccess)
	f.resolver.publish("example.com")

	check, err = f.service.Check(ctx, domain)
	require.NoError(t, err)
	assert.Equal(t, models.DomainStatusVerified, check.Status)
	assert.Equal(t, models.DomainStatusPending, check.PreviousStatus)
	assert.True(t, check.IsFullyVerified)

	var stored models.EmailDomain
	require.NoError(t, f.db.First(&stored, "id = ?", domain.ID).Error)
	assert.True(t, stored.IsVerified())
	assert.NotNil(t, stored.LastSESCheck)

	var unverified int64
	f.db.Model(&models.DomainDNSRecord{}).Where("domain_id = ? AND is_verified = ?", domain.ID, false).Count(&unverified)
	assert.Zero(t, unverified)
}

func TestCheckFailedAndSESErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.service.Create(ctx, "user-1", "example.com")
	require.NoError(t, err)

	f.fake.FailOn["GetIdentityVerificationAttributes"] = true
	check, err := f.service.Check(ctx, res.Domain)
	require.NoError(t, err)
	assert.Equal(t, models.SESStatusError, check.SESStatus)
	assert.NotEmpty(t, check.SESError)
	assert.Equal(t, models.DomainStatusPending, check.Status)

	f.fake.FailOn["GetIdentityVerificationAttributes"] = false
	f.fake.SetStatus("example.com", types.VerificationStatusFailed)
	check, err = f.service.Check(ctx, res.Domain)
	require.NoError(t, err)
	assert.Equal(t, models.DomainStatusFailed, check.Status)
}

func TestSync(t *testing.T) {
	f := setup(t)
	f.upgrade(t, "user-1")
	ctx := context.Background()

	for _, d := range []string{"a.com", "b.com"} {
		_, err := f.service.Create(ctx, "user-1", d)
		require.NoError(t, err)
	}
	f.fake.SetStatus("a.com", types.VerificationStatusSuccess)

	results, err := f.service.Sync(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]SyncResult{}
	for _, r := range results {
		byName[r.Domain] = r
	}
	assert.True(t, byName["a.com"].Updated)
	assert.Equal(t, models.DomainStatusVerified, byName["a.com"].Status)
	assert.False(t, byName["b.com"].Updated)
	assert.Equal(t, models.DomainStatusPending, byName["b.com"].Status)
}

func TestSetCatchAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.service.Create(ctx, "user-1", "example.com")
	require.NoError(t, err)
	hook := f.webhook(t, "user-1", true)

	_, err = f.service.SetCatchAll(ctx, res.Domain, true, hook.ID)
	assert.ErrorIs(t, err, ErrNotVerified)

	f.fake.SetStatus("example.com", types.VerificationStatusSuccess)
	_, err = f.service.Check(ctx, res.Domain)
	require.NoError(t, err)
	domain := res.Domain
	require.True(t, domain.IsVerified())

	_, err = f.service.SetCatchAll(ctx, domain, true, "")
	assert.ErrorIs(t, err, ErrWebhookRequired)

	inactive := f.webhook(t, "user-1", false)
	_, err = f.service.SetCatchAll(ctx, domain, true, inactive.ID)
	assert.ErrorIs(t, err, ErrWebhookInvalid)

	foreign := f.webhook(t, "user-2", true)
	_, err = f.service.SetCatchAll(ctx, domain, true, foreign.ID)
	assert.ErrorIs(t, err, ErrWebhookInvalid)

	result, err := f.service.SetCatchAll(ctx, domain, true, hook.ID)
	require.NoError(t, err)
	assert.Empty(t, result.AWSConfigurationWarning)
	require.NotNil(t, result.Rule)
	assert.Equal(t, sesrules.RuleCreated, result.Rule.Status)

	rule, ok := f.fake.Rule(ruleSet, "example-com-catchall-rule")
	require.True(t, ok)
	assert.Equal(t, []string{"example.com"}, rule.Recipients)

	var stored models.EmailDomain
	require.NoError(t, f.db.First(&stored, "id = ?", domain.ID).Error)
	assert.True(t, stored.IsCatchAllEnabled)
	require.NotNil(t, stored.CatchAllWebhookID)
	assert.Equal(t, hook.ID, *stored.CatchAllWebhookID)

	result, err = f.service.SetCatchAll(ctx, domain, false, "")
	require.NoError(t, err)
	assert.Equal(t, sesrules.RuleRemoved, result.Rule.Status)
	_, ok = f.fake.Rule(ruleSet, "example-com-catchall-rule")
	assert.False(t, ok)

	require.NoError(t, f.db.First(&stored, "id = ?", domain.ID).Error)
	assert.False(t, stored.IsCatchAllEnabled)
	assert.Nil(t, stored.CatchAllWebhookID)
	assert.Nil(t, stored.CatchAllReceiptRuleName)
}

func TestSetCatchAllKeepsIntentWhenSESFails(t *testing.T) {
	f := setup(t)
	domain := f.verified(t, "user-1", "example.com")
	hook := f.webhook(t, "user-1", true)

	f.fake.FailOn["CreateReceiptRule"] = true
	result, err := f.service.SetCatchAll(context.Background(), domain, true, hook.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AWSConfigurationWarning)

	var stored models.EmailDomain
	require.NoError(t, f.db.First(&stored, "id = ?", domain.ID).Error)
	assert.True(t, stored.IsCatchAllEnabled)
}

func TestSetCatchAllOnlyNeedsVerifiedStatus(t *testing.T) {
	f := setup(t)
	domain := &models.EmailDomain{Domain: "example.com", Status: models.DomainStatusVerified, UserID: "user-1"}
	require.NoError(t, f.db.Create(domain).Error)
	require.False(t, domain.CanReceiveEmails)
	hook := f.webhook(t, "user-1", true)

	result, err := f.service.SetCatchAll(context.Background(), domain, true, hook.ID)
	require.NoError(t, err)
	assert.Empty(t, result.AWSConfigurationWarning)
	assert.True(t, domain.IsCatchAllEnabled)
}

func TestDeleteCascades(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	domain := f.verified(t, "user-1", "example.com")
	hook := f.webhook(t, "user-1", true)

	_, err := f.service.SetCatchAll(ctx, domain, true, hook.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.EmailAddress{Address: "a@example.com", DomainID: domain.ID, IsActive: true, UserID: "user-1"}).Error)
	require.NoError(t, f.db.Create(&models.BlockedEmail{EmailAddress: "spam@bad.com", DomainID: domain.ID}).Error)

	result, err := f.service.Delete(ctx, domain)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.EmailAddresses)
	assert.Equal(t, int64(1), result.BlockedEmails)
	assert.Equal(t, int64(5), result.DNSRecords)
	assert.Equal(t, sesrules.RuleRemoved, result.CatchAllRule)
	assert.Equal(t, sesrules.RuleRemoved, result.ReceiptRule)
	assert.Equal(t, sesrules.RuleRemoved, result.SESIdentity)
	assert.Nil(t, result.CleanupWarnings)

	_, known := f.fake.Identities["example.com"]
	assert.False(t, known)

	for _, model := range []interface{}{&models.EmailDomain{}, &models.EmailAddress{}, &models.DomainDNSRecord{}, &models.BlockedEmail{}} {
		var n int64
		f.db.Model(model).Count(&n)
		assert.Zero(t, n)
	}
}

func TestDeleteSurvivesAWSFailures(t *testing.T) {
	f := setup(t)
	res, err := f.service.Create(context.Background(), "user-1", "example.com")
	require.NoError(t, err)

	f.fake.FailOn["DeleteIdentity"] = true
	result, err := f.service.Delete(context.Background(), res.Domain)
	require.NoError(t, err)
	assert.Contains(t, result.CleanupWarnings, "sesIdentity")

	var n int64
	f.db.Model(&models.EmailDomain{}).Count(&n)
	assert.Zero(t, n)
}

func TestStats(t *testing.T) {
	f := setup(t)
	domain := f.verified(t, "user-1", "example.com")

	require.NoError(t, f.db.Create(&models.EmailAddress{Address: "a@example.com", DomainID: domain.ID, IsActive: true, UserID: "user-1"}).Error)
	require.NoError(t, f.db.Create(&models.EmailAddress{Address: "b@example.com", DomainID: domain.ID, IsActive: false, UserID: "user-1"}).Error)

	now := time.Now()
	for i, age := range []time.Duration{time.Hour, 3 * 24 * time.Hour, 20 * 24 * time.Hour, 40 * 24 * time.Hour} {
		require.NoError(t, f.db.Create(&models.ReceivedEmail{SESEventID: "e", MessageID: fmt.Sprintf("m-%d", i), From: "x@y.com",
			Recipient: "a@example.com", DomainID: domain.ID, ReceivedAt: now.Add(-age),
			Status: models.EmailStatusForwarded, UserID: "user-1"}).Error)
	}

	stats, err := f.service.Stats(domain)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEmailAddresses)
	assert.Equal(t, int64(1), stats.ActiveEmailAddresses)
	assert.Equal(t, int64(1), stats.EmailsLast24h)
	assert.Equal(t, int64(2), stats.EmailsLast7d)
	assert.Equal(t, int64(3), stats.EmailsLast30d)

	overview, err := f.service.Overview("user-1")
	require.NoError(t, err)
	require.Len(t, overview.Domains, 1)
	assert.Equal(t, 1, overview.VerifiedDomains)
	assert.Equal(t, int64(1), overview.TotalEmailAddresses)
	assert.Equal(t, int64(1), overview.TotalEmailsLast24h)
	assert.False(t, overview.Limits.Allowed)
}

func TestMailFrom(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	domain := f.verified(t, "user-1", "example.com")

	mf, err := f.service.ConfigureMailFrom(ctx, domain)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", mf.Domain)
	assert.Len(t, mf.Records, 2)

	assert.Equal(t, "mail.example.com", f.service.MailFromDomain("user-1", "Sender <hello@Example.com>"))
	assert.Empty(t, f.service.MailFromDomain("user-2", "hello@example.com"))
	assert.Empty(t, f.service.MailFromDomain("user-1", "hello@other.com"))
}

func TestVerifierRunOnce(t *testing.T) {
	f := setup(t)
	f.upgrade(t, "user-1")
	ctx := context.Background()

	fresh, err := f.service.Create(ctx, "user-1", "fresh.com")
	require.NoError(t, err)
	stale, err := f.service.Create(ctx, "user-1", "stale.com")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(stale.Domain).Update("created_at", time.Now().Add(-96*time.Hour)).Error)

	f.fake.SetStatus("fresh.com", types.VerificationStatusSuccess)
	f.fake.SetStatus("stale.com", types.VerificationStatusSuccess)

	n, err := NewVerifier(f.service, time.Minute).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var d models.EmailDomain
	require.NoError(t, f.db.First(&d, "id = ?", fresh.Domain.ID).Error)
	assert.Equal(t, models.DomainStatusVerified, d.Status)
	require.NoError(t, f.db.First(&d, "id = ?", stale.Domain.ID).Error)
	assert.Equal(t, models.DomainStatusPending, d.Status)
}

func TestHandlersScopeByUser(t *testing.T) {
	f := setup(t)
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.service)

	router := func(userID string) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set("user_id", userID) })
		r.POST("/domains", h.HandleCreate)
		r.GET("/domains/:id", h.HandleGet)
		r.PUT("/domains/:id", h.HandleUpdate)
		return r
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/domains", strings.NewReader(`{"domain":"example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	router("user-1").ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = httptest.NewRecorder()
	router("user-2").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/"+created.Domain.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router("user-1").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/"+created.Domain.ID+"?check=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "verificationCheck")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/domains/"+created.Domain.ID, strings.NewReader(`{"isCatchAllEnabled":true,"catchAllWebhookId":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	router("user-1").ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "DOMAIN_NOT_VERIFIED")
}
