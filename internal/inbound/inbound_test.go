package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbound-backend/internal/database/dbtest"
	"inbound-backend/internal/delivery"
	"inbound-backend/internal/models"
)

const sampleMessage = "From: Alice Sender <Alice@Sender.test>\r\n" +
	"To: hello@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Message-ID: <abc123@sender.test>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"X-Priority: 1\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers are up.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Numbers are up.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/csv; name=\"report.csv\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.csv\"\r\n" +
	"\r\n" +
	"q,total\r\nq1,10\r\n" +
	"--outer--\r\n"

type fixture struct {
	db        *gorm.DB
	queue     *delivery.MemoryQueue
	processor *Processor
	domain    *models.EmailDomain
	hook      *models.Webhook
}

func newFixture(t *testing.T, objects ObjectAPI) *fixture {
	t.Helper()
	db := dbtest.New(t)
	queue := delivery.NewMemoryQueue(16)

	domain := &models.EmailDomain{
		Domain:           "example.com",
		Status:           models.DomainStatusVerified,
		CanReceiveEmails: true,
		UserID:           "user-1",
	}
	require.NoError(t, db.Create(domain).Error)

	hook := &models.Webhook{
		Name:          "primary",
		URL:           "https://hooks.example.net/in",
		Secret:        "whsec_test",
		IsActive:      true,
		Timeout:       30,
		RetryAttempts: 3,
		UserID:        "user-1",
	}
	require.NoError(t, db.Create(hook).Error)

	require.NoError(t, db.Create(&models.EmailAddress{
		Address:   "hello@example.com",
		DomainID:  domain.ID,
		WebhookID: &hook.ID,
		IsActive:  true,
		UserID:    "user-1",
	}).Error)

	var store *MessageStore
	if objects != nil {
		store = NewMessageStore(objects, "inbound-mail")
	}
	dispatcher := delivery.NewDispatcher(db, queue, delivery.Options{})
	return &fixture{
		db:        db,
		queue:     queue,
		processor: NewProcessor(db, store, dispatcher),
		domain:    domain,
		hook:      hook,
	}
}

func record(messageID, source string, recipients ...string) events.SimpleEmailRecord {
	now := time.Now().UTC()
	return events.SimpleEmailRecord{
		EventVersion: "1.0",
		EventSource:  "aws:ses",
		SES: events.SimpleEmailService{
			Mail: events.SimpleEmailMessage{
				MessageID:   messageID,
				Source:      source,
				Timestamp:   now,
				Destination: recipients,
				CommonHeaders: events.SimpleEmailCommonHeaders{
					From:    []string{"Alice Sender <" + source + ">"},
					To:      recipients,
					Subject: "Quarterly report",
				},
			},
			Receipt: events.SimpleEmailReceipt{
				Recipients:   recipients,
				Timestamp:    now,
				SpamVerdict:  events.SimpleEmailVerdict{Status: "PASS"},
				VirusVerdict: events.SimpleEmailVerdict{Status: "PASS"},
				SPFVerdict:   events.SimpleEmailVerdict{Status: "PASS"},
				DKIMVerdict:  events.SimpleEmailVerdict{Status: "GRAY"},
				DMARCVerdict: events.SimpleEmailVerdict{Status: "PASS"},
				Action:       events.SimpleEmailReceiptAction{Type: "Lambda", InvocationType: "Event"},
			},
		},
	}
}

func withRaw(rec events.SimpleEmailRecord) Request {
	return Request{
		Event:       events.SimpleEmailEvent{Records: []events.SimpleEmailRecord{rec}},
		RawMessages: map[string]string{rec.SES.Mail.MessageID: sampleMessage},
	}
}

func queued(t *testing.T, q *delivery.MemoryQueue) int64 {
	t.Helper()
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	return n
}

type fakeObjects struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestParse(t *testing.T) {
	parsed := Parse([]byte(sampleMessage))

	require.True(t, parsed.ParseSuccess)
	assert.Equal(t, "Quarterly report", parsed.Subject)
	assert.Equal(t, "<abc123@sender.test>", parsed.MessageID)
	assert.Equal(t, "high", parsed.Priority)
	require.NotNil(t, parsed.Date)

	from, ok := parsed.From.FirstAddress()
	require.True(t, ok)
	assert.Equal(t, "alice@sender.test", from.Address)
	assert.Equal(t, "Alice Sender", from.Name)

	assert.Contains(t, parsed.TextBody, "Numbers are up.")
	assert.Contains(t, parsed.HTMLBody, "<p>Numbers are up.</p>")
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "report.csv", parsed.Attachments[0].Filename)
	assert.Equal(t, "text/csv", parsed.Attachments[0].ContentType)
	assert.Equal(t, "Quarterly report", parsed.Headers["subject"])
	assert.Nil(t, parsed.Cc)
}

func TestClean(t *testing.T) {
	cleaned := Clean(&ParsedEmail{TextBody: "  line one\r\nline two \r\n"})

	assert.Equal(t, "line one\nline two", cleaned.Text)
	assert.True(t, cleaned.HasText)
	assert.False(t, cleaned.HasHTML)
	assert.NotNil(t, cleaned.Attachments)
	assert.NotNil(t, cleaned.Headers)
}

func TestProcessRoutesToAddressWebhook(t *testing.T) {
	f := newFixture(t, nil)

	results, err := f.processor.Process(context.Background(), withRaw(record("msg-1", "alice@sender.test", "Hello@Example.com")))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Outcomes, 1)

	out := results[0].Outcomes[0]
	assert.Equal(t, OutcomeRouted, out.Status)
	assert.Equal(t, "hello@example.com", out.Recipient)
	assert.Equal(t, f.hook.ID, out.WebhookID)
	assert.NotEmpty(t, out.DeliveryID)

	var email models.ReceivedEmail
	require.NoError(t, f.db.First(&email, "id = ?", out.EmailID).Error)
	assert.Equal(t, models.EmailStatusProcessing, email.Status)
	assert.Equal(t, "alice@sender.test", email.From)
	assert.Equal(t, "Alice Sender", email.FromName)
	assert.Equal(t, f.domain.ID, email.DomainID)
	assert.Equal(t, "user-1", email.UserID)
	require.NotNil(t, email.WebhookID)
	assert.Equal(t, f.hook.ID, *email.WebhookID)

	var del models.WebhookDelivery
	require.NoError(t, f.db.First(&del, "id = ?", out.DeliveryID).Error)
	assert.Equal(t, models.DeliveryStatusPending, del.Status)
	assert.Equal(t, int64(1), queued(t, f.queue))

	var payload Payload
	require.NoError(t, json.Unmarshal(del.Payload, &payload))
	assert.Equal(t, EventEmailReceived, payload.Event)
	assert.Equal(t, "hello@example.com", payload.Email.Recipient)
	assert.Equal(t, "Quarterly report", payload.Email.Subject)
	require.NotNil(t, payload.Email.ParsedData)
	assert.True(t, payload.Email.ParsedData.ParseSuccess)
	assert.Equal(t, "Numbers are up.", payload.Email.CleanedContent.Text)

	var event models.SESEvent
	require.NoError(t, f.db.First(&event, "message_id = ?", "msg-1").Error)
	assert.Equal(t, "emails/example.com/msg-1", event.S3ObjectKey)
	assert.Equal(t, "PASS", event.SpamVerdict)
	assert.Equal(t, len(sampleMessage), event.S3ContentSize)
}

func TestProcessCatchAllBlockedAndUnroutable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	catchAll := &models.Webhook{Name: "catch-all", URL: "https://hooks.example.net/all", IsActive: true, Timeout: 30, RetryAttempts: 3, UserID: "user-1"}
	require.NoError(t, f.db.Create(catchAll).Error)
	require.NoError(t, f.db.Model(f.domain).Updates(map[string]interface{}{
		"is_catch_all_enabled": true,
		"catch_all_webhook_id": catchAll.ID,
	}).Error)

	results, err := f.processor.Process(ctx, withRaw(record("msg-catch", "alice@sender.test", "anyone@example.com")))
	require.NoError(t, err)
	out := results[0].Outcomes[0]
	assert.Equal(t, OutcomeRouted, out.Status)
	assert.Equal(t, catchAll.ID, out.WebhookID)

	require.NoError(t, f.db.Create(&models.BlockedEmail{EmailAddress: "alice@sender.test", DomainID: f.domain.ID, BlockedBy: "user-1"}).Error)
	results, err = f.processor.Process(ctx, withRaw(record("msg-blocked", "alice@sender.test", "hello@example.com")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, results[0].Outcomes[0].Status)

	var stored int64
	f.db.Model(&models.ReceivedEmail{}).Where("message_id = ?", "msg-blocked").Count(&stored)
	assert.Zero(t, stored)

	require.NoError(t, f.db.Model(f.domain).Update("is_catch_all_enabled", false).Error)
	results, err = f.processor.Process(ctx, withRaw(record("msg-lost", "bob@other.test", "nobody@example.com")))
	require.NoError(t, err)
	out = results[0].Outcomes[0]
	assert.Equal(t, OutcomeUnroutable, out.Status)

	var email models.ReceivedEmail
	require.NoError(t, f.db.First(&email, "id = ?", out.EmailID).Error)
	assert.Equal(t, models.EmailStatusFailed, email.Status)
	assert.NotNil(t, email.ProcessedAt)

	assert.Equal(t, int64(1), queued(t, f.queue))
}

func TestProcessInactiveWebhookIsUnroutable(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Model(f.hook).Update("is_active", false).Error)

	results, err := f.processor.Process(context.Background(), withRaw(record("msg-1", "alice@sender.test", "hello@example.com")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnroutable, results[0].Outcomes[0].Status)
	assert.Zero(t, queued(t, f.queue))
}

func TestProcessDuplicateAndUnknownDomain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := withRaw(record("msg-1", "alice@sender.test", "hello@example.com", "someone@elsewhere.test"))

	first, err := f.processor.Process(ctx, req)
	require.NoError(t, err)
	require.Len(t, first[0].Outcomes, 2)
	assert.Equal(t, OutcomeRouted, first[0].Outcomes[0].Status)
	assert.Equal(t, OutcomeUnknownDomain, first[0].Outcomes[1].Status)

	second, err := f.processor.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second[0].Outcomes[0].Status)
	assert.Equal(t, first[0].SESEventID, second[0].SESEventID)

	var stored, emails int64
	f.db.Model(&models.SESEvent{}).Count(&stored)
	f.db.Model(&models.ReceivedEmail{}).Count(&emails)
	assert.Equal(t, int64(1), stored)
	assert.Equal(t, int64(1), emails)
	assert.Equal(t, int64(1), queued(t, f.queue))
}

func TestCreateOnceKeepsFirstCopy(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()

	newEvent := func() *models.SESEvent {
		return &models.SESEvent{EventSource: "aws:ses", EventVersion: "1.0", MessageID: "msg-race",
			Source: "alice@sender.test", Destination: models.StringArray{"hello@example.com"},
			Timestamp: now, ReceiptTimestamp: now, Recipients: models.StringArray{"hello@example.com"},
			RawSESEvent: models.NewJSON(map[string]string{})}
	}
	created, err := createOnce(f.db, newEvent(), "message_id")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = createOnce(f.db, newEvent(), "message_id")
	require.NoError(t, err)
	assert.False(t, created)

	newEmail := func(recipient string) *models.ReceivedEmail {
		return &models.ReceivedEmail{SESEventID: "e", MessageID: "msg-race", From: "alice@sender.test",
			To: models.StringArray{recipient}, Recipient: recipient, DomainID: f.domain.ID, ReceivedAt: now,
			Status: models.EmailStatusProcessing, UserID: "user-1"}
	}
	for _, want := range []bool{true, false} {
		created, err = createOnce(f.db, newEmail("hello@example.com"), "message_id", "recipient")
		require.NoError(t, err)
		assert.Equal(t, want, created)
	}
	created, err = createOnce(f.db, newEmail("other@example.com"), "message_id", "recipient")
	require.NoError(t, err)
	assert.True(t, created)

	var stored, emails int64
	f.db.Model(&models.SESEvent{}).Where("message_id = ?", "msg-race").Count(&stored)
	f.db.Model(&models.ReceivedEmail{}).Where("message_id = ?", "msg-race").Count(&emails)
	assert.Equal(t, int64(1), stored)
	assert.Equal(t, int64(2), emails)

	// a plain insert bypassing the helper is still rejected
	assert.Error(t, f.db.Create(newEmail("hello@example.com")).Error)
}

func TestProcessFetchesFromS3(t *testing.T) {
	objects := &fakeObjects{body: sampleMessage}
	f := newFixture(t, objects)

	req := Request{Event: events.SimpleEmailEvent{Records: []events.SimpleEmailRecord{
		record("msg-s3", "alice@sender.test", "hello@example.com"),
	}}}
	results, err := f.processor.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRouted, results[0].Outcomes[0].Status)

	require.NotNil(t, objects.input)
	assert.Equal(t, "inbound-mail", aws.ToString(objects.input.Bucket))
	assert.Equal(t, "emails/example.com/msg-s3", aws.ToString(objects.input.Key))

	var event models.SESEvent
	require.NoError(t, f.db.First(&event, "message_id = ?", "msg-s3").Error)
	assert.True(t, event.S3ContentFetched)
	assert.Equal(t, "inbound-mail", event.S3BucketName)
	assert.Equal(t, sampleMessage, event.EmailContent)
}

func TestProcessS3FailureFallsBackToHeaders(t *testing.T) {
	f := newFixture(t, &fakeObjects{err: errors.New("access denied")})

	rec := record("msg-s3", "alice@sender.test", "hello@example.com")
	rec.SES.Receipt.Action = events.SimpleEmailReceiptAction{Type: "S3", BucketName: "custom", ObjectKey: "raw/msg-s3"}
	results, err := f.processor.Process(context.Background(), Request{Event: events.SimpleEmailEvent{Records: []events.SimpleEmailRecord{rec}}})
	require.NoError(t, err)
	out := results[0].Outcomes[0]
	assert.Equal(t, OutcomeRouted, out.Status)

	var event models.SESEvent
	require.NoError(t, f.db.First(&event, "message_id = ?", "msg-s3").Error)
	assert.False(t, event.S3ContentFetched)
	assert.Equal(t, "custom", event.S3BucketName)
	assert.Equal(t, "raw/msg-s3", event.S3ObjectKey)
	assert.Contains(t, event.S3Error, "access denied")

	var email models.ReceivedEmail
	require.NoError(t, f.db.First(&email, "id = ?", out.EmailID).Error)
	assert.Equal(t, "alice@sender.test", email.From)
	assert.Equal(t, "Quarterly report", email.Subject)
}

func TestHandleSESEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, nil)

	router := gin.New()
	router.POST("/ses-events", HandleSESEvent(f.processor))

	post := func(body []byte) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ses-events", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	w := post([]byte(`{"event":{"Records":[]}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bare, err := json.Marshal(events.SimpleEmailEvent{Records: []events.SimpleEmailRecord{
		record("msg-http", "alice@sender.test", "hello@example.com"),
	}})
	require.NoError(t, err)
	w = post(bare)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Processed int      `json:"processed"`
		Results   []Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Processed)
	assert.Equal(t, "msg-http", resp.Results[0].MessageID)
	assert.Equal(t, OutcomeRouted, resp.Results[0].Outcomes[0].Status)
}
