// Package inbound turns SES receipt events into stored emails and queued
// webhook deliveries.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inbound-backend/internal/delivery"
	"inbound-backend/internal/logging"
	"inbound-backend/internal/metrics"
	"inbound-backend/internal/models"
	"inbound-backend/internal/sesrules"
)

// Recipient outcomes
const (
	OutcomeRouted        = "routed"
	OutcomeNoWebhook     = "no_webhook"
	OutcomeUnroutable    = "unroutable"
	OutcomeBlocked       = "blocked"
	OutcomeUnknownDomain = "unknown_domain"
	OutcomeDuplicate     = "duplicate"
)

// Request is what the email-processor Lambda posts: the SES event plus,
// optionally, raw messages keyed by SES message id.
type Request struct {
	Event       events.SimpleEmailEvent `json:"event"`
	RawMessages map[string]string       `json:"rawMessages,omitempty"`
}

// Outcome is what happened to one recipient of a message
type Outcome struct {
	Recipient  string `json:"recipient"`
	Status     string `json:"status"`
	EmailID    string `json:"emailId,omitempty"`
	WebhookID  string `json:"webhookId,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Result summarizes one SES record
type Result struct {
	SESEventID string    `json:"sesEventId"`
	MessageID  string    `json:"messageId"`
	Outcomes   []Outcome `json:"recipients"`
}

// Processor persists SES events and routes each recipient
type Processor struct {
	db         *gorm.DB
	store      *MessageStore
	dispatcher *delivery.Dispatcher
	log        *logrus.Entry
}

// NewProcessor returns a processor. store may be nil, in which case only
// events that carry their raw message are parsed.
func NewProcessor(db *gorm.DB, store *MessageStore, dispatcher *delivery.Dispatcher) *Processor {
	return &Processor{db: db, store: store, dispatcher: dispatcher, log: logging.WithComponent("inbound")}
}

// Process handles every record of the request
func (p *Processor) Process(ctx context.Context, req Request) ([]Result, error) {
	results := make([]Result, 0, len(req.Event.Records))
	for _, rec := range req.Event.Records {
		raw, haveRaw := req.RawMessages[rec.SES.Mail.MessageID]
		res, err := p.processRecord(ctx, rec, raw, haveRaw)
		if err != nil {
			return results, fmt.Errorf("process message %s: %w", rec.SES.Mail.MessageID, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func recipientsOf(rec events.SimpleEmailRecord) []string {
	list := rec.SES.Receipt.Recipients
	if len(list) == 0 {
		list = rec.SES.Mail.Destination
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range list {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return address[at+1:]
}

// objectLocation finds where SES stored the message. Lambda events carry the
// Lambda action, so the key is rebuilt from the rule's object prefix.
func objectLocation(rec events.SimpleEmailRecord, recipients []string) (string, string) {
	action := rec.SES.Receipt.Action
	if strings.EqualFold(action.Type, "S3") && action.ObjectKey != "" {
		return action.BucketName, action.ObjectKey
	}
	domain := ""
	if len(recipients) > 0 {
		domain = domainOf(recipients[0])
	}
	return "", sesrules.ObjectPrefix(domain) + rec.SES.Mail.MessageID
}

func (p *Processor) storeEvent(ctx context.Context, rec events.SimpleEmailRecord, recipients []string, raw string, haveRaw bool) (*models.SESEvent, error) {
	m, receipt := rec.SES.Mail, rec.SES.Receipt

	var existing models.SESEvent
	err := p.db.Where("message_id = ?", m.MessageID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load ses event: %w", err)
	}

	event := &models.SESEvent{
		EventSource:          rec.EventSource,
		EventVersion:         rec.EventVersion,
		MessageID:            m.MessageID,
		Source:               m.Source,
		Destination:          models.StringArray(m.Destination),
		Subject:              m.CommonHeaders.Subject,
		Timestamp:            m.Timestamp,
		ReceiptTimestamp:     receipt.Timestamp,
		ProcessingTimeMillis: receipt.ProcessingTimeMillis,
		Recipients:           models.StringArray(recipients),
		SpamVerdict:          receipt.SpamVerdict.Status,
		VirusVerdict:         receipt.VirusVerdict.Status,
		SPFVerdict:           receipt.SPFVerdict.Status,
		DKIMVerdict:          receipt.DKIMVerdict.Status,
		DMARCVerdict:         receipt.DMARCVerdict.Status,
		ActionType:           receipt.Action.Type,
		CommonHeaders:        models.NewJSON(m.CommonHeaders),
		RawSESEvent:          models.NewJSON(rec),
	}

	bucket, key := objectLocation(rec, recipients)
	event.S3ObjectKey = key
	switch {
	case haveRaw:
		event.EmailContent = raw
		event.S3ContentSize = len(raw)
	case p.store != nil:
		if bucket == "" {
			bucket = p.store.Bucket()
		}
		event.S3BucketName = bucket
		data, err := p.store.Fetch(ctx, bucket, key)
		if err != nil {
			event.S3Error = err.Error()
			p.log.WithError(err).WithField("message_id", m.MessageID).Warn("failed to fetch message from S3")
		} else {
			event.EmailContent = string(data)
			event.S3ContentFetched = true
			event.S3ContentSize = len(data)
		}
	default:
		event.S3BucketName = bucket
		event.S3Error = "S3 is not configured"
	}

	created, err := createOnce(p.db, event, "message_id")
	if err != nil {
		return nil, fmt.Errorf("create ses event: %w", err)
	}
	if !created {
		// another invocation stored the same message first
		if err := p.db.Where("message_id = ?", m.MessageID).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("load ses event: %w", err)
		}
		return &existing, nil
	}
	return event, nil
}

// createOnce inserts value unless a row with the same unique columns exists,
// reporting whether it inserted. The per-address and catch-all rules can both
// hand the same message to concurrent invocations; only one insert wins.
func createOnce(db *gorm.DB, value interface{}, columns ...string) (bool, error) {
	conflict := clause.OnConflict{DoNothing: true}
	for _, c := range columns {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: c})
	}
	res := db.Clauses(conflict).Create(value)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// fromHeaders builds a partial parse from the SES common headers when the
// raw message is unavailable
func fromHeaders(m events.SimpleEmailMessage, reason string) *ParsedEmail {
	parsed := &ParsedEmail{
		MessageID:   m.CommonHeaders.MessageID,
		Subject:     m.CommonHeaders.Subject,
		From:        headerList(m.CommonHeaders.From),
		To:          headerList(m.CommonHeaders.To),
		Attachments: []Attachment{},
		Headers:     map[string]string{},
		ParseError:  reason,
	}
	for _, h := range m.Headers {
		parsed.Headers[strings.ToLower(h.Name)] = h.Value
	}
	if date, err := mail.ParseDate(m.CommonHeaders.Date); err == nil {
		parsed.Date = &date
	}
	return parsed
}

func headerList(values []string) *AddressList {
	if len(values) == 0 {
		return nil
	}
	text := strings.Join(values, ", ")
	list := &AddressList{Text: text, Addresses: []Address{}}
	if addrs, err := mail.ParseAddressList(text); err == nil {
		for _, a := range addrs {
			list.Addresses = append(list.Addresses, fromMail(a))
		}
	}
	return list
}

func (p *Processor) processRecord(ctx context.Context, rec events.SimpleEmailRecord, raw string, haveRaw bool) (*Result, error) {
	recipients := recipientsOf(rec)
	event, err := p.storeEvent(ctx, rec, recipients, raw, haveRaw)
	if err != nil {
		return nil, err
	}

	var parsed *ParsedEmail
	if event.EmailContent != "" {
		parsed = Parse([]byte(event.EmailContent))
	} else {
		reason := event.S3Error
		if reason == "" {
			reason = "raw message unavailable"
		}
		parsed = fromHeaders(rec.SES.Mail, reason)
	}

	sender := strings.ToLower(rec.SES.Mail.Source)
	from, fromName := sender, ""
	if a, ok := parsed.From.FirstAddress(); ok {
		from, fromName = a.Address, a.Name
	}

	subject := parsed.Subject
	if subject == "" {
		subject = rec.SES.Mail.CommonHeaders.Subject
	}

	receivedAt := rec.SES.Mail.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	base := models.ReceivedEmail{
		SESEventID: event.ID,
		MessageID:  rec.SES.Mail.MessageID,
		From:       from,
		FromName:   fromName,
		To:         models.StringArray(recipients),
		Subject:    subject,
		ReceivedAt: receivedAt,
		Metadata: models.NewJSON(map[string]interface{}{
			"spamVerdict":  event.SpamVerdict,
			"virusVerdict": event.VirusVerdict,
			"spfVerdict":   event.SPFVerdict,
			"dkimVerdict":  event.DKIMVerdict,
			"dmarcVerdict": event.DMARCVerdict,
			"parseSuccess": parsed.ParseSuccess,
		}),
		ParsedData: models.NewJSON(parsed),
	}

	result := &Result{SESEventID: event.ID, MessageID: rec.SES.Mail.MessageID}
	for _, recipient := range recipients {
		outcome, err := p.route(ctx, base, recipient, []string{sender, from}, parsed)
		if err != nil {
			return nil, err
		}
		metrics.InboundEmails.WithLabelValues(outcome.Status).Inc()
		p.log.WithFields(logrus.Fields{
			"message_id": rec.SES.Mail.MessageID,
			"recipient":  recipient,
			"outcome":    outcome.Status,
		}).Info("inbound email processed")
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (p *Processor) route(ctx context.Context, base models.ReceivedEmail, recipient string, senders []string, parsed *ParsedEmail) (Outcome, error) {
	out := Outcome{Recipient: recipient}

	var domain models.EmailDomain
	err := p.db.Where("domain = ?", domainOf(recipient)).First(&domain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		out.Status = OutcomeUnknownDomain
		out.Reason = "no domain configured for recipient"
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load domain: %w", err)
	}

	var dup int64
	if err := p.db.Model(&models.ReceivedEmail{}).
		Where("message_id = ? AND recipient = ?", base.MessageID, recipient).
		Count(&dup).Error; err != nil {
		return out, fmt.Errorf("check duplicate: %w", err)
	}
	if dup > 0 {
		out.Status = OutcomeDuplicate
		out.Reason = "message already processed for recipient"
		return out, nil
	}

	var blocked int64
	if err := p.db.Model(&models.BlockedEmail{}).
		Where("domain_id = ? AND email_address IN ?", domain.ID, senders).
		Count(&blocked).Error; err != nil {
		return out, fmt.Errorf("check blocked: %w", err)
	}
	if blocked > 0 {
		out.Status = OutcomeBlocked
		out.Reason = "sender is blocked for this domain"
		return out, nil
	}

	email := base
	email.Recipient = recipient
	email.DomainID = domain.ID
	email.UserID = domain.UserID

	var webhookID *string
	var address models.EmailAddress
	err = p.db.Where("address = ? AND is_active = ?", recipient, true).First(&address).Error
	switch {
	case err == nil:
		webhookID = address.WebhookID
		if webhookID == nil {
			out.Status = OutcomeNoWebhook
			out.Reason = "address has no webhook"
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if domain.IsCatchAllEnabled && domain.CatchAllWebhookID != nil {
			webhookID = domain.CatchAllWebhookID
		} else {
			out.Status = OutcomeUnroutable
			out.Reason = "no active address or catch-all for recipient"
		}
	default:
		return out, fmt.Errorf("load address: %w", err)
	}

	var hook models.Webhook
	if webhookID != nil {
		err := p.db.Where("id = ?", *webhookID).First(&hook).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return out, fmt.Errorf("load webhook: %w", err)
		}
		if err != nil || !hook.IsActive {
			out.Status = OutcomeUnroutable
			out.Reason = "webhook is inactive or was deleted"
			webhookID = nil
		}
	}

	switch out.Status {
	case OutcomeNoWebhook:
		email.Status = models.EmailStatusReceived
		email.StatusNote = out.Reason
	case OutcomeUnroutable:
		email.Status = models.EmailStatusFailed
		email.StatusNote = out.Reason
		now := time.Now()
		email.ProcessedAt = &now
	default:
		email.Status = models.EmailStatusProcessing
		email.WebhookID = webhookID
	}

	created, err := createOnce(p.db, &email, "message_id", "recipient")
	if err != nil {
		return out, fmt.Errorf("create received email: %w", err)
	}
	if !created {
		return Outcome{Recipient: recipient, Status: OutcomeDuplicate, Reason: "message already processed for recipient"}, nil
	}
	out.EmailID = email.ID

	if webhookID == nil {
		return out, nil
	}

	payload, err := BuildPayload(&email, parsed)
	if err != nil {
		return out, fmt.Errorf("build payload: %w", err)
	}
	record, err := p.dispatcher.Submit(ctx, &email.ID, &hook, payload)
	if record == nil {
		return out, err
	}
	if err != nil {
		// the pending row stays for RecoverPending or RecoverStale to requeue
		p.log.WithError(err).WithField("delivery_id", record.ID).Error("failed to enqueue delivery")
		out.Reason = "delivery recorded but not queued"
	}

	out.Status = OutcomeRouted
	out.WebhookID = hook.ID
	out.DeliveryID = record.ID
	return out, nil
}
