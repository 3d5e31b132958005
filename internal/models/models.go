package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Domain verification states
const (
	DomainStatusPending  = "pending"
	DomainStatusVerified = "verified"
	DomainStatusFailed   = "failed"
)

// SES identity verification states as reported by AWS
const (
	SESStatusPending          = "Pending"
	SESStatusSuccess          = "Success"
	SESStatusFailed           = "Failed"
	SESStatusTemporaryFailure = "TemporaryFailure"
	SESStatusNotStarted       = "NotStarted"
	SESStatusNotFound         = "NotFound"
	SESStatusUnknown          = "Unknown"
	SESStatusError            = "Error"
)

// DNS provider detection confidence
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Received email processing states
const (
	EmailStatusReceived   = "received"
	EmailStatusProcessing = "processing"
	EmailStatusForwarded  = "forwarded"
	EmailStatusFailed     = "failed"
)

// Webhook delivery states
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

// All returns every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&User{},
		&APIKey{},
		&Subscription{},
		&EmailDomain{},
		&DomainDNSRecord{},
		&EmailAddress{},
		&Webhook{},
		&SESEvent{},
		&ReceivedEmail{},
		&WebhookDelivery{},
		&BlockedEmail{},
	}
}

// Base carries the string primary key and timestamps shared by every table
type Base struct {
	ID        string    `json:"id" gorm:"primaryKey;size:255"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not pick an ID
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

type User struct {
	Base
	Email    string `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Password string `json:"-"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`

	FailedLoginAttempts int        `json:"-" gorm:"default:0"`
	LastFailedLogin     *time.Time `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"lastLoginAt"`
}

// APIKey is a user-scoped bearer credential; only its SHA-256 hash is stored
type APIKey struct {
	Base
	UserID     string     `json:"userId" gorm:"index;size:255;not null"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-" gorm:"uniqueIndex;size:64"`
	KeyPrefix  string     `json:"prefix" gorm:"size:16"`
	Enabled    bool       `json:"enabled"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
}

// Subscription mirrors the billing state pushed by Stripe
type Subscription struct {
	Base
	Plan                 string     `json:"plan" gorm:"size:255;not null"`
	ReferenceID          string     `json:"referenceId" gorm:"uniqueIndex;size:255;not null"` // user id
	StripeCustomerID     string     `json:"stripeCustomerId" gorm:"size:255"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId" gorm:"index;size:255"`
	Status               string     `json:"status" gorm:"size:255;not null"`
	PeriodStart          *time.Time `json:"periodStart"`
	PeriodEnd            *time.Time `json:"periodEnd"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd" gorm:"default:false"`
}

type EmailDomain struct {
	Base
	Domain             string     `json:"domain" gorm:"uniqueIndex;size:255;not null"`
	Status             string     `json:"status" gorm:"size:50;not null"`
	VerificationToken  string     `json:"verificationToken" gorm:"size:255"`
	CanReceiveEmails   bool       `json:"canReceiveEmails" gorm:"default:false"`
	HasMXRecords       bool       `json:"hasMxRecords" gorm:"column:has_mx_records;default:false"`
	DomainProvider     string     `json:"domainProvider" gorm:"size:100"`
	ProviderConfidence string     `json:"providerConfidence" gorm:"size:20"`
	LastDNSCheck       *time.Time `json:"lastDnsCheck" gorm:"column:last_dns_check"`
	LastSESCheck       *time.Time `json:"lastSesCheck" gorm:"column:last_ses_check"`

	IsCatchAllEnabled       bool    `json:"isCatchAllEnabled" gorm:"default:false"`
	CatchAllWebhookID       *string `json:"catchAllWebhookId" gorm:"size:255"`
	CatchAllReceiptRuleName *string `json:"catchAllReceiptRuleName" gorm:"size:255"`
	ReceiptRuleName         *string `json:"receiptRuleName" gorm:"size:255"`

	MailFromDomain string `json:"mailFromDomain" gorm:"size:255"`
	MailFromStatus string `json:"mailFromStatus" gorm:"size:50"`

	UserID string `json:"userId" gorm:"index;size:255;not null"`
}

// IsVerified reports whether the domain has reached the verified status.
// CanReceiveEmails is informational and not part of the check.
func (d *EmailDomain) IsVerified() bool {
	return d.Status == DomainStatusVerified
}

type DomainDNSRecord struct {
	ID          string     `json:"id" gorm:"primaryKey;size:255"`
	DomainID    string     `json:"domainId" gorm:"index;size:255;not null"`
	RecordType  string     `json:"type" gorm:"size:10;not null"`
	Name        string     `json:"name" gorm:"size:255;not null"`
	Value       string     `json:"value" gorm:"type:text;not null"`
	IsRequired  bool       `json:"isRequired" gorm:"default:true"`
	IsVerified  bool       `json:"isVerified" gorm:"default:false"`
	LastChecked *time.Time `json:"lastChecked"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (r *DomainDNSRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type EmailAddress struct {
	Base
	Address                 string  `json:"address" gorm:"uniqueIndex;size:255;not null"`
	DomainID                string  `json:"domainId" gorm:"index;size:255;not null"`
	WebhookID               *string `json:"webhookId" gorm:"index;size:255"`
	IsActive                bool    `json:"isActive"`
	IsReceiptRuleConfigured bool    `json:"isReceiptRuleConfigured" gorm:"default:false"`
	ReceiptRuleName         *string `json:"receiptRuleName" gorm:"size:255"`
	UserID                  string  `json:"userId" gorm:"index;size:255;not null"`
}

type Webhook struct {
	Base
	Name                 string     `json:"name" gorm:"size:255;not null"`
	URL                  string     `json:"url" gorm:"type:text;not null"`
	Secret               string     `json:"-" gorm:"size:255"`
	IsActive             bool       `json:"isActive"`
	Description          string     `json:"description" gorm:"type:text"`
	Headers              JSON       `json:"headers" gorm:"type:text"`
	Timeout              int        `json:"timeout" gorm:"default:30"`
	RetryAttempts        int        `json:"retryAttempts"`
	LastUsed             *time.Time `json:"lastUsed"`
	TotalDeliveries      int        `json:"totalDeliveries" gorm:"default:0"`
	SuccessfulDeliveries int        `json:"successfulDeliveries" gorm:"default:0"`
	FailedDeliveries     int        `json:"failedDeliveries" gorm:"default:0"`
	UserID               string     `json:"userId" gorm:"index;size:255;not null"`
}

// HeaderMap decodes the custom headers column, ignoring malformed content
func (w *Webhook) HeaderMap() map[string]string {
	headers := map[string]string{}
	if len(w.Headers) == 0 {
		return headers
	}
	_ = json.Unmarshal(w.Headers, &headers)
	return headers
}

// SESEvent stores the raw SES receipt notification for one message
type SESEvent struct {
	Base
	EventSource          string      `json:"eventSource" gorm:"size:100;not null"`
	EventVersion         string      `json:"eventVersion" gorm:"size:50;not null"`
	MessageID            string      `json:"messageId" gorm:"uniqueIndex;size:255;not null"`
	Source               string      `json:"source" gorm:"size:255;not null"`
	Destination          StringArray `json:"destination" gorm:"type:text;not null"`
	Subject              string      `json:"subject" gorm:"type:text"`
	Timestamp            time.Time   `json:"timestamp" gorm:"index;not null"`
	ReceiptTimestamp     time.Time   `json:"receiptTimestamp" gorm:"not null"`
	ProcessingTimeMillis int64       `json:"processingTimeMillis"`
	Recipients           StringArray `json:"recipients" gorm:"type:text;not null"`
	SpamVerdict          string      `json:"spamVerdict" gorm:"size:50"`
	VirusVerdict         string      `json:"virusVerdict" gorm:"size:50"`
	SPFVerdict           string      `json:"spfVerdict" gorm:"column:spf_verdict;size:50"`
	DKIMVerdict          string      `json:"dkimVerdict" gorm:"column:dkim_verdict;size:50"`
	DMARCVerdict         string      `json:"dmarcVerdict" gorm:"column:dmarc_verdict;size:50"`
	ActionType           string      `json:"actionType" gorm:"size:50"`
	S3BucketName         string      `json:"s3BucketName" gorm:"column:s3_bucket_name;size:255"`
	S3ObjectKey          string      `json:"s3ObjectKey" gorm:"column:s3_object_key;size:500"`
	EmailContent         string      `json:"-" gorm:"type:text"`
	S3ContentFetched     bool        `json:"s3ContentFetched" gorm:"column:s3_content_fetched;default:false"`
	S3ContentSize        int         `json:"s3ContentSize" gorm:"column:s3_content_size"`
	S3Error              string      `json:"s3Error" gorm:"column:s3_error;type:text"`
	CommonHeaders        JSON        `json:"commonHeaders" gorm:"type:text"`
	RawSESEvent          JSON        `json:"-" gorm:"column:raw_ses_event;type:text;not null"`
}

// ReceivedEmail is one routed copy of an inbound message for a single recipient
type ReceivedEmail struct {
	Base
	SESEventID  string      `json:"sesEventId" gorm:"column:ses_event_id;index;size:255;not null"`
	MessageID   string      `json:"messageId" gorm:"uniqueIndex:idx_received_emails_message_recipient,priority:1;size:255;not null"`
	From        string      `json:"from" gorm:"size:255;not null"`
	FromName    string      `json:"fromName" gorm:"size:255"`
	To          StringArray `json:"to" gorm:"type:text;not null"`
	Recipient   string      `json:"recipient" gorm:"index;uniqueIndex:idx_received_emails_message_recipient,priority:2;size:255;not null"`
	DomainID    string      `json:"domainId" gorm:"index;size:255"`
	Subject     string      `json:"subject" gorm:"type:text"`
	ReceivedAt  time.Time   `json:"receivedAt" gorm:"index;not null"`
	ProcessedAt *time.Time  `json:"processedAt"`
	Status      string      `json:"status" gorm:"size:50;not null"`
	StatusNote  string      `json:"statusNote" gorm:"type:text"`
	WebhookID   *string     `json:"webhookId" gorm:"size:255"`
	IsRead      bool        `json:"isRead" gorm:"default:false"`
	ReadAt      *time.Time  `json:"readAt"`
	Metadata    JSON        `json:"metadata" gorm:"type:text"`
	ParsedData  JSON        `json:"-" gorm:"type:text"`
	UserID      string      `json:"userId" gorm:"index;size:255;not null"`
}

type WebhookDelivery struct {
	Base
	EmailID       *string    `json:"emailId" gorm:"index;size:255"`
	WebhookID     string     `json:"webhookId" gorm:"index;size:255;not null"`
	Endpoint      string     `json:"endpoint" gorm:"size:500;not null"`
	Payload       JSON       `json:"-" gorm:"type:text"`
	Status        string     `json:"status" gorm:"size:50;not null"`
	Attempts      int        `json:"attempts" gorm:"default:0"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	ResponseCode  int        `json:"responseCode"`
	ResponseBody  string     `json:"responseBody" gorm:"type:text"`
	Error         string     `json:"error" gorm:"type:text"`
	DeliveryTime  int64      `json:"deliveryTime"` // milliseconds
}

// BlockedEmail is a sender address dropped by inbound routing for a domain
type BlockedEmail struct {
	Base
	EmailAddress string `json:"emailAddress" gorm:"size:255;not null;index"`
	DomainID     string `json:"domainId" gorm:"index;size:255;not null"`
	Reason       string `json:"reason" gorm:"type:text"`
	BlockedBy    string `json:"blockedBy" gorm:"size:255"`
}

// StringArray is stored as a PostgreSQL array literal in a text column
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (sa StringArray) Value() (driver.Value, error) {
	if len(sa) == 0 {
		return "{}", nil
	}
	var quoted []string
	for _, s := range sa {
		quoted = append(quoted, `"`+strings.ReplaceAll(s, `"`, `\"`)+`"`)
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (sa *StringArray) Scan(value interface{}) error {
	if value == nil {
		*sa = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
			v = v[1 : len(v)-1]
		}
		if v == "" {
			*sa = StringArray{}
			return nil
		}
		rawEntries := strings.Split(v, ",")
		clean := make([]string, 0, len(rawEntries))
		for _, entry := range rawEntries {
			entry = strings.TrimSpace(entry)
			entry = strings.Trim(entry, `"`)
			entry = strings.ReplaceAll(entry, `\"`, `"`)
			if entry != "" {
				clean = append(clean, entry)
			}
		}
		*sa = StringArray(clean)
		return nil
	case []byte:
		return sa.Scan(string(v))
	default:
		return errors.New("cannot scan into StringArray")
	}
}

// JSON is a raw JSON document stored in a text column
type JSON []byte

// NewJSON marshals v, returning nil when v cannot be encoded
func NewJSON(v interface{}) JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return JSON(data)
}

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSON(nil), v...)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return errors.New("cannot scan into JSON")
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append(JSON(nil), data...)
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}
