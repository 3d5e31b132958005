package inbound

import (
	"encoding/json"
	"strings"
	"time"

	"inbound-backend/internal/models"
)

// EventEmailReceived is the only event type sent to webhooks
const EventEmailReceived = "email.received"

// Payload is the JSON body POSTed to a webhook
type Payload struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Email     EmailPayload `json:"email"`
}

type EmailPayload struct {
	ID             string         `json:"id"`
	MessageID      string         `json:"messageId"`
	From           string         `json:"from"`
	To             []string       `json:"to"`
	Recipient      string         `json:"recipient"`
	Subject        string         `json:"subject"`
	ReceivedAt     time.Time      `json:"receivedAt"`
	ParsedData     *ParsedEmail   `json:"parsedData"`
	CleanedContent CleanedContent `json:"cleanedContent"`
}

// CleanedContent is the message body normalized for consumers
type CleanedContent struct {
	HTML        string            `json:"html"`
	Text        string            `json:"text"`
	HasHTML     bool              `json:"hasHtml"`
	HasText     bool              `json:"hasText"`
	Attachments []Attachment      `json:"attachments"`
	Headers     map[string]string `json:"headers"`
}

// Clean normalizes line endings and trims the bodies
func Clean(parsed *ParsedEmail) CleanedContent {
	text := strings.TrimSpace(strings.ReplaceAll(parsed.TextBody, "\r\n", "\n"))
	html := strings.TrimSpace(parsed.HTMLBody)

	attachments := parsed.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	headers := parsed.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return CleanedContent{
		HTML:        html,
		Text:        text,
		HasHTML:     html != "",
		HasText:     text != "",
		Attachments: attachments,
		Headers:     headers,
	}
}

// BuildPayload renders the webhook body for a stored email
func BuildPayload(email *models.ReceivedEmail, parsed *ParsedEmail) ([]byte, error) {
	return json.Marshal(Payload{
		Event:     EventEmailReceived,
		Timestamp: time.Now().UTC(),
		Email: EmailPayload{
			ID:             email.ID,
			MessageID:      email.MessageID,
			From:           email.From,
			To:             []string(email.To),
			Recipient:      email.Recipient,
			Subject:        email.Subject,
			ReceivedAt:     email.ReceivedAt,
			ParsedData:     parsed,
			CleanedContent: Clean(parsed),
		},
	})
}
