package inbound

import (
	"bytes"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Address is a parsed mailbox
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// AddressList is a header's mailboxes plus its display form
type AddressList struct {
	Text      string    `json:"text"`
	Addresses []Address `json:"addresses"`
}

// Attachment describes an attachment without its content
type Attachment struct {
	Filename           string `json:"filename"`
	ContentType        string `json:"contentType"`
	Size               int    `json:"size"`
	ContentID          string `json:"contentId,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
}

// ParsedEmail is the structured form of a raw MIME message
type ParsedEmail struct {
	MessageID    string            `json:"messageId"`
	Date         *time.Time        `json:"date,omitempty"`
	Subject      string            `json:"subject"`
	From         *AddressList      `json:"from"`
	To           *AddressList      `json:"to"`
	Cc           *AddressList      `json:"cc,omitempty"`
	Bcc          *AddressList      `json:"bcc,omitempty"`
	ReplyTo      *AddressList      `json:"replyTo,omitempty"`
	InReplyTo    string            `json:"inReplyTo,omitempty"`
	References   []string          `json:"references,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	TextBody     string            `json:"textBody"`
	HTMLBody     string            `json:"htmlBody"`
	Attachments  []Attachment      `json:"attachments"`
	Headers      map[string]string `json:"headers"`
	ParseSuccess bool              `json:"parseSuccess"`
	ParseError   string            `json:"parseError,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Parse reads a raw message with enmime. A message enmime cannot read at all
// yields a ParsedEmail with ParseSuccess false rather than an error.
func Parse(raw []byte) *ParsedEmail {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return &ParsedEmail{
			Attachments: []Attachment{},
			Headers:     map[string]string{},
			ParseError:  err.Error(),
		}
	}

	parsed := &ParsedEmail{
		MessageID:    strings.TrimSpace(env.GetHeader("Message-Id")),
		Subject:      env.GetHeader("Subject"),
		From:         addressList(env, "From"),
		To:           addressList(env, "To"),
		Cc:           addressList(env, "Cc"),
		Bcc:          addressList(env, "Bcc"),
		ReplyTo:      addressList(env, "Reply-To"),
		InReplyTo:    strings.TrimSpace(env.GetHeader("In-Reply-To")),
		References:   strings.Fields(env.GetHeader("References")),
		Priority:     priority(env),
		TextBody:     env.Text,
		HTMLBody:     env.HTML,
		Attachments:  []Attachment{},
		Headers:      map[string]string{},
		ParseSuccess: true,
	}

	if date, err := env.Date(); err == nil {
		parsed.Date = &date
	}

	for _, key := range env.GetHeaderKeys() {
		parsed.Headers[strings.ToLower(key)] = strings.Join(env.GetHeaderValues(key), ", ")
	}

	for _, part := range append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...) {
		parsed.Attachments = append(parsed.Attachments, Attachment{
			Filename:           part.FileName,
			ContentType:        part.ContentType,
			Size:               len(part.Content),
			ContentID:          part.ContentID,
			ContentDisposition: part.Disposition,
		})
	}

	for _, perr := range env.Errors {
		parsed.Warnings = append(parsed.Warnings, perr.Error())
	}
	return parsed
}

func addressList(env *enmime.Envelope, header string) *AddressList {
	text := env.GetHeader(header)
	if text == "" {
		return nil
	}
	list := &AddressList{Text: text, Addresses: []Address{}}
	addrs, err := env.AddressList(header)
	if err != nil {
		return list
	}
	for _, a := range addrs {
		list.Addresses = append(list.Addresses, fromMail(a))
	}
	return list
}

func fromMail(a *mail.Address) Address {
	return Address{Name: a.Name, Address: strings.ToLower(a.Address)}
}

func priority(env *enmime.Envelope) string {
	if p := env.GetHeader("Priority"); p != "" {
		return strings.ToLower(p)
	}
	switch strings.TrimSpace(env.GetHeader("X-Priority")) {
	case "1", "1 (Highest)", "2", "2 (High)":
		return "high"
	case "4", "4 (Low)", "5", "5 (Lowest)":
		return "low"
	case "":
		return ""
	}
	return "normal"
}

// FirstAddress returns the first mailbox of a list
func (l *AddressList) FirstAddress() (Address, bool) {
	if l == nil || len(l.Addresses) == 0 {
		return Address{}, false
	}
	return l.Addresses[0], true
}
