package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// User is the account returned by login and profile calls.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Profile is returned by GET /profile.
type Profile struct {
	User       User   `json:"user"`
	AuthMethod string `json:"authMethod"`
}

type Domain struct {
	ID                string     `json:"id"`
	Domain            string     `json:"domain"`
	Status            string     `json:"status"`
	CanReceiveEmails  bool       `json:"canReceiveEmails"`
	HasMXRecords      bool       `json:"hasMxRecords"`
	IsCatchAllEnabled bool       `json:"isCatchAllEnabled"`
	LastDNSCheck      *time.Time `json:"lastDnsCheck"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type DNSRecord struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Value      string `json:"value"`
	IsVerified bool   `json:"isVerified"`
	Error      string `json:"error,omitempty"`
}

// CreateDomainResponse lists the records the user has to publish.
type CreateDomainResponse struct {
	Domain     Domain      `json:"domain"`
	DNSRecords []DNSRecord `json:"dnsRecords"`
	Warnings   []string    `json:"warnings"`
}

type VerificationCheck struct {
	DNSRecords      []DNSRecord `json:"dnsRecords"`
	SESStatus       string      `json:"sesStatus"`
	SESError        string      `json:"sesError"`
	IsFullyVerified bool        `json:"isFullyVerified"`
	Status          string      `json:"status"`
	PreviousStatus  string      `json:"previousStatus"`
}

// DomainDetail is returned by GET /domains/:id.
type DomainDetail struct {
	Domain            Domain             `json:"domain"`
	DNSRecords        []DNSRecord        `json:"dnsRecords"`
	VerificationCheck *VerificationCheck `json:"verificationCheck,omitempty"`
}

type SyncResult struct {
	ID             string `json:"id"`
	Domain         string `json:"domain"`
	PreviousStatus string `json:"previousStatus"`
	Status         string `json:"status"`
	SESStatus      string `json:"sesStatus"`
	Updated        bool   `json:"updated"`
}

type Address struct {
	ID                      string    `json:"id"`
	Address                 string    `json:"address"`
	DomainID                string    `json:"domainId"`
	WebhookID               *string   `json:"webhookId"`
	IsActive                bool      `json:"isActive"`
	IsReceiptRuleConfigured bool      `json:"isReceiptRuleConfigured"`
	CreatedAt               time.Time `json:"createdAt"`
}

// CreateAddressResponse carries a warning when the receipt rule could not be updated.
type CreateAddressResponse struct {
	EmailAddress Address `json:"emailAddress"`
	Warning      string  `json:"warning"`
}

type Webhook struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	URL                  string     `json:"url"`
	IsActive             bool       `json:"isActive"`
	Timeout              int        `json:"timeout"`
	RetryAttempts        int        `json:"retryAttempts"`
	LastUsed             *time.Time `json:"lastUsed"`
	TotalDeliveries      int        `json:"totalDeliveries"`
	SuccessfulDeliveries int        `json:"successfulDeliveries"`
	FailedDeliveries     int        `json:"failedDeliveries"`
}

// CreateWebhookResponse includes the signing secret, shown only once.
type CreateWebhookResponse struct {
	Webhook Webhook `json:"webhook"`
	Secret  string  `json:"secret"`
}

type WebhookTestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"statusCode"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	Error        string `json:"error"`
}

type Email struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	StatusNote string    `json:"statusNote"`
	IsRead     bool      `json:"isRead"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

// EmailList is one page of the inbox.
type EmailList struct {
	Emails     []Email    `json:"emails"`
	Pagination Pagination `json:"pagination"`
}

// MailFilter narrows ListMail. Domain accepts an id or a domain name.
type MailFilter struct {
	Domain string
	Status string
	Unread bool
	Limit  int
	Offset int
}

// Login exchanges credentials for a session token and installs it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	payload := map[string]string{"email": email, "password": password}
	if _, err := c.Do(ctx, "POST", "/auth/login", payload, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, "POST", "/auth/logout", nil, nil)
	return err
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var resp Profile
	if _, err := c.Do(ctx, "GET", "/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the raw /health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if _, err := c.Do(ctx, "GET", "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	var resp struct {
		Data []Domain `json:"data"`
	}
	if _, err := c.Do(ctx, "GET", "/domains?limit=100", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) CreateDomain(ctx context.Context, name string) (*CreateDomainResponse, error) {
	var resp CreateDomainResponse
	if _, err := c.Do(ctx, "POST", "/domains", map[string]string{"domain": name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDomain fetches a domain; check re-runs DNS and SES verification first.
func (c *Client) GetDomain(ctx context.Context, id string, check bool) (*DomainDetail, error) {
	endpoint := "/domains/" + url.PathEscape(id)
	if check {
		endpoint += "?check=true"
	}
	var resp DomainDetail
	if _, err := c.Do(ctx, "GET", endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteDomain(ctx context.Context, id string) error {
	_, err := c.Do(ctx, "DELETE", "/domains/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) SyncDomains(ctx context.Context) ([]SyncResult, error) {
	var resp struct {
		Domains []SyncResult `json:"domains"`
	}
	if _, err := c.Do(ctx, "POST", "/domains/sync", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

func (c *Client) ListAddresses(ctx context.Context, domainID string) ([]Address, error) {
	q := url.Values{"limit": {"200"}}
	if domainID != "" {
		q.Set("domainId", domainID)
	}
	var resp struct {
		Data []Address `json:"data"`
	}
	if _, err := c.Do(ctx, "GET", "/email-addresses?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) CreateAddress(ctx context.Context, address, webhookID string) (*CreateAddressResponse, error) {
	payload := map[string]interface{}{"address": address}
	if webhookID != "" {
		payload["webhookId"] = webhookID
	}
	var resp CreateAddressResponse
	if _, err := c.Do(ctx, "POST", "/email-addresses", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteAddress(ctx context.Context, id string) error {
	_, err := c.Do(ctx, "DELETE", "/email-addresses/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if _, err := c.Do(ctx, "GET", "/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

func (c *Client) CreateWebhook(ctx context.Context, name, target string) (*CreateWebhookResponse, error) {
	var resp CreateWebhookResponse
	payload := map[string]string{"name": name, "url": target}
	if _, err := c.Do(ctx, "POST", "/webhooks", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TestWebhook(ctx context.Context, id string) (*WebhookTestResult, error) {
	var resp WebhookTestResult
	if _, err := c.Do(ctx, "POST", "/webhooks/"+url.PathEscape(id)+"/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListMail(ctx context.Context, f MailFilter) (*EmailList, error) {
	q := url.Values{}
	if f.Domain != "" {
		q.Set("domain", f.Domain)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Unread {
		q.Set("isRead", "false")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	endpoint := "/mail"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp EmailList
	if _, err := c.Do(ctx, "GET", endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMail returns the structured view of one email as raw JSON.
func (c *Client) GetMail(ctx context.Context, id string) (json.RawMessage, error) {
	var resp json.RawMessage
	if _, err := c.Do(ctx, "GET", "/mail/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
