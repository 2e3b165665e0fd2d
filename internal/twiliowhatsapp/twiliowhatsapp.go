// Package twiliowhatsapp wraps the Twilio API for WhatsApp template delivery.
//
// All funnel messages are pre-approved WhatsApp content templates addressed
// by Content SID; free-form bodies are only used as a fallback for ad-hoc
// operator messages.
package twiliowhatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TemplateSender delivers WhatsApp content templates. SendTemplate returns
// the provider message SID on success.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error)
	SendText(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+14155238886").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// Compile-time check that Client implements TemplateSender.
var _ TemplateSender = (*Client)(nil)

// NewClient builds a Twilio client from options, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables for anything unset.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:    client,
		fromWhats: cfg.FromWhats,
	}, nil
}

// SendTemplate sends a pre-approved content template to the given WhatsApp
// address and returns the created message SID.
func (c *Client) SendTemplate(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(qualify(to))
	params.SetFrom(c.fromWhats)
	params.SetContentSid(contentSID)

	if len(variables) > 0 {
		vars, err := json.Marshal(variables)
		if err != nil {
			return "", fmt.Errorf("marshal content variables: %w", err)
		}
		params.SetContentVariables(string(vars))
	}

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendTemplate failed", "to", to, "contentSID", contentSID, "error", err)
		return "", fmt.Errorf("failed to send template %s to %s: %w", contentSID, to, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio template sent", "to", to, "contentSID", contentSID, "sid", sid)
	return sid, nil
}

// SendText sends a free-form WhatsApp message. Only deliverable inside the
// provider's 24-hour customer service window.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(qualify(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendText failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// qualify ensures the address carries the whatsapp: channel prefix exactly once.
func qualify(to string) string {
	if strings.HasPrefix(to, "whatsapp:") {
		return to
	}
	return "whatsapp:" + to
}

// MockClient records sends for tests.
type MockClient struct {
	SentTemplates []SentTemplate
	SentTexts     []SentText
	FailNext      error
	nextSID       int
}

// SentTemplate is one recorded SendTemplate call.
type SentTemplate struct {
	To         string
	ContentSID string
	Variables  map[string]string
}

// SentText is one recorded SendText call.
type SentText struct {
	To   string
	Body string
}

// Compile-time check that MockClient implements TemplateSender.
var _ TemplateSender = (*MockClient)(nil)

// NewMockClient creates an empty mock sender.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendTemplate(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error) {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return "", err
	}
	m.SentTemplates = append(m.SentTemplates, SentTemplate{To: to, ContentSID: contentSID, Variables: variables})
	m.nextSID++
	return fmt.Sprintf("SMmock%04d", m.nextSID), nil
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return "", err
	}
	m.SentTexts = append(m.SentTexts, SentText{To: to, Body: body})
	m.nextSID++
	return fmt.Sprintf("SMmock%04d", m.nextSID), nil
}
