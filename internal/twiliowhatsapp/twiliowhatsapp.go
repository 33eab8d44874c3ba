// Package twiliowhatsapp wraps the Twilio API for PlanPipe's WhatsApp channel.
//
// Outbound replies go through the Twilio REST API. Inbound webhooks are parsed
// by ParseWebhook, and media attachments are fetched with the account credentials.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const (
	// whatsAppPrefix marks WhatsApp addresses in Twilio's From/To fields.
	whatsAppPrefix = "whatsapp:"
	// maxMediaBytes caps the size of a downloaded attachment.
	maxMediaBytes = 16 << 20
	mediaTimeout  = 30 * time.Second
)

// TwilioWhatsAppSender is the outbound surface shared by Client and MockClient.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
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

// WithFromWhats sets the sending number, e.g. "whatsapp:+14155238886".
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client     *twilio.RestClient
	httpClient *http.Client
	accountSID string
	authToken  string
	fromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// NewClient creates a Twilio client, falling back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER for unset options.
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
	if !strings.HasPrefix(cfg.FromWhats, whatsAppPrefix) {
		cfg.FromWhats = whatsAppPrefix + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:     client,
		httpClient: &http.Client{Timeout: mediaTimeout},
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromWhats:  cfg.FromWhats,
	}, nil
}

// AuthToken returns the token used to validate webhook signatures.
func (c *Client) AuthToken() string {
	return c.authToken
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsAppPrefix + "+" + strings.TrimPrefix(to, "+"))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// FetchMedia downloads an inbound attachment. Twilio media URLs require the
// account credentials. The returned MIME type comes from the response header.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Webhook is an inbound message parsed from Twilio's form-encoded webhook.
type Webhook struct {
	Message   models.InboundMessage
	MediaURL  string // first attachment, empty for text messages
	MediaType string
}

// ParseWebhook extracts the sender, text and first attachment from a Twilio
// messaging webhook. ok is false when the form has no usable sender or content.
func ParseWebhook(form url.Values) (Webhook, bool) {
	from := strings.TrimPrefix(strings.TrimPrefix(form.Get("From"), whatsAppPrefix), "+")
	if from == "" {
		return Webhook{}, false
	}
	w := Webhook{Message: models.InboundMessage{
		ID:   form.Get("MessageSid"),
		From: from,
		Kind: models.MessageKindText,
		Text: strings.TrimSpace(form.Get("Body")),
		Time: time.Now(),
	}}
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		w.MediaURL = form.Get("MediaUrl0")
		w.MediaType = form.Get("MediaContentType0")
		if strings.HasPrefix(w.MediaType, "image/") && w.MediaURL != "" {
			w.Message.Kind = models.MessageKindImage
			w.Message.ImageMIME = w.MediaType
		}
	}
	if w.Message.Kind == models.MessageKindText && w.Message.Text == "" {
		return Webhook{}, false
	}
	return w, true
}

// MockClient records sent messages and serves canned media (for tests).
type MockClient struct {
	SentMessages []SentMessage
	Media        []byte
	MediaType    string
	MediaErr     error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if m.MediaErr != nil {
		return nil, "", m.MediaErr
	}
	return m.Media, m.MediaType, nil
}
