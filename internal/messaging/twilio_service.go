package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/PlanPipe/internal/twiliowhatsapp"
)

// twilioClient is the Twilio surface TwilioService needs.
type twilioClient interface {
	twiliowhatsapp.TwilioWhatsAppSender
	FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// TwilioService implements Service on top of Twilio. Inbound messages arrive
// through WebhookHandler and the reply is returned synchronously as TwiML.
type TwilioService struct {
	client  twilioClient // real Twilio client or MockClient
	handler InboundHandler
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twilioClient) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SetInboundHandler installs the inbound message handler.
func (s *TwilioService) SetInboundHandler(handler InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Start is a no-op for Twilio; inbound traffic arrives over HTTP.
func (s *TwilioService) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handler == nil {
		return fmt.Errorf("TwilioService: inbound handler not set")
	}
	return nil
}

// Stop marks the service stopped. Later sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends a message via the Twilio REST API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// WebhookHandler handles inbound Twilio messaging webhooks. Image attachments
// are downloaded before the handler runs; the handler's reply is written as a
// TwiML <Message>.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	handler, stopped := s.handler, s.stopped
	s.mu.RUnlock()
	if stopped || handler == nil {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	hook, ok := twiliowhatsapp.ParseWebhook(r.PostForm)
	if !ok {
		slog.Warn("TwilioService.WebhookHandler: unsupported message", "sid", r.PostForm.Get("MessageSid"))
		writeTwiML(w, "")
		return
	}

	msg := hook.Message
	if hook.MediaURL != "" && msg.ImageMIME != "" {
		data, mime, err := s.client.FetchMedia(r.Context(), hook.MediaURL)
		if err != nil {
			slog.Error("TwilioService.WebhookHandler: media fetch failed", "error", err, "from", msg.From)
			http.Error(w, "Media unavailable", http.StatusBadGateway)
			return
		}
		msg.Image = data
		if mime != "" {
			msg.ImageMIME = mime
		}
	}

	slog.Info("TwilioService.WebhookHandler: inbound message", "from", msg.From, "kind", msg.Kind, "sid", msg.ID)
	writeTwiML(w, handler(r.Context(), msg))
}

// writeTwiML writes a TwiML response carrying reply, or an empty response.
func writeTwiML(w http.ResponseWriter, reply string) {
	var verbs []twiml.Element
	if reply != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: reply})
	}
	body, err := twiml.Messages(verbs)
	if err != nil {
		slog.Error("TwilioService: failed to render TwiML", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
