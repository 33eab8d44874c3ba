package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/BTreeMap/PlanPipe/internal/whatsapp"
)

// whatsAppEventSource is the receiving side of a Whatsmeow client.
type whatsAppEventSource interface {
	AddEventHandler(handler func(evt interface{}))
	DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error)
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// Each inbound message is handled on its own goroutine and the reply is sent
// back to the sender.
type WhatsAppService struct {
	client  whatsapp.WhatsAppSender
	source  whatsAppEventSource // nil for send-only clients such as the mock
	handler InboundHandler

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{client: client}
	if source, ok := client.(whatsAppEventSource); ok {
		s.source = source
		slog.Debug("WhatsAppService created with event source")
	} else {
		slog.Debug("WhatsAppService created with send-only client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the digits of a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SetInboundHandler installs the inbound message handler.
func (s *WhatsAppService) SetInboundHandler(handler InboundHandler) {
	s.handler = handler
}

// Start registers the Whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return fmt.Errorf("WhatsAppService: inbound handler not set")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.source != nil {
		s.source.AddEventHandler(s.handleEvent)
		slog.Info("WhatsAppService event handler registered")
	}
	return nil
}

// Stop cancels in-flight handlers and waits for them to return.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrServiceStopped
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonical, "body_length", len(body))
	return nil
}

// handleEvent is the Whatsmeow event callback.
func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Connected:
		slog.Info("WhatsAppService connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	}
}

// handleIncomingMessage hands a message event to the inbound handler on a
// tracked goroutine so the Whatsmeow event loop is never blocked.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	msg, img, ok := whatsapp.ParseMessage(evt)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		slog.Warn("WhatsAppService dropping message (service not running)", "id", msg.ID)
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.process(ctx, msg, img)
	}()
}

func (s *WhatsAppService) process(ctx context.Context, msg models.InboundMessage, img *waE2E.ImageMessage) {
	if img != nil {
		if s.source == nil {
			return
		}
		data, err := s.source.DownloadImage(ctx, img)
		if err != nil {
			slog.Error("WhatsAppService.process: image download failed", "error", err, "from", msg.From, "id", msg.ID)
			return
		}
		msg.Image = data
	}

	reply := s.handler(ctx, msg)
	if reply == "" {
		return
	}
	if err := s.SendMessage(ctx, msg.From, reply); err != nil {
		slog.Error("WhatsAppService.process: reply failed", "error", err, "from", msg.From)
	}
}
