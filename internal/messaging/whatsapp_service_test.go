package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/goleak"

	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/BTreeMap/PlanPipe/internal/whatsapp"
)

// fakeWhatsApp is a send-and-receive client driven by the test.
type fakeWhatsApp struct {
	mu       sync.Mutex
	handler  func(evt interface{})
	image    []byte
	imageErr error
	sent     chan whatsapp.SentMessage
}

func newFakeWhatsApp() *fakeWhatsApp {
	return &fakeWhatsApp{sent: make(chan whatsapp.SentMessage, 4)}
}

func (f *fakeWhatsApp) SendMessage(ctx context.Context, to, body string) error {
	f.sent <- whatsapp.SentMessage{To: to, Body: body}
	return nil
}

func (f *fakeWhatsApp) AddEventHandler(handler func(evt interface{})) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeWhatsApp) DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error) {
	return f.image, f.imageErr
}

func (f *fakeWhatsApp) emit(evt interface{}) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(evt)
}

func messageEvent(msg *waE2E.Message) *events.Message {
	evt := &events.Message{Message: msg}
	evt.Info.ID = "3EB0001"
	evt.Info.Sender = types.NewJID("886912345678", whatsapp.JIDSuffix)
	evt.Info.Chat = evt.Info.Sender
	return evt
}

func receive(t *testing.T, ch <-chan whatsapp.SentMessage) whatsapp.SentMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	return whatsapp.SentMessage{}
}

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_StartRequiresHandler(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected error without inbound handler")
	}
}

func TestWhatsAppService_TextRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeWhatsApp()
	svc := NewWhatsAppService(client)
	var got models.InboundMessage
	svc.SetInboundHandler(func(ctx context.Context, msg models.InboundMessage) string {
		got = msg
		return "已新增"
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	text := "明天下午三點看牙醫"
	client.emit(messageEvent(&waE2E.Message{Conversation: &text}))

	reply := receive(t, client.sent)
	if reply.To != "886912345678" || reply.Body != "已新增" {
		t.Errorf("unexpected reply %+v", reply)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got.Kind != models.MessageKindText || got.Text != text || got.ID != "3EB0001" {
		t.Errorf("unexpected inbound message %+v", got)
	}
}

func TestWhatsAppService_ImageDownloaded(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeWhatsApp()
	client.image = []byte("jpeg")
	svc := NewWhatsAppService(client)
	images := make(chan models.InboundMessage, 1)
	svc.SetInboundHandler(func(ctx context.Context, msg models.InboundMessage) string {
		images <- msg
		return "📷"
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.emit(messageEvent(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))
	receive(t, client.sent)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	msg := <-images
	if msg.Kind != models.MessageKindImage || string(msg.Image) != "jpeg" || msg.ImageMIME != whatsapp.DefaultImageMIME {
		t.Errorf("unexpected image message %+v", msg)
	}
}

func TestWhatsAppService_DownloadFailureSkipsHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeWhatsApp()
	client.imageErr = errors.New("media expired")
	svc := NewWhatsAppService(client)
	called := false
	svc.SetInboundHandler(func(ctx context.Context, msg models.InboundMessage) string {
		called = true
		return "x"
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client.emit(messageEvent(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if called {
		t.Error("handler should not run when the image cannot be downloaded")
	}
}

func TestWhatsAppService_SendAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.SetInboundHandler(func(context.Context, models.InboundMessage) string { return "" })
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "886912345678", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+886 912-345-678", "886912345678", false},
		{"886912345678", "886912345678", false},
		{"", "", true},
		{"abc", "", true},
		{"+12 34", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
