package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/BTreeMap/PlanPipe/internal/twiliowhatsapp"
)

func postWebhook(t *testing.T, svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	return rec
}

func TestTwilioService_WebhookRepliesWithTwiML(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	var got models.InboundMessage
	svc.SetInboundHandler(func(ctx context.Context, msg models.InboundMessage) string {
		got = msg
		return "Added: dentist"
	})

	rec := postWebhook(t, svc, url.Values{
		"From":       {"whatsapp:+886912345678"},
		"Body":       {"dentist tomorrow 3pm"},
		"MessageSid": {"SM123"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, "<Message>Added: dentist</Message>") {
		t.Errorf("unexpected TwiML %q", body)
	}
	if got.From != "886912345678" || got.ID != "SM123" || got.Text != "dentist tomorrow 3pm" {
		t.Errorf("unexpected inbound message %+v", got)
	}
}

func TestTwilioService_WebhookEmptyReply(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	svc.SetInboundHandler(func(context.Context, models.InboundMessage) string { return "" })

	rec := postWebhook(t, svc, url.Values{"From": {"whatsapp:+886912345678"}, "Body": {"hi"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<Message>") {
		t.Errorf("expected empty TwiML response, got %q", rec.Body.String())
	}
}

func TestTwilioService_WebhookFetchesImage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	client.Media = []byte("png")
	client.MediaType = "image/png"
	svc := NewTwilioService(client)
	var got models.InboundMessage
	svc.SetInboundHandler(func(ctx context.Context, msg models.InboundMessage) string {
		got = msg
		return "ack"
	})

	rec := postWebhook(t, svc, url.Values{
		"From":              {"whatsapp:+886912345678"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.Kind != models.MessageKindImage || string(got.Image) != "png" || got.ImageMIME != "image/png" {
		t.Errorf("unexpected inbound message %+v", got)
	}
}

func TestTwilioService_WebhookMediaFailure(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	client.MediaErr = errors.New("404")
	svc := NewTwilioService(client)
	svc.SetInboundHandler(func(context.Context, models.InboundMessage) string {
		t.Error("handler should not run")
		return ""
	})

	rec := postWebhook(t, svc, url.Values{
		"From":              {"whatsapp:+886912345678"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestTwilioService_StoppedRejects(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)
	svc.SetInboundHandler(func(context.Context, models.InboundMessage) string { return "x" })
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+886 912 345 678", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "886912345678" {
		t.Errorf("unexpected sent messages %+v", client.SentMessages)
	}

	_ = svc.Stop()
	if err := svc.SendMessage(context.Background(), "886912345678", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	rec := postWebhook(t, svc, url.Values{"From": {"whatsapp:+886912345678"}, "Body": {"hi"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
