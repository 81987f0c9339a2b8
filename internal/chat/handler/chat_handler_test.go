package handler_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/handler"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*domain.InboundMessage
}

func (d *recordingDispatcher) Dispatch(msg *domain.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postForm(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "https://bot.example.com/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	return req
}

func TestReceive_TextMessage(t *testing.T) {
	d := &recordingDispatcher{}
	h := handler.NewWebhookHandler(d, handler.WebhookConfig{}, zap.NewNop())

	form := url.Values{"From": {"whatsapp:+33612345678"}, "Body": {"Bonjour"}, "NumMedia": {"0"}}
	rec := httptest.NewRecorder()
	h.Receive(rec, postForm(form, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("expected empty TwiML, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("unexpected content type %s", ct)
	}
	if len(d.msgs) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(d.msgs))
	}
	msg := d.msgs[0]
	if msg.From != "whatsapp:+33612345678" || msg.Body != "Bonjour" || msg.NumMedia != 0 || msg.ReceivedAt.IsZero() {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestReceive_VoiceNote(t *testing.T) {
	d := &recordingDispatcher{}
	h := handler.NewWebhookHandler(d, handler.WebhookConfig{}, zap.NewNop())

	form := url.Values{
		"From":              {"whatsapp:+33612345678"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/2010-04-01/Accounts/AC1/Messages/MM1/Media/ME1"},
		"MediaContentType0": {"audio/ogg"},
	}
	h.Receive(httptest.NewRecorder(), postForm(form, ""))

	if len(d.msgs) != 1 || !d.msgs[0].IsVoice() {
		t.Fatalf("expected a voice message, got %+v", d.msgs)
	}
	if d.msgs[0].MediaURL != form.Get("MediaUrl0") {
		t.Errorf("unexpected media url %s", d.msgs[0].MediaURL)
	}
}

func TestReceive_StatusCallbackIsNotDispatched(t *testing.T) {
	d := &recordingDispatcher{}
	h := handler.NewWebhookHandler(d, handler.WebhookConfig{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Receive(rec, postForm(url.Values{"MessageStatus": {"delivered"}}, ""))

	if rec.Code != http.StatusOK || len(d.msgs) != 0 {
		t.Errorf("status callbacks must be acknowledged and dropped (code %d, %d msgs)", rec.Code, len(d.msgs))
	}
}

func TestReceive_Signature(t *testing.T) {
	const token = "twilio-auth-token"
	const public = "https://bot.example.com/webhooks/whatsapp"
	form := url.Values{"From": {"whatsapp:+33612345678"}, "Body": {"devis"}, "NumMedia": {"0"}}

	tests := []struct {
		name      string
		signature string
		wantCode  int
		wantMsgs  int
	}{
		{"valid", sign(token, public, form), http.StatusOK, 1},
		{"wrong token", sign("other", public, form), http.StatusForbidden, 0},
		{"missing", "", http.StatusForbidden, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			h := handler.NewWebhookHandler(d, handler.WebhookConfig{AuthToken: token, PublicURL: public}, zap.NewNop())

			rec := httptest.NewRecorder()
			h.Receive(rec, postForm(form, tt.signature))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if len(d.msgs) != tt.wantMsgs {
				t.Errorf("expected %d dispatched, got %d", tt.wantMsgs, len(d.msgs))
			}
		})
	}
}

func TestReceive_SignatureUsesForwardedProto(t *testing.T) {
	const token = "tok"
	form := url.Values{"From": {"whatsapp:+33600000000"}, "Body": {"menu"}}
	d := &recordingDispatcher{}
	h := handler.NewWebhookHandler(d, handler.WebhookConfig{AuthToken: token}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "http://bot.example.com/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Twilio-Signature", sign(token, "https://bot.example.com/webhooks/whatsapp", form))

	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	if rec.Code != http.StatusOK || len(d.msgs) != 1 {
		t.Errorf("expected the https URL to validate (code %d)", rec.Code)
	}
}

func TestVerify(t *testing.T) {
	h := handler.NewWebhookHandler(&recordingDispatcher{}, handler.WebhookConfig{}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected verify response %d %q", rec.Code, rec.Body.String())
	}
}
