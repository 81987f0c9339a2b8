// Package handler — chat_handler.go implementa o webhook do WhatsApp
// (Twilio), a porta de entrada do bot.
//
// ============================================================
// CONTRATO COM A TWILIO
// ============================================================
//
// POST /webhooks/whatsapp
//   - Content-Type: application/x-www-form-urlencoded
//   - Campos usados: From, Body, NumMedia, MediaUrl0, MediaContentType0
//   - Header X-Twilio-Signature: HMAC-SHA1 da URL pública + parâmetros
//
// A Twilio espera resposta em poucos segundos. O turno (classificação,
// PDF, upload) pode levar bem mais que isso, então o handler responde
// na hora com um TwiML vazio e o Dispatcher processa o turno em
// background. As respostas saem pela API REST (Messenger), nunca pelo
// corpo do webhook.
//
// GET /webhooks/whatsapp responde "OK" (verificação do console Twilio).
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

// tracer é o tracer OpenTelemetry para o módulo chat/handler.
var tracer = otel.Tracer("chat/handler")

// emptyTwiML é a resposta "não responda nada" da Twilio.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// maxFormBytes limita o corpo do webhook (a Twilio manda poucos KB).
const maxFormBytes = 64 << 10

// Dispatcher recebe a mensagem e processa o turno fora do request.
// *service.Dispatcher implementa.
type Dispatcher interface {
	Dispatch(msg *chatdomain.InboundMessage)
}

// WebhookConfig controla a validação de assinatura.
type WebhookConfig struct {
	// AuthToken da conta Twilio. Vazio desliga a validação (dev local).
	AuthToken string

	// PublicURL é a URL exata cadastrada no console Twilio. Atrás de
	// proxy o r.Host não bate com ela; vazio reconstrói a partir do request.
	PublicURL string
}

// WebhookHandler trata os POSTs da Twilio.
type WebhookHandler struct {
	dispatcher Dispatcher
	validator  client.RequestValidator
	cfg        WebhookConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewWebhookHandler cria o handler.
func NewWebhookHandler(dispatcher Dispatcher, cfg WebhookConfig, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		validator:  client.NewRequestValidator(cfg.AuthToken),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Verify responde ao GET de verificação.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Receive trata o POST da Twilio.
//
// Fluxo:
//  1. Lê o form (limite de 64 KB)
//  2. Valida X-Twilio-Signature quando há AuthToken
//  3. Monta a InboundMessage e entrega ao Dispatcher (assíncrono)
//  4. Responde 200 com TwiML vazio
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /webhooks/whatsapp")
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("webhook: invalid form", zap.Error(err))
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if h.cfg.AuthToken != "" && !h.validSignature(r) {
		span.SetAttributes(attribute.Bool("twilio.signature_valid", false))
		h.logger.Warn("webhook: invalid twilio signature",
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg := h.inboundFromForm(r)
	span.SetAttributes(
		attribute.String("whatsapp.from", observability.MaskPhone(chatdomain.NormalizePhone(msg.From))),
		attribute.Int("whatsapp.num_media", msg.NumMedia),
	)

	if msg.From == "" {
		// Callbacks de status também chegam aqui; não há turno para processar.
		h.logger.Debug("webhook: message without sender ignored")
	} else {
		h.dispatcher.Dispatch(msg)
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

func (h *WebhookHandler) inboundFromForm(r *http.Request) *chatdomain.InboundMessage {
	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	return &chatdomain.InboundMessage{
		From:             r.PostForm.Get("From"),
		Body:             r.PostForm.Get("Body"),
		NumMedia:         numMedia,
		MediaURL:         r.PostForm.Get("MediaUrl0"),
		MediaContentType: r.PostForm.Get("MediaContentType0"),
		ReceivedAt:       h.now(),
	}
}

func (h *WebhookHandler) validSignature(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return h.validator.Validate(h.publicURL(r), params, signature)
}

func (h *WebhookHandler) publicURL(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
