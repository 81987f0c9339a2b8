// Package domain — chat.go define os tipos de um turno de conversa no WhatsApp.
//
// O fluxo completo:
//  1. Twilio faz POST no webhook com From/Body/NumMedia/MediaUrl0
//  2. Handler responde TwiML vazio na hora e despacha o InboundMessage
//  3. Dispatcher transcreve áudio (Whisper) e monta o Turn
//  4. Router usa comandos, drafts e, por último, o classificador (Groq)
//  5. Strategy escolhida pela intenção envia as respostas pelo Outbox,
//     na ordem em que são produzidas (Twilio)
package domain

import (
	"strings"
	"time"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// Mensagem de entrada (webhook)
// ============================================================

// InboundMessage é o que o webhook extrai do form da Twilio.
type InboundMessage struct {
	// From vem como "whatsapp:+33612345678"
	From string `json:"from"`

	// Body é o texto (vazio quando é só mídia)
	Body string `json:"body"`

	// NumMedia > 0 indica anexo; MediaURL é o primeiro (MediaUrl0)
	NumMedia         int    `json:"num_media"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// IsVoice indica se a mensagem traz um áudio para transcrever.
func (m *InboundMessage) IsVoice() bool {
	if m.NumMedia == 0 || m.MediaURL == "" {
		return false
	}
	return m.MediaContentType == "" || strings.HasPrefix(m.MediaContentType, "audio/")
}

// NormalizePhone remove o prefixo "whatsapp:" e o "+" inicial.
// "whatsapp:+33612345678" → "33612345678"
func NormalizePhone(from string) string {
	p := strings.TrimSpace(from)
	p = strings.TrimPrefix(p, "whatsapp:")
	p = strings.TrimPrefix(p, "+")
	return p
}

// ============================================================
// Turn — contexto de uma mensagem já resolvida
// ============================================================

// Turn encapsula tudo que uma Strategy precisa para processar a mensagem.
// É montado pelo Router antes de delegar.
type Turn struct {
	// Phone normalizado
	Phone string

	// Text é o texto do usuário (já transcrito quando era áudio)
	Text string

	// User e Company são nil enquanto o onboarding não terminou
	User    *domain.User
	Company *domain.Company

	// State é o estado de conversa carregado (nunca nil dentro do Router)
	State *ConversationState

	// Intent é a classificação do turno (nil para comandos e drafts)
	Intent *IntentResult

	// Now é o relógio do turno: um único instante para tudo que for gravado
	Now time.Time

	// DropState pede ao Router para apagar o estado em vez de salvá-lo
	// (annuler, menu, reset)
	DropState bool
}
