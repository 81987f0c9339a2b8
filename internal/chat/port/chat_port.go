// Package port — chat_port.go define as interfaces (ports) que o bot usa.
//
// Seguindo a arquitetura hexagonal, os services do chat dependem dessas
// interfaces e NÃO dos clients concretos (Groq, Twilio, Supabase, Postgres...).
// Isso facilita testes e troca de implementação via config.
package port

import (
	"context"
	"time"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// Persistência do estado de conversa e dos drafts
// ============================================================

// ConversationStore guarda um ConversationState por telefone.
//
// Versionamento (optimistic locking):
//   - Save com Version == 0 cria; falha com *domain.ErrVersionConflict se já existir
//   - Save com Version == N só grava se o registro ainda estiver em N
//   - Em caso de sucesso o store incrementa state.Version
type ConversationStore interface {
	// Get devolve (nil, nil) quando não existe ou já expirou.
	Get(ctx context.Context, phone string) (*chatdomain.ConversationState, error)
	Save(ctx context.Context, state *chatdomain.ConversationState) error
	Delete(ctx context.Context, phone string) error
	// DeleteExpired remove estados com ExpiresAt < now e devolve quantos saíram.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// DraftStore guarda os drafts. Invariante: no máximo um draft "active"
// por (OwnerID, DocType): Create e Update devolvem *domain.ErrConflict
// quando a escrita violaria isso.
type DraftStore interface {
	// GetActive devolve (nil, nil) quando não há draft ativo para o par.
	GetActive(ctx context.Context, ownerID string, docType chatdomain.DocType) (*chatdomain.Draft, error)
	ListPaused(ctx context.Context, ownerID string, docType chatdomain.DocType) ([]chatdomain.Draft, error)
	Get(ctx context.Context, id string) (*chatdomain.Draft, error)
	// Create preenche ID, Version (1) e timestamps.
	Create(ctx context.Context, draft *chatdomain.Draft) error
	// Update exige draft.Version igual ao persistido e incrementa em caso de sucesso.
	Update(ctx context.Context, draft *chatdomain.Draft) error
	Delete(ctx context.Context, id string) error
}

// ============================================================
// Colaboradores externos
// ============================================================

// Classifier chama o LLM e devolve o texto cru. Quem interpreta é o decoder.
type Classifier interface {
	Classify(ctx context.Context, req *chatdomain.ClassifyRequest) (*chatdomain.ClassifyResponse, error)
}

// Transcriber converte áudio em texto (Whisper).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// MediaFetcher baixa a mídia anexada a uma mensagem (com autenticação Twilio).
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Renderer gera o PDF de um devis ou facture.
type Renderer interface {
	Render(ctx context.Context, data *domain.RenderData) ([]byte, error)
}

// BlobStore publica bytes e devolve uma URL acessível pelo WhatsApp.
type BlobStore interface {
	Store(ctx context.Context, data []byte, filename string) (string, error)
}

// Messenger entrega mensagens no WhatsApp. `to` é o telefone normalizado.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to, url, filename, caption string) error
}
