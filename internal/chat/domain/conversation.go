// Package domain — conversation.go define o estado de conversa persistido por
// telefone e o contexto acumulado entre turnos.
//
// O fluxo de uma mensagem:
//  1. Twilio chama o webhook → o bot responde na hora (ACK)
//  2. Processamento destacado: transcrição (se for áudio) → Router
//  3. Router carrega o ConversationState do telefone (ou cria um vazio)
//  4. Router decide: comando explícito, continuação de draft ou classificação
//  5. O estado é salvo de volta com Version incrementada (optimistic locking)
package domain

import (
	"strconv"
	"strings"
	"time"
)

// ============================================================
// ConversationState — um por telefone
// ============================================================

// Steps de conversa fora dos drafts. Os steps de onboarding vivem em onboarding.go.
const (
	StepIdle = "idle"
)

// ConversationState é o registro durável da conversa com um telefone.
// Unicidade: no máximo um por Phone (garantido pelos stores).
type ConversationState struct {
	// Phone normalizado (sem "whatsapp:" e sem "+"), chave primária
	Phone string `json:"phone"`

	// Step é a posição lógica atual: "idle" ou um step de onboarding
	Step string `json:"step"`

	// Data é o saco semi-estruturado: histórico, contexto acumulado, última listagem
	Data ConversationData `json:"data"`

	// ExpiresAt: depois disso o estado é considerado velho e é removido pelo sweep
	ExpiresAt time.Time `json:"expires_at"`

	// Version cresce a cada escrita. 0 = ainda não persistido.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState cria um estado vazio com expiração a partir de now.
func NewConversationState(phone, step string, now time.Time, ttl time.Duration) *ConversationState {
	return &ConversationState{
		Phone:     phone,
		Step:      step,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired indica se o estado passou do prazo em now.
func (s *ConversationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Touch empurra a expiração para now+ttl.
func (s *ConversationState) Touch(now time.Time, ttl time.Duration) {
	s.ExpiresAt = now.Add(ttl)
	s.UpdatedAt = now
}

// ConversationData é o conteúdo de ConversationState.Data.
type ConversationData struct {
	// Messages é o histórico limitado (ver AppendMessage)
	Messages []Message `json:"messages"`

	// LastIntent é a última intenção classificada (informativo)
	LastIntent string `json:"lastIntent,omitempty"`

	// Context é o acumulador de slot-filling
	Context ConversationContext `json:"context"`

	// LastListing lembra a última lista mostrada, para seleção posicional ("2")
	LastListing *Listing `json:"lastListing,omitempty"`

	// Onboarding guarda os campos coletados durante o cadastro
	Onboarding *OnboardingData `json:"onboarding,omitempty"`
}

// Message é uma entrada do histórico.
type Message struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AppendMessage adiciona uma mensagem e mantém só as últimas max.
func (d *ConversationData) AppendMessage(role, content string, at time.Time, max int) {
	d.Messages = append(d.Messages, Message{Role: role, Content: content, Timestamp: at})
	if max > 0 && len(d.Messages) > max {
		d.Messages = append([]Message(nil), d.Messages[len(d.Messages)-max:]...)
	}
}

// ResetContext zera intent, entidades, ações pendentes e histórico.
func (d *ConversationData) ResetContext() {
	d.Context = ConversationContext{}
	d.Messages = nil
}

// ============================================================
// ConversationContext — acumulador entre turnos
// ============================================================

// ConversationContext acumula o que o classificador extraiu ao longo de uma
// mesma tarefa. Nunca sobrevive a uma troca de assunto.
type ConversationContext struct {
	Intent         string   `json:"intent,omitempty"`
	Entities       Entities `json:"entities"`
	PendingActions []Action `json:"pendingActions,omitempty"`
}

// IsEmpty indica se não há nada acumulado.
func (c ConversationContext) IsEmpty() bool {
	return c.Intent == "" && c.Entities.IsEmpty() && len(c.PendingActions) == 0
}

// Action é um passo pedido pelo classificador (ex: search_client, create_devis).
type Action struct {
	Name   string         `json:"name"`
	Order  int            `json:"order"`
	Params map[string]any `json:"params,omitempty"`
}

// Entities são os campos extraídos do texto livre. nil = ausente.
type Entities struct {
	ClientName    *string  `json:"clientName,omitempty"`
	CompanyName   *string  `json:"companyName,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	DevisNumber   *string  `json:"devisNumber,omitempty"`
	FactureNumber *string  `json:"factureNumber,omitempty"`
	SettingName   *string  `json:"settingName,omitempty"`
	SettingValue  *string  `json:"settingValue,omitempty"`
}

// Merge devolve e com os campos presentes em next por cima.
// Um campo ausente (nil ou string vazia) em next nunca apaga o valor atual.
func (e Entities) Merge(next Entities) Entities {
	out := e
	mergeString(&out.ClientName, next.ClientName)
	mergeString(&out.CompanyName, next.CompanyName)
	mergeNumber(&out.Amount, next.Amount)
	mergeString(&out.Description, next.Description)
	mergeNumber(&out.Quantity, next.Quantity)
	mergeString(&out.DevisNumber, next.DevisNumber)
	mergeString(&out.FactureNumber, next.FactureNumber)
	mergeString(&out.SettingName, next.SettingName)
	mergeString(&out.SettingValue, next.SettingValue)
	return out
}

func mergeString(dst **string, src *string) {
	if src == nil || strings.TrimSpace(*src) == "" {
		return
	}
	v := strings.TrimSpace(*src)
	*dst = &v
}

func mergeNumber(dst **float64, src *float64) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

// IsEmpty indica se nenhum campo foi preenchido.
func (e Entities) IsEmpty() bool {
	return e.ClientName == nil && e.CompanyName == nil && e.Amount == nil &&
		e.Description == nil && e.Quantity == nil && e.DevisNumber == nil &&
		e.FactureNumber == nil && e.SettingName == nil && e.SettingValue == nil
}

// Summary descreve os campos conhecidos numa linha, para o prompt do classificador.
func (e Entities) Summary() string {
	var parts []string
	add := func(k string, v *string) {
		if v != nil {
			parts = append(parts, k+"="+*v)
		}
	}
	addNum := func(k string, v *float64) {
		if v != nil {
			parts = append(parts, k+"="+strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	add("clientName", e.ClientName)
	add("companyName", e.CompanyName)
	addNum("amount", e.Amount)
	add("description", e.Description)
	addNum("quantity", e.Quantity)
	add("devisNumber", e.DevisNumber)
	add("factureNumber", e.FactureNumber)
	add("settingName", e.SettingName)
	add("settingValue", e.SettingValue)
	return strings.Join(parts, ", ")
}

// Str e Num são atalhos para montar entidades (testes e decoders).
func Str(s string) *string { return &s }

func Num(f float64) *float64 { return &f }

// ============================================================
// Listing — seleção posicional
// ============================================================

// Listing é a última lista de documentos mostrada ao usuário.
type Listing struct {
	Kind string    `json:"kind"` // "devis" | "facture"
	IDs  []string  `json:"ids"`
	At   time.Time `json:"at"`
}

// Pick devolve o ID na posição 1-based n.
func (l *Listing) Pick(n int) (string, bool) {
	if l == nil || n < 1 || n > len(l.IDs) {
		return "", false
	}
	return l.IDs[n-1], true
}
