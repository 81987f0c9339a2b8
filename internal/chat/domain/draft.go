package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// Draft — documento em construção (devis ou facture)
// ============================================================

// DocType é o tipo de documento que o draft vai gerar.
type DocType string

const (
	DocQuote   DocType = "devis"
	DocInvoice DocType = "facture"
)

// DraftStatus: no máximo um "active" por (OwnerID, DocType).
type DraftStatus string

const (
	DraftActive DraftStatus = "active"
	DraftPaused DraftStatus = "paused"
)

// Step identifica em que ponto do fluxo o draft está.
type Step string

const (
	StepChoosingDraft       Step = "choosing_draft"
	StepChoosingSource      Step = "choosing_source"
	StepSelectingQuote      Step = "selecting_quote"
	StepAskingClient        Step = "asking_client"
	StepAskingNewClientName Step = "asking_new_client_name"
	StepAskingNewClientAddr Step = "asking_new_client_address"
	StepConfirmingClient    Step = "confirming_existing_client"
	StepAskingLines         Step = "asking_lines"
	StepAskingValidity      Step = "asking_validity_period"
	StepAskingPaymentTerms  Step = "asking_payment_terms"
)

// Draft é o registro durável de um documento em construção.
// State carrega só os campos válidos para o step atual.
type Draft struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"` // user ID
	CompanyID string      `json:"company_id"`
	DocType   DocType     `json:"doc_type"`
	Status    DraftStatus `json:"status"`
	Title     string      `json:"title"`
	State     StepState   `json:"-"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Step devolve o step atual ("" quando o draft não tem estado).
func (d *Draft) Step() Step {
	if d == nil || d.State == nil {
		return ""
	}
	return d.State.Step()
}

// Label é o nome do documento para mensagens ("devis" / "facture").
func (t DocType) Label() string {
	return string(t)
}

// ============================================================
// Estados — um tipo por step (tagged union)
// ============================================================

// StepState é implementado por cada estado do fluxo.
type StepState interface {
	Step() Step
}

// ClientRef é o cliente escolhido ou candidato.
type ClientRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// QuoteRef é um devis oferecido para conversão em facture.
type QuoteRef struct {
	ID         string  `json:"id"`
	Number     string  `json:"number"`
	ClientName string  `json:"clientName"`
	TotalTTC   float64 `json:"totalTTC"`
}

// DraftRef é um draft pausado oferecido em choosing_draft.
type DraftRef struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Step      Step      `json:"step"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChoosingDraft: o usuário escolhe retomar um draft pausado ou começar outro.
type ChoosingDraft struct {
	Paused []DraftRef `json:"paused"`
}

// ChoosingSource: facture a partir de um devis (1) ou do zero (2).
type ChoosingSource struct {
	Quotes []QuoteRef `json:"quotes"`
}

// SelectingQuote: escolha do devis numerado.
type SelectingQuote struct {
	Quotes []QuoteRef `json:"quotes"`
}

// AskingClient: lista numerada de clientes, 0 = novo cliente.
type AskingClient struct {
	Candidates []ClientRef `json:"candidates"`
}

// AskingNewClientName: espera o nome do novo cliente.
type AskingNewClientName struct{}

// AskingNewClientAddress: nome já validado, espera endereço (ou "ok").
type AskingNewClientAddress struct {
	ClientName string `json:"clientName"`
}

// ConfirmingExistingClient: o nome digitado bate com um cliente existente.
type ConfirmingExistingClient struct {
	Existing  ClientRef `json:"existing"`
	TypedName string    `json:"typedName"`
}

// AskingLines: cliente resolvido, espera as linhas. QuoteID vem preenchido
// quando "modifier" reabre uma facture convertida de um devis.
type AskingLines struct {
	Client      ClientRef `json:"client"`
	QuoteID     string    `json:"quoteId,omitempty"`
	QuoteNumber string    `json:"quoteNumber,omitempty"`
}

// AskingValidity: só devis; linhas prontas, espera a validade em dias.
type AskingValidity struct {
	Client ClientRef         `json:"client"`
	Lines  []domain.LineItem `json:"lines"`
}

// AskingPaymentTerms: último passo antes de criar o documento.
type AskingPaymentTerms struct {
	Client       ClientRef         `json:"client"`
	Lines        []domain.LineItem `json:"lines"`
	ValidityDays int               `json:"validityDays,omitempty"`
	QuoteID      string            `json:"quoteId,omitempty"`
	QuoteNumber  string            `json:"quoteNumber,omitempty"`
}

// UnknownStep representa um estado que não conseguimos decodificar.
// O Router trata como draft corrompido: apaga e recomeça.
type UnknownStep struct {
	Name Step
	Err  error
}

func (ChoosingDraft) Step() Step            { return StepChoosingDraft }
func (ChoosingSource) Step() Step           { return StepChoosingSource }
func (SelectingQuote) Step() Step           { return StepSelectingQuote }
func (AskingClient) Step() Step             { return StepAskingClient }
func (AskingNewClientName) Step() Step      { return StepAskingNewClientName }
func (AskingNewClientAddress) Step() Step   { return StepAskingNewClientAddr }
func (ConfirmingExistingClient) Step() Step { return StepConfirmingClient }
func (AskingLines) Step() Step              { return StepAskingLines }
func (AskingValidity) Step() Step           { return StepAskingValidity }
func (AskingPaymentTerms) Step() Step       { return StepAskingPaymentTerms }
func (u UnknownStep) Step() Step            { return u.Name }

// ============================================================
// Serialização — {"step": "...", "data": {...}}
// ============================================================

// EncodeState serializa o estado para persistência.
func EncodeState(s StepState) (Step, json.RawMessage, error) {
	if s == nil {
		return "", nil, fmt.Errorf("draft state is nil")
	}
	if u, ok := s.(UnknownStep); ok {
		return "", nil, fmt.Errorf("cannot encode unknown step %q", u.Name)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("encoding draft state %s: %w", s.Step(), err)
	}
	return s.Step(), raw, nil
}

// DecodeState reconstrói o estado a partir do step e do JSON persistido.
// Nunca devolve nil: steps desconhecidos ou JSON inválido viram UnknownStep.
func DecodeState(step Step, raw []byte) StepState {
	var target StepState
	switch step {
	case StepChoosingDraft:
		target = &ChoosingDraft{}
	case StepChoosingSource:
		target = &ChoosingSource{}
	case StepSelectingQuote:
		target = &SelectingQuote{}
	case StepAskingClient:
		target = &AskingClient{}
	case StepAskingNewClientName:
		target = &AskingNewClientName{}
	case StepAskingNewClientAddr:
		target = &AskingNewClientAddress{}
	case StepConfirmingClient:
		target = &ConfirmingExistingClient{}
	case StepAskingLines:
		target = &AskingLines{}
	case StepAskingValidity:
		target = &AskingValidity{}
	case StepAskingPaymentTerms:
		target = &AskingPaymentTerms{}
	default:
		return UnknownStep{Name: step, Err: fmt.Errorf("unknown draft step %q", step)}
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, target); err != nil {
			return UnknownStep{Name: step, Err: fmt.Errorf("decoding draft step %s: %w", step, err)}
		}
	}
	return deref(target)
}

func deref(s StepState) StepState {
	switch v := s.(type) {
	case *ChoosingDraft:
		return *v
	case *ChoosingSource:
		return *v
	case *SelectingQuote:
		return *v
	case *AskingClient:
		return *v
	case *AskingNewClientName:
		return *v
	case *AskingNewClientAddress:
		return *v
	case *ConfirmingExistingClient:
		return *v
	case *AskingLines:
		return *v
	case *AskingValidity:
		return *v
	case *AskingPaymentTerms:
		return *v
	}
	return s
}

type draftJSON struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	CompanyID string          `json:"company_id"`
	DocType   DocType         `json:"doc_type"`
	Status    DraftStatus     `json:"status"`
	Title     string          `json:"title"`
	Step      Step            `json:"step"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON grava o estado como {step, data}.
func (d Draft) MarshalJSON() ([]byte, error) {
	out := draftJSON{
		ID: d.ID, OwnerID: d.OwnerID, CompanyID: d.CompanyID, DocType: d.DocType,
		Status: d.Status, Title: d.Title, Version: d.Version,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
	if d.State != nil {
		step, raw, err := EncodeState(d.State)
		if err != nil {
			return nil, err
		}
		out.Step, out.Data = step, raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstrói o estado via DecodeState.
func (d *Draft) UnmarshalJSON(b []byte) error {
	var in draftJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*d = Draft{
		ID: in.ID, OwnerID: in.OwnerID, CompanyID: in.CompanyID, DocType: in.DocType,
		Status: in.Status, Title: in.Title, Version: in.Version,
		CreatedAt: in.CreatedAt, UpdatedAt: in.UpdatedAt,
	}
	if in.Step != "" {
		d.State = DecodeState(in.Step, in.Data)
	}
	return nil
}
