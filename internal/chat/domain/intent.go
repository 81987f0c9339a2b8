package domain

// ============================================================
// Intenções — saída do classificador (Groq)
// ============================================================

// Intenções reconhecidas. Qualquer outro valor vindo do LLM vira IntentUnclear.
const (
	IntentCreateQuote     = "create_devis"
	IntentCreateInvoice   = "create_facture"
	IntentCreateClient    = "create_client"
	IntentSearchClient    = "search_client"
	IntentListQuotes      = "list_devis"
	IntentListInvoices    = "list_factures"
	IntentViewQuote       = "view_devis"
	IntentViewInvoice     = "view_facture"
	IntentPrintQuote      = "print_devis"
	IntentPrintInvoice    = "print_facture"
	IntentValidateInvoice = "validate_facture"
	IntentSettings        = "settings"
	IntentShowMenu        = "show_menu"
	IntentGreeting        = "greeting"
	IntentHelp            = "help"
	IntentChat            = "chat"
	IntentUnclear         = "unclear"
	IntentOutOfScope      = "out_of_scope"
)

// IntentOnboarding nunca vem do classificador: o Router usa para quem
// ainda não tem conta completa.
const IntentOnboarding = "onboarding"

var knownIntents = map[string]bool{
	IntentCreateQuote: true, IntentCreateInvoice: true, IntentCreateClient: true,
	IntentSearchClient: true, IntentListQuotes: true, IntentListInvoices: true,
	IntentViewQuote: true, IntentViewInvoice: true, IntentPrintQuote: true,
	IntentPrintInvoice: true, IntentValidateInvoice: true, IntentSettings: true,
	IntentShowMenu: true, IntentGreeting: true, IntentHelp: true, IntentChat: true,
	IntentUnclear: true, IntentOutOfScope: true,
}

// IsKnownIntent indica se o valor pertence ao vocabulário.
func IsKnownIntent(intent string) bool {
	return knownIntents[intent]
}

// IsConversational indica intenções que zeram o contexto acumulado:
// o usuário mudou de assunto, nada do que foi juntado vale mais.
func IsConversational(intent string) bool {
	switch intent {
	case IntentGreeting, IntentHelp, IntentUnclear, IntentOutOfScope, IntentChat:
		return true
	}
	return false
}

// DecodeMode registra por qual caminho a resposta do LLM foi entendida.
type DecodeMode string

const (
	DecodeStrict   DecodeMode = "strict"   // JSON válido de ponta a ponta
	DecodeLenient  DecodeMode = "lenient"  // JSON extraído do meio do texto
	DecodeRaw      DecodeMode = "raw"      // texto puro usado como resposta
	DecodeFallback DecodeMode = "fallback" // LLM falhou, regra por palavra-chave
)

// IntentResult é a classificação de uma mensagem.
type IntentResult struct {
	Intent         string   `json:"intent"`
	Confidence     float64  `json:"confidence"`
	Entities       Entities `json:"entities"`
	Actions        []Action `json:"actions,omitempty"`
	NaturalReply   string   `json:"naturalResponse,omitempty"`
	NeedsMoreInfo  bool     `json:"needsMoreInfo"`
	MissingInfo    []string `json:"missingInfo,omitempty"`
	ReadyToExecute bool     `json:"readyToExecute"`

	// Mode não vem do LLM, é preenchido pelo decoder
	Mode DecodeMode `json:"-"`
}

// ClassifyRequest é o que o Router passa ao classificador.
type ClassifyRequest struct {
	// System é o prompt de sistema já montado (vocabulário + contexto)
	System string

	// History são as últimas mensagens, mais antigas primeiro
	History []Message

	// Text é a mensagem atual
	Text string
}

// ClassifyResponse é a resposta crua do LLM.
type ClassifyResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}
