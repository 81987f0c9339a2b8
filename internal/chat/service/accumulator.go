package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

// ============================================================
// Accumulator — contexto de conversa entre turnos
// ============================================================
//
// Fluxo de um turno sem comando e sem draft ativo:
//  1. Monta o prompt de sistema com o resumo das entidades já conhecidas
//  2. Chama o classificador com o histórico recente
//  3. Falha do LLM → FallbackIntent; senão → DecodeIntent
//  4. Aplica o resultado ao ConversationState (Apply)
//
// O histórico e as entidades só crescem enquanto o usuário fala da mesma tarefa.
// Intenções conversacionais e qualquer ação executada zeram tudo.

// DefaultHistorySize é o limite do histórico enviado ao classificador.
const DefaultHistorySize = 10

// Accumulator conversa com o classificador e mantém o contexto.
type Accumulator struct {
	classifier  port.Classifier
	metrics     *observability.Metrics
	logger      *zap.Logger
	historySize int
}

// NewAccumulator cria o Accumulator. historySize <= 0 usa DefaultHistorySize.
func NewAccumulator(classifier port.Classifier, metrics *observability.Metrics, logger *zap.Logger, historySize int) *Accumulator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Accumulator{
		classifier:  classifier,
		metrics:     metrics,
		logger:      logger,
		historySize: historySize,
	}
}

// Classify nunca falha: qualquer erro do classificador vira FallbackIntent.
func (a *Accumulator) Classify(ctx context.Context, turn *chatdomain.Turn) *chatdomain.IntentResult {
	ctx, span := chatTracer.Start(ctx, "Accumulator.Classify")
	defer span.End()

	data := &turn.State.Data
	req := &chatdomain.ClassifyRequest{
		System:  systemPrompt(turn, data.Context),
		History: append([]chatdomain.Message(nil), data.Messages...),
		Text:    turn.Text,
	}

	var res *chatdomain.IntentResult
	resp, err := a.classifier.Classify(ctx, req)
	if err == nil {
		a.metrics.RecordTokens(resp.PromptTokens, resp.CompletionTokens)
		res, err = DecodeIntent(resp.Content)
	}
	if err != nil {
		a.logger.Warn("classifier unavailable, using keyword fallback",
			zap.String("phone", observability.MaskPhone(turn.Phone)),
			zap.Error(err),
		)
		res = FallbackIntent(turn.Text)
	}

	a.metrics.IncrIntentDecode(string(res.Mode))
	if res.Mode != chatdomain.DecodeStrict {
		a.logger.Info("classifier output degraded",
			zap.String("mode", string(res.Mode)),
			zap.String("intent", res.Intent),
		)
	}
	span.SetAttributes(
		attribute.String("intent", res.Intent),
		attribute.String("decode_mode", string(res.Mode)),
	)
	return res
}

// Apply incorpora o resultado ao estado.
//
//   - raw: nada muda (o texto só é repetido ao usuário)
//   - conversacional: contexto e histórico zerados
//   - demais: entidades mescladas, intenção registrada, mensagem no histórico
func (a *Accumulator) Apply(turn *chatdomain.Turn, res *chatdomain.IntentResult) {
	if res.Mode == chatdomain.DecodeRaw {
		return
	}
	data := &turn.State.Data
	data.LastIntent = res.Intent

	if chatdomain.IsConversational(res.Intent) {
		data.ResetContext()
		return
	}

	data.Context.Intent = res.Intent
	data.Context.Entities = data.Context.Entities.Merge(res.Entities)
	if len(res.Actions) > 0 {
		data.Context.PendingActions = res.Actions
	}
	data.AppendMessage(chatdomain.RoleUser, turn.Text, turn.Now, a.historySize)
}

// Remember grava a resposta do bot no histórico, se o contexto ainda existe.
func (a *Accumulator) Remember(turn *chatdomain.Turn, reply string) {
	data := &turn.State.Data
	if len(data.Messages) == 0 || strings.TrimSpace(reply) == "" {
		return
	}
	data.AppendMessage(chatdomain.RoleAssistant, reply, turn.Now, a.historySize)
}

// Ready combina a opinião do classificador com as entidades obrigatórias.
func Ready(res *chatdomain.IntentResult, acc chatdomain.Entities) bool {
	return res.ReadyToExecute && hasRequiredEntities(res.Intent, acc)
}

// hasRequiredEntities: o mínimo que cada ação direta precisa.
func hasRequiredEntities(intent string, e chatdomain.Entities) bool {
	switch intent {
	case chatdomain.IntentCreateQuote:
		return e.ClientName != nil && e.Amount != nil
	case chatdomain.IntentCreateInvoice:
		return e.DevisNumber != nil || (e.ClientName != nil && e.Amount != nil)
	case chatdomain.IntentCreateClient, chatdomain.IntentSearchClient:
		return e.ClientName != nil
	case chatdomain.IntentViewQuote, chatdomain.IntentPrintQuote:
		return e.DevisNumber != nil
	case chatdomain.IntentViewInvoice, chatdomain.IntentPrintInvoice:
		return e.FactureNumber != nil
	case chatdomain.IntentSettings:
		return e.SettingName != nil && e.SettingValue != nil
	}
	return true
}

const classifierInstructions = `Tu es l'assistant FactureDirect, un bot WhatsApp de facturation pour artisans et petites entreprises françaises.
Analyse le message de l'utilisateur et réponds UNIQUEMENT avec un objet JSON :
{
  "intent": "create_devis|create_facture|create_client|search_client|list_devis|list_factures|view_devis|view_facture|print_devis|print_facture|validate_facture|settings|show_menu|greeting|help|chat|unclear|out_of_scope",
  "confidence": 0.0,
  "entities": {"clientName": null, "companyName": null, "amount": null, "description": null, "quantity": null, "devisNumber": null, "factureNumber": null, "settingName": null, "settingValue": null},
  "actions": [{"name": "", "order": 1, "params": {}}],
  "naturalResponse": "réponse courte en français",
  "needsMoreInfo": false,
  "missingInfo": [],
  "readyToExecute": false
}
Règles :
- amount et quantity sont des nombres, sans symbole €.
- Les numéros de documents ont la forme DEV-AAAA-NNNN ou FACT-AAAA-NNNN.
- settingName ∈ taux_tva, iban, bic, adresse, nom, siren, tva_intra.
- readyToExecute = true seulement si toutes les informations nécessaires sont connues.
- Si une information manque, pose UNE question dans naturalResponse.`

// systemPrompt junta as instruções fixas com o que já sabemos do usuário.
func systemPrompt(turn *chatdomain.Turn, acc chatdomain.ConversationContext) string {
	var b strings.Builder
	b.WriteString(classifierInstructions)
	if turn.Company != nil {
		b.WriteString("\n\nEntreprise de l'utilisateur : ")
		b.WriteString(turn.Company.Name)
	}
	if !acc.IsEmpty() {
		b.WriteString("\n\nContexte de la conversation en cours :")
		if acc.Intent != "" {
			b.WriteString("\n- intention : ")
			b.WriteString(acc.Intent)
		}
		if s := acc.Entities.Summary(); s != "" {
			b.WriteString("\n- informations connues : ")
			b.WriteString(s)
		}
		b.WriteString("\nNe redemande pas les informations déjà connues.")
	}
	return b.String()
}
