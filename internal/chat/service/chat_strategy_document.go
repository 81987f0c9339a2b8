package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// ============================================================
// DocumentStrategy — create_devis / create_facture
// ============================================================
//
// Três caminhos, conforme o que já foi acumulado:
//  1. Nada extraído → abre o assistente passo a passo (DraftMachine)
//  2. Parte extraída, classificador pedindo mais → repassa a pergunta dele
//  3. Pronto (classificador + entidades obrigatórias) → cria direto
//
// Sem pergunta do classificador no caminho 2, o assistente abre com o
// nome do cliente já conhecido.

// DocumentStrategy cria devis e factures a partir de texto livre.
type DocumentStrategy struct {
	store    bizport.BusinessStore
	machine  *DraftMachine
	executor *Executor
	logger   *zap.Logger
}

// NewDocumentStrategy cria a strategy.
func NewDocumentStrategy(store bizport.BusinessStore, machine *DraftMachine, executor *Executor, logger *zap.Logger) *DocumentStrategy {
	return &DocumentStrategy{store: store, machine: machine, executor: executor, logger: logger}
}

// CanHandle aceita create_devis e create_facture.
func (s *DocumentStrategy) CanHandle(intent string) bool {
	return intent == chatdomain.IntentCreateQuote || intent == chatdomain.IntentCreateInvoice
}

// Handle escolhe entre assistente, pergunta e execução direta.
func (s *DocumentStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	ctx, span := chatTracer.Start(ctx, "DocumentStrategy.Handle")
	defer span.End()

	res := turn.Intent
	acc := turn.State.Data.Context.Entities
	t := chatdomain.DocQuote
	if res.Intent == chatdomain.IntentCreateInvoice {
		t = chatdomain.DocInvoice
	}

	if acc.IsEmpty() {
		turn.State.Data.ResetContext()
		return s.machine.Start(ctx, turn, out, t, "")
	}

	if !Ready(res, acc) {
		if res.NeedsMoreInfo && res.NaturalReply != "" && res.Mode != chatdomain.DecodeFallback {
			out.Say(ctx, res.NaturalReply)
			return nil
		}
		hint := ""
		if acc.ClientName != nil {
			hint = *acc.ClientName
		}
		turn.State.Data.ResetContext()
		return s.machine.Start(ctx, turn, out, t, hint)
	}

	// execução direta: sucesso ou falha, o contexto acumulado acaba aqui
	defer turn.State.Data.ResetContext()

	s.logger.Info("executing document from conversation",
		zap.String("intent", res.Intent),
		zap.String("entities", acc.Summary()),
	)

	if t == chatdomain.DocInvoice && acc.DevisNumber != nil {
		return s.invoiceFromQuote(ctx, turn, out, strings.ToUpper(*acc.DevisNumber))
	}

	out.Say(ctx, creatingMessage(t))
	client, _, err := s.executor.ResolveClient(ctx, turn.Company.ID, *acc.ClientName)
	if err != nil {
		return err
	}
	req := &DocumentRequest{
		Company: turn.Company,
		User:    turn.User,
		Client:  client,
		Lines:   []domain.LineItem{lineFromEntities(acc)},
	}

	if t == chatdomain.DocQuote {
		q, err := s.executor.CreateQuote(ctx, req)
		if err != nil {
			return err
		}
		out.Say(ctx, quoteSummary(q, turn.Company.TaxRate()))
		s.executor.DeliverQuote(ctx, out, turn.Company, q)
		out.Say(ctx, msgQuoteNextAction)
		return nil
	}

	inv, err := s.executor.CreateInvoice(ctx, req)
	if err != nil {
		return err
	}
	out.Say(ctx, invoiceSummary(inv, turn.Company.TaxRate()))
	s.executor.DeliverInvoice(ctx, out, turn.Company, inv)
	out.Say(ctx, msgInvoiceNextAction)
	return nil
}

// invoiceFromQuote converte um devis numerado em facture.
func (s *DocumentStrategy) invoiceFromQuote(ctx context.Context, turn *chatdomain.Turn, out *Outbox, number string) error {
	q, err := s.store.GetQuoteByNumber(ctx, turn.Company.ID, number)
	if isNotFound(err) {
		out.Say(ctx, fmt.Sprintf("❌ Devis %s introuvable.", number))
		return nil
	}
	if err != nil {
		return err
	}
	if !q.Convertible() {
		out.Say(ctx, fmt.Sprintf("ℹ️ Le devis %s a déjà été facturé ou n'est plus convertible.", number))
		return nil
	}

	out.Say(ctx, creatingMessage(chatdomain.DocInvoice))
	client, err := s.store.GetClient(ctx, q.ClientID)
	if isNotFound(err) {
		out.Say(ctx, "❌ Erreur : client introuvable. Tapez *menu* pour recommencer.")
		return nil
	}
	if err != nil {
		return err
	}

	inv, err := s.executor.CreateInvoice(ctx, &DocumentRequest{
		Company: turn.Company,
		User:    turn.User,
		Client:  client,
		Lines:   q.Lines,
		Quote:   q,
	})
	if err != nil {
		return err
	}
	out.Say(ctx, invoiceSummary(inv, turn.Company.TaxRate()))
	s.executor.DeliverInvoice(ctx, out, turn.Company, inv)
	out.Say(ctx, msgInvoiceNextAction)
	return nil
}

// lineFromEntities monta a linha única de um pedido em texto livre.
// amount é o preço unitário HT; quantidade padrão 1.
func lineFromEntities(e chatdomain.Entities) domain.LineItem {
	l := domain.LineItem{Description: "Prestation", Quantity: 1}
	if e.Description != nil {
		l.Description = *e.Description
	}
	if e.Quantity != nil && *e.Quantity > 0 {
		l.Quantity = *e.Quantity
	}
	if e.Amount != nil {
		l.UnitPrice = *e.Amount
	}
	return l
}
