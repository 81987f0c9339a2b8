package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// ============================================================
// RecordsStrategy — consulta, impressão e validação de documentos
// ============================================================

const listingSize = 10

// RecordsStrategy trata list_*, view_*, print_* e validate_facture.
// Também serve os comandos "mes devis", "valider", "imprimer" e a seleção
// posicional.
type RecordsStrategy struct {
	store    bizport.DocumentStore
	executor *Executor
	logger   *zap.Logger
}

// NewRecordsStrategy cria a strategy.
func NewRecordsStrategy(store bizport.DocumentStore, executor *Executor, logger *zap.Logger) *RecordsStrategy {
	return &RecordsStrategy{store: store, executor: executor, logger: logger}
}

// CanHandle aceita as intenções de consulta.
func (s *RecordsStrategy) CanHandle(intent string) bool {
	switch intent {
	case chatdomain.IntentListQuotes, chatdomain.IntentListInvoices,
		chatdomain.IntentViewQuote, chatdomain.IntentViewInvoice,
		chatdomain.IntentPrintQuote, chatdomain.IntentPrintInvoice,
		chatdomain.IntentValidateInvoice:
		return true
	}
	return false
}

// Handle executa a consulta. O contexto acumulado é zerado depois de
// qualquer execução, com ou sem sucesso.
func (s *RecordsStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	ctx, span := chatTracer.Start(ctx, "RecordsStrategy.Handle")
	defer span.End()

	e := turn.State.Data.Context.Entities
	intent := turn.Intent.Intent

	if !hasRequiredEntities(intent, e) {
		if turn.Intent.NaturalReply != "" {
			out.Say(ctx, turn.Intent.NaturalReply)
		} else {
			out.Say(ctx, "Quel est le numéro du document ? (ex : DEV-2026-0001)")
		}
		return nil
	}
	defer turn.State.Data.ResetContext()

	switch intent {
	case chatdomain.IntentListQuotes:
		return s.ListQuotes(ctx, turn, out)
	case chatdomain.IntentListInvoices:
		return s.ListInvoices(ctx, turn, out)
	case chatdomain.IntentViewQuote, chatdomain.IntentPrintQuote:
		q, err := s.store.GetQuoteByNumber(ctx, turn.Company.ID, strings.ToUpper(*e.DevisNumber))
		if isNotFound(err) {
			out.Say(ctx, fmt.Sprintf("❌ Devis %s introuvable.", strings.ToUpper(*e.DevisNumber)))
			return nil
		}
		if err != nil {
			return err
		}
		if intent == chatdomain.IntentViewQuote {
			out.Say(ctx, quoteDetails(q, turn.Company.TaxRate()))
			return nil
		}
		s.executor.DeliverQuote(ctx, out, turn.Company, q)
		return nil
	case chatdomain.IntentViewInvoice, chatdomain.IntentPrintInvoice:
		inv, err := s.store.GetInvoiceByNumber(ctx, turn.Company.ID, strings.ToUpper(*e.FactureNumber))
		if isNotFound(err) {
			out.Say(ctx, fmt.Sprintf("❌ Facture %s introuvable.", strings.ToUpper(*e.FactureNumber)))
			return nil
		}
		if err != nil {
			return err
		}
		if intent == chatdomain.IntentViewInvoice {
			out.Say(ctx, invoiceDetails(inv, turn.Company.TaxRate()))
			return nil
		}
		s.executor.DeliverInvoice(ctx, out, turn.Company, inv)
		return nil
	case chatdomain.IntentValidateInvoice:
		if e.FactureNumber != nil {
			inv, err := s.store.GetInvoiceByNumber(ctx, turn.Company.ID, strings.ToUpper(*e.FactureNumber))
			if isNotFound(err) {
				out.Say(ctx, fmt.Sprintf("❌ Facture %s introuvable.", strings.ToUpper(*e.FactureNumber)))
				return nil
			}
			if err != nil {
				return err
			}
			return s.validate(ctx, turn, out, inv)
		}
		return s.ValidateLatest(ctx, turn, out)
	}
	return nil
}

// ListQuotes mostra os últimos devis e lembra a lista para seleção posicional.
func (s *RecordsStrategy) ListQuotes(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	quotes, err := s.store.ListQuotes(ctx, turn.Company.ID, listingSize)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		out.Say(ctx, "Aucun devis pour l'instant. Tapez *devis* pour en créer un.")
		return nil
	}

	var b strings.Builder
	b.WriteString("📂 *Vos derniers devis*\n\n")
	ids := make([]string, 0, len(quotes))
	for i, q := range quotes {
		status := q.Status
		if q.InvoiceID != "" {
			status = "facturé"
		}
		fmt.Fprintf(&b, "%d. %s · %s · %s · %s\n", i+1, q.Number, q.ClientName, FormatMoney(q.Totals.TTC), status)
		ids = append(ids, q.ID)
	}
	b.WriteString("\nTapez le *numéro* pour voir le détail et recevoir le PDF.")

	turn.State.Data.LastListing = &chatdomain.Listing{Kind: string(chatdomain.DocQuote), IDs: ids, At: turn.Now}
	out.Say(ctx, b.String())
	return nil
}

// ListInvoices mostra as últimas factures.
func (s *RecordsStrategy) ListInvoices(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	invoices, err := s.store.ListInvoices(ctx, turn.Company.ID, listingSize)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		out.Say(ctx, "Aucune facture pour l'instant. Tapez *facture* pour en créer une.")
		return nil
	}

	var b strings.Builder
	b.WriteString("📂 *Vos dernières factures*\n\n")
	ids := make([]string, 0, len(invoices))
	for i, inv := range invoices {
		status := "brouillon"
		if inv.IsValidated() {
			status = "validée"
		}
		fmt.Fprintf(&b, "%d. %s · %s · %s · %s\n", i+1, inv.Number, inv.ClientName, FormatMoney(inv.Totals.TTC), status)
		ids = append(ids, inv.ID)
	}
	b.WriteString("\nTapez le *numéro* pour voir le détail et recevoir le PDF.")

	turn.State.Data.LastListing = &chatdomain.Listing{Kind: string(chatdomain.DocInvoice), IDs: ids, At: turn.Now}
	out.Say(ctx, b.String())
	return nil
}

// Select abre o n-ésimo item da última lista: detalhe + PDF.
func (s *RecordsStrategy) Select(ctx context.Context, turn *chatdomain.Turn, out *Outbox, n int) error {
	listing := turn.State.Data.LastListing
	if listing == nil {
		out.Say(ctx, MsgNoListing)
		return nil
	}
	id, ok := listing.Pick(n)
	if !ok {
		out.Say(ctx, MsgInvalidSelection)
		return nil
	}

	if listing.Kind == string(chatdomain.DocInvoice) {
		inv, err := s.store.GetInvoice(ctx, id)
		if isNotFound(err) {
			out.Say(ctx, "❌ Cette facture n'existe plus.")
			return nil
		}
		if err != nil {
			return err
		}
		out.Say(ctx, invoiceDetails(inv, turn.Company.TaxRate()))
		s.executor.DeliverInvoice(ctx, out, turn.Company, inv)
		return nil
	}

	q, err := s.store.GetQuote(ctx, id)
	if isNotFound(err) {
		out.Say(ctx, "❌ Ce devis n'existe plus.")
		return nil
	}
	if err != nil {
		return err
	}
	out.Say(ctx, quoteDetails(q, turn.Company.TaxRate()))
	s.executor.DeliverQuote(ctx, out, turn.Company, q)
	return nil
}

// ValidateLatest valida a última facture BROUILLON.
func (s *RecordsStrategy) ValidateLatest(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	inv, err := s.store.LatestDraftInvoice(ctx, turn.Company.ID)
	if isNotFound(err) {
		out.Say(ctx, MsgNoDraftInvoice)
		return nil
	}
	if err != nil {
		return err
	}
	return s.validate(ctx, turn, out, inv)
}

func (s *RecordsStrategy) validate(ctx context.Context, turn *chatdomain.Turn, out *Outbox, inv *domain.Invoice) error {
	if inv.IsValidated() {
		out.Say(ctx, fmt.Sprintf("ℹ️ La facture %s est déjà validée.", inv.Number))
		return nil
	}
	validated, err := s.executor.ValidateInvoice(ctx, inv.ID, turn.User, turn.Now)
	var conflict *domain.ErrConflict
	if errors.As(err, &conflict) {
		out.Say(ctx, fmt.Sprintf("ℹ️ La facture %s est déjà validée.", inv.Number))
		return nil
	}
	if err != nil {
		return err
	}

	turn.State.Data.ResetContext()
	out.Say(ctx, fmt.Sprintf("✅ Facture *%s* validée le %s. Elle est désormais définitive et ne peut plus être modifiée.",
		validated.Number, FormatDate(turn.Now)))
	s.executor.DeliverInvoice(ctx, out, turn.Company, validated)
	return nil
}

// PrintLatest reenvia o PDF do documento mais recente, devis ou facture.
func (s *RecordsStrategy) PrintLatest(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	quotes, err := s.store.ListQuotes(ctx, turn.Company.ID, 1)
	if err != nil {
		return err
	}
	invoices, err := s.store.ListInvoices(ctx, turn.Company.ID, 1)
	if err != nil {
		return err
	}

	switch {
	case len(quotes) == 0 && len(invoices) == 0:
		out.Say(ctx, MsgNoDocument)
	case len(invoices) == 0 || (len(quotes) > 0 && quotes[0].CreatedAt.After(invoices[0].CreatedAt)):
		s.executor.DeliverQuote(ctx, out, turn.Company, &quotes[0])
	default:
		s.executor.DeliverInvoice(ctx, out, turn.Company, &invoices[0])
	}
	return nil
}

func quoteDetails(q *domain.Quote, rate float64) string {
	rate = documentRate(q.Lines, rate)
	status := q.Status
	if q.InvoiceID != "" {
		status = "facturé"
	}
	return fmt.Sprintf("📄 *Devis %s* (%s)\nDate : %s\nClient : %s\n\n%s\n\n%s\n\nValidité : %d jours\nPaiement : %s",
		q.Number, status, FormatDate(q.CreatedAt), q.ClientName, formatLines(q.Lines),
		formatTotals(q.Totals, rate), q.ValidityDays, q.PaymentTerms)
}

func invoiceDetails(inv *domain.Invoice, rate float64) string {
	rate = documentRate(inv.Lines, rate)
	status := "brouillon"
	date := inv.CreatedAt
	if inv.IsValidated() {
		status = "validée"
		if inv.IssuedAt != nil {
			date = *inv.IssuedAt
		}
	}
	return fmt.Sprintf("🧾 *Facture %s* (%s)\nDate : %s\nClient : %s\n\n%s\n\n%s\n\nPaiement : %s",
		inv.Number, status, FormatDate(date), inv.ClientName, formatLines(inv.Lines),
		formatTotals(inv.Totals, rate), inv.PaymentTerms)
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
