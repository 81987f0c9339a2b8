package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// ============================================================
// Executor — ações sobre os documentos
// ============================================================
//
// O Executor é o único ponto que escreve clientes, devis e factures.
// Regras:
//   - totais calculados aqui, com a taxa da empresa aplicada a todas as linhas
//   - documento gravado nunca é desfeito porque o PDF ou o envio falharam
//   - facture VALIDEE nunca é alterada

const clientSearchLimit = 10

// Executor executa as ações de negócio pedidas pelos drafts e strategies.
type Executor struct {
	store    bizport.BusinessStore
	renderer port.Renderer
	blobs    port.BlobStore
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewExecutor cria o Executor com as dependências injetadas.
func NewExecutor(
	store bizport.BusinessStore,
	renderer port.Renderer,
	blobs port.BlobStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		store:    store,
		renderer: renderer,
		blobs:    blobs,
		metrics:  metrics,
		logger:   logger,
	}
}

// DocumentRequest reúne o que é preciso para criar um devis ou uma facture.
type DocumentRequest struct {
	Company      *domain.Company
	User         *domain.User
	Client       *domain.Client
	Lines        []domain.LineItem
	ValidityDays int
	PaymentTerms string

	// Quote é o devis de origem de uma facture convertida
	Quote *domain.Quote
}

// ------------------------------------------------------------
// Clientes
// ------------------------------------------------------------

// FindExactClient procura um cliente com exatamente esse nome (sem diferenciar
// maiúsculas). Devolve nil quando não há.
func (e *Executor) FindExactClient(ctx context.Context, companyID, name string) (*domain.Client, error) {
	name = strings.TrimSpace(name)
	found, err := e.store.SearchClients(ctx, companyID, name, clientSearchLimit)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if strings.EqualFold(strings.TrimSpace(found[i].Name), name) {
			return &found[i], nil
		}
	}
	return nil, nil
}

// ResolveClient devolve o cliente pelo nome: correspondência exata, depois
// um único resultado da busca aproximada, senão cria um novo.
func (e *Executor) ResolveClient(ctx context.Context, companyID, name string) (*domain.Client, bool, error) {
	ctx, span := chatTracer.Start(ctx, "Executor.ResolveClient")
	defer span.End()

	name = strings.TrimSpace(name)
	found, err := e.store.SearchClients(ctx, companyID, name, clientSearchLimit)
	if err != nil {
		return nil, false, fmt.Errorf("searching client: %w", err)
	}
	for i := range found {
		if strings.EqualFold(strings.TrimSpace(found[i].Name), name) {
			return &found[i], false, nil
		}
	}
	if len(found) == 1 {
		return &found[0], false, nil
	}

	c, err := e.CreateClient(ctx, companyID, name, "")
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// CreateClient grava um novo cliente.
func (e *Executor) CreateClient(ctx context.Context, companyID, name, address string) (*domain.Client, error) {
	c := &domain.Client{
		CompanyID: companyID,
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(address),
	}
	if err := e.store.CreateClient(ctx, c); err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	e.logger.Info("client created",
		zap.String("company_id", companyID),
		zap.String("client_id", c.ID),
	)
	return c, nil
}

// ------------------------------------------------------------
// Documentos
// ------------------------------------------------------------

// CreateQuote grava um devis com totais calculados.
func (e *Executor) CreateQuote(ctx context.Context, req *DocumentRequest) (*domain.Quote, error) {
	ctx, span := chatTracer.Start(ctx, "Executor.CreateQuote")
	defer span.End()

	lines := domain.WithTaxRate(req.Lines, req.Company.TaxRate())
	validity := req.ValidityDays
	if validity <= 0 {
		validity = domain.DefaultValidityDays
	}
	q := &domain.Quote{
		CompanyID:    req.Company.ID,
		ClientID:     req.Client.ID,
		ClientName:   req.Client.Name,
		CreatedByID:  req.User.ID,
		Status:       domain.QuoteStatusDraft,
		Lines:        lines,
		Totals:       domain.ComputeTotals(lines),
		ValidityDays: validity,
		PaymentTerms: termsOrDefault(req.PaymentTerms),
	}
	if err := e.store.CreateQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("creating quote: %w", err)
	}

	e.logger.Info("quote created",
		zap.String("company_id", q.CompanyID),
		zap.String("number", q.Number),
		zap.Float64("total_ttc", q.Totals.TTC),
	)
	return q, nil
}

// CreateInvoice grava uma facture BROUILLON. Quando req.Quote existe, o devis
// é marcado como faturado. Uma falha nessa marcação só é registrada: a
// facture já existe e não é desfeita.
func (e *Executor) CreateInvoice(ctx context.Context, req *DocumentRequest) (*domain.Invoice, error) {
	ctx, span := chatTracer.Start(ctx, "Executor.CreateInvoice")
	defer span.End()

	lines := domain.WithTaxRate(req.Lines, req.Company.TaxRate())
	inv := &domain.Invoice{
		CompanyID:    req.Company.ID,
		ClientID:     req.Client.ID,
		ClientName:   req.Client.Name,
		CreatedByID:  req.User.ID,
		Status:       domain.InvoiceStatusDraft,
		Lines:        lines,
		Totals:       domain.ComputeTotals(lines),
		PaymentTerms: termsOrDefault(req.PaymentTerms),
	}
	if req.Quote != nil {
		inv.QuoteID = req.Quote.ID
	}
	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("creating invoice: %w", err)
	}

	if req.Quote != nil {
		if err := e.store.MarkQuoteInvoiced(ctx, req.Quote.ID, inv.ID); err != nil {
			e.logger.Error("failed to mark quote as invoiced",
				zap.String("quote", req.Quote.Number),
				zap.String("invoice", inv.Number),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("invoice created",
		zap.String("company_id", inv.CompanyID),
		zap.String("number", inv.Number),
		zap.String("quote_id", inv.QuoteID),
		zap.Float64("total_ttc", inv.Totals.TTC),
	)
	return inv, nil
}

// ValidateInvoice passa a facture para VALIDEE. Só vai num sentido.
func (e *Executor) ValidateInvoice(ctx context.Context, invoiceID string, user *domain.User, at time.Time) (*domain.Invoice, error) {
	ctx, span := chatTracer.Start(ctx, "Executor.ValidateInvoice")
	defer span.End()

	inv, err := e.store.ValidateInvoice(ctx, invoiceID, user.ID, at)
	if err != nil {
		return nil, err
	}
	e.logger.Info("invoice validated",
		zap.String("number", inv.Number),
		zap.String("user_id", user.ID),
	)
	return inv, nil
}

// ReopenInvoice apaga a facture BROUILLON (o devis de origem volta a ficar
// livre) para recomeçar um draft a partir dela. Facture VALIDEE é recusada.
func (e *Executor) ReopenInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.IsValidated() {
		return &domain.ErrConflict{Message: "invoice " + inv.Number + " is validated"}
	}
	if err := e.store.DeleteDraftInvoice(ctx, inv.ID); err != nil {
		return err
	}
	e.logger.Info("draft invoice reopened", zap.String("number", inv.Number))
	return nil
}

// ------------------------------------------------------------
// PDF
// ------------------------------------------------------------

// DeliverQuote gera e envia o PDF do devis. Em caso de falha avisa o usuário
// de que o devis está gravado e devolve false.
func (e *Executor) DeliverQuote(ctx context.Context, out *Outbox, company *domain.Company, q *domain.Quote) bool {
	data := &domain.RenderData{
		Kind:         domain.KindQuote,
		Number:       q.Number,
		Date:         q.CreatedAt,
		Lines:        q.Lines,
		Totals:       q.Totals,
		TaxRate:      documentRate(q.Lines, company.TaxRate()),
		PaymentTerms: q.PaymentTerms,
		ValidityDays: q.ValidityDays,
		Company:      *company,
		Client:       e.clientForRender(ctx, q.ClientID, q.ClientName),
	}
	caption := fmt.Sprintf("📄 Devis %s", q.Number)
	return e.deliver(ctx, out, data, caption)
}

// DeliverInvoice gera e envia o PDF da facture.
func (e *Executor) DeliverInvoice(ctx context.Context, out *Outbox, company *domain.Company, inv *domain.Invoice) bool {
	date := inv.CreatedAt
	if inv.IssuedAt != nil {
		date = *inv.IssuedAt
	}
	data := &domain.RenderData{
		Kind:         domain.KindInvoice,
		Number:       inv.Number,
		Date:         date,
		Validated:    inv.IsValidated(),
		Lines:        inv.Lines,
		Totals:       inv.Totals,
		TaxRate:      documentRate(inv.Lines, company.TaxRate()),
		PaymentTerms: inv.PaymentTerms,
		Company:      *company,
		Client:       e.clientForRender(ctx, inv.ClientID, inv.ClientName),
	}
	caption := fmt.Sprintf("📄 Facture %s (brouillon)", inv.Number)
	if inv.IsValidated() {
		caption = fmt.Sprintf("📄 Facture %s (définitive)", inv.Number)
	}
	return e.deliver(ctx, out, data, caption)
}

func (e *Executor) deliver(ctx context.Context, out *Outbox, data *domain.RenderData, caption string) bool {
	ctx, span := chatTracer.Start(ctx, "Executor.Deliver")
	defer span.End()

	filename := data.Number + ".pdf"
	err := func() error {
		pdf, err := e.renderer.Render(ctx, data)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", data.Number, err)
		}
		url, err := e.blobs.Store(ctx, pdf, filename)
		if err != nil {
			return fmt.Errorf("storing %s: %w", filename, err)
		}
		return out.SendDocument(ctx, url, filename, caption)
	}()
	if err != nil {
		e.logger.Error("document delivery failed",
			zap.String("number", data.Number),
			zap.Error(err),
		)
		var ext *domain.ErrExternalService
		if errors.As(err, &ext) {
			e.metrics.IncrExternalError(ext.Service)
		}
		out.Say(ctx, deliveryFailedMessage(data.Number))
		return false
	}
	return true
}

// clientForRender relê o cliente para ter o endereço; se sumiu, usa o nome gravado.
func (e *Executor) clientForRender(ctx context.Context, clientID, name string) domain.Client {
	if clientID != "" {
		if c, err := e.store.GetClient(ctx, clientID); err == nil {
			return *c
		}
	}
	return domain.Client{ID: clientID, Name: name}
}

func termsOrDefault(terms string) string {
	if strings.TrimSpace(terms) == "" {
		return domain.DefaultPaymentTerms
	}
	return strings.TrimSpace(terms)
}
