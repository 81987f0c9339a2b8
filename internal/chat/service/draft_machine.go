package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// ============================================================
// DraftMachine — assistente passo a passo de devis e facture
// ============================================================
//
// Fluxo do devis:
//
//	asking_client → (asking_new_client_name → asking_new_client_address
//	                 | confirming_existing_client)
//	→ asking_lines → asking_validity_period → asking_payment_terms → documento
//
// Fluxo da facture:
//
//	choosing_source → (selecting_quote → asking_payment_terms)
//	                | (asking_client → … → asking_lines → asking_payment_terms)
//	→ documento
//
// choosing_draft aparece quando já existem drafts pausados do mesmo tipo.
// Resposta inválida em qualquer step = mesma pergunta de novo, sem escrita.

// DraftMachine conduz os drafts.
type DraftMachine struct {
	store    bizport.BusinessStore
	drafts   port.DraftStore
	executor *Executor
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewDraftMachine cria a DraftMachine.
func NewDraftMachine(
	store bizport.BusinessStore,
	drafts port.DraftStore,
	executor *Executor,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *DraftMachine {
	return &DraftMachine{
		store:    store,
		drafts:   drafts,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
	}
}

// ------------------------------------------------------------
// Início
// ------------------------------------------------------------

// Start cria um draft do tipo pedido. Um draft ativo do mesmo tipo é pausado
// antes; drafts pausados são oferecidos em choosing_draft.
// clientHint (opcional) é o nome de cliente extraído pelo classificador.
func (m *DraftMachine) Start(ctx context.Context, turn *chatdomain.Turn, out *Outbox, t chatdomain.DocType, clientHint string) error {
	ctx, span := chatTracer.Start(ctx, "DraftMachine.Start")
	defer span.End()
	span.SetAttributes(attribute.String("doc_type", string(t)))

	active, err := m.drafts.GetActive(ctx, turn.User.ID, t)
	if err != nil {
		return fmt.Errorf("loading active draft: %w", err)
	}
	if active != nil {
		if err := m.pause(ctx, active); err != nil {
			return err
		}
	}

	paused, err := m.drafts.ListPaused(ctx, turn.User.ID, t)
	if err != nil {
		return fmt.Errorf("listing paused drafts: %w", err)
	}
	if len(paused) > 0 {
		refs := make([]chatdomain.DraftRef, 0, len(paused))
		for _, p := range paused {
			refs = append(refs, chatdomain.DraftRef{ID: p.ID, Title: p.Title, Step: p.Step(), UpdatedAt: p.UpdatedAt})
		}
		st := chatdomain.ChoosingDraft{Paused: refs}
		if _, err := m.create(ctx, turn, t, st); err != nil {
			return err
		}
		out.Say(ctx, withFooter(choosingDraftPrompt(t, refs)))
		return nil
	}

	return m.begin(ctx, turn, out, t, clientHint)
}

// StartAtLines cria um draft de facture já com o cliente escolhido
// (usado por "modifier"). st.QuoteID mantém o vínculo com o devis de origem.
func (m *DraftMachine) StartAtLines(ctx context.Context, turn *chatdomain.Turn, out *Outbox, t chatdomain.DocType, st chatdomain.AskingLines) error {
	active, err := m.drafts.GetActive(ctx, turn.User.ID, t)
	if err != nil {
		return fmt.Errorf("loading active draft: %w", err)
	}
	if active != nil {
		if err := m.pause(ctx, active); err != nil {
			return err
		}
	}
	m.metrics.IncrDraftEvent(string(t), "started")
	if _, err := m.create(ctx, turn, t, st); err != nil {
		return err
	}
	header := fmt.Sprintf("👤 Client : *%s*", st.Client.Name)
	if st.QuoteNumber != "" {
		header += fmt.Sprintf("\n📄 Devis : *%s*", st.QuoteNumber)
	}
	out.Say(ctx, withFooter(header+"\n\n"+MsgAskLines))
	return nil
}

// begin cria o primeiro step real do fluxo.
func (m *DraftMachine) begin(ctx context.Context, turn *chatdomain.Turn, out *Outbox, t chatdomain.DocType, clientHint string) error {
	m.metrics.IncrDraftEvent(string(t), "started")

	if t == chatdomain.DocInvoice {
		quotes, err := m.store.ListConvertibleQuotes(ctx, turn.Company.ID, clientSearchLimit)
		if err != nil {
			return fmt.Errorf("listing convertible quotes: %w", err)
		}
		if len(quotes) > 0 {
			st := chatdomain.ChoosingSource{Quotes: quoteRefs(quotes)}
			if _, err := m.create(ctx, turn, t, st); err != nil {
				return err
			}
			out.Say(ctx, withFooter(choosingSourcePrompt(len(quotes))))
			return nil
		}
		out.Say(ctx, "ℹ️ Aucun devis à convertir : création d'une nouvelle facture.")
	}

	st, prompt, err := m.clientStep(ctx, turn, t, clientHint)
	if err != nil {
		return err
	}
	if _, err := m.create(ctx, turn, t, st); err != nil {
		return err
	}
	out.Say(ctx, withFooter(prompt))
	return nil
}

// clientStep decide como perguntar o cliente:
//   - hint com correspondência exata → direto para as linhas
//   - hint com resultados → lista filtrada
//   - sem hint → últimos clientes
//   - nenhum cliente → nome do novo cliente
func (m *DraftMachine) clientStep(ctx context.Context, turn *chatdomain.Turn, t chatdomain.DocType, hint string) (chatdomain.StepState, string, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		found, err := m.store.SearchClients(ctx, turn.Company.ID, hint, clientSearchLimit)
		if err != nil {
			return nil, "", fmt.Errorf("searching clients: %w", err)
		}
		for _, c := range found {
			if strings.EqualFold(strings.TrimSpace(c.Name), hint) {
				ref := chatdomain.ClientRef{ID: c.ID, Name: c.Name}
				return chatdomain.AskingLines{Client: ref}, fmt.Sprintf("👤 Client : *%s*\n\n%s", c.Name, MsgAskLines), nil
			}
		}
		if len(found) > 0 {
			refs := clientRefs(found)
			return chatdomain.AskingClient{Candidates: refs}, clientListPrompt(t, refs), nil
		}
	}

	all, err := m.store.ListClients(ctx, turn.Company.ID, clientSearchLimit)
	if err != nil {
		return nil, "", fmt.Errorf("listing clients: %w", err)
	}
	if len(all) == 0 {
		return chatdomain.AskingNewClientName{}, "Vous n'avez pas encore de client.\n\n" + MsgAskNewClientName, nil
	}
	refs := clientRefs(all)
	return chatdomain.AskingClient{Candidates: refs}, clientListPrompt(t, refs), nil
}

// ------------------------------------------------------------
// Continuação
// ------------------------------------------------------------

// Continue processa a mensagem do usuário no step atual do draft ativo.
func (m *DraftMachine) Continue(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft) error {
	ctx, span := chatTracer.Start(ctx, "DraftMachine.Continue")
	defer span.End()
	span.SetAttributes(
		attribute.String("doc_type", string(d.DocType)),
		attribute.String("step", string(d.Step())),
	)

	text := strings.TrimSpace(turn.Text)
	if strings.EqualFold(text, "pause") {
		if err := m.pause(ctx, d); err != nil {
			return err
		}
		out.Say(ctx, fmt.Sprintf("⏸️ Brouillon « %s » mis en pause. Tapez *%s* pour le retrouver.", d.Title, d.DocType.Label()))
		return nil
	}

	switch st := d.State.(type) {
	case chatdomain.ChoosingDraft:
		return m.onChoosingDraft(ctx, turn, out, d, st, text)
	case chatdomain.ChoosingSource:
		return m.onChoosingSource(ctx, turn, out, d, st, text)
	case chatdomain.SelectingQuote:
		return m.onSelectingQuote(ctx, turn, out, d, st, text)
	case chatdomain.AskingClient:
		return m.onAskingClient(ctx, turn, out, d, st, text)
	case chatdomain.AskingNewClientName:
		return m.onNewClientName(ctx, turn, out, d, text)
	case chatdomain.AskingNewClientAddress:
		return m.onNewClientAddress(ctx, turn, out, d, st, text)
	case chatdomain.ConfirmingExistingClient:
		return m.onConfirmingClient(ctx, out, d, st, text)
	case chatdomain.AskingLines:
		return m.onAskingLines(ctx, turn, out, d, st, text)
	case chatdomain.AskingValidity:
		return m.onAskingValidity(ctx, out, d, st, text)
	case chatdomain.AskingPaymentTerms:
		return m.finish(ctx, turn, out, d, st, text)
	default:
		return m.recoverCorrupted(ctx, turn, out, d)
	}
}

func (m *DraftMachine) onChoosingDraft(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.ChoosingDraft, text string) error {
	switch strings.ToLower(text) {
	case "nouveau", "nouvelle", "new":
		if err := m.drafts.Delete(ctx, d.ID); err != nil {
			return fmt.Errorf("deleting draft chooser: %w", err)
		}
		return m.begin(ctx, turn, out, d.DocType, "")
	case "supprimer":
		for _, p := range st.Paused {
			if err := m.drafts.Delete(ctx, p.ID); err != nil {
				return fmt.Errorf("deleting paused draft: %w", err)
			}
		}
		if err := m.drafts.Delete(ctx, d.ID); err != nil {
			return fmt.Errorf("deleting draft chooser: %w", err)
		}
		out.Say(ctx, fmt.Sprintf("🗑️ %d brouillon(s) supprimé(s).", len(st.Paused)))
		return m.begin(ctx, turn, out, d.DocType, "")
	}

	n, ok := parseIndex(text)
	if !ok || n < 1 || n > len(st.Paused) {
		out.Say(ctx, withFooter(MsgInvalidSelection+"\n\n"+choosingDraftPrompt(d.DocType, st.Paused)))
		return nil
	}

	resumed, err := m.drafts.Get(ctx, st.Paused[n-1].ID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		out.Say(ctx, withFooter(MsgInvalidSelection+"\n\n"+choosingDraftPrompt(d.DocType, st.Paused)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading paused draft: %w", err)
	}

	// o seletor sai antes: só pode haver um draft ativo por tipo
	if err := m.drafts.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("deleting draft chooser: %w", err)
	}
	resumed.Status = chatdomain.DraftActive
	resumed.UpdatedAt = turn.Now
	if err := m.drafts.Update(ctx, resumed); err != nil {
		return fmt.Errorf("resuming draft: %w", err)
	}
	m.metrics.IncrDraftEvent(string(d.DocType), "resumed")

	if _, corrupted := resumed.State.(chatdomain.UnknownStep); corrupted {
		return m.recoverCorrupted(ctx, turn, out, resumed)
	}
	out.Say(ctx, withFooter(fmt.Sprintf("▶️ Reprise de « %s ».\n\n%s", resumed.Title, m.promptFor(resumed, turn.Company))))
	return nil
}

func (m *DraftMachine) onChoosingSource(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.ChoosingSource, text string) error {
	switch text {
	case "1":
		if err := m.advance(ctx, turn, d, chatdomain.SelectingQuote{Quotes: st.Quotes}); err != nil {
			return err
		}
		out.Say(ctx, withFooter(quoteListPrompt(st.Quotes)))
		return nil
	case "2":
		next, prompt, err := m.clientStep(ctx, turn, d.DocType, "")
		if err != nil {
			return err
		}
		if err := m.advance(ctx, turn, d, next); err != nil {
			return err
		}
		out.Say(ctx, withFooter(prompt))
		return nil
	}
	out.Say(ctx, withFooter(MsgInvalidSelection+"\n\n"+choosingSourcePrompt(len(st.Quotes))))
	return nil
}

func (m *DraftMachine) onSelectingQuote(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.SelectingQuote, text string) error {
	n, ok := parseIndex(text)
	if !ok || n < 1 || n > len(st.Quotes) {
		out.Say(ctx, withFooter(MsgInvalidSelection+"\n\n"+quoteListPrompt(st.Quotes)))
		return nil
	}

	q, err := m.store.GetQuote(ctx, st.Quotes[n-1].ID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) || (err == nil && !q.Convertible()) {
		return m.abort(ctx, out, d, MsgQuoteMissing)
	}
	if err != nil {
		return fmt.Errorf("loading quote: %w", err)
	}

	next := chatdomain.AskingPaymentTerms{
		Client:      chatdomain.ClientRef{ID: q.ClientID, Name: q.ClientName},
		Lines:       q.Lines,
		QuoteID:     q.ID,
		QuoteNumber: q.Number,
	}
	d.Title = fmt.Sprintf("Facture · %s", q.ClientName)
	if err := m.advance(ctx, turn, d, next); err != nil {
		return err
	}
	out.Say(ctx, withFooter(fmt.Sprintf("📄 Devis *%s* · %s\n\n%s\n\n%s",
		q.Number, q.ClientName, linesSummary(q.Lines, turn.Company.TaxRate()), MsgAskPaymentTerms)))
	return nil
}

func (m *DraftMachine) onAskingClient(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.AskingClient, text string) error {
	if n, ok := parseIndex(text); ok {
		switch {
		case n == 0:
			if err := m.advance(ctx, turn, d, chatdomain.AskingNewClientName{}); err != nil {
				return err
			}
			out.Say(ctx, withFooter(MsgAskNewClientName))
		case n <= len(st.Candidates):
			return m.clientChosen(ctx, turn, out, d, st.Candidates[n-1], "")
		default:
			out.Say(ctx, withFooter(MsgInvalidSelection+"\n\n"+clientListPrompt(d.DocType, st.Candidates)))
		}
		return nil
	}

	// texto livre: busca por nome
	found, err := m.store.SearchClients(ctx, turn.Company.ID, text, clientSearchLimit)
	if err != nil {
		return fmt.Errorf("searching clients: %w", err)
	}
	if len(found) == 0 {
		out.Say(ctx, withFooter(fmt.Sprintf("Aucun client ne correspond à « %s ».\n\n%s", text, clientListPrompt(d.DocType, st.Candidates))))
		return nil
	}
	refs := clientRefs(found)
	if err := m.advance(ctx, turn, d, chatdomain.AskingClient{Candidates: refs}); err != nil {
		return err
	}
	out.Say(ctx, withFooter(clientListPrompt(d.DocType, refs)))
	return nil
}

func (m *DraftMachine) onNewClientName(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, text string) error {
	if len([]rune(text)) < 2 {
		out.Say(ctx, withFooter(MsgInvalidClientName))
		return nil
	}

	existing, err := m.executor.FindExactClient(ctx, turn.Company.ID, text)
	if err != nil {
		return fmt.Errorf("checking existing client: %w", err)
	}
	if existing != nil {
		next := chatdomain.ConfirmingExistingClient{
			Existing:  chatdomain.ClientRef{ID: existing.ID, Name: existing.Name},
			TypedName: text,
		}
		if err := m.advance(ctx, turn, d, next); err != nil {
			return err
		}
		out.Say(ctx, withFooter(confirmExistingClientPrompt(existing.Name)))
		return nil
	}

	if err := m.advance(ctx, turn, d, chatdomain.AskingNewClientAddress{ClientName: text}); err != nil {
		return err
	}
	out.Say(ctx, withFooter(MsgAskClientAddress))
	return nil
}

func (m *DraftMachine) onConfirmingClient(ctx context.Context, out *Outbox, d *chatdomain.Draft, st chatdomain.ConfirmingExistingClient, text string) error {
	switch {
	case isYes(text):
		return m.clientChosen(ctx, nil, out, d, st.Existing, "")
	case isNo(text):
		if err := m.advance(ctx, nil, d, chatdomain.AskingNewClientName{}); err != nil {
			return err
		}
		out.Say(ctx, withFooter(MsgAskOtherClientName))
		return nil
	}
	out.Say(ctx, withFooter(MsgAskConfirmYesNo+"\n\n"+confirmExistingClientPrompt(st.Existing.Name)))
	return nil
}

func (m *DraftMachine) onNewClientAddress(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.AskingNewClientAddress, text string) error {
	address := text
	switch strings.ToLower(text) {
	case "ok", "-", "non", "aucune":
		address = ""
	}
	c, err := m.executor.CreateClient(ctx, turn.Company.ID, st.ClientName, address)
	if err != nil {
		return err
	}
	return m.clientChosen(ctx, turn, out, d, chatdomain.ClientRef{ID: c.ID, Name: c.Name}, "✅ Client *"+c.Name+"* créé.")
}

// clientChosen leva o draft para asking_lines com o cliente resolvido.
func (m *DraftMachine) clientChosen(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, c chatdomain.ClientRef, head string) error {
	d.Title = fmt.Sprintf("%s · %s", docTitle(d.DocType), c.Name)
	if err := m.advance(ctx, turn, d, chatdomain.AskingLines{Client: c}); err != nil {
		return err
	}
	if head == "" {
		head = fmt.Sprintf("👤 Client : *%s*", c.Name)
	}
	out.Say(ctx, withFooter(head+"\n\n"+MsgAskLines))
	return nil
}

func (m *DraftMachine) onAskingLines(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.AskingLines, text string) error {
	lines := ParseLines(text)
	if len(lines) == 0 {
		out.Say(ctx, withFooter(MsgLinesNotUnderstood))
		return nil
	}

	summary := linesSummary(lines, turn.Company.TaxRate())
	if d.DocType == chatdomain.DocQuote {
		if err := m.advance(ctx, turn, d, chatdomain.AskingValidity{Client: st.Client, Lines: lines}); err != nil {
			return err
		}
		out.Say(ctx, withFooter(summary+"\n\n"+MsgAskValidity))
		return nil
	}

	next := chatdomain.AskingPaymentTerms{Client: st.Client, Lines: lines, QuoteID: st.QuoteID, QuoteNumber: st.QuoteNumber}
	if err := m.advance(ctx, turn, d, next); err != nil {
		return err
	}
	out.Say(ctx, withFooter(summary+"\n\n"+MsgAskPaymentTerms))
	return nil
}

func (m *DraftMachine) onAskingValidity(ctx context.Context, out *Outbox, d *chatdomain.Draft, st chatdomain.AskingValidity, text string) error {
	days := domain.DefaultValidityDays
	if !strings.EqualFold(text, "ok") {
		n, ok := parseDays(text)
		if !ok || n < 1 || n > 365 {
			out.Say(ctx, withFooter(MsgInvalidValidity))
			return nil
		}
		days = n
	}

	next := chatdomain.AskingPaymentTerms{Client: st.Client, Lines: st.Lines, ValidityDays: days}
	if err := m.advance(ctx, nil, d, next); err != nil {
		return err
	}
	out.Say(ctx, withFooter(fmt.Sprintf("✅ Validité : %d jours.\n\n%s", days, MsgAskPaymentTerms)))
	return nil
}

// ------------------------------------------------------------
// Step terminal
// ------------------------------------------------------------

// finish cria o documento.
//
// Ordem:
//  1. "⏳" ao usuário
//  2. relê o cliente e o devis de origem; se sumiu, apaga o draft e explica o erro
//  3. grava o documento com os totais
//  4. apaga o draft
//  5. resumo → PDF → próxima ação
func (m *DraftMachine) finish(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft, st chatdomain.AskingPaymentTerms, text string) error {
	terms := text
	if strings.EqualFold(text, "ok") || text == "" {
		terms = domain.DefaultPaymentTerms
	}

	out.Say(ctx, creatingMessage(d.DocType))

	client, err := m.store.GetClient(ctx, st.Client.ID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return m.abort(ctx, out, d, MsgClientMissing)
	}
	if err != nil {
		return fmt.Errorf("loading client: %w", err)
	}

	req := &DocumentRequest{
		Company:      turn.Company,
		User:         turn.User,
		Client:       client,
		Lines:        st.Lines,
		ValidityDays: st.ValidityDays,
		PaymentTerms: terms,
	}

	if d.DocType == chatdomain.DocInvoice && st.QuoteID != "" {
		q, err := m.store.GetQuote(ctx, st.QuoteID)
		if errors.As(err, &nf) || (err == nil && !q.Convertible()) {
			return m.abort(ctx, out, d, MsgQuoteMissing)
		}
		if err != nil {
			return fmt.Errorf("loading quote: %w", err)
		}
		req.Quote = q
	}

	// a partir daqui o documento existe: o contexto acumulado não vale mais
	turn.State.Data.ResetContext()

	if d.DocType == chatdomain.DocQuote {
		q, err := m.executor.CreateQuote(ctx, req)
		if err != nil {
			return err
		}
		m.dropDraft(ctx, d)
		out.Say(ctx, quoteSummary(q, turn.Company.TaxRate()))
		m.executor.DeliverQuote(ctx, out, turn.Company, q)
		out.Say(ctx, msgQuoteNextAction)
		m.metrics.IncrDraftEvent(string(d.DocType), "completed")
		return nil
	}

	inv, err := m.executor.CreateInvoice(ctx, req)
	if err != nil {
		return err
	}
	m.dropDraft(ctx, d)
	out.Say(ctx, invoiceSummary(inv, turn.Company.TaxRate()))
	m.executor.DeliverInvoice(ctx, out, turn.Company, inv)
	out.Say(ctx, msgInvoiceNextAction)
	m.metrics.IncrDraftEvent(string(d.DocType), "completed")
	return nil
}

// ------------------------------------------------------------
// Ciclo de vida
// ------------------------------------------------------------

// Cancel apaga os drafts ativos e devolve quantos saíram.
func (m *DraftMachine) Cancel(ctx context.Context, drafts ...*chatdomain.Draft) (int, error) {
	n := 0
	for _, d := range drafts {
		if d == nil {
			continue
		}
		if err := m.drafts.Delete(ctx, d.ID); err != nil {
			return n, fmt.Errorf("deleting draft: %w", err)
		}
		m.metrics.IncrDraftEvent(string(d.DocType), "cancelled")
		n++
	}
	return n, nil
}

// Status descreve um draft ativo para o comando statut.
func (m *DraftMachine) Status(d *chatdomain.Draft, company *domain.Company) string {
	return fmt.Sprintf("📝 *%s* : %s\n\n%s", d.Title, stepLabel(d.Step()), m.promptFor(d, company))
}

// CountPaused conta os drafts pausados do usuário, dos dois tipos.
func (m *DraftMachine) CountPaused(ctx context.Context, ownerID string) (int, error) {
	n := 0
	for _, t := range []chatdomain.DocType{chatdomain.DocQuote, chatdomain.DocInvoice} {
		paused, err := m.drafts.ListPaused(ctx, ownerID, t)
		if err != nil {
			return 0, err
		}
		n += len(paused)
	}
	return n, nil
}

func (m *DraftMachine) create(ctx context.Context, turn *chatdomain.Turn, t chatdomain.DocType, st chatdomain.StepState) (*chatdomain.Draft, error) {
	d := &chatdomain.Draft{
		OwnerID:   turn.User.ID,
		CompanyID: turn.Company.ID,
		DocType:   t,
		Status:    chatdomain.DraftActive,
		Title:     fmt.Sprintf("%s du %s", docTitle(t), FormatDate(turn.Now)),
		State:     st,
		CreatedAt: turn.Now,
		UpdatedAt: turn.Now,
	}
	if c, ok := st.(chatdomain.AskingLines); ok {
		d.Title = fmt.Sprintf("%s · %s", docTitle(t), c.Client.Name)
	}
	if err := m.drafts.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	m.logger.Info("draft created",
		zap.String("draft_id", d.ID),
		zap.String("doc_type", string(t)),
		zap.String("step", string(st.Step())),
	)
	return d, nil
}

// advance grava o próximo estado. turn pode ser nil quando o relógio do
// turno não é necessário (o store marca UpdatedAt).
func (m *DraftMachine) advance(ctx context.Context, turn *chatdomain.Turn, d *chatdomain.Draft, next chatdomain.StepState) error {
	prev := d.Step()
	d.State = next
	if turn != nil {
		d.UpdatedAt = turn.Now
	}
	if err := m.drafts.Update(ctx, d); err != nil {
		return fmt.Errorf("updating draft %s: %w", d.ID, err)
	}
	m.logger.Debug("draft advanced",
		zap.String("draft_id", d.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next.Step())),
	)
	return nil
}

func (m *DraftMachine) pause(ctx context.Context, d *chatdomain.Draft) error {
	if _, corrupted := d.State.(chatdomain.UnknownStep); corrupted {
		return m.drafts.Delete(ctx, d.ID)
	}
	// um seletor pausado não faz sentido: some
	if _, chooser := d.State.(chatdomain.ChoosingDraft); chooser {
		return m.drafts.Delete(ctx, d.ID)
	}
	d.Status = chatdomain.DraftPaused
	if err := m.drafts.Update(ctx, d); err != nil {
		return fmt.Errorf("pausing draft: %w", err)
	}
	m.metrics.IncrDraftEvent(string(d.DocType), "paused")
	return nil
}

// abort apaga o draft e explica ao usuário. Não é erro do turno.
func (m *DraftMachine) abort(ctx context.Context, out *Outbox, d *chatdomain.Draft, msg string) error {
	if err := m.drafts.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	m.metrics.IncrDraftEvent(string(d.DocType), "aborted")
	m.logger.Warn("draft aborted",
		zap.String("draft_id", d.ID),
		zap.String("step", string(d.Step())),
	)
	out.Say(ctx, msg)
	return nil
}

// dropDraft apaga o draft concluído. O documento já existe, então uma falha
// aqui só é registrada.
func (m *DraftMachine) dropDraft(ctx context.Context, d *chatdomain.Draft) {
	if err := m.drafts.Delete(ctx, d.ID); err != nil {
		m.logger.Error("failed to delete completed draft",
			zap.String("draft_id", d.ID),
			zap.Error(err),
		)
	}
}

// recoverCorrupted apaga um draft em step desconhecido e recomeça do zero.
func (m *DraftMachine) recoverCorrupted(ctx context.Context, turn *chatdomain.Turn, out *Outbox, d *chatdomain.Draft) error {
	fields := []zap.Field{zap.String("draft_id", d.ID), zap.String("step", string(d.Step()))}
	if u, ok := d.State.(chatdomain.UnknownStep); ok && u.Err != nil {
		fields = append(fields, zap.Error(u.Err))
	}
	m.logger.Error("corrupted draft, restarting", fields...)

	if err := m.drafts.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("deleting corrupted draft: %w", err)
	}
	m.metrics.IncrDraftEvent(string(d.DocType), "corrupted")
	out.Say(ctx, MsgCorruptedDraft)
	return m.Start(ctx, turn, out, d.DocType, "")
}

// promptFor devolve a pergunta do step atual (sem rodapé).
func (m *DraftMachine) promptFor(d *chatdomain.Draft, company *domain.Company) string {
	switch st := d.State.(type) {
	case chatdomain.ChoosingDraft:
		return choosingDraftPrompt(d.DocType, st.Paused)
	case chatdomain.ChoosingSource:
		return choosingSourcePrompt(len(st.Quotes))
	case chatdomain.SelectingQuote:
		return quoteListPrompt(st.Quotes)
	case chatdomain.AskingClient:
		return clientListPrompt(d.DocType, st.Candidates)
	case chatdomain.AskingNewClientName:
		return MsgAskNewClientName
	case chatdomain.AskingNewClientAddress:
		return MsgAskClientAddress
	case chatdomain.ConfirmingExistingClient:
		return confirmExistingClientPrompt(st.Existing.Name)
	case chatdomain.AskingLines:
		return fmt.Sprintf("👤 Client : *%s*\n\n%s", st.Client.Name, MsgAskLines)
	case chatdomain.AskingValidity:
		return linesSummary(st.Lines, company.TaxRate()) + "\n\n" + MsgAskValidity
	case chatdomain.AskingPaymentTerms:
		return linesSummary(st.Lines, company.TaxRate()) + "\n\n" + MsgAskPaymentTerms
	}
	return MsgCorruptedDraft
}

// ------------------------------------------------------------
// Helpers
// ------------------------------------------------------------

// parseIndex aceita só dígitos ("2", " 10 ").
func parseIndex(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// parseDays aceita "45", "45 jours" e "45j".
func parseDays(text string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimSuffix(s, "jours")
	s = strings.TrimSuffix(s, "j")
	return parseIndex(s)
}

func isYes(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "oui", "o", "yes", "y", "ouais":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "non", "n", "no":
		return true
	}
	return false
}

func clientRefs(clients []domain.Client) []chatdomain.ClientRef {
	out := make([]chatdomain.ClientRef, 0, len(clients))
	for _, c := range clients {
		out = append(out, chatdomain.ClientRef{ID: c.ID, Name: c.Name})
	}
	return out
}

func quoteRefs(quotes []domain.Quote) []chatdomain.QuoteRef {
	out := make([]chatdomain.QuoteRef, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, chatdomain.QuoteRef{ID: q.ID, Number: q.Number, ClientName: q.ClientName, TotalTTC: q.Totals.TTC})
	}
	return out
}
