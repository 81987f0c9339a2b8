package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/service"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

const (
	startQuoteJSON   = `{"intent":"create_devis","confidence":0.9,"entities":{},"naturalResponse":"","needsMoreInfo":true,"readyToExecute":false}`
	startInvoiceJSON = `{"intent":"create_facture","confidence":0.9,"entities":{},"naturalResponse":"","needsMoreInfo":true,"readyToExecute":false}`
)

func number(prefix string, seq int) string {
	return domain.FormatNumber(prefix, time.Now().Year(), seq)
}

func TestDraft_QuoteFullFlow(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.llm.reply(startQuoteJSON)

	replies := h.send("je veux faire un devis")
	assertContains(t, replies, "Pour quel client est le devis ?")
	assertContains(t, replies, "1. Dupont")
	assertContains(t, replies, service.MsgStepFooter)

	replies = h.send("1")
	assertContains(t, replies, "👤 Client : *Dupont*")
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepAskingLines || d.Title != "Devis · Dupont" {
		t.Fatalf("expected asking_lines for Dupont, got %s / %q", d.Step(), d.Title)
	}

	replies = h.send("10 heures consulting à 90€")
	assertContains(t, replies, "Total HT : 900,00 €")
	assertContains(t, replies, service.MsgAskValidity)

	replies = h.send("45 jours")
	assertContains(t, replies, "Validité : 45 jours")

	replies = h.send("ok")

	want := number(domain.QuotePrefix, 1)
	assertContains(t, replies, "⏳ Création du devis en cours...")
	assertContains(t, replies, "Devis "+want+" créé")
	quotes := h.quotes(t)
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	q := quotes[0]
	if q.Number != want || q.ClientID != client.ID || q.ValidityDays != 45 || q.PaymentTerms != domain.DefaultPaymentTerms {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Totals.HT != 900 || q.Totals.TTC != 1080 {
		t.Errorf("expected HT 900 / TTC 1080, got %+v", q.Totals)
	}
	if q.Lines[0].TaxRate != 20 {
		t.Errorf("company rate must be applied to every line, got %v", q.Lines[0].TaxRate)
	}

	docs := h.messenger.documents()
	if len(docs) != 1 || docs[0].Filename != want+".pdf" || docs[0].Caption != "📄 Devis "+want {
		t.Errorf("unexpected documents: %+v", docs)
	}
	if docs[0].URL != "https://storage.test/documents/"+want+".pdf" {
		t.Errorf("unexpected document URL %q", docs[0].URL)
	}
	if h.renderer.last.Kind != domain.KindQuote || h.renderer.last.ValidityDays != 45 {
		t.Errorf("unexpected render data: %+v", h.renderer.last)
	}
	assertNoDraft(t, h, chatdomain.DocQuote)
	if h.llm.calls() != 1 {
		t.Errorf("only the opening message goes to the classifier, got %d calls", h.llm.calls())
	}
	if snap := h.metrics.GetBotSnapshot(); snap.DraftsStarted != 1 || snap.DraftsCompleted != 1 {
		t.Errorf("expected 1 started / 1 completed draft, got %+v", snap)
	}
}

func TestDraft_InvalidLinesKeepState(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	seeded := h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: clientRef(client)})

	replies := h.send("je sais pas encore")

	assertContains(t, replies, service.MsgLinesNotUnderstood)
	d := h.activeDraft(t, chatdomain.DocQuote)
	if d.Step() != chatdomain.StepAskingLines || d.Version != seeded.Version {
		t.Errorf("invalid input must not write the draft: step %s version %d -> %d", d.Step(), seeded.Version, d.Version)
	}
	if h.llm.calls() != 0 {
		t.Errorf("draft input must not reach the classifier, got %d calls", h.llm.calls())
	}
}

func TestDraft_LinesAdvanceToValidity(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: clientRef(client)})

	replies := h.send("3 jours formation à 300€")

	assertContains(t, replies, "Total HT : 900,00 €")
	d := h.activeDraft(t, chatdomain.DocQuote)
	st, ok := d.State.(chatdomain.AskingValidity)
	if !ok {
		t.Fatalf("expected asking_validity_period, got %s", d.Step())
	}
	if st.Client.ID != client.ID || len(st.Lines) != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
	l := st.Lines[0]
	if l.Quantity != 3 || l.UnitPrice != 300 || !strings.Contains(l.Description, "formation") {
		t.Errorf("unexpected line: %+v", l)
	}
}

func TestDraft_InvalidValidityAsksAgain(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingValidity{
		Client: clientRef(client),
		Lines:  []domain.LineItem{{Description: "audit", Quantity: 1, UnitPrice: 500}},
	})

	for _, text := range []string{"0", "400", "demain"} {
		replies := h.send(text)
		assertContains(t, replies, service.MsgInvalidValidity)
	}
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepAskingValidity {
		t.Errorf("expected to stay on validity, got %s", d.Step())
	}
}

func TestDraft_TypedNameMatchesExistingClient(t *testing.T) {
	h := newAccountHarness(t)
	existing := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingNewClientName{})

	replies := h.send("dupont")

	assertContains(t, replies, "Le client *Dupont* existe déjà")
	d := h.activeDraft(t, chatdomain.DocQuote)
	st, ok := d.State.(chatdomain.ConfirmingExistingClient)
	if !ok {
		t.Fatalf("expected confirming_existing_client, got %s", d.Step())
	}
	if st.Existing.ID != existing.ID || st.TypedName != "dupont" {
		t.Errorf("unexpected confirmation state: %+v", st)
	}

	replies = h.send("peut-être")
	assertContains(t, replies, service.MsgAskConfirmYesNo)

	h.send("oui")

	d = h.activeDraft(t, chatdomain.DocQuote)
	lines, ok := d.State.(chatdomain.AskingLines)
	if !ok || lines.Client.ID != existing.ID {
		t.Fatalf("expected asking_lines with the existing client, got %s", d.Step())
	}
	clients, _ := h.store.ListClients(context.Background(), h.company.ID, 0)
	if len(clients) != 1 {
		t.Errorf("no duplicate client expected, got %d", len(clients))
	}
}

func TestDraft_RefusingExistingClientAsksOtherName(t *testing.T) {
	h := newAccountHarness(t)
	existing := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.ConfirmingExistingClient{Existing: clientRef(existing), TypedName: "Dupont"})

	replies := h.send("non")

	assertContains(t, replies, service.MsgAskOtherClientName)
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepAskingNewClientName {
		t.Errorf("expected asking_new_client_name, got %s", d.Step())
	}
}

func TestDraft_NewClientWithoutAddress(t *testing.T) {
	h := newAccountHarness(t)
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingNewClientName{})

	replies := h.send("x")
	assertContains(t, replies, service.MsgInvalidClientName)

	replies = h.send("Boulangerie Durand")
	assertContains(t, replies, service.MsgAskClientAddress)

	replies = h.send("ok")
	assertContains(t, replies, "✅ Client *Boulangerie Durand* créé.")

	clients, _ := h.store.ListClients(context.Background(), h.company.ID, 0)
	if len(clients) != 1 || clients[0].Name != "Boulangerie Durand" || clients[0].Address != "" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	d := h.activeDraft(t, chatdomain.DocQuote)
	st, ok := d.State.(chatdomain.AskingLines)
	if !ok || st.Client.ID != clients[0].ID {
		t.Errorf("expected asking_lines for the new client, got %s", d.Step())
	}
}

func TestDraft_ClientByTypedSearch(t *testing.T) {
	h := newAccountHarness(t)
	h.seedClient(t, "Dupont")
	h.seedClient(t, "Durand")
	h.seedClient(t, "Martin")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingClient{})

	replies := h.send("du")

	assertContains(t, replies, "1. Dupont")
	assertContains(t, replies, "2. Durand")
	d := h.activeDraft(t, chatdomain.DocQuote)
	st := d.State.(chatdomain.AskingClient)
	if len(st.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %+v", st.Candidates)
	}

	replies = h.send("zzz")
	assertContains(t, replies, "Aucun client ne correspond à « zzz »")
}

func TestDraft_DeliveryFailureKeepsInvoice(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocInvoice, chatdomain.AskingPaymentTerms{
		Client: clientRef(client),
		Lines:  []domain.LineItem{{Description: "site web", Quantity: 1, UnitPrice: 2500}},
	})
	h.messenger.docErr = errors.New("twilio: media url unreachable")

	replies := h.send("à réception")

	invoices := h.invoices(t)
	if len(invoices) != 1 {
		t.Fatalf("expected the invoice to be kept, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.Status != domain.InvoiceStatusDraft || inv.PaymentTerms != "à réception" {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	if inv.Totals.TTC != 3000 {
		t.Errorf("expected TTC 3000, got %v", inv.Totals.TTC)
	}
	assertNoDraft(t, h, chatdomain.DocInvoice)
	assertContains(t, replies, "Facture "+inv.Number+" créée")
	assertContains(t, replies, fmt.Sprintf("Le document %s est bien enregistré, mais l'envoi du PDF a échoué", inv.Number))
	assertContains(t, replies, "Tapez *valider*")
}

func TestDraft_RenderFailureKeepsQuote(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingPaymentTerms{
		Client:       clientRef(client),
		Lines:        []domain.LineItem{{Description: "audit", Quantity: 1, UnitPrice: 500}},
		ValidityDays: 30,
	})
	h.renderer.err = &domain.ErrExternalService{Service: "pdf", Err: errors.New("font missing")}

	replies := h.send("ok")

	if len(h.quotes(t)) != 1 {
		t.Fatal("expected the quote to be kept")
	}
	assertContains(t, replies, "l'envoi du PDF a échoué")
	if len(h.blobs.stored) != 0 {
		t.Errorf("nothing must be stored when rendering fails, got %v", h.blobs.stored)
	}
}

func TestDraft_ClientDeletedMidFlowAborts(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingPaymentTerms{
		Client:       clientRef(client),
		Lines:        []domain.LineItem{{Description: "audit", Quantity: 1, UnitPrice: 500}},
		ValidityDays: 30,
	})
	h.store.DeleteClient(client.ID)

	replies := h.send("ok")

	assertContains(t, replies, service.MsgClientMissing)
	assertNoDraft(t, h, chatdomain.DocQuote)
	if n := len(h.quotes(t)); n != 0 {
		t.Errorf("no quote expected, got %d", n)
	}
}

func TestDraft_PauseChooseAndResume(t *testing.T) {
	h := newAccountHarness(t)
	h.seedClient(t, "Dupont")
	h.llm.reply(startQuoteJSON)

	h.send("nouveau devis")
	h.send("1")

	replies := h.send("pause")
	assertContains(t, replies, "Brouillon « Devis · Dupont » mis en pause")
	if n := h.drafts.CountActive(h.user.ID, chatdomain.DocQuote); n != 0 {
		t.Fatalf("expected no active draft after pause, got %d", n)
	}

	replies = h.send("nouveau devis")
	assertContains(t, replies, "Vous avez 1 brouillon(s) de devis en pause")
	assertContains(t, replies, "1. Devis · Dupont (saisie des lignes")
	if n := h.drafts.CountActive(h.user.ID, chatdomain.DocQuote); n != 1 {
		t.Fatalf("expected exactly one active draft (the chooser), got %d", n)
	}

	replies = h.send("1")
	assertContains(t, replies, "▶️ Reprise de « Devis · Dupont »")
	if n := h.drafts.CountActive(h.user.ID, chatdomain.DocQuote); n != 1 {
		t.Fatalf("expected exactly one active draft after resume, got %d", n)
	}
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepAskingLines {
		t.Errorf("expected the resumed draft at asking_lines, got %s", d.Step())
	}
	paused, _ := h.drafts.ListPaused(context.Background(), h.user.ID, chatdomain.DocQuote)
	if len(paused) != 0 {
		t.Errorf("expected no paused draft left, got %d", len(paused))
	}
}

func TestDraft_ChooserStartsFreshDraft(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	paused := h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: clientRef(client)})
	paused.Status = chatdomain.DraftPaused
	if err := h.drafts.Update(context.Background(), paused); err != nil {
		t.Fatalf("pausing seeded draft: %v", err)
	}
	h.llm.reply(startQuoteJSON)

	h.send("devis")
	replies := h.send("nouveau")

	assertContains(t, replies, "Pour quel client est le devis ?")
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepAskingClient {
		t.Errorf("expected a fresh draft at asking_client, got %s", d.Step())
	}
	left, _ := h.drafts.ListPaused(context.Background(), h.user.ID, chatdomain.DocQuote)
	if len(left) != 1 {
		t.Errorf("the paused draft must be kept, got %d", len(left))
	}
	if n := h.metrics.GetBotSnapshot().DraftsStarted; n != 1 {
		t.Errorf("expected one started draft, got %d", n)
	}
}

func TestDraft_ResumeIsNotCountedAsStart(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	paused := h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: clientRef(client)})
	paused.Status = chatdomain.DraftPaused
	if err := h.drafts.Update(context.Background(), paused); err != nil {
		t.Fatalf("pausing seeded draft: %v", err)
	}
	h.llm.reply(startQuoteJSON)

	h.send("devis")
	if d := h.activeDraft(t, chatdomain.DocQuote); d.Step() != chatdomain.StepChoosingDraft {
		t.Fatalf("expected choosing_draft, got %s", d.Step())
	}
	h.send("1")

	if d := h.activeDraft(t, chatdomain.DocQuote); d.ID != paused.ID {
		t.Fatalf("expected the paused draft to be resumed, got %s", d.ID)
	}
	if n := h.metrics.GetBotSnapshot().DraftsStarted; n != 0 {
		t.Errorf("resuming must not count as a started draft, got %d", n)
	}
}

func TestDraft_CorruptedDraftRestarts(t *testing.T) {
	h := newAccountHarness(t)
	d := h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: chatdomain.ClientRef{ID: "gone", Name: "Ancien"}})
	h.drafts.Corrupt(d.ID, "legacy_step")

	replies := h.send("10 heures consulting à 90€")

	assertContains(t, replies, service.MsgCorruptedDraft)
	if _, err := h.drafts.Get(context.Background(), d.ID); err == nil {
		t.Error("expected the corrupted draft to be deleted")
	}
	fresh := h.activeDraft(t, chatdomain.DocQuote)
	if fresh == nil || fresh.ID == d.ID || fresh.Step() != chatdomain.StepAskingNewClientName {
		t.Fatalf("expected a fresh draft asking for a new client, got %+v", fresh)
	}
}

func TestDraft_InvoiceFromQuote(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	q := h.seedQuote(t, client, domain.LineItem{Description: "formation", Quantity: 3, UnitPrice: 600})
	h.llm.reply(startInvoiceJSON)

	replies := h.send("je veux facturer")
	assertContains(t, replies, "Vous avez 1 devis non facturé(s)")
	if d := h.activeDraft(t, chatdomain.DocInvoice); d.Step() != chatdomain.StepChoosingSource {
		t.Fatalf("expected choosing_source, got %s", d.Step())
	}

	replies = h.send("1")
	assertContains(t, replies, "1. "+q.Number+" · Dupont · 2 160,00 €")

	replies = h.send("1")
	assertContains(t, replies, "Devis *"+q.Number+"*")
	assertContains(t, replies, service.MsgAskPaymentTerms)

	replies = h.send("ok")

	invoices := h.invoices(t)
	if len(invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.QuoteID != q.ID || inv.ClientID != client.ID || inv.Totals.TTC != 2160 {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	assertContains(t, replies, "À partir du devis converti.")

	linked, err := h.store.GetQuote(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("loading quote: %v", err)
	}
	if linked.InvoiceID != inv.ID || linked.Status != domain.QuoteStatusAccepted {
		t.Errorf("quote must be linked to the invoice, got %+v", linked)
	}
	docs := h.messenger.documents()
	if len(docs) != 1 || docs[0].Caption != "📄 Facture "+number(domain.InvoicePrefix, 1)+" (brouillon)" {
		t.Errorf("unexpected documents: %+v", docs)
	}
	assertNoDraft(t, h, chatdomain.DocInvoice)
}

func TestDraft_InvoiceFromScratchWithQuotesAvailable(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedQuote(t, client, domain.LineItem{Description: "audit", Quantity: 1, UnitPrice: 500})
	h.llm.reply(startInvoiceJSON)

	h.send("facture")
	replies := h.send("2")

	assertContains(t, replies, "Pour quel client est la facture ?")
	if d := h.activeDraft(t, chatdomain.DocInvoice); d.Step() != chatdomain.StepAskingClient {
		t.Errorf("expected asking_client, got %s", d.Step())
	}
}

func TestDraft_InvalidSourceChoice(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedQuote(t, client, domain.LineItem{Description: "audit", Quantity: 1, UnitPrice: 500})
	h.llm.reply(startInvoiceJSON)

	h.send("facture")
	before := h.activeDraft(t, chatdomain.DocInvoice)
	replies := h.send("3")

	assertContains(t, replies, service.MsgInvalidSelection)
	after := h.activeDraft(t, chatdomain.DocInvoice)
	if after.Step() != chatdomain.StepChoosingSource || after.Version != before.Version {
		t.Errorf("invalid choice must not write the draft, got %s v%d", after.Step(), after.Version)
	}
}

func TestDraft_QuoteAlreadyInvoicedAborts(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	q := h.seedQuote(t, client, domain.LineItem{Description: "audit", Quantity: 1, UnitPrice: 500})
	h.seedDraft(t, chatdomain.DocInvoice, chatdomain.AskingPaymentTerms{
		Client:      clientRef(client),
		Lines:       q.Lines,
		QuoteID:     q.ID,
		QuoteNumber: q.Number,
	})
	if err := h.store.MarkQuoteInvoiced(context.Background(), q.ID, "other-invoice"); err != nil {
		t.Fatalf("marking quote: %v", err)
	}

	replies := h.send("ok")

	assertContains(t, replies, service.MsgQuoteMissing)
	if n := len(h.invoices(t)); n != 0 {
		t.Errorf("no invoice expected, got %d", n)
	}
	assertNoDraft(t, h, chatdomain.DocInvoice)
}

func TestCommand_EditReopensDraftInvoice(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	inv := h.seedInvoice(t, client, domain.LineItem{Description: "site web", Quantity: 1, UnitPrice: 2500})

	replies := h.send("modifier")

	assertContains(t, replies, "✏️ Facture "+inv.Number+" supprimée")
	if n := len(h.invoices(t)); n != 0 {
		t.Errorf("expected the draft invoice to be deleted, got %d", n)
	}
	d := h.activeDraft(t, chatdomain.DocInvoice)
	st, ok := d.State.(chatdomain.AskingLines)
	if !ok || st.Client.ID != client.ID {
		t.Fatalf("expected an invoice draft at asking_lines for the same client, got %s", d.Step())
	}
}

func TestCommand_EditKeepsQuoteLink(t *testing.T) {
	h := newAccountHarness(t)
	ctx := context.Background()
	client := h.seedClient(t, "Dupont")
	q := h.seedQuote(t, client, domain.LineItem{Description: "formation", Quantity: 3, UnitPrice: 600})
	old := &domain.Invoice{
		CompanyID:    h.company.ID,
		ClientID:     client.ID,
		ClientName:   client.Name,
		CreatedByID:  h.user.ID,
		QuoteID:      q.ID,
		Status:       domain.InvoiceStatusDraft,
		Lines:        q.Lines,
		Totals:       q.Totals,
		PaymentTerms: domain.DefaultPaymentTerms,
	}
	if err := h.store.CreateInvoice(ctx, old); err != nil {
		t.Fatalf("seeding invoice: %v", err)
	}
	if err := h.store.MarkQuoteInvoiced(ctx, q.ID, old.ID); err != nil {
		t.Fatalf("linking quote: %v", err)
	}

	replies := h.send("modifier")
	assertContains(t, replies, "Devis : *"+q.Number+"*")

	freed, _ := h.store.GetQuote(ctx, q.ID)
	if freed.InvoiceID != "" || !freed.Convertible() {
		t.Fatalf("deleting the invoice must free its quote, got %+v", freed)
	}
	st, ok := h.activeDraft(t, chatdomain.DocInvoice).State.(chatdomain.AskingLines)
	if !ok || st.QuoteID != q.ID {
		t.Fatalf("the reopened draft must keep the quote, got %+v", st)
	}

	h.send("2 jours formation à 700€")
	h.send("ok")

	invoices := h.invoices(t)
	if len(invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.ID == old.ID || inv.QuoteID != q.ID || inv.Totals.HT != 1400 {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	linked, _ := h.store.GetQuote(ctx, q.ID)
	if linked.InvoiceID != inv.ID {
		t.Errorf("quote must point at the new invoice, got %q", linked.InvoiceID)
	}
}

func TestCommand_EditRefusesValidatedInvoice(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	inv := h.seedInvoice(t, client, domain.LineItem{Description: "site web", Quantity: 1, UnitPrice: 2500})
	if _, err := h.store.ValidateInvoice(context.Background(), inv.ID, h.user.ID, time.Now()); err != nil {
		t.Fatalf("validating: %v", err)
	}

	replies := h.send("modifier")

	assertContains(t, replies, service.MsgNoDraftInvoice)
	if n := len(h.invoices(t)); n != 1 {
		t.Errorf("validated invoice must be kept, got %d", n)
	}
}

func TestCommand_ValidateIsOneWay(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	inv := h.seedInvoice(t, client, domain.LineItem{Description: "site web", Quantity: 1, UnitPrice: 2500})

	replies := h.send("valider")

	assertContains(t, replies, "Facture *"+inv.Number+"* validée le")
	stored, _ := h.store.GetInvoice(context.Background(), inv.ID)
	if !stored.IsValidated() || stored.ValidatedByID != h.user.ID || stored.IssuedAt == nil {
		t.Errorf("unexpected validated invoice: %+v", stored)
	}
	docs := h.messenger.documents()
	if len(docs) != 1 || docs[0].Caption != "📄 Facture "+inv.Number+" (définitive)" {
		t.Errorf("unexpected documents: %+v", docs)
	}
	if !h.renderer.last.Validated {
		t.Error("validated invoice must render as final")
	}

	replies = h.send("valider")
	if len(replies) != 1 || replies[0] != service.MsgNoDraftInvoice {
		t.Errorf("expected no draft invoice, got %q", replies)
	}
}

func TestCommand_PrintResendsLatestDocument(t *testing.T) {
	h := newAccountHarness(t)

	replies := h.send("imprimer")
	if len(replies) != 1 || replies[0] != service.MsgNoDocument {
		t.Fatalf("expected no document, got %q", replies)
	}

	client := h.seedClient(t, "Dupont")
	q := h.seedQuote(t, client, domain.LineItem{Description: "audit", Quantity: 1, UnitPrice: 500})
	h.send("pdf")

	docs := h.messenger.documents()
	if len(docs) != 1 || docs[0].Filename != q.Number+".pdf" {
		t.Errorf("unexpected documents: %+v", docs)
	}
}
