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
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/memory"
)

const (
	greetingJSON = `{"intent":"greeting","confidence":0.97,"entities":{},"naturalResponse":"Bonjour Paul ! Que puis-je faire pour vous ?","needsMoreInfo":false,"readyToExecute":false}`

	quoteForDupontJSON = `{"intent":"create_devis","confidence":0.9,"entities":{"clientName":"Dupont"},` +
		`"naturalResponse":"Quel est le montant du devis ?","needsMoreInfo":true,"missingInfo":["amount"],"readyToExecute":false}`

	quoteAmountJSON = `{"intent":"create_devis","confidence":0.95,"entities":{"amount":1500,"description":"Rénovation cuisine"},` +
		`"naturalResponse":"","needsMoreInfo":false,"readyToExecute":true}`
)

func TestBot_GreetingGoesThroughClassifier(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(greetingJSON)

	replies := h.send("bonjour")

	if len(replies) != 1 || replies[0] != "Bonjour Paul ! Que puis-je faire pour vous ?" {
		t.Fatalf("unexpected replies: %q", replies)
	}
	if h.llm.calls() != 1 {
		t.Errorf("expected 1 classifier call, got %d", h.llm.calls())
	}
	assertNoDraft(t, h, chatdomain.DocQuote)
	assertNoDraft(t, h, chatdomain.DocInvoice)

	st := h.state(t)
	if st == nil {
		t.Fatal("expected conversation state to be saved")
	}
	if st.Data.LastIntent != chatdomain.IntentGreeting {
		t.Errorf("expected last intent greeting, got %q", st.Data.LastIntent)
	}
	if !st.Data.Context.IsEmpty() || len(st.Data.Messages) != 0 {
		t.Errorf("greeting must leave an empty context, got %+v", st.Data.Context)
	}
}

func TestBot_CommandsWinOverActiveDraft(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		want       string
		draftAfter bool
	}{
		{"menu", "menu", "Menu FactureDirect", false},
		{"cancel uppercase", "ANNULER", "Création annulée", false},
		{"cancel synonym", "stop", "Création annulée", false},
		{"status", "statut", "saisie des lignes", true},
		{"status question", "Où en suis-je ?", "saisie des lignes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAccountHarness(t)
			client := h.seedClient(t, "Dupont")
			h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingLines{Client: clientRef(client)})

			replies := h.send(tt.text)

			assertContains(t, replies, tt.want)
			if h.llm.calls() != 0 {
				t.Errorf("commands must not reach the classifier, got %d calls", h.llm.calls())
			}
			if got := h.drafts.CountActive(h.user.ID, chatdomain.DocQuote); (got == 1) != tt.draftAfter {
				t.Errorf("expected draft kept=%v, got %d active", tt.draftAfter, got)
			}
		})
	}
}

func TestBot_CancelDropsDraftWithoutCreatingDocument(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedDraft(t, chatdomain.DocQuote, chatdomain.AskingValidity{
		Client: clientRef(client),
		Lines:  []domain.LineItem{{Description: "formation", Quantity: 3, UnitPrice: 300}},
	})

	replies := h.send("annuler")

	if len(replies) != 1 || replies[0] != "❌ Création annulée. Tapez *menu* pour voir les options." {
		t.Fatalf("unexpected replies: %q", replies)
	}
	assertNoDraft(t, h, chatdomain.DocQuote)
	if n := len(h.quotes(t)); n != 0 {
		t.Errorf("cancel must not create a quote, got %d", n)
	}
	if h.state(t) != nil {
		t.Error("cancel must drop the conversation state")
	}
}

func TestBot_CancelWithNothingActive(t *testing.T) {
	h := newAccountHarness(t)

	replies := h.send("annuler")

	if len(replies) != 1 || replies[0] != service.MsgNothingToCancel {
		t.Fatalf("unexpected replies: %q", replies)
	}
}

func TestBot_SelectionFromLastListing(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.seedQuote(t, client, domain.LineItem{Description: "audit", Quantity: 1, UnitPrice: 500})
	h.seedQuote(t, client, domain.LineItem{Description: "formation", Quantity: 3, UnitPrice: 600})
	year := time.Now().Year()
	newest := domain.FormatNumber(domain.QuotePrefix, year, 2)

	replies := h.send("mes devis")
	assertContains(t, replies, "Vos derniers devis")
	assertContains(t, replies, "1. "+newest)

	replies = h.send("1")
	assertContains(t, replies, "Devis "+newest)
	assertContains(t, replies, "formation")
	docs := h.messenger.documents()
	if len(docs) != 1 {
		t.Fatalf("expected the PDF to be sent, got %d documents", len(docs))
	}
	if docs[0].Filename != newest+".pdf" || docs[0].Caption != "📄 Devis "+newest {
		t.Errorf("unexpected document: %+v", docs[0])
	}

	replies = h.send("7")
	if len(replies) != 1 || replies[0] != service.MsgInvalidSelection {
		t.Errorf("expected invalid selection, got %q", replies)
	}
	if h.llm.calls() != 0 {
		t.Errorf("selection must not reach the classifier, got %d calls", h.llm.calls())
	}
}

func TestBot_SelectionWithoutListing(t *testing.T) {
	h := newAccountHarness(t)

	replies := h.send("2")

	if len(replies) != 1 || replies[0] != service.MsgNoListing {
		t.Fatalf("unexpected replies: %q", replies)
	}
}

func TestBot_ClassifierFailureFallsBackToKeywords(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.err = errors.New("groq: 503 service unavailable")

	replies := h.send("je veux faire une facture")

	assertContains(t, replies, "Aucun devis à convertir")
	assertContains(t, replies, service.MsgAskNewClientName)
	d := h.activeDraft(t, chatdomain.DocInvoice)
	if d == nil || d.Step() != chatdomain.StepAskingNewClientName {
		t.Fatalf("expected an invoice draft asking for a new client, got %+v", d)
	}
	snap := h.metrics.GetBotSnapshot()
	if snap.DecodeModes["fallback"] != 1 {
		t.Errorf("expected one fallback decode, got %v", snap.DecodeModes)
	}
}

func TestBot_RawReplyLeavesStateUntouched(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(quoteForDupontJSON)
	h.send("Fais un devis pour Dupont")
	before := h.state(t)

	h.llm.reply("Je vais regarder ça avec vous.")
	replies := h.send("hmm")

	if len(replies) != 1 || replies[0] != "Je vais regarder ça avec vous." {
		t.Fatalf("unexpected replies: %q", replies)
	}
	after := h.state(t)
	if after.Data.Context.Entities.ClientName == nil || *after.Data.Context.Entities.ClientName != "Dupont" {
		t.Errorf("raw reply must keep the accumulated client, got %+v", after.Data.Context.Entities)
	}
	if len(after.Data.Messages) != len(before.Data.Messages) {
		t.Errorf("raw reply must not grow the history: %d -> %d", len(before.Data.Messages), len(after.Data.Messages))
	}
	if after.Data.LastIntent != chatdomain.IntentCreateQuote {
		t.Errorf("raw reply must not change the last intent, got %q", after.Data.LastIntent)
	}
}

func TestBot_SlotFillingAcrossTurnsCreatesQuote(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(quoteForDupontJSON, quoteAmountJSON)

	replies := h.send("Fais un devis pour Dupont")
	if len(replies) != 1 || replies[0] != "Quel est le montant du devis ?" {
		t.Fatalf("expected the classifier question, got %q", replies)
	}
	st := h.state(t)
	if st.Data.Context.Intent != chatdomain.IntentCreateQuote {
		t.Errorf("expected accumulated intent create_devis, got %q", st.Data.Context.Intent)
	}

	replies = h.send("1500 euros pour la rénovation de la cuisine")

	quotes := h.quotes(t)
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	q := quotes[0]
	if q.ClientName != "Dupont" {
		t.Errorf("expected client Dupont, got %q", q.ClientName)
	}
	if q.Totals.HT != 1500 || q.Totals.TTC != 1800 {
		t.Errorf("expected HT 1500 / TTC 1800, got %+v", q.Totals)
	}
	if len(q.Lines) != 1 || q.Lines[0].Description != "Rénovation cuisine" || q.Lines[0].Quantity != 1 {
		t.Errorf("unexpected lines: %+v", q.Lines)
	}
	assertContains(t, replies, "Devis "+q.Number+" créé")
	assertContains(t, replies, "1 800,00 €")
	if docs := h.messenger.documents(); len(docs) != 1 {
		t.Errorf("expected the quote PDF, got %d documents", len(docs))
	}

	if !strings.Contains(h.llm.requests[1].System, "clientName=Dupont") {
		t.Errorf("second classification must carry the known client, system prompt:\n%s", h.llm.requests[1].System)
	}
	st = h.state(t)
	if !st.Data.Context.IsEmpty() || len(st.Data.Messages) != 0 {
		t.Errorf("context must be reset after execution, got %+v / %d messages", st.Data.Context, len(st.Data.Messages))
	}
	assertNoDraft(t, h, chatdomain.DocQuote)
}

func TestBot_DirectQuoteReusesExistingClient(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Dupont")
	h.llm.reply(`{"intent":"create_devis","confidence":0.95,"entities":{"clientName":"dupont","amount":600,"quantity":3,"description":"jours de formation"},"needsMoreInfo":false,"readyToExecute":true}`)

	h.send("devis pour dupont, 3 jours de formation à 600€")

	quotes := h.quotes(t)
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	if quotes[0].ClientID != client.ID {
		t.Errorf("expected existing client %s, got %s", client.ID, quotes[0].ClientID)
	}
	if quotes[0].Totals.HT != 1800 {
		t.Errorf("expected HT 1800, got %v", quotes[0].Totals.HT)
	}
	clients, _ := h.store.ListClients(context.Background(), h.company.ID, 0)
	if len(clients) != 1 {
		t.Errorf("no duplicate client expected, got %d", len(clients))
	}
}

func TestBot_GreetingResetsAccumulatedContext(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(quoteForDupontJSON, greetingJSON)

	h.send("Fais un devis pour Dupont")
	if h.state(t).Data.Context.IsEmpty() {
		t.Fatal("expected context after the first turn")
	}

	h.send("salut")

	st := h.state(t)
	if !st.Data.Context.IsEmpty() {
		t.Errorf("greeting must reset the context, got %+v", st.Data.Context)
	}
	if len(st.Data.Messages) != 0 {
		t.Errorf("greeting must reset the history, got %d messages", len(st.Data.Messages))
	}
}

func TestBot_SettingsCommand(t *testing.T) {
	h := newAccountHarness(t)

	replies := h.send("paramètres")

	assertContains(t, replies, "Paramètres de Atelier Martin")
	assertContains(t, replies, "SIREN : 123456789")
	assertContains(t, replies, "20 %")
}

func TestBot_SettingsIntentUpdatesCompany(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(`{"intent":"settings","confidence":0.9,"entities":{"settingName":"iban","settingValue":"fr76 3000 6000 0112 3456 7890 189"},"needsMoreInfo":false,"readyToExecute":true}`)

	replies := h.send("mets mon IBAN à FR76 3000 6000 0112 3456 7890 189")

	assertContains(t, replies, "IBAN mis à jour")
	company, err := h.store.GetCompany(context.Background(), h.company.ID)
	if err != nil {
		t.Fatalf("loading company: %v", err)
	}
	if company.IBAN != "FR7630006000011234567890189" {
		t.Errorf("unexpected IBAN %q", company.IBAN)
	}
}

func TestBot_UnknownUserStartsOnboarding(t *testing.T) {
	h := newHarness(t)

	replies := h.send("bonjour")

	assertContains(t, replies, "Bienvenue sur *FactureDirect*")
	if h.llm.calls() != 0 {
		t.Errorf("onboarding must not reach the classifier, got %d calls", h.llm.calls())
	}
	st, err := h.convs.Get(context.Background(), testPhone)
	if err != nil || st == nil {
		t.Fatalf("expected onboarding state, got %v / %v", st, err)
	}
	if st.Step != chatdomain.StepOnboardingWaitingYes {
		t.Errorf("expected step %s, got %s", chatdomain.StepOnboardingWaitingYes, st.Step)
	}
	if ttl := time.Until(st.ExpiresAt); ttl > 25*time.Hour {
		t.Errorf("onboarding state must expire within a day, got %v", ttl)
	}
}

// conflictingStore simula outra réplica gravando o mesmo telefone.
type conflictingStore struct {
	*memory.ConversationStore
}

func (c conflictingStore) Save(_ context.Context, st *chatdomain.ConversationState) error {
	return &domain.ErrVersionConflict{Resource: "conversation", ID: st.Phone}
}

func TestBot_VersionConflictApologizes(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.reply(greetingJSON)
	deps := h.deps()
	deps.Conversations = conflictingStore{h.convs}
	bot := service.NewBot(deps, service.Config{})
	defer bot.Close()

	bot.HandleMessage(context.Background(), testPhone, "bonjour")

	texts := h.messenger.textsSince(0)
	if len(texts) == 0 || texts[len(texts)-1] != service.MsgGenericError {
		t.Fatalf("expected the generic apology last, got %q", texts)
	}
	if snap := h.metrics.GetBotSnapshot(); snap.FailedTurns != 1 {
		t.Errorf("expected 1 failed turn, got %d", snap.FailedTurns)
	}
}

func TestBot_PanicIsContained(t *testing.T) {
	h := newAccountHarness(t)
	h.llm.panics = true

	replies := h.send("bonjour")

	if len(replies) != 1 || replies[0] != service.MsgGenericError {
		t.Fatalf("expected only the generic apology, got %q", replies)
	}
}

func TestBot_SendFailureDoesNotStopTurn(t *testing.T) {
	h := newAccountHarness(t)
	h.messenger.textErr = errors.New("twilio: 429")

	h.send("menu")

	if snap := h.metrics.GetBotSnapshot(); snap.FailedDeliveries != 1 || snap.FailedTurns != 0 {
		t.Errorf("expected 1 failed delivery and no failed turn, got %+v", snap)
	}
}

func TestBot_ListInvoicesThenSelect(t *testing.T) {
	h := newAccountHarness(t)
	client := h.seedClient(t, "Martin & Fils")
	inv := h.seedInvoice(t, client, domain.LineItem{Description: "site web", Quantity: 1, UnitPrice: 2500})

	h.send("mes factures")
	replies := h.send("1")

	assertContains(t, replies, fmt.Sprintf("Facture %s* (brouillon)", inv.Number))
	docs := h.messenger.documents()
	if len(docs) != 1 || docs[0].Caption != fmt.Sprintf("📄 Facture %s (brouillon)", inv.Number) {
		t.Errorf("unexpected documents: %+v", docs)
	}
	if h.renderer.last == nil || h.renderer.last.Kind != domain.KindInvoice || h.renderer.last.Validated {
		t.Errorf("unexpected render data: %+v", h.renderer.last)
	}
}
