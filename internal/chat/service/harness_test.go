package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/service"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/memory"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

const testPhone = "33612345678"

// --- Mocks ---

type sentDocument struct {
	To       string
	URL      string
	Filename string
	Caption  string
}

type fakeMessenger struct {
	mu      sync.Mutex
	texts   []string
	textTo  []string
	docs    []sentDocument
	textErr error
	docErr  error
}

func (m *fakeMessenger) SendText(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	m.textTo = append(m.textTo, to)
	return m.textErr
}

func (m *fakeMessenger) SendDocument(_ context.Context, to, url, filename, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docErr != nil {
		return m.docErr
	}
	m.docs = append(m.docs, sentDocument{To: to, URL: url, Filename: filename, Caption: caption})
	return nil
}

func (m *fakeMessenger) textCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

func (m *fakeMessenger) textsSince(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts[n:]...)
}

func (m *fakeMessenger) textsTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for i, t := range m.texts {
		if m.textTo[i] == to {
			out = append(out, t)
		}
	}
	return out
}

func (m *fakeMessenger) documents() []sentDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentDocument(nil), m.docs...)
}

// fakeClassifier devolve as respostas na ordem; a última se repete.
type fakeClassifier struct {
	mu       sync.Mutex
	replies  []string
	err      error
	panics   bool
	requests []*chatdomain.ClassifyRequest
}

func (c *fakeClassifier) Classify(_ context.Context, req *chatdomain.ClassifyRequest) (*chatdomain.ClassifyResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.panics {
		panic("classifier exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return nil, errors.New("no canned reply")
	}
	content := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return &chatdomain.ClassifyResponse{Content: content, Model: "test", PromptTokens: 120, CompletionTokens: 30}, nil
}

func (c *fakeClassifier) reply(contents ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = contents
}

func (c *fakeClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeRenderer struct {
	err   error
	calls int
	last  *domain.RenderData
}

func (r *fakeRenderer) Render(_ context.Context, data *domain.RenderData) ([]byte, error) {
	r.calls++
	r.last = data
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 test"), nil
}

type fakeBlobs struct {
	err    error
	stored []string
}

func (b *fakeBlobs) Store(_ context.Context, _ []byte, filename string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.stored = append(b.stored, filename)
	return "https://storage.test/documents/" + filename, nil
}

// --- Harness ---

type harness struct {
	bot       *service.Bot
	store     *memory.BusinessStore
	convs     *memory.ConversationStore
	drafts    *memory.DraftStore
	messenger *fakeMessenger
	llm       *fakeClassifier
	renderer  *fakeRenderer
	blobs     *fakeBlobs
	metrics   *observability.Metrics

	user    *domain.User
	company *domain.Company
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewBusinessStore(),
		convs:     memory.NewConversationStore(),
		drafts:    memory.NewDraftStore(),
		messenger: &fakeMessenger{},
		llm:       &fakeClassifier{},
		renderer:  &fakeRenderer{},
		blobs:     &fakeBlobs{},
		metrics:   observability.NewMetrics(),
	}
	h.bot = service.NewBot(h.deps(), service.Config{})
	t.Cleanup(h.bot.Close)
	return h
}

func (h *harness) deps() service.Deps {
	return service.Deps{
		Store:         h.store,
		Conversations: h.convs,
		Drafts:        h.drafts,
		Classifier:    h.llm,
		Messenger:     h.messenger,
		Renderer:      h.renderer,
		Blobs:         h.blobs,
		Metrics:       h.metrics,
		Logger:        zap.NewNop(),
	}
}

// newAccountHarness já tem usuário e empresa completos (TVA 20 %).
func newAccountHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	rate := 20.0
	company := &domain.Company{
		Name:           "Atelier Martin",
		Address:        "12 rue des Lilas, 75011 Paris",
		SIREN:          "123456789",
		VATRegime:      domain.RegimeClassic,
		DefaultTaxRate: &rate,
	}
	user := &domain.User{Phone: testPhone, Name: "Paul", Role: domain.RoleOwner}
	if err := h.store.CreateUserWithCompany(context.Background(), user, company); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	h.user, h.company = user, company
	return h
}

func (h *harness) send(text string) []string {
	before := h.messenger.textCount()
	h.bot.HandleMessage(context.Background(), testPhone, text)
	return h.messenger.textsSince(before)
}

func (h *harness) seedClient(t *testing.T, name string) *domain.Client {
	t.Helper()
	c := &domain.Client{CompanyID: h.company.ID, Name: name}
	if err := h.store.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	return c
}

func (h *harness) seedQuote(t *testing.T, client *domain.Client, lines ...domain.LineItem) *domain.Quote {
	t.Helper()
	lines = domain.WithTaxRate(lines, 20)
	q := &domain.Quote{
		CompanyID:    h.company.ID,
		ClientID:     client.ID,
		ClientName:   client.Name,
		CreatedByID:  h.user.ID,
		Status:       domain.QuoteStatusDraft,
		Lines:        lines,
		Totals:       domain.ComputeTotals(lines),
		ValidityDays: domain.DefaultValidityDays,
		PaymentTerms: domain.DefaultPaymentTerms,
	}
	if err := h.store.CreateQuote(context.Background(), q); err != nil {
		t.Fatalf("seeding quote: %v", err)
	}
	return q
}

func (h *harness) seedInvoice(t *testing.T, client *domain.Client, lines ...domain.LineItem) *domain.Invoice {
	t.Helper()
	lines = domain.WithTaxRate(lines, 20)
	inv := &domain.Invoice{
		CompanyID:    h.company.ID,
		ClientID:     client.ID,
		ClientName:   client.Name,
		CreatedByID:  h.user.ID,
		Status:       domain.InvoiceStatusDraft,
		Lines:        lines,
		Totals:       domain.ComputeTotals(lines),
		PaymentTerms: domain.DefaultPaymentTerms,
	}
	if err := h.store.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("seeding invoice: %v", err)
	}
	return inv
}

func (h *harness) seedDraft(t *testing.T, docType chatdomain.DocType, state chatdomain.StepState) *chatdomain.Draft {
	t.Helper()
	d := &chatdomain.Draft{
		OwnerID:   h.user.ID,
		CompanyID: h.company.ID,
		DocType:   docType,
		Status:    chatdomain.DraftActive,
		Title:     "Brouillon de test",
		State:     state,
	}
	if err := h.drafts.Create(context.Background(), d); err != nil {
		t.Fatalf("seeding draft: %v", err)
	}
	return d
}

func (h *harness) activeDraft(t *testing.T, docType chatdomain.DocType) *chatdomain.Draft {
	t.Helper()
	d, err := h.drafts.GetActive(context.Background(), h.user.ID, docType)
	if err != nil {
		t.Fatalf("loading active draft: %v", err)
	}
	return d
}

func (h *harness) state(t *testing.T) *chatdomain.ConversationState {
	t.Helper()
	st, err := h.convs.Get(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	return st
}

func (h *harness) quotes(t *testing.T) []domain.Quote {
	t.Helper()
	qs, err := h.store.ListQuotes(context.Background(), h.company.ID, 0)
	if err != nil {
		t.Fatalf("listing quotes: %v", err)
	}
	return qs
}

func (h *harness) invoices(t *testing.T) []domain.Invoice {
	t.Helper()
	invs, err := h.store.ListInvoices(context.Background(), h.company.ID, 0)
	if err != nil {
		t.Fatalf("listing invoices: %v", err)
	}
	return invs
}

func clientRef(c *domain.Client) chatdomain.ClientRef {
	return chatdomain.ClientRef{ID: c.ID, Name: c.Name}
}

func assertContains(t *testing.T, replies []string, want string) {
	t.Helper()
	for _, r := range replies {
		if strings.Contains(r, want) {
			return
		}
	}
	t.Errorf("expected a reply containing %q, got %q", want, replies)
}

func assertNoDraft(t *testing.T, h *harness, docType chatdomain.DocType) {
	t.Helper()
	if d := h.activeDraft(t, docType); d != nil {
		t.Errorf("expected no active %s draft, got step %s", docType, d.Step())
	}
}
