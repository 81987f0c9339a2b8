package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// BusinessStore implements port.BusinessStore in memory.
type BusinessStore struct {
	mu        sync.RWMutex
	users     map[string]*domain.User // by phone
	companies map[string]*domain.Company
	clients   map[string]*domain.Client
	quotes    map[string]*domain.Quote
	invoices  map[string]*domain.Invoice
	now       func() time.Time
}

// NewBusinessStore creates an empty store.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{
		users:     make(map[string]*domain.User),
		companies: make(map[string]*domain.Company),
		clients:   make(map[string]*domain.Client),
		quotes:    make(map[string]*domain.Quote),
		invoices:  make(map[string]*domain.Invoice),
		now:       time.Now,
	}
}

// --- Accounts ---

func (s *BusinessStore) GetUserByPhone(_ context.Context, phone string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[phone]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: phone}
	}
	cp := *u
	return &cp, nil
}

func (s *BusinessStore) GetCompany(_ context.Context, companyID string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[companyID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "company", ID: companyID}
	}
	cp := *c
	return &cp, nil
}

func (s *BusinessStore) CreateUserWithCompany(_ context.Context, user *domain.User, company *domain.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Phone]; exists {
		return &domain.ErrConflict{Message: "user already exists"}
	}
	now := s.now()
	company.ID = uuid.New().String()
	company.CreatedAt = now
	user.ID = uuid.New().String()
	user.CompanyID = company.ID
	user.CreatedAt = now

	c, u := *company, *user
	s.companies[c.ID] = &c
	s.users[u.Phone] = &u
	return nil
}

func (s *BusinessStore) UpdateCompany(_ context.Context, company *domain.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[company.ID]; !ok {
		return &domain.ErrNotFound{Resource: "company", ID: company.ID}
	}
	c := *company
	s.companies[c.ID] = &c
	return nil
}

func (s *BusinessStore) UpdateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Phone]; !ok {
		return &domain.ErrNotFound{Resource: "user", ID: user.Phone}
	}
	u := *user
	s.users[u.Phone] = &u
	return nil
}

// --- Clients ---

func (s *BusinessStore) ListClients(_ context.Context, companyID string, limit int) ([]domain.Client, error) {
	return s.filterClients(companyID, limit, func(*domain.Client) bool { return true }), nil
}

func (s *BusinessStore) SearchClients(_ context.Context, companyID, query string, limit int) ([]domain.Client, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return s.filterClients(companyID, limit, func(c *domain.Client) bool {
		return strings.Contains(strings.ToLower(c.Name), q)
	}), nil
}

func (s *BusinessStore) filterClients(companyID string, limit int, keep func(*domain.Client) bool) []domain.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Client
	for _, c := range s.clients {
		if c.CompanyID == companyID && keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *BusinessStore) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "client", ID: clientID}
	}
	cp := *c
	return &cp, nil
}

func (s *BusinessStore) CreateClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	client.ID = uuid.New().String()
	client.CreatedAt = s.now()
	c := *client
	s.clients[c.ID] = &c
	return nil
}

// DeleteClient exists for tests that simulate a client removed mid-flow.
func (s *BusinessStore) DeleteClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
}

// --- Quotes ---

func (s *BusinessStore) CreateQuote(_ context.Context, quote *domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	quote.ID = uuid.New().String()
	quote.CreatedAt = now
	quote.Number = s.nextNumberLocked(domain.QuotePrefix, quote.CompanyID, now.Year())
	q := cloneQuote(quote)
	s.quotes[q.ID] = q
	return nil
}

func (s *BusinessStore) GetQuote(_ context.Context, quoteID string) (*domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "quote", ID: quoteID}
	}
	return cloneQuote(q), nil
}

func (s *BusinessStore) GetQuoteByNumber(_ context.Context, companyID, number string) (*domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quotes {
		if q.CompanyID == companyID && strings.EqualFold(q.Number, number) {
			return cloneQuote(q), nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "quote", ID: number}
}

func (s *BusinessStore) ListQuotes(_ context.Context, companyID string, limit int) ([]domain.Quote, error) {
	return s.filterQuotes(companyID, limit, func(*domain.Quote) bool { return true }), nil
}

func (s *BusinessStore) ListConvertibleQuotes(_ context.Context, companyID string, limit int) ([]domain.Quote, error) {
	return s.filterQuotes(companyID, limit, (*domain.Quote).Convertible), nil
}

func (s *BusinessStore) filterQuotes(companyID string, limit int, keep func(*domain.Quote) bool) []domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Quote
	for _, q := range s.quotes {
		if q.CompanyID == companyID && keep(q) {
			out = append(out, *cloneQuote(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *BusinessStore) MarkQuoteInvoiced(_ context.Context, quoteID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return &domain.ErrNotFound{Resource: "quote", ID: quoteID}
	}
	q.Status = domain.QuoteStatusAccepted
	q.InvoiceID = invoiceID
	return nil
}

// --- Invoices ---

func (s *BusinessStore) CreateInvoice(_ context.Context, invoice *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	invoice.ID = uuid.New().String()
	invoice.CreatedAt = now
	invoice.Number = s.nextNumberLocked(domain.InvoicePrefix, invoice.CompanyID, now.Year())
	inv := cloneInvoice(invoice)
	s.invoices[inv.ID] = inv
	return nil
}

func (s *BusinessStore) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	return cloneInvoice(inv), nil
}

func (s *BusinessStore) GetInvoiceByNumber(_ context.Context, companyID, number string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID && strings.EqualFold(inv.Number, number) {
			return cloneInvoice(inv), nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "invoice", ID: number}
}

func (s *BusinessStore) ListInvoices(_ context.Context, companyID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Invoice
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BusinessStore) LatestDraftInvoice(_ context.Context, companyID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Invoice
	for _, inv := range s.invoices {
		if inv.CompanyID != companyID || inv.Status != domain.InvoiceStatusDraft {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) ||
			(inv.CreatedAt.Equal(latest.CreatedAt) && inv.Number > latest.Number) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, &domain.ErrNotFound{Resource: "draft invoice", ID: companyID}
	}
	return cloneInvoice(latest), nil
}

func (s *BusinessStore) ValidateInvoice(_ context.Context, invoiceID, userID string, at time.Time) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	if inv.IsValidated() {
		return nil, &domain.ErrConflict{Message: "invoice " + inv.Number + " is already validated"}
	}
	inv.Status = domain.InvoiceStatusValidated
	inv.IssuedAt = &at
	inv.ValidatedAt = &at
	inv.ValidatedByID = userID
	return cloneInvoice(inv), nil
}

func (s *BusinessStore) DeleteDraftInvoice(_ context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	if inv.IsValidated() {
		return &domain.ErrConflict{Message: "invoice " + inv.Number + " is validated and cannot be deleted"}
	}
	delete(s.invoices, invoiceID)
	if q, ok := s.quotes[inv.QuoteID]; ok && q.InvoiceID == invoiceID {
		q.InvoiceID = ""
	}
	return nil
}

// nextNumberLocked scans the documents of the company for the highest number
// of the year. Callers hold the write lock.
func (s *BusinessStore) nextNumberLocked(prefix, companyID string, year int) string {
	scope := domain.NumberPrefix(prefix, year)
	last := ""
	consider := func(number string) {
		if strings.HasPrefix(number, scope) && number > last {
			last = number
		}
	}
	if prefix == domain.QuotePrefix {
		for _, q := range s.quotes {
			if q.CompanyID == companyID {
				consider(q.Number)
			}
		}
	} else {
		for _, inv := range s.invoices {
			if inv.CompanyID == companyID {
				consider(inv.Number)
			}
		}
	}
	return domain.NextNumber(prefix, year, last)
}

func cloneQuote(q *domain.Quote) *domain.Quote {
	cp := *q
	cp.Lines = append([]domain.LineItem(nil), q.Lines...)
	return &cp
}

func cloneInvoice(inv *domain.Invoice) *domain.Invoice {
	cp := *inv
	cp.Lines = append([]domain.LineItem(nil), inv.Lines...)
	if inv.IssuedAt != nil {
		t := *inv.IssuedAt
		cp.IssuedAt = &t
	}
	if inv.ValidatedAt != nil {
		t := *inv.ValidatedAt
		cp.ValidatedAt = &t
	}
	return &cp
}
