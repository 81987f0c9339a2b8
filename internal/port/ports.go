// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// AccountStore covers users and their company.
type AccountStore interface {
	// GetUserByPhone returns *domain.ErrNotFound when the phone is unknown.
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
	// CreateUserWithCompany persists both records atomically and fills their IDs.
	CreateUserWithCompany(ctx context.Context, user *domain.User, company *domain.Company) error
	UpdateCompany(ctx context.Context, company *domain.Company) error
	UpdateUser(ctx context.Context, user *domain.User) error
}

// ClientStore covers the company's customers.
type ClientStore interface {
	ListClients(ctx context.Context, companyID string, limit int) ([]domain.Client, error)
	// SearchClients matches names containing query, case-insensitively.
	SearchClients(ctx context.Context, companyID, query string, limit int) ([]domain.Client, error)
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	CreateClient(ctx context.Context, client *domain.Client) error
}

// DocumentStore covers quotes and invoices. Numbers are allocated by the
// store inside the same write as the document.
type DocumentStore interface {
	CreateQuote(ctx context.Context, quote *domain.Quote) error
	GetQuote(ctx context.Context, quoteID string) (*domain.Quote, error)
	GetQuoteByNumber(ctx context.Context, companyID, number string) (*domain.Quote, error)
	ListQuotes(ctx context.Context, companyID string, limit int) ([]domain.Quote, error)
	ListConvertibleQuotes(ctx context.Context, companyID string, limit int) ([]domain.Quote, error)
	MarkQuoteInvoiced(ctx context.Context, quoteID, invoiceID string) error

	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, companyID, number string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, companyID string, limit int) ([]domain.Invoice, error)
	LatestDraftInvoice(ctx context.Context, companyID string) (*domain.Invoice, error)
	// ValidateInvoice flips BROUILLON to VALIDEE. It returns *domain.ErrConflict
	// when the invoice is already validated.
	ValidateInvoice(ctx context.Context, invoiceID, userID string, at time.Time) (*domain.Invoice, error)
	// DeleteDraftInvoice refuses validated invoices with *domain.ErrConflict.
	// A quote converted into the invoice becomes convertible again.
	DeleteDraftInvoice(ctx context.Context, invoiceID string) error
}

// BusinessStore is the Entity Store for the business records.
type BusinessStore interface {
	AccountStore
	ClientStore
	DocumentStore
}
