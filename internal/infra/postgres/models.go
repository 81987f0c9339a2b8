package postgres

import (
	"time"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

type companyRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	Name           string `gorm:"not null"`
	Address        string
	PostalCode     string
	City           string
	SIREN          string `gorm:"column:siren;size:9"`
	VATNumber      string
	IBAN           string `gorm:"column:iban"`
	BIC            string `gorm:"column:bic"`
	VATRegime      string `gorm:"column:vat_regime"`
	DefaultTaxRate *float64
	LegalNotice    string
	CreatedAt      time.Time
}

func (companyRow) TableName() string { return "companies" }

type userRow struct {
	ID               string `gorm:"primaryKey;size:36"`
	Phone            string `gorm:"uniqueIndex;not null"`
	Name             string
	Role             string
	CompanyID        string `gorm:"index;size:36"`
	SecretPhraseHash string
	CreatedAt        time.Time
}

func (userRow) TableName() string { return "users" }

type clientRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	CompanyID string `gorm:"index;size:36;not null"`
	Name      string `gorm:"not null"`
	Address   string
	SIREN     string `gorm:"column:siren"`
	VATNumber string
	CreatedAt time.Time
}

func (clientRow) TableName() string { return "clients" }

type quoteRow struct {
	ID           string            `gorm:"primaryKey;size:36"`
	Number       string            `gorm:"uniqueIndex:idx_quotes_company_number;not null"`
	CompanyID    string            `gorm:"uniqueIndex:idx_quotes_company_number;size:36;not null"`
	ClientID     string            `gorm:"size:36"`
	ClientName   string
	CreatedByID  string            `gorm:"size:36"`
	Status       string            `gorm:"index"`
	Lines        []domain.LineItem `gorm:"serializer:json"`
	TotalHT      float64
	TotalTVA     float64
	TotalTTC     float64
	ValidityDays int
	PaymentTerms string
	InvoiceID    string `gorm:"size:36"`
	CreatedAt    time.Time
}

func (quoteRow) TableName() string { return "quotes" }

type invoiceRow struct {
	ID            string            `gorm:"primaryKey;size:36"`
	Number        string            `gorm:"uniqueIndex:idx_invoices_company_number;not null"`
	CompanyID     string            `gorm:"uniqueIndex:idx_invoices_company_number;size:36;not null"`
	ClientID      string            `gorm:"size:36"`
	ClientName    string
	QuoteID       string            `gorm:"size:36"`
	CreatedByID   string            `gorm:"size:36"`
	Status        string            `gorm:"index"`
	Lines         []domain.LineItem `gorm:"serializer:json"`
	TotalHT       float64
	TotalTVA      float64
	TotalTTC      float64
	PaymentTerms  string
	IssuedAt      *time.Time
	ValidatedByID string `gorm:"size:36"`
	ValidatedAt   *time.Time
	CreatedAt     time.Time
}

func (invoiceRow) TableName() string { return "invoices" }

// conversationRow mirrors ConversationState; Data holds the JSON document.
type conversationRow struct {
	Phone     string `gorm:"primaryKey"`
	Step      string
	Data      string `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index"`
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (conversationRow) TableName() string { return "conversation_states" }

// draftRow keeps the step-specific payload as {step, data}.
type draftRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"index:idx_drafts_owner_type;size:36;not null"`
	CompanyID string `gorm:"size:36"`
	DocType   string `gorm:"index:idx_drafts_owner_type;not null"`
	Status    string `gorm:"not null"`
	Title     string
	Step      string
	Data      string `gorm:"type:text"`
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (draftRow) TableName() string { return "drafts" }

// --- conversions ---

func companyFromDomain(c *domain.Company) companyRow {
	return companyRow{
		ID: c.ID, Name: c.Name, Address: c.Address, PostalCode: c.PostalCode, City: c.City,
		SIREN: c.SIREN, VATNumber: c.VATNumber, IBAN: c.IBAN, BIC: c.BIC,
		VATRegime: c.VATRegime, DefaultTaxRate: c.DefaultTaxRate, LegalNotice: c.LegalNotice,
		CreatedAt: c.CreatedAt,
	}
}

func (r companyRow) toDomain() *domain.Company {
	return &domain.Company{
		ID: r.ID, Name: r.Name, Address: r.Address, PostalCode: r.PostalCode, City: r.City,
		SIREN: r.SIREN, VATNumber: r.VATNumber, IBAN: r.IBAN, BIC: r.BIC,
		VATRegime: r.VATRegime, DefaultTaxRate: r.DefaultTaxRate, LegalNotice: r.LegalNotice,
		CreatedAt: r.CreatedAt,
	}
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID: r.ID, Phone: r.Phone, Name: r.Name, Role: r.Role, CompanyID: r.CompanyID,
		SecretPhraseHash: r.SecretPhraseHash, CreatedAt: r.CreatedAt,
	}
}

func (r clientRow) toDomain() domain.Client {
	return domain.Client{
		ID: r.ID, CompanyID: r.CompanyID, Name: r.Name, Address: r.Address,
		SIREN: r.SIREN, VATNumber: r.VATNumber, CreatedAt: r.CreatedAt,
	}
}

func quoteFromDomain(q *domain.Quote) quoteRow {
	return quoteRow{
		ID: q.ID, Number: q.Number, CompanyID: q.CompanyID, ClientID: q.ClientID,
		ClientName: q.ClientName, CreatedByID: q.CreatedByID, Status: q.Status, Lines: q.Lines,
		TotalHT: q.Totals.HT, TotalTVA: q.Totals.TVA, TotalTTC: q.Totals.TTC,
		ValidityDays: q.ValidityDays, PaymentTerms: q.PaymentTerms, InvoiceID: q.InvoiceID,
		CreatedAt: q.CreatedAt,
	}
}

func (r quoteRow) toDomain() domain.Quote {
	return domain.Quote{
		ID: r.ID, Number: r.Number, CompanyID: r.CompanyID, ClientID: r.ClientID,
		ClientName: r.ClientName, CreatedByID: r.CreatedByID, Status: r.Status, Lines: r.Lines,
		Totals:       domain.Totals{HT: r.TotalHT, TVA: r.TotalTVA, TTC: r.TotalTTC},
		ValidityDays: r.ValidityDays, PaymentTerms: r.PaymentTerms, InvoiceID: r.InvoiceID,
		CreatedAt: r.CreatedAt,
	}
}

func invoiceFromDomain(inv *domain.Invoice) invoiceRow {
	return invoiceRow{
		ID: inv.ID, Number: inv.Number, CompanyID: inv.CompanyID, ClientID: inv.ClientID,
		ClientName: inv.ClientName, QuoteID: inv.QuoteID, CreatedByID: inv.CreatedByID,
		Status: inv.Status, Lines: inv.Lines,
		TotalHT: inv.Totals.HT, TotalTVA: inv.Totals.TVA, TotalTTC: inv.Totals.TTC,
		PaymentTerms: inv.PaymentTerms, IssuedAt: inv.IssuedAt,
		ValidatedByID: inv.ValidatedByID, ValidatedAt: inv.ValidatedAt, CreatedAt: inv.CreatedAt,
	}
}

func (r invoiceRow) toDomain() domain.Invoice {
	return domain.Invoice{
		ID: r.ID, Number: r.Number, CompanyID: r.CompanyID, ClientID: r.ClientID,
		ClientName: r.ClientName, QuoteID: r.QuoteID, CreatedByID: r.CreatedByID,
		Status: r.Status, Lines: r.Lines,
		Totals:       domain.Totals{HT: r.TotalHT, TVA: r.TotalTVA, TTC: r.TotalTTC},
		PaymentTerms: r.PaymentTerms, IssuedAt: r.IssuedAt,
		ValidatedByID: r.ValidatedByID, ValidatedAt: r.ValidatedAt, CreatedAt: r.CreatedAt,
	}
}
