package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ============================================================
// Users & Companies
// ============================================================

// PlaceholderCompanyName marks a company whose onboarding never finished.
// Users attached to it are routed back to onboarding.
const PlaceholderCompanyName = "En cours de création"

// VAT regimes supported by onboarding.
const (
	RegimeClassic     = "ASSUJETTI_CLASSIQUE"
	RegimeFranchise   = "FRANCHISE_BASE"
	RegimeOption      = "OPTION_TVA"
	RegimeAssociation = "ASSOCIATION_NON_LUCRATIVE"
	RegimeOverseas    = "ASSUJETTI_OUTRE_MER"
)

// DefaultTaxRate is used when a company has no default rate configured.
const DefaultTaxRate = 20.0

// RegimeLabels are the user-facing labels of each VAT regime.
var RegimeLabels = map[string]string{
	RegimeClassic:     "assujetti classique (TVA à 20%)",
	RegimeFranchise:   "franchise de base (exonéré de TVA)",
	RegimeOption:      "option TVA (assujetti sur option)",
	RegimeAssociation: "association non lucrative (exonérée de TVA)",
	RegimeOverseas:    "assujetti outre-mer (TVA spécifique DOM-TOM)",
}

// RegimeDefaultRate returns the default tax rate implied by a VAT regime.
func RegimeDefaultRate(regime string) float64 {
	switch regime {
	case RegimeFranchise, RegimeAssociation:
		return 0
	case RegimeOverseas:
		return 8.5
	default:
		return DefaultTaxRate
	}
}

// RoleOwner is given to the user who completed onboarding.
const RoleOwner = "owner"

// User is a WhatsApp user attached to exactly one company.
type User struct {
	ID               string    `json:"id"`
	Phone            string    `json:"phone"` // normalized, no "whatsapp:" nor "+"
	Name             string    `json:"name,omitempty"`
	Role             string    `json:"role"`
	CompanyID        string    `json:"company_id"`
	SecretPhraseHash string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// Company holds the issuer data printed on documents.
type Company struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address,omitempty"`
	PostalCode     string    `json:"postal_code,omitempty"`
	City           string    `json:"city,omitempty"`
	SIREN          string    `json:"siren,omitempty"`
	VATNumber      string    `json:"vat_number,omitempty"` // TVA intracommunautaire
	IBAN           string    `json:"iban,omitempty"`
	BIC            string    `json:"bic,omitempty"`
	VATRegime      string    `json:"vat_regime"`
	DefaultTaxRate *float64  `json:"default_tax_rate,omitempty"`
	LegalNotice    string    `json:"legal_notice,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaxRate returns the company default rate, falling back to DefaultTaxRate.
func (c *Company) TaxRate() float64 {
	if c == nil || c.DefaultTaxRate == nil {
		return DefaultTaxRate
	}
	return *c.DefaultTaxRate
}

// IsComplete reports whether onboarding produced a usable company.
func (c *Company) IsComplete() bool {
	return c != nil && c.Name != "" && c.Name != PlaceholderCompanyName
}

// Client is a customer of the company.
type Client struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	SIREN     string    `json:"siren,omitempty"`
	VATNumber string    `json:"vat_number,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================
// Line items & totals
// ============================================================

// LineItem is one billed line. TaxRate is a percentage (20 = 20%).
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"` // HT
	TaxRate     float64 `json:"tax_rate"`
}

// Total returns quantity × unit price, unrounded.
func (l LineItem) Total() float64 {
	return l.Quantity * l.UnitPrice
}

// Totals are kept unrounded; rounding happens only when formatting.
type Totals struct {
	HT  float64 `json:"total_ht"`
	TVA float64 `json:"total_tva"`
	TTC float64 `json:"total_ttc"`
}

// ComputeTotals sums the lines: HT = Σ q·p, TVA = Σ q·p·rate/100, TTC = HT + TVA.
func ComputeTotals(lines []LineItem) Totals {
	var t Totals
	for _, l := range lines {
		ht := l.Total()
		t.HT += ht
		t.TVA += ht * l.TaxRate / 100
	}
	t.TTC = t.HT + t.TVA
	return t
}

// FormatMoney renders an amount the French way ("1 234,50 €"). It is the
// only place where amounts are rounded.
func FormatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, dec, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	out := b.String() + "," + dec + " €"
	if neg && out != "0,00 €" {
		out = "-" + out
	}
	return out
}

// WithTaxRate returns a copy of lines with every rate set to rate.
func WithTaxRate(lines []LineItem, rate float64) []LineItem {
	out := make([]LineItem, len(lines))
	for i, l := range lines {
		l.TaxRate = rate
		out[i] = l
	}
	return out
}

// ============================================================
// Quotes (devis) & Invoices (factures)
// ============================================================

// Quote statuses.
const (
	QuoteStatusDraft    = "brouillon"
	QuoteStatusSent     = "envoyé"
	QuoteStatusAccepted = "accepté"
	QuoteStatusRefused  = "refusé"
)

// Invoice statuses. VALIDEE is terminal: a validated invoice is never mutated.
const (
	InvoiceStatusDraft     = "BROUILLON"
	InvoiceStatusValidated = "VALIDEE"
)

const (
	DefaultValidityDays = 30
	DefaultPaymentTerms = "30 jours net"
)

// Quote is a devis.
type Quote struct {
	ID           string     `json:"id"`
	Number       string     `json:"number"` // DEV-YYYY-NNNN
	CompanyID    string     `json:"company_id"`
	ClientID     string     `json:"client_id"`
	ClientName   string     `json:"client_name"`
	CreatedByID  string     `json:"created_by_id"`
	Status       string     `json:"status"`
	Lines        []LineItem `json:"lines"`
	Totals       Totals     `json:"totals"`
	ValidityDays int        `json:"validity_days"`
	PaymentTerms string     `json:"payment_terms"`
	InvoiceID    string     `json:"invoice_id,omitempty"` // set once converted
	CreatedAt    time.Time  `json:"created_at"`
}

// Convertible reports whether the quote can still become an invoice.
func (q *Quote) Convertible() bool {
	if q.InvoiceID != "" {
		return false
	}
	switch q.Status {
	case QuoteStatusDraft, QuoteStatusSent, QuoteStatusAccepted:
		return true
	}
	return false
}

// Invoice is a facture.
type Invoice struct {
	ID            string     `json:"id"`
	Number        string     `json:"number"` // FACT-YYYY-NNNN
	CompanyID     string     `json:"company_id"`
	ClientID      string     `json:"client_id"`
	ClientName    string     `json:"client_name"`
	QuoteID       string     `json:"quote_id,omitempty"`
	CreatedByID   string     `json:"created_by_id"`
	Status        string     `json:"status"`
	Lines         []LineItem `json:"lines"`
	Totals        Totals     `json:"totals"`
	PaymentTerms  string     `json:"payment_terms"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	ValidatedByID string     `json:"validated_by_id,omitempty"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsValidated reports whether the invoice reached its final state.
func (i *Invoice) IsValidated() bool {
	return i.Status == InvoiceStatusValidated
}

// ============================================================
// Numbering
// ============================================================

const (
	QuotePrefix   = "DEV"
	InvoicePrefix = "FACT"
)

var numberPattern = regexp.MustCompile(`^([A-Z]+)-(\d{4})-(\d+)$`)

// FormatNumber builds "PREFIX-YYYY-NNNN".
func FormatNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// NumberPrefix returns the "PREFIX-YYYY-" part used to scope the sequence.
func NumberPrefix(prefix string, year int) string {
	return fmt.Sprintf("%s-%d-", prefix, year)
}

// NextNumber returns the number following last (or the first of the year when
// last is empty or does not belong to the same prefix/year).
func NextNumber(prefix string, year int, last string) string {
	seq := 1
	if m := numberPattern.FindStringSubmatch(last); m != nil && m[1] == prefix && m[2] == strconv.Itoa(year) {
		if n, err := strconv.Atoi(m[3]); err == nil {
			seq = n + 1
		}
	}
	return FormatNumber(prefix, year, seq)
}

// ============================================================
// Rendering payload
// ============================================================

// DocumentKind distinguishes the two printable documents.
type DocumentKind string

const (
	KindQuote   DocumentKind = "devis"
	KindInvoice DocumentKind = "facture"
)

// RenderData is everything the PDF renderer needs.
type RenderData struct {
	Kind         DocumentKind `json:"kind"`
	Number       string       `json:"number"`
	Date         time.Time    `json:"date"`
	Validated    bool         `json:"validated"` // invoices only
	Lines        []LineItem   `json:"lines"`
	Totals       Totals       `json:"totals"`
	TaxRate      float64      `json:"tax_rate"`
	PaymentTerms string       `json:"payment_terms"`
	ValidityDays int          `json:"validity_days,omitempty"` // quotes only
	Company      Company      `json:"company"`
	Client       Client       `json:"client"`
}
