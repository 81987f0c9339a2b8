package domain_test

import (
	"math"
	"testing"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

func TestComputeTotals(t *testing.T) {
	lines := domain.WithTaxRate([]domain.LineItem{
		{Description: "consulting", Quantity: 10, UnitPrice: 90},
		{Description: "déplacement", Quantity: 1, UnitPrice: 45.5},
	}, 20)

	got := domain.ComputeTotals(lines)
	if math.Abs(got.HT-945.5) > 1e-9 || math.Abs(got.TVA-189.1) > 1e-9 || math.Abs(got.TTC-1134.6) > 1e-9 {
		t.Errorf("unexpected totals %+v", got)
	}

	if zero := domain.ComputeTotals(nil); zero != (domain.Totals{}) {
		t.Errorf("no lines must give zero totals, got %+v", zero)
	}
}

func TestWithTaxRateCopies(t *testing.T) {
	in := []domain.LineItem{{Description: "a", Quantity: 1, UnitPrice: 1, TaxRate: 5.5}}
	out := domain.WithTaxRate(in, 20)
	if out[0].TaxRate != 20 || in[0].TaxRate != 5.5 {
		t.Errorf("input must not be mutated: in=%v out=%v", in[0].TaxRate, out[0].TaxRate)
	}
}

func TestNextNumber(t *testing.T) {
	tests := []struct {
		last string
		want string
	}{
		{"", "DEV-2026-0001"},
		{"DEV-2026-0009", "DEV-2026-0010"},
		{"DEV-2025-0042", "DEV-2026-0001"},
		{"FACT-2026-0003", "DEV-2026-0001"},
		{"DEV-2026-9999", "DEV-2026-10000"},
		{"n'importe quoi", "DEV-2026-0001"},
	}
	for _, tt := range tests {
		if got := domain.NextNumber(domain.QuotePrefix, 2026, tt.last); got != tt.want {
			t.Errorf("NextNumber(%q) = %q, want %q", tt.last, got, tt.want)
		}
	}
}

func TestCompanyTaxRate(t *testing.T) {
	var nilCompany *domain.Company
	if nilCompany.TaxRate() != domain.DefaultTaxRate {
		t.Error("nil company falls back to the default rate")
	}
	zero := 0.0
	c := &domain.Company{Name: "Asso", DefaultTaxRate: &zero}
	if c.TaxRate() != 0 {
		t.Errorf("explicit 0%% must be kept, got %v", c.TaxRate())
	}
}

func TestCompanyIsComplete(t *testing.T) {
	if (&domain.Company{Name: domain.PlaceholderCompanyName}).IsComplete() {
		t.Error("placeholder company is not complete")
	}
	if !(&domain.Company{Name: "Atelier Martin"}).IsComplete() {
		t.Error("named company is complete")
	}
}

func TestRegimeDefaultRate(t *testing.T) {
	tests := map[string]float64{
		domain.RegimeClassic:     20,
		domain.RegimeOption:      20,
		domain.RegimeFranchise:   0,
		domain.RegimeAssociation: 0,
		domain.RegimeOverseas:    8.5,
	}
	for regime, want := range tests {
		if got := domain.RegimeDefaultRate(regime); got != want {
			t.Errorf("%s: expected %v, got %v", regime, want, got)
		}
	}
}

func TestQuoteConvertible(t *testing.T) {
	tests := []struct {
		name string
		q    domain.Quote
		want bool
	}{
		{"draft", domain.Quote{Status: domain.QuoteStatusDraft}, true},
		{"accepted", domain.Quote{Status: domain.QuoteStatusAccepted}, true},
		{"refused", domain.Quote{Status: domain.QuoteStatusRefused}, false},
		{"already invoiced", domain.Quote{Status: domain.QuoteStatusAccepted, InvoiceID: "inv-1"}, false},
	}
	for _, tt := range tests {
		if got := tt.q.Convertible(); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
