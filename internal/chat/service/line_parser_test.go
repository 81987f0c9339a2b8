package service_test

import (
	"testing"

	"github.com/boddenberg/facturedirect-bot-go/internal/chat/service"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []domain.LineItem
	}{
		{
			name: "quantity unit and separator",
			text: "10 heures consulting à 90€",
			want: []domain.LineItem{{Description: "consulting", Quantity: 10, UnitPrice: 90}},
		},
		{
			name: "several lines",
			text: "2 jours installation à 450 €, 1 déplacement à 80 €",
			want: []domain.LineItem{
				{Description: "installation", Quantity: 2, UnitPrice: 450},
				{Description: "déplacement", Quantity: 1, UnitPrice: 80},
			},
		},
		{
			name: "x unit and at sign",
			text: "3 x licence @ 49.90 €",
			want: []domain.LineItem{{Description: "licence", Quantity: 3, UnitPrice: 49.9}},
		},
		{
			name: "description and price only",
			text: "Rénovation cuisine 2 500 €",
			want: []domain.LineItem{{Description: "Rénovation cuisine", Quantity: 1, UnitPrice: 2500}},
		},
		{
			name: "colon separator and decimal comma",
			text: "Audit : 1200,50€",
			want: []domain.LineItem{{Description: "Audit", Quantity: 1, UnitPrice: 1200.5}},
		},
		{name: "no price", text: "bonjour", want: nil},
		{name: "zero price", text: "0 heure à 0€", want: nil},
		{name: "empty", text: "   ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service.ParseLines(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d lines, got %+v", len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestFormatMoney(t *testing.T) {
	tests := map[float64]string{
		0:           "0,00 €",
		9.5:         "9,50 €",
		900:         "900,00 €",
		2160:        "2 160,00 €",
		1234567.891: "1 234 567,89 €",
		-45.1:       "-45,10 €",
	}
	for in, want := range tests {
		if got := service.FormatMoney(in); got != want {
			t.Errorf("FormatMoney(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatQuantityAndRate(t *testing.T) {
	if got := service.FormatQuantity(2.5); got != "2,5" {
		t.Errorf("expected 2,5, got %q", got)
	}
	if got := service.FormatQuantity(10); got != "10" {
		t.Errorf("expected 10, got %q", got)
	}
	if got := service.FormatRate(8.5); got != "8,5 %" {
		t.Errorf("expected 8,5 %%, got %q", got)
	}
}
