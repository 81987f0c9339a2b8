package service

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// ParseLines — texto livre → linhas de devis/facture
// ============================================================
//
// Padrões, em ordem de prioridade (o primeiro que gerar ao menos uma linha vence):
//  1. quantidade [unidade] descrição (à|@|pour|:) preço €   → todas as ocorrências
//  2. quantidade [unidade] descrição preço €                → todas as ocorrências
//  3. descrição [(à|@|pour|:)] preço €                      → só a primeira, quantidade 1
//
// Lista vazia significa "perguntar de novo", nunca "zero linhas".

var (
	lineWithSeparator = regexp.MustCompile(
		`(?i)(\d+(?:[.,]\d+)?)\s*(h|heures?|j|jours?|unités?|x)?\s+(.+?)\s+(?:à|@|pour|:)\s*(\d+(?:[\s.,]\d+)?)\s*€`)
	lineWithoutSeparator = regexp.MustCompile(
		`(?i)(\d+(?:[.,]\d+)?)\s*(h|heures?|j|jours?|unités?|x)?\s+(.+?)\s+(\d+(?:[\s.,]\d+)?)\s*€`)
	lineDescriptionPrice = regexp.MustCompile(
		`(?i)^(.+?)\s+(?:(?:à|@|pour|:)\s*)?(\d+(?:[\s.,]\d+)?)\s*€`)

	spaces = regexp.MustCompile(`\s+`)
)

// ParseLines extrai as linhas de um texto. TaxRate fica zerado: quem aplica
// a taxa é o draft, com a taxa padrão da empresa.
func ParseLines(text string) []domain.LineItem {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if lines := parseAll(lineWithSeparator, text); len(lines) > 0 {
		return lines
	}
	if lines := parseAll(lineWithoutSeparator, text); len(lines) > 0 {
		return lines
	}

	m := lineDescriptionPrice.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	price, ok := parseAmount(m[2])
	desc := cleanDescription(m[1])
	if !ok || desc == "" {
		return nil
	}
	return []domain.LineItem{{Description: desc, Quantity: 1, UnitPrice: price}}
}

func parseAll(re *regexp.Regexp, text string) []domain.LineItem {
	var out []domain.LineItem
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		qty, okQ := parseAmount(m[1])
		price, okP := parseAmount(m[4])
		desc := cleanDescription(m[3])
		if !okQ || !okP || desc == "" {
			continue
		}
		out = append(out, domain.LineItem{Description: desc, Quantity: qty, UnitPrice: price})
	}
	return out
}

// parseAmount aceita "2 500", "90,50" e "90.50". Rejeita zero, negativos e não finitos.
func parseAmount(raw string) (float64, bool) {
	s := spaces.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "•-*,;")
	return strings.TrimSpace(s)
}
