package service

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
)

// ============================================================
// DecodeIntent — interpretação da resposta do LLM
// ============================================================
//
// A resposta do LLM é tratada como não confiável. Caminhos, em ordem:
//  1. strict:   o conteúdo inteiro é um JSON válido com "intent"
//  2. lenient:  o JSON está no meio do texto ({...}) ou é recuperado campo a campo
//  3. raw:      nada estruturado, o texto vira a resposta, sem mudar estado
//
// FallbackIntent cobre o caso em que o LLM nem respondeu.

// ErrEmptyClassification indica resposta vazia do LLM.
var ErrEmptyClassification = errors.New("empty classifier output")

type intentWire struct {
	Intent          string       `json:"intent"`
	Confidence      *float64     `json:"confidence"`
	Entities        entitiesWire `json:"entities"`
	Modules         []actionWire `json:"modules"`
	Actions         []actionWire `json:"actions"`
	NaturalResponse string       `json:"naturalResponse"`
	NeedsMoreInfo   bool         `json:"needsMoreInfo"`
	MissingInfo     []string     `json:"missingInfo"`
	ReadyToExecute  *bool        `json:"readyToExecute"`
}

type entitiesWire struct {
	ClientName    *string  `json:"clientName"`
	CompanyName   *string  `json:"companyName"`
	Amount        *float64 `json:"amount"`
	Description   *string  `json:"description"`
	Quantity      *float64 `json:"quantity"`
	DevisNumber   *string  `json:"devisNumber"`
	FactureNumber *string  `json:"factureNumber"`
	SettingName   *string  `json:"settingName"`
	SettingValue  *string  `json:"settingValue"`
}

type actionWire struct {
	Module string         `json:"module"`
	Name   string         `json:"name"`
	Order  int            `json:"order"`
	Params map[string]any `json:"params"`
}

var (
	jsonSpan = regexp.MustCompile(`\{[\s\S]*\}`)

	fieldIntent        = regexp.MustCompile(`"intent"\s*:\s*"([^"]*)"`)
	fieldConfidence    = regexp.MustCompile(`"confidence"\s*:\s*"?([0-9.]+)`)
	fieldNatural       = regexp.MustCompile(`"naturalResponse"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	fieldNeedsMoreInfo = regexp.MustCompile(`"needsMoreInfo"\s*:\s*(true|false)`)
	fieldReady         = regexp.MustCompile(`"readyToExecute"\s*:\s*(true|false)`)
)

// DecodeIntent interpreta o conteúdo devolvido pelo classificador.
func DecodeIntent(content string) (*chatdomain.IntentResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyClassification
	}

	if res, ok := decodeStrict(content); ok {
		res.Mode = chatdomain.DecodeStrict
		return res, nil
	}

	if span := jsonSpan.FindString(content); span != "" {
		if res, ok := decodeStrict(span); ok {
			res.Mode = chatdomain.DecodeLenient
			return res, nil
		}
		if res, ok := scrapeFields(span); ok {
			res.Mode = chatdomain.DecodeLenient
			return res, nil
		}
	}

	return &chatdomain.IntentResult{
		NaturalReply: content,
		Mode:         chatdomain.DecodeRaw,
	}, nil
}

func decodeStrict(s string) (*chatdomain.IntentResult, bool) {
	var w intentWire
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, false
	}
	if strings.TrimSpace(w.Intent) == "" {
		return nil, false
	}

	res := &chatdomain.IntentResult{
		Intent:        normalizeIntent(w.Intent),
		Confidence:    clampConfidence(w.Confidence),
		NaturalReply:  strings.TrimSpace(w.NaturalResponse),
		NeedsMoreInfo: w.NeedsMoreInfo,
		MissingInfo:   w.MissingInfo,
		Entities: chatdomain.Entities{
			ClientName:    w.Entities.ClientName,
			CompanyName:   w.Entities.CompanyName,
			Amount:        positive(w.Entities.Amount),
			Description:   w.Entities.Description,
			Quantity:      positive(w.Entities.Quantity),
			DevisNumber:   w.Entities.DevisNumber,
			FactureNumber: w.Entities.FactureNumber,
			SettingName:   w.Entities.SettingName,
			SettingValue:  w.Entities.SettingValue,
		},
	}
	// strings vazias do LLM ("clientName": "") contam como ausentes
	res.Entities = chatdomain.Entities{}.Merge(res.Entities)
	res.Actions = toActions(append(w.Modules, w.Actions...))
	res.ReadyToExecute = !res.NeedsMoreInfo
	if w.ReadyToExecute != nil {
		res.ReadyToExecute = *w.ReadyToExecute
	}
	return res, true
}

// scrapeFields recupera o mínimo (intent) de um JSON quebrado.
func scrapeFields(s string) (*chatdomain.IntentResult, bool) {
	m := fieldIntent.FindStringSubmatch(s)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil, false
	}
	res := &chatdomain.IntentResult{Intent: normalizeIntent(m[1]), Confidence: 0.5}

	if c := fieldConfidence.FindStringSubmatch(s); c != nil {
		if v, err := strconv.ParseFloat(c[1], 64); err == nil {
			res.Confidence = clampConfidence(&v)
		}
	}
	if n := fieldNatural.FindStringSubmatch(s); n != nil {
		var text string
		if err := json.Unmarshal([]byte(`"`+n[1]+`"`), &text); err == nil {
			res.NaturalReply = strings.TrimSpace(text)
		}
	}
	if n := fieldNeedsMoreInfo.FindStringSubmatch(s); n != nil {
		res.NeedsMoreInfo = n[1] == "true"
	}

	res.Entities = chatdomain.Entities{
		ClientName:    scrapeString(s, "clientName"),
		CompanyName:   scrapeString(s, "companyName"),
		Amount:        positive(scrapeNumber(s, "amount")),
		Description:   scrapeString(s, "description"),
		Quantity:      positive(scrapeNumber(s, "quantity")),
		DevisNumber:   scrapeString(s, "devisNumber"),
		FactureNumber: scrapeString(s, "factureNumber"),
		SettingName:   scrapeString(s, "settingName"),
		SettingValue:  scrapeString(s, "settingValue"),
	}

	res.ReadyToExecute = !res.NeedsMoreInfo
	if r := fieldReady.FindStringSubmatch(s); r != nil {
		res.ReadyToExecute = r[1] == "true"
	}
	return res, true
}

func scrapeString(s, key string) *string {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	var v string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &v); err != nil || strings.TrimSpace(v) == "" {
		return nil
	}
	v = strings.TrimSpace(v)
	return &v
}

// scrapeNumber aceita 900, "900" e "900,50".
func scrapeNumber(s, key string) *float64 {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"?(-?[0-9]+(?:[.,][0-9]+)?)`)
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}

// FallbackIntent é usado quando o classificador falha: regra por palavra-chave,
// confiança 0.5, sempre pedindo mais informação.
func FallbackIntent(text string) *chatdomain.IntentResult {
	lower := strings.ToLower(text)
	intent := chatdomain.IntentChat
	switch {
	case strings.Contains(lower, "facture"):
		intent = chatdomain.IntentCreateInvoice
	case strings.Contains(lower, "devis"):
		intent = chatdomain.IntentCreateQuote
	}
	return &chatdomain.IntentResult{
		Intent:        intent,
		Confidence:    0.5,
		NaturalReply:  MsgUnclear,
		NeedsMoreInfo: true,
		MissingInfo:   []string{"intention claire"},
		Mode:          chatdomain.DecodeFallback,
	}
}

func normalizeIntent(intent string) string {
	i := strings.ToLower(strings.TrimSpace(intent))
	if chatdomain.IsKnownIntent(i) {
		return i
	}
	return chatdomain.IntentUnclear
}

func clampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return 0.5
	}
	return math.Max(0, math.Min(1, *c))
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 || math.IsInf(*v, 0) || math.IsNaN(*v) {
		return nil
	}
	return v
}

func toActions(in []actionWire) []chatdomain.Action {
	out := make([]chatdomain.Action, 0, len(in))
	for _, a := range in {
		name := a.Name
		if name == "" {
			name = a.Module
		}
		if name == "" {
			continue
		}
		out = append(out, chatdomain.Action{Name: name, Order: a.Order, Params: a.Params})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	if len(out) == 0 {
		return nil
	}
	return out
}
