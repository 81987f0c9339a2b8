package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// SettingsStrategy mostra e altera os parâmetros da empresa.
type SettingsStrategy struct {
	store  bizport.AccountStore
	logger *zap.Logger
}

// NewSettingsStrategy cria a strategy.
func NewSettingsStrategy(store bizport.AccountStore, logger *zap.Logger) *SettingsStrategy {
	return &SettingsStrategy{store: store, logger: logger}
}

// CanHandle aceita "settings".
func (s *SettingsStrategy) CanHandle(intent string) bool {
	return intent == chatdomain.IntentSettings
}

// Handle altera um parâmetro quando nome e valor vieram; senão mostra todos.
func (s *SettingsStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	ctx, span := chatTracer.Start(ctx, "SettingsStrategy.Handle")
	defer span.End()
	defer turn.State.Data.ResetContext()

	e := turn.State.Data.Context.Entities
	if e.SettingName == nil || e.SettingValue == nil {
		out.Say(ctx, settingsSummary(turn.Company))
		return nil
	}

	updated := *turn.Company
	label, err := applySetting(&updated, *e.SettingName, *e.SettingValue)
	if err != nil {
		out.Say(ctx, "❌ "+err.Error())
		return nil
	}
	if err := s.store.UpdateCompany(ctx, &updated); err != nil {
		return err
	}
	*turn.Company = updated

	s.logger.Info("company setting updated",
		zap.String("company_id", updated.ID),
		zap.String("setting", label),
	)
	out.Say(ctx, fmt.Sprintf("✅ %s mis à jour.\n\n%s", label, settingsSummary(&updated)))
	return nil
}

// applySetting altera c e devolve o rótulo do campo. O erro é uma mensagem
// pronta para o usuário.
func applySetting(c *domain.Company, name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch normalizeSettingName(name) {
	case "taux_tva":
		v := strings.TrimSpace(strings.TrimSuffix(strings.ReplaceAll(value, ",", "."), "%"))
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 100 {
			return "", errors.New("Taux de TVA invalide : indiquez un pourcentage entre 0 et 100.")
		}
		c.DefaultTaxRate = &rate
		return "Taux de TVA", nil
	case "iban":
		c.IBAN = strings.ToUpper(strings.Join(strings.Fields(value), ""))
		return "IBAN", nil
	case "bic":
		c.BIC = strings.ToUpper(value)
		return "BIC", nil
	case "adresse":
		c.Address = value
		return "Adresse", nil
	case "nom":
		if len([]rune(value)) < 2 {
			return "", errors.New("Le nom de l'entreprise doit contenir au moins 2 caractères.")
		}
		c.Name = value
		return "Nom de l'entreprise", nil
	case "siren":
		siren := strings.Join(strings.Fields(value), "")
		if !sirenPattern.MatchString(siren) {
			return "", errors.New("Le SIREN doit contenir exactement 9 chiffres.")
		}
		c.SIREN = siren
		return "SIREN", nil
	case "tva_intra":
		c.VATNumber = strings.ToUpper(strings.Join(strings.Fields(value), ""))
		return "N° de TVA intracommunautaire", nil
	}
	return "", errors.New("Paramètre inconnu. Paramètres modifiables : taux de TVA, IBAN, BIC, adresse, nom, SIREN, TVA intracommunautaire.")
}

func normalizeSettingName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	switch n {
	case "taux_tva", "tva", "taux", "taux_de_tva", "tax_rate":
		return "taux_tva"
	case "adresse", "address":
		return "adresse"
	case "nom", "name", "raison_sociale":
		return "nom"
	case "tva_intra", "tva_intracommunautaire", "numero_tva", "vat_number":
		return "tva_intra"
	}
	return n
}

func settingsSummary(c *domain.Company) string {
	orDash := func(s string) string {
		if s == "" {
			return "—"
		}
		return s
	}
	regime := domain.RegimeLabels[c.VATRegime]
	return fmt.Sprintf("⚙️ *Paramètres de %s*\n\n"+
		"Adresse : %s\nSIREN : %s\nTVA intracommunautaire : %s\n"+
		"Régime : %s\nTaux de TVA par défaut : %s\nIBAN : %s\nBIC : %s\n\n"+
		"Pour modifier, écrivez par exemple : _« mets mon IBAN à FR76... »_",
		c.Name, orDash(c.Address), orDash(c.SIREN), orDash(c.VATNumber),
		orDash(regime), FormatRate(c.TaxRate()), orDash(c.IBAN), orDash(c.BIC))
}
