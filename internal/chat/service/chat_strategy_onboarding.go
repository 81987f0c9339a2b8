package service

// ============================================================
// ONBOARDING — criação da conta pelo WhatsApp
// ============================================================
//
// Fluxo (um step por mensagem, dados acumulados em State.Data.Onboarding):
//
//  1. idle           → boas-vindas, espera "oui"
//  2. waiting_yes    → oui/yes/o abre o cadastro
//  3. company_name   → nome da empresa (mín. 2 caracteres)
//  4. address        → endereço completo
//  5. siren          → 9 dígitos, espaços ignorados
//  6. vat_regime     → número 1-5 ou palavra-chave
//  7. secret_phrase  → mín. 5 caracteres, gravada com bcrypt
//
// No fim, User + Company são criados juntos (ou a empresa provisória é
// completada, quando o usuário já existia) e o cache de usuários é
// invalidado para o próximo turno enxergar a conta nova.

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

const (
	minCompanyNameLength      = 2
	minSecretPhraseLength     = 5
	defaultOnboardingUserName = "Admin"
)

const (
	msgOnboardingWelcome = "👋 Bienvenue sur *FactureDirect* !\n\n" +
		"Je vous aide à créer vos devis et factures directement sur WhatsApp.\n\n" +
		"Souhaitez-vous créer votre compte ? Répondez *OUI* pour commencer."
	msgOnboardingInvalidYes = "Répondez *OUI* pour commencer la création de votre compte."
	msgOnboardingAskName    = "🏢 Quel est le *nom* de votre entreprise ?"
	msgOnboardingErrName    = "❌ Le nom de l'entreprise doit contenir au moins 2 caractères. Veuillez le répéter."
	msgOnboardingAskAddress = "📍 Quelle est l'*adresse complète* de votre entreprise ?"
	msgOnboardingErrAddress = "❌ Je n'ai pas compris l'adresse. Veuillez la répéter."
	msgOnboardingAskSIREN   = "🔢 Quel est le numéro de *SIREN* de votre entreprise ? (9 chiffres)"
	msgOnboardingErrSIREN   = "❌ Le SIREN doit contenir exactement 9 chiffres. Veuillez corriger."
	msgOnboardingAskRegime  = "🧾 Quel est votre *régime TVA* ?\n\n" +
		"1. Assujetti classique (TVA à 20%)\n" +
		"2. Franchise de base (exonéré de TVA)\n" +
		"3. Option TVA (assujetti sur option)\n" +
		"4. Association non lucrative (exonérée de TVA)\n" +
		"5. Assujetti outre-mer (TVA spécifique DOM-TOM)\n\n" +
		"Tapez le *numéro* correspondant."
	msgOnboardingErrRegime = "❌ Régime TVA non reconnu. Tapez un numéro entre 1 et 5."
	msgOnboardingAskPhrase = "🔐 Choisissez une *phrase secrète* (au moins 5 caractères). Elle protégera votre compte."
	msgOnboardingErrPhrase = "❌ La phrase secrète doit contenir au moins 5 caractères. Veuillez corriger."
	msgOnboardingCompleted = "🎉 Félicitations ! Votre compte FactureDirect est créé."
)

var sirenPattern = regexp.MustCompile(`^\d{9}$`)

// regimeChoices segue a ordem do menu de msgOnboardingAskRegime.
var regimeChoices = []string{
	domain.RegimeClassic,
	domain.RegimeFranchise,
	domain.RegimeOption,
	domain.RegimeAssociation,
	domain.RegimeOverseas,
}

// OnboardingStrategy conduz o cadastro de quem ainda não tem conta completa.
type OnboardingStrategy struct {
	store      bizport.AccountStore
	invalidate func(phone string)
	logger     *zap.Logger
}

// NewOnboardingStrategy cria a strategy. invalidate é chamado com o telefone
// quando a conta é criada; pode ser nil.
func NewOnboardingStrategy(store bizport.AccountStore, invalidate func(phone string), logger *zap.Logger) *OnboardingStrategy {
	return &OnboardingStrategy{store: store, invalidate: invalidate, logger: logger}
}

// CanHandle aceita "onboarding".
func (s *OnboardingStrategy) CanHandle(intent string) bool {
	return intent == chatdomain.IntentOnboarding
}

// Handle processa um step do cadastro.
func (s *OnboardingStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	ctx, span := chatTracer.Start(ctx, "OnboardingStrategy.Handle")
	defer span.End()

	st := turn.State
	if st.Data.Onboarding == nil {
		st.Data.Onboarding = &chatdomain.OnboardingData{}
	}
	data := st.Data.Onboarding
	text := strings.TrimSpace(turn.Text)

	switch st.Step {
	case chatdomain.StepOnboardingWaitingYes:
		switch strings.ToLower(text) {
		case "oui", "yes", "o":
			st.Step = chatdomain.StepOnboardingCompanyName
			out.Say(ctx, msgOnboardingAskName)
		default:
			out.Say(ctx, msgOnboardingInvalidYes)
		}

	case chatdomain.StepOnboardingCompanyName:
		if len([]rune(text)) < minCompanyNameLength {
			out.Say(ctx, msgOnboardingErrName)
			return nil
		}
		data.CompanyName = text
		st.Step = chatdomain.StepOnboardingAddress
		out.Say(ctx, msgOnboardingAskAddress)

	case chatdomain.StepOnboardingAddress:
		if len([]rune(text)) < minCompanyNameLength {
			out.Say(ctx, msgOnboardingErrAddress)
			return nil
		}
		data.Address = text
		st.Step = chatdomain.StepOnboardingSIREN
		out.Say(ctx, msgOnboardingAskSIREN)

	case chatdomain.StepOnboardingSIREN:
		siren := strings.Join(strings.Fields(text), "")
		if !sirenPattern.MatchString(siren) {
			out.Say(ctx, msgOnboardingErrSIREN)
			return nil
		}
		data.SIREN = siren
		st.Step = chatdomain.StepOnboardingVATRegime
		out.Say(ctx, msgOnboardingAskRegime)

	case chatdomain.StepOnboardingVATRegime:
		regime, ok := parseRegime(text)
		if !ok {
			out.Say(ctx, msgOnboardingErrRegime)
			return nil
		}
		data.VATRegime = regime
		st.Step = chatdomain.StepOnboardingSecretPhrase
		out.Say(ctx, fmt.Sprintf("✅ Régime : %s.\n\n%s", domain.RegimeLabels[regime], msgOnboardingAskPhrase))

	case chatdomain.StepOnboardingSecretPhrase:
		if len([]rune(text)) < minSecretPhraseLength {
			out.Say(ctx, msgOnboardingErrPhrase)
			return nil
		}
		if err := s.complete(ctx, turn, data, text); err != nil {
			return err
		}
		st.Step = chatdomain.StepIdle
		st.Data.Onboarding = nil
		st.Data.ResetContext()
		out.Say(ctx, msgOnboardingCompleted)
		out.Say(ctx, MsgMenu)

	default:
		// idle, step desconhecido ou sessão expirada: recomeça do zero
		st.Step = chatdomain.StepOnboardingWaitingYes
		st.Data.Onboarding = &chatdomain.OnboardingData{}
		out.Say(ctx, msgOnboardingWelcome)
	}
	return nil
}

// complete grava a conta. A frase secreta nunca sai daqui em claro.
func (s *OnboardingStrategy) complete(ctx context.Context, turn *chatdomain.Turn, data *chatdomain.OnboardingData, phrase string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(phrase), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret phrase: %w", err)
	}
	rate := domain.RegimeDefaultRate(data.VATRegime)

	if turn.User != nil {
		if turn.Company == nil {
			return errors.New("onboarding: user without company record")
		}
		company := *turn.Company
		company.Name = data.CompanyName
		company.Address = data.Address
		company.SIREN = data.SIREN
		company.VATRegime = data.VATRegime
		company.DefaultTaxRate = &rate
		if err := s.store.UpdateCompany(ctx, &company); err != nil {
			return err
		}
		user := *turn.User
		user.SecretPhraseHash = string(hash)
		if user.Role == "" {
			user.Role = domain.RoleOwner
		}
		if err := s.store.UpdateUser(ctx, &user); err != nil {
			return err
		}
		turn.User, turn.Company = &user, &company
	} else {
		company := &domain.Company{
			Name:           data.CompanyName,
			Address:        data.Address,
			SIREN:          data.SIREN,
			VATRegime:      data.VATRegime,
			DefaultTaxRate: &rate,
		}
		user := &domain.User{
			Phone:            turn.Phone,
			Name:             defaultOnboardingUserName,
			Role:             domain.RoleOwner,
			SecretPhraseHash: string(hash),
		}
		if err := s.store.CreateUserWithCompany(ctx, user, company); err != nil {
			return err
		}
		turn.User, turn.Company = user, company
	}

	if s.invalidate != nil {
		s.invalidate(turn.Phone)
	}
	s.logger.Info("onboarding completed",
		zap.String("user_id", turn.User.ID),
		zap.String("company_id", turn.Company.ID),
		zap.String("vat_regime", data.VATRegime),
	)
	return nil
}

// parseRegime aceita o número do menu ou uma palavra-chave.
// A ordem dos testes importa: "assujetti outre-mer" contém "assujetti".
func parseRegime(text string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if n, ok := parseIndex(t); ok {
		if n >= 1 && n <= len(regimeChoices) {
			return regimeChoices[n-1], true
		}
		return "", false
	}
	switch {
	case strings.Contains(t, "outre") || strings.Contains(t, "dom"):
		return domain.RegimeOverseas, true
	case strings.Contains(t, "association"):
		return domain.RegimeAssociation, true
	case strings.Contains(t, "franchise"):
		return domain.RegimeFranchise, true
	case strings.Contains(t, "option"):
		return domain.RegimeOption, true
	case strings.Contains(t, "classique") || strings.Contains(t, "assujetti"):
		return domain.RegimeClassic, true
	}
	return "", false
}
