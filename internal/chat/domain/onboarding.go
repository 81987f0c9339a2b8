package domain

// ============================================================
// Onboarding — cadastro da empresa pelo WhatsApp
// ============================================================

// Steps do onboarding, na ordem em que são percorridos.
//
//	waiting_yes → asking_company_name → asking_address → asking_siren
//	→ asking_vat_regime → asking_secret_phrase → completed
const (
	StepOnboardingWaitingYes   = "onboarding_waiting_yes"
	StepOnboardingCompanyName  = "onboarding_asking_company_name"
	StepOnboardingAddress      = "onboarding_asking_address"
	StepOnboardingSIREN        = "onboarding_asking_siren"
	StepOnboardingVATRegime    = "onboarding_asking_vat_regime"
	StepOnboardingSecretPhrase = "onboarding_asking_secret_phrase"
	StepOnboardingCompleted    = "onboarding_completed"
)

// IsOnboardingStep indica se o step pertence ao cadastro.
func IsOnboardingStep(step string) bool {
	switch step {
	case StepOnboardingWaitingYes, StepOnboardingCompanyName, StepOnboardingAddress,
		StepOnboardingSIREN, StepOnboardingVATRegime, StepOnboardingSecretPhrase:
		return true
	}
	return false
}

// OnboardingData são os campos coletados até agora.
type OnboardingData struct {
	CompanyName string `json:"companyName,omitempty"`
	Address     string `json:"address,omitempty"`
	SIREN       string `json:"siren,omitempty"`
	VATRegime   string `json:"vatRegime,omitempty"`
}
