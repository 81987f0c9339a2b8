package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// Textos enviados ao usuário (francês)
// ============================================================

const (
	MsgGenericError = "Désolé, une erreur technique est survenue. Réessayez dans quelques instants."

	MsgBusy = "⏳ Beaucoup de demandes en ce moment, votre message n'a pas pu être traité. Renvoyez-le dans quelques instants."

	MsgStepFooter = "💡 _Tapez *annuler* pour quitter, *menu* pour le menu, ou *statut* pour voir où vous en êtes._"

	MsgMenu = "📋 *Menu FactureDirect*\n\n" +
		"📝 *devis* : créer un devis\n" +
		"🧾 *facture* : créer une facture\n" +
		"👥 *client* : ajouter ou chercher un client\n" +
		"📂 *mes devis* / *mes factures* : vos derniers documents\n" +
		"✅ *valider* : valider la dernière facture brouillon\n" +
		"✏️ *modifier* : modifier la dernière facture brouillon\n" +
		"🖨️ *imprimer* : recevoir à nouveau le dernier PDF\n" +
		"⚙️ *paramètres* : voir vos paramètres\n\n" +
		"Vous pouvez aussi écrire librement, par exemple : _« Fais un devis pour Dupont, 3 jours de formation à 600€ »_."

	MsgGreeting = "👋 Bonjour ! Que puis-je faire pour vous aujourd'hui ?"

	MsgUnclear = "Je n'ai pas bien compris. Pouvez-vous reformuler votre demande ?"

	MsgOutOfScope = "Je suis spécialisé dans vos devis et factures. Tapez *menu* pour voir ce que je sais faire."

	MsgNothingToCancel = "Aucune création en cours. Tapez *menu* pour voir les options."

	MsgNoListing = "Aucune liste récente. Tapez *mes devis* ou *mes factures* pour afficher vos documents."

	MsgInvalidSelection = "❌ Numéro invalide. Choisissez un numéro de la liste."

	MsgAskNewClientName = "👤 Quel est le *nom* du nouveau client ?"

	MsgInvalidClientName = "❌ Le nom du client doit contenir au moins 2 caractères. Réessayez :"

	MsgAskClientAddress = "📍 Quelle est l'*adresse* du client ?\n\nTapez *ok* si vous ne la connaissez pas."

	MsgAskOtherClientName = "D'accord. Indiquez un autre nom pour le nouveau client :"

	MsgAskConfirmYesNo = "Répondez *oui* ou *non*."

	MsgAskLines = "📦 Indiquez les *lignes* du document, une par ligne. Exemples :\n" +
		"• 10 heures consulting à 90€\n" +
		"• 1 site web 2500€\n" +
		"• 5 jours formation à 600€/jour"

	MsgLinesNotUnderstood = "❌ Je n'ai pas compris les lignes. Indiquez quantité, description et prix, par exemple :\n" +
		"• 10 heures consulting à 90€\n" +
		"• 1 site web 2500€\n" +
		"• 5 jours formation à 600€/jour"

	MsgAskValidity = "📅 Durée de *validité* du devis, en jours ?\n\nTapez *ok* pour 30 jours."

	MsgInvalidValidity = "❌ Indiquez un nombre de jours entre 1 et 365, ou *ok* pour 30 jours."

	MsgAskPaymentTerms = "💳 *Conditions de paiement* ?\n\nTapez *ok* pour « 30 jours net »."

	MsgClientMissing = "❌ Erreur : client introuvable. Le brouillon a été supprimé. Tapez *menu* pour recommencer."

	MsgQuoteMissing = "❌ Erreur : devis introuvable. Le brouillon a été supprimé. Tapez *menu* pour recommencer."

	MsgCorruptedDraft = "⚠️ Ce brouillon était dans un état inconnu, je l'ai supprimé et je recommence."

	MsgNoDraftInvoice = "Aucune facture brouillon. Tapez *facture* pour en créer une."

	MsgNoDocument = "Aucun document pour l'instant. Tapez *devis* ou *facture* pour commencer."

	MsgTranscribing = "🔄 Message vocal reçu, transcription en cours..."

	MsgTranscriptionFailed = "❌ Désolé, je n'ai pas pu transcrire votre message vocal."
)

// ============================================================
// Formatação
// ============================================================

// FormatMoney formata em euros no padrão francês: 1 234,50 €.
func FormatMoney(v float64) string {
	return domain.FormatMoney(v)
}

// FormatQuantity mostra 10 em vez de 10.00 e 2,5 em vez de 2.5.
func FormatQuantity(q float64) string {
	return strings.Replace(strconv.FormatFloat(q, 'f', -1, 64), ".", ",", 1)
}

// FormatRate mostra 20 %, 8,5 %.
func FormatRate(r float64) string {
	return FormatQuantity(r) + " %"
}

// FormatDate usa dd/mm/aaaa.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// formatLines lista as linhas com o total de cada uma.
func formatLines(lines []domain.LineItem) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• %s × %s à %s = %s",
			FormatQuantity(l.Quantity), l.Description, FormatMoney(l.UnitPrice), FormatMoney(l.Total()))
	}
	return b.String()
}

// formatTotals mostra HT / TVA / TTC.
func formatTotals(t domain.Totals, rate float64) string {
	return fmt.Sprintf("Total HT : %s\nTVA (%s) : %s\n*Total TTC : %s*",
		FormatMoney(t.HT), FormatRate(rate), FormatMoney(t.TVA), FormatMoney(t.TTC))
}

// documentRate é a taxa gravada nas linhas; documentos antigos não mudam
// quando a empresa troca a taxa padrão.
func documentRate(lines []domain.LineItem, fallback float64) float64 {
	if len(lines) == 0 {
		return fallback
	}
	return lines[0].TaxRate
}

// withFooter acrescenta o rodapé de navegação aos prompts dos drafts.
func withFooter(text string) string {
	return text + "\n\n" + MsgStepFooter
}

// docLabel devolve "le devis" / "la facture".
func docLabel(t chatdomain.DocType) string {
	if t == chatdomain.DocInvoice {
		return "la facture"
	}
	return "le devis"
}

// docTitle devolve "Devis" / "Facture".
func docTitle(t chatdomain.DocType) string {
	if t == chatdomain.DocInvoice {
		return "Facture"
	}
	return "Devis"
}

func clientListPrompt(t chatdomain.DocType, clients []chatdomain.ClientRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 Pour quel client est %s ?\n\n", docLabel(t))
	for i, c := range clients {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	b.WriteString("\nTapez le numéro du client, ou *0* pour créer un nouveau client.")
	return b.String()
}

func quoteListPrompt(quotes []chatdomain.QuoteRef) string {
	var b strings.Builder
	b.WriteString("📄 Quel devis voulez-vous facturer ?\n\n")
	for i, q := range quotes {
		fmt.Fprintf(&b, "%d. %s · %s · %s\n", i+1, q.Number, q.ClientName, FormatMoney(q.TotalTTC))
	}
	b.WriteString("\nTapez le numéro du devis.")
	return b.String()
}

func choosingSourcePrompt(n int) string {
	return fmt.Sprintf("🧾 Nouvelle facture. Vous avez %d devis non facturé(s).\n\n"+
		"1. Créer la facture à partir d'un devis\n"+
		"2. Créer une nouvelle facture\n\n"+
		"Tapez *1* ou *2*.", n)
}

func choosingDraftPrompt(t chatdomain.DocType, paused []chatdomain.DraftRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏸️ Vous avez %d brouillon(s) de %s en pause :\n\n", len(paused), strings.ToLower(docTitle(t)))
	for i, d := range paused {
		fmt.Fprintf(&b, "%d. %s (%s, modifié le %s)\n", i+1, d.Title, stepLabel(d.Step), FormatDate(d.UpdatedAt))
	}
	b.WriteString("\nTapez le *numéro* pour le reprendre, *nouveau* pour commencer un autre document, ou *supprimer* pour effacer ces brouillons.")
	return b.String()
}

func confirmExistingClientPrompt(existing string) string {
	return fmt.Sprintf("ℹ️ Le client *%s* existe déjà.\n\nVoulez-vous l'utiliser ? Répondez *oui* ou *non*.", existing)
}

func linesSummary(lines []domain.LineItem, rate float64) string {
	totals := domain.ComputeTotals(domain.WithTaxRate(lines, rate))
	return "✅ Lignes enregistrées :\n" + formatLines(lines) + "\n\n" + formatTotals(totals, rate)
}

// stepLabel descreve um step para o comando statut.
func stepLabel(s chatdomain.Step) string {
	switch s {
	case chatdomain.StepChoosingDraft:
		return "choix du brouillon"
	case chatdomain.StepChoosingSource:
		return "choix de la source"
	case chatdomain.StepSelectingQuote:
		return "choix du devis"
	case chatdomain.StepAskingClient:
		return "choix du client"
	case chatdomain.StepAskingNewClientName:
		return "nom du nouveau client"
	case chatdomain.StepAskingNewClientAddr:
		return "adresse du nouveau client"
	case chatdomain.StepConfirmingClient:
		return "confirmation du client"
	case chatdomain.StepAskingLines:
		return "saisie des lignes"
	case chatdomain.StepAskingValidity:
		return "durée de validité"
	case chatdomain.StepAskingPaymentTerms:
		return "conditions de paiement"
	}
	return "étape inconnue"
}

func quoteSummary(q *domain.Quote, rate float64) string {
	return fmt.Sprintf("✅ *Devis %s créé*\n\nClient : %s\n%s\n\n%s\n\nValidité : %d jours\nPaiement : %s",
		q.Number, q.ClientName, formatLines(q.Lines), formatTotals(q.Totals, rate), q.ValidityDays, q.PaymentTerms)
}

func invoiceSummary(inv *domain.Invoice, rate float64) string {
	status := "brouillon"
	if inv.IsValidated() {
		status = "validée"
	}
	head := fmt.Sprintf("✅ *Facture %s créée* (%s)", inv.Number, status)
	if inv.QuoteID != "" {
		head += "\nÀ partir du devis converti."
	}
	return fmt.Sprintf("%s\n\nClient : %s\n%s\n\n%s\n\nPaiement : %s",
		head, inv.ClientName, formatLines(inv.Lines), formatTotals(inv.Totals, rate), inv.PaymentTerms)
}

const (
	msgQuoteNextAction   = "👉 Tapez *facture* pour le convertir en facture, *imprimer* pour recevoir à nouveau le PDF, ou *menu*."
	msgInvoiceNextAction = "👉 Tapez *valider* pour la rendre définitive, *modifier* pour la corriger, *imprimer* pour recevoir à nouveau le PDF, ou *menu*."
)

func deliveryFailedMessage(number string) string {
	return fmt.Sprintf("⚠️ Le document %s est bien enregistré, mais l'envoi du PDF a échoué. Tapez *imprimer* pour réessayer.", number)
}

func creatingMessage(t chatdomain.DocType) string {
	if t == chatdomain.DocInvoice {
		return "⏳ Création de la facture en cours..."
	}
	return "⏳ Création du devis en cours..."
}
