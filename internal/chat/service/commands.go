package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ============================================================
// Comandos explícitos
// ============================================================
//
// Comparação exata, sem diferenciar maiúsculas, depois de tirar espaços e a
// pontuação final ("Où en suis-je ?" → "où en suis-je").
// Comandos vencem qualquer draft ativo.

type command struct {
	name string
	run  func(ctx context.Context, turn *chatdomain.Turn, out *Outbox, active activeDrafts) error
}

func (b *Bot) lookupCommand(text string) (command, bool) {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.TrimSpace(strings.TrimRight(key, "?!. "))
	key = strings.Join(strings.Fields(key), " ")

	switch key {
	case "menu", "/menu":
		return command{"menu", b.cmdMenu}, true
	case "annuler", "stop", "quitter", "abandonner":
		return command{"cancel", b.cmdCancel}, true
	case "valider":
		return command{"validate", b.cmdValidate}, true
	case "resume", "reprendre", "statut", "où en suis-je", "ou en suis-je":
		return command{"status", b.cmdStatus}, true
	case "modifier":
		return command{"edit", b.cmdEdit}, true
	case "imprimer", "pdf":
		return command{"print", b.cmdPrint}, true
	case "mes devis", "liste devis", "/devis":
		return command{"list_devis", b.cmdListQuotes}, true
	case "mes factures", "liste factures", "/factures":
		return command{"list_factures", b.cmdListInvoices}, true
	case "paramètres", "parametres", "/parametres":
		return command{"settings", b.cmdSettings}, true
	}
	return command{}, false
}

// cmdMenu apaga os drafts ativos e mostra o menu.
func (b *Bot) cmdMenu(ctx context.Context, turn *chatdomain.Turn, out *Outbox, active activeDrafts) error {
	if _, err := b.machine.Cancel(ctx, active.quote, active.invoice); err != nil {
		return err
	}
	turn.DropState = true
	out.Say(ctx, MsgMenu)
	return nil
}

// cmdCancel apaga os drafts ativos. Drafts pausados ficam.
func (b *Bot) cmdCancel(ctx context.Context, turn *chatdomain.Turn, out *Outbox, active activeDrafts) error {
	n, err := b.machine.Cancel(ctx, active.quote, active.invoice)
	if err != nil {
		return err
	}
	turn.DropState = true
	if n == 0 {
		out.Say(ctx, MsgNothingToCancel)
		return nil
	}
	out.Say(ctx, "❌ Création annulée. Tapez *menu* pour voir les options.")
	return nil
}

func (b *Bot) cmdValidate(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	return b.records.ValidateLatest(ctx, turn, out)
}

// cmdStatus descreve os drafts ativos e conta os pausados.
func (b *Bot) cmdStatus(ctx context.Context, turn *chatdomain.Turn, out *Outbox, active activeDrafts) error {
	var parts []string
	for _, d := range []*chatdomain.Draft{active.quote, active.invoice} {
		if d != nil {
			parts = append(parts, b.machine.Status(d, turn.Company))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "Aucune création en cours.")
	}

	paused, err := b.machine.CountPaused(ctx, turn.User.ID)
	if err != nil {
		return err
	}
	if paused > 0 {
		parts = append(parts, fmt.Sprintf("⏸️ %d brouillon(s) en pause. Tapez *devis* ou *facture* pour les retrouver.", paused))
	}
	out.Say(ctx, withFooter(strings.Join(parts, "\n\n")))
	return nil
}

// cmdEdit apaga a última facture BROUILLON e reabre um draft com o mesmo cliente.
func (b *Bot) cmdEdit(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	inv, err := b.store.LatestDraftInvoice(ctx, turn.Company.ID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		out.Say(ctx, MsgNoDraftInvoice)
		return nil
	}
	if err != nil {
		return err
	}

	err = b.executor.ReopenInvoice(ctx, inv)
	var conflict *domain.ErrConflict
	if errors.As(err, &conflict) {
		out.Say(ctx, fmt.Sprintf("🔒 La facture %s est validée et ne peut plus être modifiée.", inv.Number))
		return nil
	}
	if err != nil {
		return err
	}

	turn.State.Data.ResetContext()
	out.Say(ctx, fmt.Sprintf("✏️ Facture %s supprimée. Saisissez à nouveau ses lignes.", inv.Number))

	st := chatdomain.AskingLines{Client: chatdomain.ClientRef{ID: inv.ClientID, Name: inv.ClientName}}
	if inv.QuoteID != "" {
		if q, err := b.store.GetQuote(ctx, inv.QuoteID); err == nil && q.Convertible() {
			st.QuoteID, st.QuoteNumber = q.ID, q.Number
		}
	}
	return b.machine.StartAtLines(ctx, turn, out, chatdomain.DocInvoice, st)
}

func (b *Bot) cmdPrint(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	return b.records.PrintLatest(ctx, turn, out)
}

func (b *Bot) cmdListQuotes(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	return b.records.ListQuotes(ctx, turn, out)
}

func (b *Bot) cmdListInvoices(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	return b.records.ListInvoices(ctx, turn, out)
}

func (b *Bot) cmdSettings(ctx context.Context, turn *chatdomain.Turn, out *Outbox, _ activeDrafts) error {
	out.Say(ctx, settingsSummary(turn.Company))
	return nil
}
