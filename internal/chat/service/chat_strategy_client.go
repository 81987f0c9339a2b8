package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// ClientStrategy trata create_client e search_client.
type ClientStrategy struct {
	executor *Executor
	store    bizport.ClientStore
	logger   *zap.Logger
}

// NewClientStrategy cria a strategy.
func NewClientStrategy(executor *Executor, store bizport.ClientStore, logger *zap.Logger) *ClientStrategy {
	return &ClientStrategy{executor: executor, store: store, logger: logger}
}

// CanHandle aceita create_client e search_client.
func (s *ClientStrategy) CanHandle(intent string) bool {
	return intent == chatdomain.IntentCreateClient || intent == chatdomain.IntentSearchClient
}

// Handle cria ou procura o cliente. Sem nome, pergunta e mantém o contexto.
func (s *ClientStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	ctx, span := chatTracer.Start(ctx, "ClientStrategy.Handle")
	defer span.End()

	e := turn.State.Data.Context.Entities
	if e.ClientName == nil {
		if turn.Intent.NaturalReply != "" {
			out.Say(ctx, turn.Intent.NaturalReply)
		} else {
			out.Say(ctx, "👤 Quel est le nom du client ?")
		}
		return nil
	}
	defer turn.State.Data.ResetContext()

	name := *e.ClientName
	if turn.Intent.Intent == chatdomain.IntentSearchClient {
		return s.search(ctx, turn, out, name)
	}

	existing, err := s.executor.FindExactClient(ctx, turn.Company.ID, name)
	if err != nil {
		return err
	}
	if existing != nil {
		out.Say(ctx, fmt.Sprintf("ℹ️ Le client *%s* existe déjà. Tapez *devis* pour lui faire un devis.", existing.Name))
		return nil
	}

	c, err := s.executor.CreateClient(ctx, turn.Company.ID, name, "")
	if err != nil {
		return err
	}
	out.Say(ctx, fmt.Sprintf("✅ Client *%s* créé. Tapez *devis* ou *facture* pour lui établir un document.", c.Name))
	return nil
}

func (s *ClientStrategy) search(ctx context.Context, turn *chatdomain.Turn, out *Outbox, name string) error {
	found, err := s.store.SearchClients(ctx, turn.Company.ID, name, clientSearchLimit)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		out.Say(ctx, fmt.Sprintf("Aucun client trouvé pour « %s ».", name))
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 %d client(s) trouvé(s) :\n\n", len(found))
	for i, c := range found {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Name)
		if c.Address != "" {
			fmt.Fprintf(&b, " · %s", c.Address)
		}
		b.WriteString("\n")
	}
	out.Say(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}
