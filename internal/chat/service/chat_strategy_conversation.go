package service

import (
	"context"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
)

// ConversationStrategy responde às intenções sem ação: greeting, help,
// show_menu, chat, unclear e out_of_scope. Também é a strategy default.
type ConversationStrategy struct{}

// NewConversationStrategy cria a strategy.
func NewConversationStrategy() *ConversationStrategy {
	return &ConversationStrategy{}
}

// CanHandle aceita as intenções conversacionais e show_menu.
func (s *ConversationStrategy) CanHandle(intent string) bool {
	return chatdomain.IsConversational(intent) || intent == chatdomain.IntentShowMenu
}

// Handle escolhe o texto. A resposta natural do classificador vale para
// greeting e chat; menu, ajuda e fora de escopo têm texto fixo.
func (s *ConversationStrategy) Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	reply := ""
	if turn.Intent != nil {
		reply = turn.Intent.NaturalReply
	}

	intent := ""
	if turn.Intent != nil {
		intent = turn.Intent.Intent
	}

	switch intent {
	case chatdomain.IntentShowMenu, chatdomain.IntentHelp:
		out.Say(ctx, MsgMenu)
	case chatdomain.IntentOutOfScope:
		out.Say(ctx, MsgOutOfScope)
	case chatdomain.IntentGreeting:
		if reply == "" {
			reply = MsgGreeting
		}
		out.Say(ctx, reply)
	default:
		if reply == "" {
			reply = MsgUnclear
		}
		out.Say(ctx, reply)
	}
	return nil
}
