package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

// Outbox envia as respostas de um turno na ordem em que são produzidas.
// Uma falha de envio é registrada e contada, nunca interrompe o turno.
type Outbox struct {
	to        string
	messenger port.Messenger
	logger    *zap.Logger
	metrics   *observability.Metrics
	sent      []string
}

// NewOutbox cria o Outbox de um telefone.
func NewOutbox(to string, messenger port.Messenger, logger *zap.Logger, metrics *observability.Metrics) *Outbox {
	return &Outbox{to: to, messenger: messenger, logger: logger, metrics: metrics}
}

// Say envia um texto.
func (o *Outbox) Say(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	o.sent = append(o.sent, text)
	if err := o.messenger.SendText(ctx, o.to, text); err != nil {
		o.metrics.IncrDelivery("text", "error")
		o.logger.Warn("failed to deliver text",
			zap.String("to", observability.MaskPhone(o.to)),
			zap.Error(err),
		)
		return
	}
	o.metrics.IncrDelivery("text", "ok")
}

// SendDocument envia um PDF. O erro volta para quem chamou poder avisar
// o usuário de que o documento existe mas não foi entregue.
func (o *Outbox) SendDocument(ctx context.Context, url, filename, caption string) error {
	if err := o.messenger.SendDocument(ctx, o.to, url, filename, caption); err != nil {
		o.metrics.IncrDelivery("document", "error")
		o.logger.Warn("failed to deliver document",
			zap.String("to", observability.MaskPhone(o.to)),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return err
	}
	o.sent = append(o.sent, caption)
	o.metrics.IncrDelivery("document", "ok")
	return nil
}

// Sent devolve os textos enviados até agora.
func (o *Outbox) Sent() []string {
	return o.sent
}

// Transcript junta os textos do turno para o histórico.
func (o *Outbox) Transcript() string {
	return strings.Join(o.sent, "\n\n")
}
