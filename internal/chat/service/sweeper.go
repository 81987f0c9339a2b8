package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

// Sweeper apaga periodicamente os estados de conversa expirados.
type Sweeper struct {
	store    port.ConversationStore
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper cria o Sweeper. interval <= 0 usa 10 minutos.
func NewSweeper(store port.ConversationStore, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, metrics: metrics, logger: logger, now: time.Now}
}

// Run varre até o ctx ser cancelado.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce faz uma varredura e devolve quantos estados saíram.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := chatTracer.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()

	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.AddSwept(n)
	if n > 0 {
		s.logger.Info("expired conversations swept", zap.Int("count", n))
	}
	return n, nil
}
