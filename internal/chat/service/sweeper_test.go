package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/service"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/memory"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
)

func TestSweeper_SweepOnceDropsExpiredStates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConversationStore()
	now := time.Now()

	stale := chatdomain.NewConversationState("33600000001", chatdomain.StepIdle, now.Add(-2*time.Hour), time.Hour)
	fresh := chatdomain.NewConversationState("33600000002", chatdomain.StepIdle, now, time.Hour)
	for _, st := range []*chatdomain.ConversationState{stale, fresh} {
		if err := store.Save(ctx, st); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	sweeper := service.NewSweeper(store, time.Minute, observability.NewMetrics(), zap.NewNop())
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept state, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("expected the fresh state to survive, %d left", store.Len())
	}
	if st, _ := store.Get(ctx, "33600000002"); st == nil {
		t.Error("fresh state must still be readable")
	}

	if n, _ := sweeper.SweepOnce(ctx); n != 0 {
		t.Errorf("second sweep must find nothing, got %d", n)
	}
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	sweeper := service.NewSweeper(memory.NewConversationStore(), time.Millisecond, observability.NewMetrics(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return after cancel")
	}
}
