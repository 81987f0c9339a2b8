package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

var adminTracer = otel.Tracer("service/admin")

// Sweeper runs one expiry pass. *chat/service.Sweeper implements it.
type Sweeper interface {
	SweepOnce(ctx context.Context) (int, error)
}

// ConversationView is what support sees for one phone number.
type ConversationView struct {
	Phone        string                        `json:"phone"`
	User         *domain.User                  `json:"user,omitempty"`
	State        *chatdomain.ConversationState `json:"state,omitempty"`
	QuoteDraft   *chatdomain.Draft             `json:"quote_draft,omitempty"`
	InvoiceDraft *chatdomain.Draft             `json:"invoice_draft,omitempty"`
}

// AdminService backs the /v1/admin endpoints.
type AdminService struct {
	accounts      bizport.AccountStore
	conversations port.ConversationStore
	drafts        port.DraftStore
	sweeper       Sweeper
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewAdminService creates the service.
func NewAdminService(accounts bizport.AccountStore, conversations port.ConversationStore, drafts port.DraftStore,
	sweeper Sweeper, metrics *observability.Metrics, logger *zap.Logger) *AdminService {
	return &AdminService{
		accounts:      accounts,
		conversations: conversations,
		drafts:        drafts,
		sweeper:       sweeper,
		metrics:       metrics,
		logger:        logger,
	}
}

// GetConversation loads the conversation state, the user and both active
// drafts. It returns *domain.ErrNotFound when nothing is known for phone.
func (s *AdminService) GetConversation(ctx context.Context, phone string) (*ConversationView, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.GetConversation")
	defer span.End()

	phone = chatdomain.NormalizePhone(phone)
	span.SetAttributes(attribute.String("phone", observability.MaskPhone(phone)))
	view := &ConversationView{Phone: phone}

	state, err := s.conversations.Get(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	view.State = state

	user, err := s.accounts.GetUserByPhone(ctx, phone)
	var notFound *domain.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		if state == nil {
			return nil, &domain.ErrNotFound{Resource: "conversation", ID: observability.MaskPhone(phone)}
		}
		return view, nil
	case err != nil:
		return nil, fmt.Errorf("get user: %w", err)
	}
	view.User = user

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.drafts.GetActive(gctx, user.ID, chatdomain.DocQuote)
		view.QuoteDraft = d
		return err
	})
	g.Go(func() error {
		d, err := s.drafts.GetActive(gctx, user.ID, chatdomain.DocInvoice)
		view.InvoiceDraft = d
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get active drafts: %w", err)
	}
	return view, nil
}

// ResetConversation drops the conversation state and discards the active
// drafts, so the next message starts from a clean slate. Paused drafts stay.
func (s *AdminService) ResetConversation(ctx context.Context, phone string) error {
	ctx, span := adminTracer.Start(ctx, "AdminService.ResetConversation")
	defer span.End()

	phone = chatdomain.NormalizePhone(phone)
	if err := s.conversations.Delete(ctx, phone); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	user, err := s.accounts.GetUserByPhone(ctx, phone)
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		s.logger.Info("admin: conversation reset", zap.String("phone", observability.MaskPhone(phone)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	discarded := 0
	for _, docType := range []chatdomain.DocType{chatdomain.DocQuote, chatdomain.DocInvoice} {
		d, err := s.drafts.GetActive(ctx, user.ID, docType)
		if err != nil {
			return fmt.Errorf("get active %s draft: %w", docType, err)
		}
		if d == nil {
			continue
		}
		if err := s.drafts.Delete(ctx, d.ID); err != nil {
			return fmt.Errorf("delete draft %s: %w", d.ID, err)
		}
		s.metrics.IncrDraftEvent(string(docType), "discarded")
		discarded++
	}

	s.logger.Info("admin: conversation reset",
		zap.String("phone", observability.MaskPhone(phone)),
		zap.Int("drafts_discarded", discarded),
	)
	return nil
}

// Sweep runs the expiry sweep now.
func (s *AdminService) Sweep(ctx context.Context) (*domain.SweepResult, error) {
	n, err := s.sweeper.SweepOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	return &domain.SweepResult{Removed: n}, nil
}

// Stats returns the bot metrics snapshot.
func (s *AdminService) Stats() *domain.BotStats {
	return s.metrics.GetBotSnapshot()
}
