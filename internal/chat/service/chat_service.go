// Package service — chat_service.go implementa o Bot, o roteador de mensagens.
//
// ============================================================
// ARQUITETURA — Strategy Pattern + máquina de drafts
// ============================================================
//
// O Bot recebe (telefone, texto) já sem áudio e decide, em ordem de prioridade:
//  1. Usuário desconhecido ou com empresa incompleta → OnboardingStrategy
//  2. Comando explícito (menu, annuler, valider, statut, modifier, imprimer...)
//  3. Número sozinho sem draft ativo → seleção na última lista mostrada
//  4. Draft ativo → DraftMachine.Continue (devis primeiro, depois facture)
//  5. Classificador (Groq) → Strategy escolhida pela intenção
//
// Qualquer erro é tratado uma única vez, aqui em cima: log + um pedido de
// desculpas genérico. Nenhum texto de erro chega ao usuário.
//
// Strategies disponíveis:
//   - DocumentStrategy: create_devis, create_facture
//   - ClientStrategy: create_client, search_client
//   - RecordsStrategy: listar / ver / imprimir / validar documentos
//   - SettingsStrategy: parâmetros da empresa
//   - ConversationStrategy: greeting, help, chat, unclear... (também é a default)
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/cache"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
)

// chatTracer é o tracer OpenTelemetry para o módulo de chat.
var chatTracer = otel.Tracer("chat/service")

// ============================================================
// ChatStrategy — interface que cada contexto implementa
// ============================================================

// ChatStrategy define o contrato de uma estratégia de processamento.
//
// CanHandle: diz se essa strategy sabe lidar com a intenção detectada
// Handle:    processa o turno e envia as respostas pelo Outbox
type ChatStrategy interface {
	CanHandle(intent string) bool
	Handle(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error
}

// ============================================================
// Bot — orquestrador
// ============================================================

// Config são os parâmetros do Bot.
type Config struct {
	// HistorySize limita o histórico enviado ao classificador
	HistorySize int

	// StateTTL é a validade de uma conversa normal (7 dias)
	StateTTL time.Duration

	// OnboardingTTL é a validade de um cadastro em andamento (24h)
	OnboardingTTL time.Duration

	// UserCacheTTL é quanto tempo um usuário fica em cache
	UserCacheTTL time.Duration
}

// DefaultConfig devolve os valores usados em produção.
func DefaultConfig() Config {
	return Config{
		HistorySize:   DefaultHistorySize,
		StateTTL:      7 * 24 * time.Hour,
		OnboardingTTL: 24 * time.Hour,
		UserCacheTTL:  5 * time.Minute,
	}
}

// Deps são os colaboradores do Bot.
type Deps struct {
	Store         bizport.BusinessStore
	Conversations port.ConversationStore
	Drafts        port.DraftStore
	Classifier    port.Classifier
	Messenger     port.Messenger
	Renderer      port.Renderer
	Blobs         port.BlobStore
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Bot é o serviço principal do chat.
type Bot struct {
	store         bizport.BusinessStore
	conversations port.ConversationStore
	drafts        port.DraftStore
	messenger     port.Messenger

	accumulator *Accumulator
	executor    *Executor
	machine     *DraftMachine
	records     *RecordsStrategy
	onboarding  *OnboardingStrategy
	fallback    ChatStrategy

	// strategies: a primeira que aceita a intenção ganha
	strategies []ChatStrategy

	users   *cache.InMemory[*domain.User]
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
}

// NewBot monta o Bot e suas strategies.
func NewBot(deps Deps, cfg Config) *Bot {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = def.StateTTL
	}
	if cfg.OnboardingTTL <= 0 {
		cfg.OnboardingTTL = def.OnboardingTTL
	}
	if cfg.UserCacheTTL <= 0 {
		cfg.UserCacheTTL = def.UserCacheTTL
	}

	b := &Bot{
		store:         deps.Store,
		conversations: deps.Conversations,
		drafts:        deps.Drafts,
		messenger:     deps.Messenger,
		users:         cache.New[*domain.User](cfg.UserCacheTTL),
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		cfg:           cfg,
		now:           time.Now,
	}

	b.accumulator = NewAccumulator(deps.Classifier, deps.Metrics, deps.Logger, cfg.HistorySize)
	b.executor = NewExecutor(deps.Store, deps.Renderer, deps.Blobs, deps.Metrics, deps.Logger)
	b.machine = NewDraftMachine(deps.Store, deps.Drafts, b.executor, deps.Metrics, deps.Logger)
	b.records = NewRecordsStrategy(deps.Store, b.executor, deps.Logger)
	b.onboarding = NewOnboardingStrategy(deps.Store, b.InvalidateUser, deps.Logger)
	b.fallback = NewConversationStrategy()

	b.strategies = []ChatStrategy{
		NewDocumentStrategy(deps.Store, b.machine, b.executor, deps.Logger),
		NewClientStrategy(b.executor, deps.Store, deps.Logger),
		b.records,
		NewSettingsStrategy(deps.Store, deps.Logger),
		b.fallback,
	}
	return b
}

// Close libera o cache de usuários.
func (b *Bot) Close() {
	b.users.Close()
}

// InvalidateUser tira o usuário do cache (depois do onboarding, por exemplo).
func (b *Bot) InvalidateUser(phone string) {
	b.users.Delete(phone)
}

// activeDrafts são os dois slots independentes de draft ativo.
type activeDrafts struct {
	quote   *chatdomain.Draft
	invoice *chatdomain.Draft
}

func (a activeDrafts) none() bool {
	return a.quote == nil && a.invoice == nil
}

// HandleMessage é o ponto de entrada de um turno.
//
// Fluxo:
//  1. Resolve usuário e empresa (usuário via cache)
//  2. Carrega estado de conversa e drafts ativos em paralelo
//  3. Escolhe a rota (onboarding, comando, seleção, draft, classificação)
//  4. Persiste o estado (ou apaga, quando o turno pediu)
//  5. Erro ou panic → log + MsgGenericError
func (b *Bot) HandleMessage(ctx context.Context, phone, text string) {
	ctx, span := chatTracer.Start(ctx, "Bot.HandleMessage")
	defer span.End()

	start := b.now()
	out := NewOutbox(phone, b.messenger, b.logger, b.metrics)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while handling message",
				zap.String("phone", observability.MaskPhone(phone)),
				zap.Any("panic", r),
			)
			b.metrics.IncrTurn("panic")
			out.Say(ctx, MsgGenericError)
		}
	}()

	route, err := b.handle(ctx, phone, text, out)
	b.metrics.RecordTurnDuration(route, time.Since(start))
	span.SetAttributes(attribute.String("route", route))

	if err != nil {
		var vc *domain.ErrVersionConflict
		if errors.As(err, &vc) {
			b.metrics.IncrVersionConflict(vc.Resource)
		}
		span.RecordError(err)
		b.logger.Error("turn failed",
			zap.String("phone", observability.MaskPhone(phone)),
			zap.String("route", route),
			zap.String("trace_id", trace.SpanContextFromContext(ctx).TraceID().String()),
			zap.Error(err),
		)
		b.metrics.IncrTurn("error")
		out.Say(ctx, MsgGenericError)
		return
	}

	b.metrics.IncrTurn("success")
	b.logger.Info("turn handled",
		zap.String("phone", observability.MaskPhone(phone)),
		zap.String("route", route),
		zap.Int("replies", len(out.Sent())),
		zap.Duration("duration", time.Since(start)),
	)
}

func (b *Bot) handle(ctx context.Context, phone, text string, out *Outbox) (string, error) {
	turn := &chatdomain.Turn{
		Phone: phone,
		Text:  strings.TrimSpace(text),
		Now:   b.now(),
	}

	user, err := b.loadUser(ctx, phone)
	if err != nil {
		return "load", err
	}
	turn.User = user
	if user != nil {
		company, err := b.store.GetCompany(ctx, user.CompanyID)
		var nf *domain.ErrNotFound
		if err != nil && !errors.As(err, &nf) {
			return "load", err
		}
		turn.Company = company
	}
	onboarding := user == nil || !turn.Company.IsComplete()

	var active activeDrafts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := b.conversations.Get(gctx, phone)
		if err != nil {
			return err
		}
		if st == nil {
			st = chatdomain.NewConversationState(phone, chatdomain.StepIdle, turn.Now, b.cfg.StateTTL)
		}
		turn.State = st
		return nil
	})
	if !onboarding {
		g.Go(func() error {
			d, err := b.drafts.GetActive(gctx, user.ID, chatdomain.DocQuote)
			active.quote = d
			return err
		})
		g.Go(func() error {
			d, err := b.drafts.GetActive(gctx, user.ID, chatdomain.DocInvoice)
			active.invoice = d
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "load", err
	}

	route, err := b.route(ctx, turn, out, active, onboarding)
	if perr := b.persist(ctx, turn); perr != nil {
		if err == nil {
			return route, perr
		}
		b.logger.Warn("state not persisted after failed turn", zap.Error(perr))
	}
	return route, err
}

func (b *Bot) route(ctx context.Context, turn *chatdomain.Turn, out *Outbox, active activeDrafts, onboarding bool) (string, error) {
	if onboarding {
		return "onboarding", b.onboarding.Handle(ctx, turn, out)
	}
	if chatdomain.IsOnboardingStep(turn.State.Step) {
		turn.State.Step = chatdomain.StepIdle
		turn.State.Data.Onboarding = nil
	}

	if cmd, ok := b.lookupCommand(turn.Text); ok {
		b.metrics.IncrCommand(cmd.name)
		return "command", cmd.run(ctx, turn, out, active)
	}

	if n, ok := parseIndex(turn.Text); ok && active.none() {
		return "selection", b.records.Select(ctx, turn, out, n)
	}

	switch {
	case active.quote != nil:
		return "draft", b.machine.Continue(ctx, turn, out, active.quote)
	case active.invoice != nil:
		return "draft", b.machine.Continue(ctx, turn, out, active.invoice)
	}

	return "classify", b.classify(ctx, turn, out)
}

// classify é o caminho do classificador: Accumulator + Strategy.
func (b *Bot) classify(ctx context.Context, turn *chatdomain.Turn, out *Outbox) error {
	res := b.accumulator.Classify(ctx, turn)
	turn.Intent = res

	if res.Mode == chatdomain.DecodeRaw {
		out.Say(ctx, res.NaturalReply)
		return nil
	}
	b.accumulator.Apply(turn, res)

	strategy := b.fallback
	for _, s := range b.strategies {
		if s.CanHandle(res.Intent) {
			strategy = s
			break
		}
	}
	b.logger.Debug("delegating to strategy", zap.String("intent", res.Intent))

	err := strategy.Handle(ctx, turn, out)
	b.accumulator.Remember(turn, out.Transcript())
	return err
}

// loadUser devolve nil (sem erro) quando o telefone não está cadastrado.
func (b *Bot) loadUser(ctx context.Context, phone string) (*domain.User, error) {
	user, hit, err := b.users.GetOrLoad(ctx, phone, func(ctx context.Context) (*domain.User, error) {
		return b.store.GetUserByPhone(ctx, phone)
	})
	if hit {
		b.metrics.IncrCacheHit("user")
	} else {
		b.metrics.IncrCacheMiss("user")
	}
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return nil, nil
	}
	return user, err
}

// persist grava o estado com a expiração renovada, ou apaga quando o turno pediu.
func (b *Bot) persist(ctx context.Context, turn *chatdomain.Turn) error {
	if turn.State == nil {
		return nil
	}
	if turn.DropState {
		if turn.State.Version == 0 {
			return nil
		}
		return b.conversations.Delete(ctx, turn.Phone)
	}
	ttl := b.cfg.StateTTL
	if chatdomain.IsOnboardingStep(turn.State.Step) {
		ttl = b.cfg.OnboardingTTL
	}
	turn.State.Touch(turn.Now, ttl)
	return b.conversations.Save(ctx, turn.State)
}
