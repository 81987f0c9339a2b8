package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	chathandler "github.com/boddenberg/facturedirect-bot-go/internal/chat/handler"
	chatinfra "github.com/boddenberg/facturedirect-bot-go/internal/chat/infra"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	chatservice "github.com/boddenberg/facturedirect-bot-go/internal/chat/service"
	"github.com/boddenberg/facturedirect-bot-go/internal/config"
	"github.com/boddenberg/facturedirect-bot-go/internal/handler"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/memory"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/postgres"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/redis"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/supabase"
	bizport "github.com/boddenberg/facturedirect-bot-go/internal/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("session_backend", cfg.SessionBackend),
		zap.String("groq_model", cfg.GroqModel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("max_concurrent_turns", cfg.MaxConcurrentTurns),
		zap.Duration("turn_timeout", cfg.TurnTimeout),
		zap.Bool("admin_api", cfg.AdminEnabled()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(rootCtx, "facturedirect-bot", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	st, err := openStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open stores", zap.Error(err))
	}
	defer st.close()

	// --- Resilience ---
	retry := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}

	// --- External clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	groqCfg := chatinfra.GroqConfig{
		APIKey:       cfg.GroqAPIKey,
		BaseURL:      cfg.GroqBaseURL,
		Model:        cfg.GroqModel,
		WhisperModel: cfg.GroqWhisperModel,
		Temperature:  cfg.GroqTemperature,
		MaxTokens:    cfg.GroqMaxTokens,
	}
	classifier := chatinfra.NewGroqClassifier(httpClient, groqCfg, resilience.NewCircuitBreaker("groq"), retry)
	transcriber := chatinfra.NewWhisperTranscriber(httpClient, groqCfg, resilience.NewCircuitBreaker("whisper"), retry)

	twilioCfg := chatinfra.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
	}
	messenger := chatinfra.NewTwilioMessenger(twilioCfg, resilience.NewCircuitBreaker("twilio"), retry, logger)
	media := chatinfra.NewTwilioMediaFetcher(httpClient, twilioCfg)

	blobs, err := supabase.NewBlobStore(supabase.Config{
		URL:          cfg.SupabaseURL,
		APIKey:       cfg.SupabaseServiceKey,
		Bucket:       cfg.SupabaseBucket,
		SignedURLTTL: cfg.SignedURLTTL,
	}, resilience.NewCircuitBreaker("supabase-storage"), retry, logger)
	if err != nil {
		logger.Fatal("failed to create blob store", zap.Error(err))
	}

	// --- Bot ---
	bot := chatservice.NewBot(chatservice.Deps{
		Store:         st.business,
		Conversations: st.conversations,
		Drafts:        st.drafts,
		Classifier:    classifier,
		Messenger:     messenger,
		Renderer:      chatinfra.NewPDFRenderer(),
		Blobs:         blobs,
		Metrics:       metrics,
		Logger:        logger,
	}, chatservice.Config{
		HistorySize:   cfg.HistorySize,
		StateTTL:      cfg.StateTTL,
		OnboardingTTL: cfg.OnboardingTTL,
		UserCacheTTL:  cfg.UserCacheTTL,
	})
	defer bot.Close()

	dispatcher := chatservice.NewDispatcher(bot, messenger, media, transcriber, chatservice.DispatcherConfig{
		MaxConcurrent: cfg.MaxConcurrentTurns,
		TurnTimeout:   cfg.TurnTimeout,
	}, metrics, logger)

	sweeper := chatservice.NewSweeper(st.conversations, cfg.SweepInterval, metrics, logger)
	go sweeper.Run(rootCtx)

	// --- HTTP ---
	webhookCfg := chathandler.WebhookConfig{PublicURL: cfg.WebhookPublicURL}
	if cfg.ValidateSignatures {
		webhookCfg.AuthToken = cfg.TwilioAuthToken
	} else {
		logger.Warn("twilio signature validation disabled")
	}
	webhook := chathandler.NewWebhookHandler(dispatcher, webhookCfg, logger)

	var adminSvc *service.AdminService
	var authSvc *service.AuthService
	if cfg.AdminEnabled() {
		adminSvc = service.NewAdminService(st.business, st.conversations, st.drafts, sweeper, metrics, logger)
		authSvc = service.NewAuthService(cfg.JWTSecret, cfg.AdminPasswordHash, cfg.JWTAccessTTL, logger)
		logger.Info("admin API enabled")
	} else {
		logger.Warn("admin API disabled: ADMIN_PASSWORD_HASH or JWT_SECRET not set")
	}

	router := handler.NewRouter(webhook, adminSvc, authSvc, st.checks, metrics, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting webhooks before draining in-flight turns.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Warn("in-flight turns did not finish before the deadline", zap.Error(err))
	}

	logger.Info("server stopped")
}

// stores groups the selected backends and their health probes.
type stores struct {
	business      bizport.BusinessStore
	conversations port.ConversationStore
	drafts        port.DraftStore
	checks        []handler.HealthCheck
	closers       []func() error
}

func (s *stores) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	var db *gorm.DB
	openDB := func() (*gorm.DB, error) {
		if db != nil {
			return db, nil
		}
		var err error
		if db, err = postgres.Open(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		st.checks = append(st.checks, handler.HealthCheck{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		})
		st.closers = append(st.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		return db, nil
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		st.business = postgres.NewBusinessStore(db)
		st.drafts = postgres.NewDraftStore(db)
	default:
		logger.Warn("using in-memory business store: data is lost on restart")
		st.business = memory.NewBusinessStore()
		st.drafts = memory.NewDraftStore()
	}

	switch cfg.SessionBackend {
	case config.BackendPostgres:
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		st.conversations = postgres.NewConversationStore(db)
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		conv := redis.NewConversationStore(client)
		st.conversations = conv
		st.checks = append(st.checks, handler.HealthCheck{Name: "redis", Check: conv.Ping})
		st.closers = append(st.closers, client.Close)
	default:
		st.conversations = memory.NewConversationStore()
	}

	return st, nil
}
