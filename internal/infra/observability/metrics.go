package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	turnDuration     *prometheus.HistogramVec
	turnsTotal       *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	tokensUsed       *prometheus.CounterVec
	intentDecodes    *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	draftEvents      *prometheus.CounterVec
	commands         *prometheus.CounterVec
	versionConflicts *prometheus.CounterVec
	sweptStates      prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_turn_duration_seconds",
				Help:    "Duration of a conversation turn by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_turns_total",
				Help: "Total conversation turns by outcome.",
			},
			[]string{"outcome"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		intentDecodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_intent_decodes_total",
				Help: "Classifier outputs by decode path (strict, lenient, raw, fallback).",
			},
			[]string{"mode"},
		),
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_deliveries_total",
				Help: "Outbound WhatsApp messages by kind and status.",
			},
			[]string{"kind", "status"},
		),
		draftEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_draft_events_total",
				Help: "Draft lifecycle events.",
			},
			[]string{"doc_type", "event"},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_commands_total",
				Help: "Explicit commands executed.",
			},
			[]string{"command"},
		),
		versionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_version_conflicts_total",
				Help: "Stale writes rejected by optimistic locking.",
			},
			[]string{"resource"},
		),
		sweptStates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_swept_conversations_total",
				Help: "Expired conversation states removed by the sweeper.",
			},
		),
	}
}

// RecordTurnDuration records how long a turn took on a given route.
func (m *Metrics) RecordTurnDuration(route string, d time.Duration) {
	m.turnDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncrTurn increments the turn counter with an outcome label.
func (m *Metrics) IncrTurn(outcome string) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrIntentDecode counts how a classifier output was understood.
func (m *Metrics) IncrIntentDecode(mode string) {
	m.intentDecodes.WithLabelValues(mode).Inc()
}

// IncrDelivery counts an outbound message ("text" or "document").
func (m *Metrics) IncrDelivery(kind, status string) {
	m.deliveries.WithLabelValues(kind, status).Inc()
}

// IncrDraftEvent counts draft lifecycle events (started, completed, ...).
func (m *Metrics) IncrDraftEvent(docType, event string) {
	m.draftEvents.WithLabelValues(docType, event).Inc()
}

// IncrCommand counts an explicit command.
func (m *Metrics) IncrCommand(command string) {
	m.commands.WithLabelValues(command).Inc()
}

// IncrVersionConflict counts a rejected stale write.
func (m *Metrics) IncrVersionConflict(resource string) {
	m.versionConflicts.WithLabelValues(resource).Inc()
}

// AddSwept adds n removed conversation states.
func (m *Metrics) AddSwept(n int) {
	m.sweptStates.Add(float64(n))
}

// GetBotSnapshot returns a snapshot of bot metrics suitable for the
// GET /v1/admin/metrics/bot endpoint.
func (m *Metrics) GetBotSnapshot() *domain.BotStats {
	success := getCounterValue(m.turnsTotal, "success")
	failed := getCounterValue(m.turnsTotal, "error") + getCounterValue(m.turnsTotal, "panic")
	total := success + failed

	decodes := map[string]int64{}
	var decodeTotal, degraded float64
	for _, mode := range []string{"strict", "lenient", "raw", "fallback"} {
		v := getCounterValue(m.intentDecodes, mode)
		decodes[mode] = int64(v)
		decodeTotal += v
		if mode != "strict" {
			degraded += v
		}
	}

	hits := getCounterValue(m.cacheHits, "user")
	misses := getCounterValue(m.cacheMisses, "user")

	stats := &domain.BotStats{
		TotalTurns:       int64(total),
		FailedTurns:      int64(failed),
		DecodeModes:      decodes,
		PromptTokens:     int64(getCounterValue(m.tokensUsed, "prompt")),
		CompletionTokens: int64(getCounterValue(m.tokensUsed, "completion")),
		DraftsStarted: int64(getCounterValue(m.draftEvents, "devis", "started") +
			getCounterValue(m.draftEvents, "facture", "started")),
		DraftsCompleted: int64(getCounterValue(m.draftEvents, "devis", "completed") +
			getCounterValue(m.draftEvents, "facture", "completed")),
		FailedDeliveries: int64(getCounterValue(m.deliveries, "text", "error") +
			getCounterValue(m.deliveries, "document", "error")),
		Period: "all_time",
	}
	if total > 0 {
		stats.ErrorRate = failed / total
	}
	if decodeTotal > 0 {
		stats.FallbackRate = degraded / decodeTotal
	}
	if hits+misses > 0 {
		stats.CacheHitRate = hits / (hits + misses)
	}
	return stats
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
