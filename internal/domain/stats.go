package domain

// BotStats is the snapshot served by the admin metrics endpoint.
type BotStats struct {
	TotalTurns       int64            `json:"total_turns"`
	FailedTurns      int64            `json:"failed_turns"`
	ErrorRate        float64          `json:"error_rate"`
	DecodeModes      map[string]int64 `json:"decode_modes"`
	FallbackRate     float64          `json:"fallback_rate"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	DraftsStarted    int64            `json:"drafts_started"`
	DraftsCompleted  int64            `json:"drafts_completed"`
	FailedDeliveries int64            `json:"failed_deliveries"`
	CacheHitRate     float64          `json:"cache_hit_rate"`
	Period           string           `json:"period"`
}
