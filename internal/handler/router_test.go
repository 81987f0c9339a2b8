package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	chathandler "github.com/boddenberg/facturedirect-bot-go/internal/chat/handler"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/handler"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/memory"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/service"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(*chatdomain.InboundMessage) {}

type fixedSweeper struct{ n int }

func (s fixedSweeper) SweepOnce(context.Context) (int, error) { return s.n, nil }

func newTestRouter(t *testing.T, checks []handler.HealthCheck) (http.Handler, *memory.ConversationStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	metrics := observability.NewMetrics()
	convs := memory.NewConversationStore()
	admin := service.NewAdminService(memory.NewBusinessStore(), convs, memory.NewDraftStore(), fixedSweeper{n: 2}, metrics, zap.NewNop())
	auth := service.NewAuthService("router-secret", string(hash), time.Hour, zap.NewNop())
	webhook := chathandler.NewWebhookHandler(noopDispatcher{}, chathandler.WebhookConfig{}, zap.NewNop())
	return handler.NewRouter(webhook, admin, auth, checks, metrics, zap.NewNop()), convs
}

func do(t *testing.T, router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/v1/admin/token", `{"password":"admin-pass"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp domain.AdminLoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("login: bad body %v", err)
	}
	return resp.AccessToken
}

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(t, router, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(t, router, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_FailingDependency(t *testing.T) {
	checks := []handler.HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }},
	}
	router := handler.NewRouter(nil, nil, nil, checks, observability.NewMetrics(), zap.NewNop())

	if rec := do(t, router, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/healthz", "", "")
	var status domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || status.Status != "degraded" || len(status.Services) != 2 {
		t.Errorf("unexpected health %d %+v", rec.Code, status)
	}
}

func TestMetrics(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	rec := do(t, router, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	if rec := do(t, router, http.MethodGet, "/webhooks/whatsapp", "", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET webhook: %d %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("From=whatsapp%3A%2B33612345678&Body=menu"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("POST webhook: expected 200, got %d", rec.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, tc := range []struct{ header, name string }{
		{"", "missing"},
		{"garbage", "invalid"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/v1/admin/sweep", "", tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}

	if rec := do(t, router, http.MethodPost, "/v1/admin/token", `{"password":"nope"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/v1/admin/token", `{}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty password: expected 400, got %d", rec.Code)
	}
}

func TestAdmin_Endpoints(t *testing.T) {
	router, convs := newTestRouter(t, nil)
	token := login(t, router)

	if rec := do(t, router, http.MethodGet, "/v1/admin/conversations/33612345678", "", token); rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: expected 404, got %d", rec.Code)
	}

	state := chatdomain.NewConversationState("33612345678", "waiting_yes", time.Now(), time.Hour)
	if err := convs.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := do(t, router, http.MethodGet, "/v1/admin/conversations/33612345678", "", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"waiting_yes"`) {
		t.Errorf("get conversation: %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, router, http.MethodDelete, "/v1/admin/conversations/33612345678", "", token); rec.Code != http.StatusOK {
		t.Errorf("reset: expected 200, got %d", rec.Code)
	}
	if st, _ := convs.Get(context.Background(), "33612345678"); st != nil {
		t.Error("reset must delete the state")
	}

	rec = do(t, router, http.MethodPost, "/v1/admin/sweep", "", token)
	var sweep domain.SweepResult
	if err := json.NewDecoder(rec.Body).Decode(&sweep); err != nil || sweep.Removed != 2 {
		t.Errorf("sweep: %d %+v %v", rec.Code, sweep, err)
	}

	rec = do(t, router, http.MethodGet, "/v1/admin/metrics/bot", "", token)
	var stats domain.BotStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil || rec.Code != http.StatusOK {
		t.Errorf("bot metrics: %d %v", rec.Code, err)
	}
}
