package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/service"
)

// ============================================================
// Admin — POST /v1/admin/token
// ============================================================

func adminLoginHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.AdminLogin")
		defer span.End()

		var req domain.AdminLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Password == "" {
			writeError(w, http.StatusBadRequest, "password is required")
			return
		}

		resp, err := authSvc.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Admin — conversations
// ============================================================

// GET /v1/admin/conversations/{phone}
func getConversationHandler(adminSvc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetConversation")
		defer span.End()

		phone := chi.URLParam(r, "phone")
		span.SetAttributes(attribute.String("phone", observability.MaskPhone(phone)))

		view, err := adminSvc.GetConversation(ctx, phone)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// DELETE /v1/admin/conversations/{phone}
func resetConversationHandler(adminSvc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.ResetConversation")
		defer span.End()

		phone := chi.URLParam(r, "phone")
		if err := adminSvc.ResetConversation(ctx, phone); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("admin: conversation reset requested",
			zap.String("by", SubjectFromContext(ctx)),
			zap.String("phone", observability.MaskPhone(phone)),
		)
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "conversation reset"})
	}
}

// ============================================================
// Admin — maintenance & metrics
// ============================================================

// POST /v1/admin/sweep
func sweepHandler(adminSvc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := adminSvc.Sweep(r.Context())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /v1/admin/metrics/bot
func botMetricsHandler(adminSvc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, adminSvc.Stats())
	}
}
