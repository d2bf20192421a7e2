package compliance

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlas-hcm/atlas-authz/internal/platform/httpx"
)

// GenerateRequest bounds the report window. Zero values default to the last
// 30 days ending now. WindowDays applies to async runs only.
type GenerateRequest struct {
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	WindowDays int       `json:"windowDays,omitempty"`
}

// ReportEnqueuer hands report generation off to the background worker.
type ReportEnqueuer interface {
	EnqueueComplianceReport(ctx context.Context, windowDays int) (string, error)
}

// Handler exposes report generation and retrieval.
type Handler struct {
	service  *Service
	enqueuer ReportEnqueuer
	logger   *slog.Logger
}

// NewHandler constructs the handler. A nil enqueuer disables async runs.
func NewHandler(service *Service, enqueuer ReportEnqueuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, enqueuer: enqueuer, logger: logger}
}

// Routes mounts compliance endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/compliance/reports", h.generate)
	r.Get("/compliance/reports", h.list)
	r.Get("/compliance/reports/{reportID}", h.get)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	if r.URL.Query().Get("async") == "true" {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Source Unavailable", "background queue not configured")
			return
		}
		taskID, err := h.enqueuer.EnqueueComplianceReport(r.Context(), req.WindowDays)
		if err != nil {
			h.logger.Error("enqueue compliance report", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
		return
	}
	report, err := h.service.Generate(r.Context(), req.From, req.To)
	if err != nil {
		h.logger.Error("generate compliance report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
			return
		}
	}
	reports, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list compliance reports", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reportID must be a UUID")
		return
	}
	report, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
