package engine

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-hcm/atlas-authz/internal/platform/httpx"
)

// Handler exposes the evaluation surface over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts evaluation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/permissions/{userID}/effective", h.evaluateAll)
	r.Get("/permissions/{userID}/effective/{code}", h.evaluate)
	r.Get("/permissions/{userID}/explain/{code}", h.explain)
}

func (h *Handler) evaluateAll(w http.ResponseWriter, r *http.Request) {
	userID, at, ok := h.params(w, r)
	if !ok {
		return
	}
	decisions, err := h.service.EvaluateAll(r.Context(), userID, at)
	if err != nil {
		h.logger.Error("evaluate all", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": userID, "permissions": decisions})
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	userID, at, ok := h.params(w, r)
	if !ok {
		return
	}
	decision, err := h.service.Evaluate(r.Context(), userID, chi.URLParam(r, "code"), at)
	if err != nil {
		h.logger.Error("evaluate", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	userID, at, ok := h.params(w, r)
	if !ok {
		return
	}
	node, err := h.service.Explain(r.Context(), userID, chi.URLParam(r, "code"), at)
	if err != nil {
		h.logger.Error("explain", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, node)
}

// params parses the user id and the optional ?at= RFC3339 timestamp. A
// missing `at` means "now".
func (h *Handler) params(w http.ResponseWriter, r *http.Request) (int64, time.Time, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return 0, time.Time{}, false
	}
	var at time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "at must be RFC3339")
			return 0, time.Time{}, false
		}
	}
	return userID, at, true
}
