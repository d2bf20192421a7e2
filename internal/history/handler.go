package history

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-hcm/atlas-authz/internal/platform/httpx"
)

// Handler exposes the history log over HTTP.
type Handler struct {
	recorder *Recorder
	logger   *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(recorder *Recorder, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// Routes mounts history endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/history", h.query)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.recorder.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("history query", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	var err error
	if raw := q.Get("userId"); raw != "" {
		if f.UserID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return f, err
		}
	}
	if raw := q.Get("actorId"); raw != "" {
		if f.ActorID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return f, err
		}
	}
	f.Action = q.Get("action")
	f.Entity = q.Get("entity")
	if raw := q.Get("from"); raw != "" {
		if f.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return f, err
		}
	}
	if raw := q.Get("to"); raw != "" {
		if f.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return f, err
		}
	}
	if raw := q.Get("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			return f, err
		}
	}
	if raw := q.Get("pageSize"); raw != "" {
		if f.PageSize, err = strconv.Atoi(raw); err != nil {
			return f, err
		}
	}
	return f, nil
}
