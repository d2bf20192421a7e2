package batch

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-hcm/atlas-authz/internal/platform/httpx"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// SubmitRequest is the POST body for both validation and execution.
type SubmitRequest struct {
	Operations []AssignmentOperation `json:"operations"`
	BatchSize  int                   `json:"batchSize,omitempty"`
	FailFast   bool                  `json:"failFast,omitempty"`
}

// Handler exposes batch validation and execution over HTTP.
type Handler struct {
	validator *Validator
	executor  *Executor
	logger    *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(validator *Validator, executor *Executor, logger *slog.Logger) *Handler {
	return &Handler{validator: validator, executor: executor, logger: logger}
}

// Routes mounts batch endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/batches/validate", h.validate)
	r.Post("/batches", h.submit)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.validator.Validate(r.Context(), req.Operations)
	if err != nil {
		h.logger.Error("batch validate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// submit validates and executes a batch. With ?stream=true the response is
// newline-delimited JSON: one progress event per committed chunk, then a final
// result event. Without it a single JSON result is returned when done.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	opts := Options{
		BatchSize: req.BatchSize,
		FailFast:  req.FailFast,
		ActorID:   shared.ActorID(r.Context()),
	}

	if r.URL.Query().Get("stream") == "true" {
		h.stream(w, r, req, opts)
		return
	}

	result, validation, err := h.executor.Execute(r.Context(), req.Operations, opts)
	if err != nil {
		h.logger.Error("batch execute", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !validation.Valid {
		httpx.JSON(w, http.StatusUnprocessableEntity, validation)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, req SubmitRequest, opts Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusNotImplemented, "Streaming Unsupported", "response writer cannot stream")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	opts.OnProgress = func(p Progress) {
		_ = enc.Encode(map[string]any{"event": "progress", "progress": p})
		flusher.Flush()
	}

	result, validation, err := h.executor.Execute(r.Context(), req.Operations, opts)
	switch {
	case err != nil:
		h.logger.Error("batch execute", slog.Any("error", err))
		_ = enc.Encode(map[string]any{"event": "error", "error": err.Error(), "result": result})
	case !validation.Valid:
		_ = enc.Encode(map[string]any{"event": "validation_failed", "validation": validation})
	default:
		_ = enc.Encode(map[string]any{"event": "result", "result": result})
	}
	flusher.Flush()
}
