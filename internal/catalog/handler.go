package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-hcm/atlas-authz/internal/platform/httpx"
)

// Handler exposes the permission registry over HTTP.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// Routes mounts catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/catalog", h.list)
	r.Get("/catalog/{code}", h.get)
	r.Post("/catalog", h.ensure)
}

type ensurePermissionRequest struct {
	Code             string `json:"permissionCode" validate:"required,max=200"`
	Description      string `json:"description" validate:"max=500"`
	IsSystemCritical bool   `json:"isSystemCritical"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("catalog list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	perm, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) ensure(w http.ResponseWriter, r *http.Request) {
	var req ensurePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perm, err := h.service.Ensure(r.Context(), req.Code, req.Description, req.IsSystemCritical)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}
