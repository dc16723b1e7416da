package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Handler serves the catalog endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.PermCatalogManage)).Post("/catalog/{type}", h.register)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermCatalogView))
		r.Get("/catalog/{type}", h.list)
		r.Get("/catalog/{type}/{id}", h.show)
	})
}

type listResponse struct {
	Data       []Entity          `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	e, err := h.service.Register(r.Context(), t, req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}
	filter := ListFilter{
		Search:     r.URL.Query().Get("search"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Page:       httpx.QueryInt(r, "page", 1),
		PerPage:    httpx.QueryInt(r, "per_page", 0),
	}
	items, total, err := h.service.List(r.Context(), t, filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []Entity{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	t, ok := h.entityType(w, r)
	if !ok {
		return
	}
	e, err := h.service.Get(r.Context(), t, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) entityType(w http.ResponseWriter, r *http.Request) (EntityType, bool) {
	t, err := ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, &shared.NotFoundError{Resource: "catalog type", ID: chi.URLParam(r, "type")})
		return "", false
	}
	return t, true
}
