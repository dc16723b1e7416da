package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// ReconcileEnqueuer schedules a background full reconciliation.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, requestedBy string) (string, error)
}

// Handler exposes ledger queries over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer ReconcileEnqueuer
	rbac     rbac.Middleware
}

// NewHandler constructs a Handler. enqueuer may be nil when no worker queue
// is configured.
func NewHandler(logger *slog.Logger, service *Service, enqueuer ReconcileEnqueuer, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, rbac: rbac}
}

// MountRoutes registers ledger routes. Stock refs contain a slash, so the ref
// is taken from the trailing wildcard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermLedgerView))
		r.Get("/ledger/balances/*", h.balance)
		r.Get("/ledger/movements/*", h.movements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermLedgerReconcile))
		r.Get("/ledger/reconcile/*", h.reconcile)
		r.Post("/ledger/reconcile", h.enqueueReconcile)
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetBalance(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, r, h.logger, &shared.StorageError{Op: "get balance", Err: err})
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	filter := MovementFilter{EntityRef: ref, Limit: httpx.QueryInt(r, "limit", 0)}
	var err error
	if filter.From, err = parseTime(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, r, h.logger, shared.NewValidationError("invalid from", map[string]string{"from": err.Error()}))
		return
	}
	if filter.To, err = parseTime(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, r, h.logger, shared.NewValidationError("invalid to", map[string]string{"to": err.Error()}))
		return
	}
	items, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, &shared.StorageError{Op: "list movements", Err: err})
		return
	}
	if items == nil {
		items = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entity_ref": ref, "data": items})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Reconcile(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, r, h.logger, &shared.StorageError{Op: "reconcile", Err: err})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reconciliation": rec, "in_sync": rec.InSync()})
}

func (h *Handler) enqueueReconcile(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.JSON(w, http.StatusServiceUnavailable, httpx.ErrorBody{ErrorKind: shared.KindStorage, Message: "job queue not configured"})
		return
	}
	id, err := h.enqueuer.EnqueueReconcile(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, &shared.StorageError{Op: "enqueue reconcile", Err: err})
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *Handler) ref(w http.ResponseWriter, r *http.Request) (EntityRef, bool) {
	ref, err := ParseEntityRef(chi.URLParam(r, "*"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, shared.NewValidationError("invalid entity ref", map[string]string{"ref": err.Error()}))
		return "", false
	}
	return ref, true
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}
