package posting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

var errInvalidDate = errors.New("expected RFC3339 or YYYY-MM-DD")

// DocumentService stores and reads documents outside the posting path.
type DocumentService interface {
	CreateDraft(ctx context.Context, in documents.DraftInput, actor string) (documents.Document, error)
	Get(ctx context.Context, id string) (documents.Document, error)
	List(ctx context.Context, filter documents.ListFilter) ([]documents.Document, int, error)
}

// Handler serves the document endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	documents DocumentService
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, docs DocumentService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, documents: docs, validator: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		write := h.rbac.RequireAny(rbac.PermDocumentsWrite)
		view := h.rbac.RequireAny(rbac.PermDocumentsView)
		r.With(write).Post("/", h.createDraft)
		r.With(view).Get("/", h.list)
		r.With(write).Post("/post", h.post)
		r.With(view).Get("/{id}", h.show)
		r.With(write).Post("/{id}/post", h.postDraft)
		r.With(h.rbac.RequireAny(rbac.PermDocumentsReverse)).Post("/{id}/reverse", h.reverse)
	})
}

type listResponse struct {
	Data       []documents.Document `json:"data"`
	Pagination shared.Pagination    `json:"pagination"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	req, in, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = req.RequestID
	}
	res, err := h.service.Post(r.Context(), Draft{
		DraftInput:     in,
		IdempotencyKey: key,
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	respondResult(w, res)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	_, in, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	doc, err := h.documents.CreateDraft(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := documents.ListFilter{
		Kind:    documents.Kind(q.Get("kind")),
		Status:  documents.Status(q.Get("status")),
		Page:    httpx.QueryInt(r, "page", 1),
		PerPage: httpx.QueryInt(r, "per_page", 0),
	}
	details := map[string]string{}
	if filter.Kind != "" && !filter.Kind.Valid() {
		details["kind"] = "unknown document kind"
	}
	switch filter.Status {
	case "", documents.StatusDraft, documents.StatusPosted, documents.StatusVoided:
	default:
		details["status"] = "must be draft, posted or voided"
	}
	var err error
	if filter.From, err = parseOccurredAt(q.Get("from")); err != nil {
		details["from"] = err.Error()
	}
	if filter.To, err = parseOccurredAt(q.Get("to")); err != nil {
		details["to"] = err.Error()
	}
	if len(details) > 0 {
		httpx.RespondError(w, r, h.logger, shared.NewValidationError("invalid filter", details))
		return
	}
	items, total, err := h.documents.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []documents.Document{}
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postDraft(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PostDraft(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	respondResult(w, res)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.BadRequest(w, err.Error())
			return
		}
		if err := httpx.Validate(h.validator, req); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = req.RequestID
	}
	res, err := h.service.Reverse(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()), key)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	respondResult(w, res)
}

func (h *Handler) decodeDraft(w http.ResponseWriter, r *http.Request) (DocumentRequest, documents.DraftInput, bool) {
	var req DocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return req, documents.DraftInput{}, false
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return req, documents.DraftInput{}, false
	}
	in, err := req.Input()
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return req, documents.DraftInput{}, false
	}
	return req, in, true
}

func respondResult(w http.ResponseWriter, res Result) {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}
