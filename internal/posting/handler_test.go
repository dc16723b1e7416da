package posting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
	_ "github.com/odyssey-erp/hardware-ledger/testing"
)

type fakeDocuments struct {
	created []documents.DraftInput
	filter  documents.ListFilter
	docs    map[string]documents.Document
}

func (f *fakeDocuments) CreateDraft(_ context.Context, in documents.DraftInput, actor string) (documents.Document, error) {
	doc, err := in.Build("draft-1", actor, in.OccurredAt)
	if err != nil {
		return documents.Document{}, err
	}
	f.created = append(f.created, in)
	return doc, nil
}

func (f *fakeDocuments) Get(_ context.Context, id string) (documents.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return documents.Document{}, &shared.NotFoundError{Resource: "document", ID: id}
	}
	return doc, nil
}

func (f *fakeDocuments) List(_ context.Context, filter documents.ListFilter) ([]documents.Document, int, error) {
	f.filter = filter
	return nil, 0, nil
}

func newTestRouter(h *harness, docs DocumentService) http.Handler {
	return newRouterAs(h, docs, rbac.RoleSupervisor)
}

func newRouterAs(h *harness, docs DocumentService, roles ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: "u-7", Name: "Dewi", Roles: roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(nil, h.svc, docs, rbac.Middleware{}).MountRoutes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const grnBody = `{"kind":"goods_receipt","header":{"store_id":"S1"},"lines":[{"tracked_entity_ref":"HAMMER","quantity":"100","unit_price":"5"}],"occurred_at":"2026-03-01"}`

func TestHandlerPostAndReplay(t *testing.T) {
	h := newHarness(t, Config{})
	router := newTestRouter(h, &fakeDocuments{})

	rec := do(t, router, http.MethodPost, "/documents/post", grnBody, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, "GRN-0001", first.DocumentNumber)
	require.Equal(t, documents.StatusPosted, first.Status)
	require.True(t, first.TotalAmount.Equal(dec("500")))
	require.False(t, first.Replayed)

	rec = do(t, router, http.MethodPost, "/documents/post", grnBody, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	var second Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.True(t, second.Replayed)
	require.Equal(t, first.ID, second.ID)

	state := h.store.snapshot()
	require.Equal(t, "u-7", state.docs[first.ID].CreatedBy)
	requireBalance(t, h, ledger.StockRef("S1", "HAMMER"), "100")
}

func TestHandlerRequestIDIsIdempotencyKey(t *testing.T) {
	h := newHarness(t, Config{})
	router := newTestRouter(h, &fakeDocuments{})
	body := strings.Replace(grnBody, `"occurred_at"`, `"request_id":"r-1","occurred_at"`, 1)

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/documents/post", body, nil).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/documents/post", body, nil).Code)
	require.Len(t, h.store.snapshot().docs, 1)
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t, Config{})
	router := newTestRouter(h, &fakeDocuments{})

	rec := do(t, router, http.MethodPost, "/documents/post",
		`{"kind":"sale_retail","header":{"store_id":"S1"},"lines":[{"tracked_entity_ref":"HAMMER","quantity":"10","unit_price":"12"}]}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, shared.KindInsufficientStock, body.ErrorKind)
	require.Equal(t, "stock:S1/HAMMER", body.Details["entity"])
	require.Equal(t, "10", body.Details["shortfall"])

	rec = do(t, router, http.MethodPost, "/documents/post", `{"kind":"layaway","lines":[]}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, shared.KindValidation, body.ErrorKind)
	require.Contains(t, body.Details, "kind")

	rec = do(t, router, http.MethodPost, "/documents/post", `{"kind":"goods_receipt","header":{"store_id":"S1"},"lines":[]}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Details, "lines")

	rec = do(t, router, http.MethodPost, "/documents/post", strings.Replace(grnBody, "2026-03-01", "yesterday", 1), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/documents/post", `{"kind":"goods_receipt","surprise":true}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Empty(t, h.store.snapshot().docs)
}

func TestHandlerReverse(t *testing.T) {
	h := newHarness(t, Config{})
	router := newTestRouter(h, &fakeDocuments{})
	grn := h.mustPost(t, stockIn("S1", "SAW", "2"))

	rec := do(t, router, http.MethodPost, "/documents/"+grn.ID+"/reverse", `{"request_id":"undo"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rev Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rev))
	require.Equal(t, grn.ID, rev.ReversesID)

	rec = do(t, router, http.MethodPost, "/documents/"+grn.ID+"/reverse", "", map[string]string{"Idempotency-Key": "undo"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/documents/"+rev.ID+"/reverse", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/documents/unknown/reverse", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerReverseRequiresPermission(t *testing.T) {
	h := newHarness(t, Config{})
	grn := h.mustPost(t, stockIn("S1", "SAW", "2"))

	clerk := newRouterAs(h, &fakeDocuments{}, rbac.RoleClerk)
	rec := do(t, clerk, http.MethodPost, "/documents/"+grn.ID+"/reverse", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	requireBalance(t, h, ledger.StockRef("S1", "SAW"), "2")

	auditor := newRouterAs(h, &fakeDocuments{}, rbac.RoleAuditor)
	rec = do(t, auditor, http.MethodPost, "/documents/post", grnBody, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerDraftLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	docs := &fakeDocuments{}
	router := newTestRouter(h, docs)

	rec := do(t, router, http.MethodPost, "/documents", grnBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft documents.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	require.Equal(t, documents.StatusDraft, draft.Status)
	require.Equal(t, "u-7", draft.CreatedBy)
	require.Len(t, docs.created, 1)

	h.store.seedDraft(draft)
	rec = do(t, router, http.MethodPost, "/documents/"+draft.ID+"/post", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/documents/"+draft.ID+"/post", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerShowAndList(t *testing.T) {
	h := newHarness(t, Config{})
	docs := &fakeDocuments{docs: map[string]documents.Document{
		"d-1": {ID: "d-1", Number: "SW-0003", Kind: documents.KindSaleWholesale, Status: documents.StatusPosted},
	}}
	router := newTestRouter(h, docs)

	rec := do(t, router, http.MethodGet, "/documents/d-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"document_number":"SW-0003"`)

	rec = do(t, router, http.MethodGet, "/documents/d-2", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/documents?kind=goods_receipt&status=posted&from=2026-01-01&page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, documents.KindGoodsReceipt, docs.filter.Kind)
	require.Equal(t, documents.StatusPosted, docs.filter.Status)
	require.Equal(t, 2, docs.filter.Page)
	require.Contains(t, rec.Body.String(), `"data":[]`)

	rec = do(t, router, http.MethodGet, "/documents?status=archived", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
