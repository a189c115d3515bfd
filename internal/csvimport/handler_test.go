package csvimport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/catalog"
)

type fakeRenderer struct {
	html string
	err  error
}

func (r *fakeRenderer) RenderHTML(_ context.Context, html string) ([]byte, error) {
	r.html = html
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF"), nil
}

type apiHarness struct {
	t        *testing.T
	backend  *fakeBackend
	history  *MemoryHistory
	renderer *fakeRenderer
	server   *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	return newAPIHarnessWithStore(t, NewMemoryStore(0), 0)
}

func newAPIHarnessWithStore(t *testing.T, store Store, lockWait time.Duration) *apiHarness {
	t.Helper()
	h := &apiHarness{t: t, backend: newFakeBackend(), history: NewMemoryHistory(0), renderer: &fakeRenderer{}}
	importer := NewImporter(ImporterOptions{Backend: h.backend, Logger: discardLogger(), History: h.history})
	handler := NewHandler(HandlerConfig{
		Logger:         discardLogger(),
		Importer:       importer,
		Store:           store,
		History:         h.history,
		Renderer:        h.renderer,
		MaxUploadBytes:  1 << 10,
		SessionLockWait: lockWait,
	})
	r := chi.NewRouter()
	r.Route("/imports", handler.MountRoutes)
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	require.NoError(h.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, raw
}

func (h *apiHarness) post(path, payload string) (int, sessionView) {
	h.t.Helper()
	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	resp, raw := h.do(http.MethodPost, path, "application/json", body)
	var view sessionView
	if resp.StatusCode < 300 {
		require.NoError(h.t, json.Unmarshal(raw, &view), string(raw))
	}
	return resp.StatusCode, view
}

func (h *apiHarness) upload(csv string) (int, sessionView, []byte) {
	h.t.Helper()
	resp, raw := h.do(http.MethodPost, "/imports", "text/csv", strings.NewReader(csv))
	var view sessionView
	if resp.StatusCode == http.StatusCreated {
		require.NoError(h.t, json.Unmarshal(raw, &view))
	}
	return resp.StatusCode, view, raw
}

func problemDetail(t *testing.T, raw []byte) string {
	t.Helper()
	var p struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(raw, &p), string(raw))
	return p.Detail
}

func TestAPIFullWalkthrough(t *testing.T) {
	h := newAPIHarness(t)
	h.backend.products = []catalog.Product{{PartNo: "12345678901", Quantity: intPtr(10)}}

	status, view, _ := h.upload(scenarioCSV)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, StateCategorySelect, view.State)
	assert.Equal(t, 1, view.CandidateCount)
	assert.Len(t, view.Categories, 2)
	id := view.ID

	status, _ = h.post("/imports/"+id+"/category", `{"categoryId":"new"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, view = h.post("/imports/"+id+"/category", `{"categoryId":3}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateQuantityStrategy, view.State)
	assert.Len(t, view.Conflicts, 1)

	status, _ = h.post("/imports/"+id+"/strategy", `{"strategy":"merge"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, view = h.post("/imports/"+id+"/strategy", `{"strategy":"add"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateMarkupChoice, view.State)

	status, view = h.post("/imports/"+id+"/markup/begin", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, view.MarkupStep)
	assert.Equal(t, "20", view.MarkupStep.Input)

	status, view = h.post("/imports/"+id+"/markup/next", `{"markup":25}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateSubmitting, view.State)

	status, view = h.post("/imports/"+id+"/submit", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateResult, view.State)
	require.NotNil(t, view.Summary)
	assert.Equal(t, "Tools", view.Summary.CategoryName)
	assert.Equal(t, 15, *h.backend.requests[0].Products[0].Quantity)
	assert.Equal(t, 25.0, h.backend.requests[0].Products[0].MarkupPercentage)

	resp, raw := h.do(http.MethodGet, "/imports/"+id+"/summary.html", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "Tools")

	resp, raw = h.do(http.MethodGet, "/imports/"+id+"/summary.pdf", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "%PDF", string(raw))
	assert.Contains(t, h.renderer.html, "Import summary")

	resp, raw = h.do(http.MethodGet, "/imports/history", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []Run
	require.NoError(t, json.Unmarshal(raw, &runs))
	assert.Len(t, runs, 1)

	resp, _ = h.do(http.MethodDelete, "/imports/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(http.MethodGet, "/imports/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIMultipartUpload(t *testing.T) {
	h := newAPIHarness(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "products.csv")
	require.NoError(t, err)
	_, _ = io.WriteString(part, scenarioCSV)
	require.NoError(t, mw.Close())

	resp, raw := h.do(http.MethodPost, "/imports", mw.FormDataContentType(), &body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
}

func TestAPIRejectsBadFiles(t *testing.T) {
	h := newAPIHarness(t)

	status, _, raw := h.upload("Product Name,UPC,Sold Price\nWidget,1,abc\n")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No valid products found in CSV", problemDetail(t, raw))

	status, _, raw = h.upload("")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "CSV is empty or invalid", problemDetail(t, raw))

	status, _, _ = h.upload("Product Name,UPC,Sold Price\n" + strings.Repeat("Widget,1,1\n", 200))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestAPIStateErrors(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.post("/imports/nope/markup/skip", "")
	assert.Equal(t, http.StatusNotFound, status)

	_, view, _ := h.upload(scenarioCSV)
	status, _ = h.post("/imports/"+view.ID+"/submit", "")
	assert.Equal(t, http.StatusConflict, status)

	resp, _ := h.do(http.MethodGet, "/imports/"+view.ID+"/summary.pdf", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	status, cancelled := h.post("/imports/"+view.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateIdle, cancelled.State)
	resp, _ = h.do(http.MethodGet, "/imports/"+view.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "aborted sessions are dropped")
}

func TestAPISessionLockSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Minute)
	h := newAPIHarnessWithStore(t, store, 100*time.Millisecond)

	_, view, _ := h.upload(scenarioCSV)
	require.NotEmpty(t, view.ID)

	// A second instance is in the middle of a request on the same session.
	release, err := store.LockSession(context.Background(), view.ID)
	require.NoError(t, err)

	resp, raw := h.do(http.MethodPost, "/imports/"+view.ID+"/category", "application/json", strings.NewReader(`{"categoryId":"3"}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "import session is busy, try again", problemDetail(t, raw))

	release()
	status, got := h.post("/imports/"+view.ID+"/category", `{"categoryId":"3"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, view.ID, got.ID)
	assert.False(t, mr.Exists(sessionLockPrefix+view.ID), "lock is released after the request")
}

func TestAPISubmitFailureIsKept(t *testing.T) {
	h := newAPIHarness(t)
	h.backend.importErr = &catalog.APIError{Status: 422, Message: "Category is archived"}

	_, view, _ := h.upload(scenarioCSV)
	h.post("/imports/"+view.ID+"/category", `{"categoryId":"3"}`)
	h.post("/imports/"+view.ID+"/markup/skip", "")

	resp, raw := h.do(http.MethodPost, "/imports/"+view.ID+"/submit", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Category is archived", problemDetail(t, raw))

	resp, raw = h.do(http.MethodGet, "/imports/"+view.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got sessionView
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "Category is archived", got.Error)

	status, _ := h.post("/imports/"+view.ID+"/submit", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPISummaryPDFRendererFailure(t *testing.T) {
	h := newAPIHarness(t)
	h.renderer.err = errors.New("gotenberg down")

	_, view, _ := h.upload(scenarioCSV)
	h.post("/imports/"+view.ID+"/category", `{"categoryId":3}`)
	h.post("/imports/"+view.ID+"/markup/skip", "")
	status, _ := h.post("/imports/"+view.ID+"/submit", "")
	require.Equal(t, http.StatusOK, status)

	resp, _ := h.do(http.MethodGet, "/imports/"+view.ID+"/summary.pdf", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
