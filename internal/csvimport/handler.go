package csvimport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/report"
)

const (
	// DefaultMaxUploadBytes caps uploaded CSV files.
	DefaultMaxUploadBytes = 10 << 20
	// DefaultSessionLockWait covers one submit against a slow backend.
	DefaultSessionLockWait = 45 * time.Second
)

var errBadRequest = fmt.Errorf("malformed request: %w", httpx.ErrValidation)

// PDFRenderer converts HTML to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// HandlerConfig wires the import endpoints.
type HandlerConfig struct {
	Logger         *slog.Logger
	Importer       *Importer
	Store          Store
	History        HistoryRecorder
	Renderer       PDFRenderer
	MaxUploadBytes int64
	// UploadsPerMinute limits uploads per client IP; 0 disables the limit.
	UploadsPerMinute int
	// SessionLockWait bounds the wait for a session held by another instance.
	SessionLockWait time.Duration
}

// Handler exposes the wizard over HTTP, one stored session per upload.
type Handler struct {
	logger           *slog.Logger
	importer         *Importer
	store            Store
	history          HistoryRecorder
	renderer         PDFRenderer
	validate         *validator.Validate
	maxUploadBytes   int64
	uploadsPerMinute int
	lockWait         time.Duration
	locks            sessionLocks
}

// NewHandler builds Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		logger:           cfg.Logger,
		importer:         cfg.Importer,
		store:            cfg.Store,
		history:          cfg.History,
		renderer:         cfg.Renderer,
		validate:         validator.New(),
		maxUploadBytes:   cfg.MaxUploadBytes,
		uploadsPerMinute: cfg.UploadsPerMinute,
		lockWait:         cfg.SessionLockWait,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.lockWait <= 0 {
		h.lockWait = DefaultSessionLockWait
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadBytes
	}
	return h
}

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	upload := http.HandlerFunc(h.upload)
	if h.uploadsPerMinute > 0 {
		r.With(httprate.LimitByIP(h.uploadsPerMinute, time.Minute)).Post("/", upload)
	} else {
		r.Post("/", upload)
	}
	r.Get("/history", h.listHistory)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Delete("/", h.discard)
		r.Post("/category", h.mutate(h.confirmCategory))
		r.Post("/strategy", h.mutate(h.chooseStrategy))
		r.Post("/markup/skip", h.mutate(simple((*Wizard).SkipMarkup)))
		r.Post("/markup/begin", h.mutate(simple((*Wizard).BeginMarkupEntry)))
		r.Post("/markup/next", h.mutate(h.nextMarkup))
		r.Post("/markup/back", h.mutate(simple((*Wizard).BackMarkup)))
		r.Post("/markup/cancel", h.mutate(simple((*Wizard).CancelMarkupEntry)))
		r.Post("/cancel", h.mutate(simple((*Wizard).Cancel)))
		r.Post("/close", h.mutate(simple((*Wizard).Close)))
		r.Post("/submit", h.mutate(h.submit))
		r.Get("/summary.html", h.summaryHTML)
		r.Get("/summary.pdf", h.summaryPDF)
	})
}

// ============================================================================
// VIEW
// ============================================================================

type sessionView struct {
	ID             string                 `json:"id"`
	State          State                  `json:"state"`
	CandidateCount int                    `json:"candidateCount"`
	Rejections     []Rejection            `json:"rejections,omitempty"`
	Categories     []catalog.FlatCategory `json:"categories,omitempty"`
	Category       *CategoryChoice        `json:"category,omitempty"`
	Conflicts      []Conflict             `json:"conflicts,omitempty"`
	Strategy       QuantityStrategy       `json:"strategy,omitempty"`
	MarkupStep     *MarkupStep            `json:"markupStep,omitempty"`
	Summary        *Summary               `json:"summary,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func newSessionView(id string, w *Wizard) sessionView {
	v := sessionView{
		ID:             id,
		State:          w.State(),
		CandidateCount: len(w.candidates),
		Rejections:     w.Rejections(),
		Summary:        w.Summary(),
		Error:          w.Failure(),
	}
	switch w.State() {
	case StateCategorySelect:
		v.Categories = w.Categories()
	case StateQuantityStrategy:
		v.Conflicts = w.Conflicts()
	}
	if w.State() != StateIdle && w.State() != StateCategorySelect {
		choice := w.Category()
		v.Category = &choice
		v.Strategy = w.Strategy()
	}
	if step, ok := w.MarkupStep(); ok {
		v.MarkupStep = &step
	}
	return v
}

// ============================================================================
// HANDLERS
// ============================================================================

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.respondError(w, fmt.Errorf("%w: file field required: %w", errBadRequest, err))
			return
		}
		defer func() {
			_ = file.Close()
		}()
		src = file
	}

	wiz := NewWizard()
	if err := h.importer.Begin(r.Context(), wiz, src); err != nil {
		h.respondError(w, err)
		return
	}
	id := uuid.NewString()
	if err := h.store.Save(r.Context(), id, wiz); err != nil {
		h.logger.Error("save import session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("import session started", slog.String("import_id", id), slog.Int("rows", len(wiz.candidates)))
	httpx.JSON(w, http.StatusCreated, newSessionView(id, wiz))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wiz, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionView(id, wiz))
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	unlock, err := h.lockSession(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer unlock()
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("delete import session", slog.String("import_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type action func(r *http.Request, wiz *Wizard) error

func simple(fn func(*Wizard) error) action {
	return func(_ *http.Request, wiz *Wizard) error { return fn(wiz) }
}

// mutate loads the session under its lock, applies fn and stores the result.
// Sessions that fall back to idle are dropped.
func (h *Handler) mutate(fn action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()
		unlock, err := h.lockSession(ctx, id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		defer unlock()

		wiz, err := h.store.Get(ctx, id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		actErr := fn(r, wiz)

		if wiz.State() == StateIdle {
			err = h.store.Delete(ctx, id)
		} else {
			err = h.store.Save(ctx, id, wiz)
		}
		if err != nil {
			h.logger.Error("persist import session", slog.String("import_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if actErr != nil {
			h.respondError(w, actErr)
			return
		}
		httpx.JSON(w, http.StatusOK, newSessionView(id, wiz))
	}
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type categoryRequest struct {
	CategoryID      flexString `json:"categoryId" validate:"required"`
	NewCategoryName string     `json:"newCategoryName" validate:"max=255"`
}

type strategyRequest struct {
	Strategy string `json:"strategy" validate:"required,oneof=add replace"`
}

type markupRequest struct {
	Markup *flexString `json:"markup"`
}

func (h *Handler) decode(r *http.Request, target any) error {
	if r.ContentLength == 0 {
		return h.validateRequest(target)
	}
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return h.validateRequest(target)
}

func (h *Handler) validateRequest(target any) error {
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s is %s", errBadRequest, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (h *Handler) confirmCategory(r *http.Request, wiz *Wizard) error {
	var req categoryRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	choice, err := ParseCategoryChoice(string(req.CategoryID), req.NewCategoryName)
	if err != nil {
		return err
	}
	return h.importer.ConfirmCategory(r.Context(), wiz, choice)
}

func (h *Handler) chooseStrategy(r *http.Request, wiz *Wizard) error {
	var req strategyRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	strategy, err := ParseStrategy(req.Strategy)
	if err != nil {
		return err
	}
	return wiz.ChooseStrategy(strategy)
}

func (h *Handler) nextMarkup(r *http.Request, wiz *Wizard) error {
	var req markupRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if req.Markup != nil {
		if err := wiz.SetMarkupInput(string(*req.Markup)); err != nil {
			return err
		}
	}
	return wiz.NextMarkup()
}

func (h *Handler) submit(r *http.Request, wiz *Wizard) error {
	_, err := h.importer.Submit(r.Context(), wiz)
	return err
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.respondError(w, fmt.Errorf("%w: limit must be between 1 and 500", errBadRequest))
			return
		}
		limit = n
	}
	runs := []Run{}
	if h.history != nil {
		found, err := h.history.Recent(r.Context(), limit)
		if err != nil {
			h.logger.Error("list import history", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if found != nil {
			runs = found
		}
	}
	httpx.JSON(w, http.StatusOK, runs)
}

func (h *Handler) resultSummary(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	wiz, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return "", false
	}
	if wiz.State() != StateResult || wiz.Summary() == nil {
		h.respondError(w, fmt.Errorf("%w: summary from %s", ErrInvalidTransition, wiz.State()))
		return "", false
	}
	html, err := report.ImportSummaryHTML(PrintableSummary(*wiz.Summary()))
	if err != nil {
		h.logger.Error("render import summary", slog.String("import_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return "", false
	}
	return html, true
}

func (h *Handler) summaryHTML(w http.ResponseWriter, r *http.Request) {
	html, ok := h.resultSummary(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

func (h *Handler) summaryPDF(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "PDF rendering is not configured")
		return
	}
	html, ok := h.resultSummary(w, r)
	if !ok {
		return
	}
	pdf, err := h.renderer.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render summary pdf", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "PDF rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=import-summary.pdf")
	_, _ = w.Write(pdf)
}

// PrintableSummary converts a Summary to its printable form.
func PrintableSummary(s Summary) report.SummaryView {
	view := report.SummaryView{
		CategoryName: s.CategoryName,
		Strategy:     string(s.Strategy),
		NewCount:     s.NewCount,
		UpdateCount:  s.UpdateCount,
		SkippedCount: s.SkippedCount,
		Created:      labels(s.CreatedProducts),
		Updated:      labels(s.UpdatedProducts),
		Skipped:      labels(s.SkippedProducts),
	}
	for _, rej := range s.Rejections {
		view.Rejections = append(view.Rejections, report.RejectionLine{Line: rej.Line, PartNo: rej.PartNo, Reason: rej.Reason})
	}
	for _, warn := range s.Warnings {
		view.Warnings = append(view.Warnings, warn.Message)
	}
	return view
}

func labels(items []catalog.ImportedProduct) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		label := item.Label()
		if item.Reason != "" {
			label += ": " + item.Reason
		}
		out = append(out, label)
	}
	return out
}

// respondError maps wizard and input errors to problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		httpx.RespondError(w, err)
	case IsInputError(err):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Import", InputMessage(err))
	case errors.Is(err, ErrSessionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "import session not found or expired")
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrSessionBusy):
		httpx.Problem(w, http.StatusConflict, "Conflict", "import session is busy, try again")
	case errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("import request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Import Failed", catalog.UserMessage(err, FallbackImportMessage))
	}
}

// lockSession serialises requests on id: first within this process, then
// across instances when the store is shared.
func (h *Handler) lockSession(ctx context.Context, id string) (func(), error) {
	unlock := h.locks.lock(id)
	locker, ok := h.store.(SessionLocker)
	if !ok {
		return unlock, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, h.lockWait)
	defer cancel()
	release, err := locker.LockSession(waitCtx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		release()
		unlock()
	}, nil
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks serialises requests per session id within one process.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	entry, ok := l.locks[id]
	if !ok {
		entry = &sessionLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
