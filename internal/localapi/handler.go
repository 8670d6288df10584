// Package localapi is the loopback HTTP surface the UI shell drives: capture,
// lookups, manual sync and status.
package localapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/capture"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/logging"
	"github.com/septivank/aqueduct-sync/internal/store"
	"github.com/septivank/aqueduct-sync/internal/syncer"
)

// Capturer is the capture command layer
type Capturer interface {
	Submit(ctx context.Context, cmd capture.Command) (capture.Outcome, error)
	Update(ctx context.Context, id int, cmd capture.Command) (gateway.ServerReading, error)
	CheckPeriod(ctx context.Context, installation, month, year int) (gateway.ExistsResult, error)
	LookupInstallation(ctx context.Context, code int) (domain.Installation, error)
	ListReadings(ctx context.Context, f domain.ReadingFilter) (capture.ReadingsPage, error)
	GetReading(ctx context.Context, id int) (capture.ReadingDetail, error)
	ListMeterInstallments(ctx context.Context, f domain.InstallmentFilter) (capture.InstallmentsPage, error)
	GetMeterInstallment(ctx context.Context, code int) (domain.MeterInstallment, error)
}

// Syncer is the sync orchestrator
type Syncer interface {
	SyncPending(ctx context.Context) (syncer.Report, error)
	RefreshViews(ctx context.Context) (syncer.Report, error)
	State() syncer.State
}

// Status exposes connectivity and queue depth
type Status interface {
	IsOnline() bool
}

// PendingCounter counts queued readings
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Credentials is the signed-in operator, replaced by the UI after a login
type Credentials interface {
	Operator() string
	Company() int
	Authenticated() bool
	Refresh(operator string, company int, token string)
}

// Handler serves the local API
type Handler struct {
	capture Capturer
	syncer  Syncer
	status  Status
	pending PendingCounter
	creds   Credentials
	logger  *zap.Logger
}

// NewHandler creates the handler
func NewHandler(c Capturer, s Syncer, status Status, pending PendingCounter, creds Credentials, logger *zap.Logger) *Handler {
	return &Handler{
		capture: c,
		syncer:  s,
		status:  status,
		pending: pending,
		creds:   creds,
		logger:  logger.Named("localapi"),
	}
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/status", h.getStatus)
	r.Get("/session", h.getSession)
	r.Put("/session", h.putSession)

	r.Route("/readings", func(r chi.Router) {
		r.Post("/", h.createReading)
		r.Get("/", h.listReadings)
		r.Get("/{id}", h.getReading)
		r.Put("/{id}", h.updateReading)
		r.Get("/check/{installation}", h.checkPeriod)
	})

	r.Get("/installations/{code}", h.getInstallation)

	r.Get("/installments", h.listInstallments)
	r.Get("/installments/{code}", h.getInstallment)

	r.Post("/sync", h.syncPending)
	r.Post("/sync/views", h.refreshViews)

	return r
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return logging.WithRequestID(h.logger, chimiddleware.GetReqID(r.Context()))
}

func (h *Handler) createReading(w http.ResponseWriter, r *http.Request) {
	var cmd capture.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	out, err := h.capture.Submit(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if out.Status == capture.StatusQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, submitResponse{
		Status:    out.Status,
		ClientRef: out.Reading.ClientRef.String(),
		LocalID:   out.LocalID,
		Reading:   gateway.NewReadingPayload(out.Reading),
		Server:    out.Server,
		Warnings:  out.Warnings,
	})
}

func (h *Handler) updateReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	var cmd capture.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	out, err := h.capture.Update(r.Context(), id, cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ReadingFilter{
		Year:         queryInt(q.Get("year")),
		Month:        queryInt(q.Get("mes_codigo")),
		Name:         q.Get("nombre"),
		Installation: queryInt(q.Get("instalacion")),
		Company:      queryInt(q.Get("empresa")),
		Page:         queryInt(q.Get("page")),
		Limit:        queryInt(q.Get("limit")),
	}

	page, err := h.capture.ListReadings(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := pageResponse{
		Data:    make([]readingView, 0, len(page.Data)),
		Total:   page.Total,
		Page:    page.Page,
		Limit:   page.Limit,
		Offline: page.Offline,
	}
	for _, rr := range page.Data {
		resp.Data = append(resp.Data, newReadingView(rr))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.capture.GetReading(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReadingDetailView(detail))
}

func (h *Handler) checkPeriod(w http.ResponseWriter, r *http.Request) {
	installation, ok := pathInt(w, r, "installation")
	if !ok {
		return
	}
	q := r.URL.Query()

	out, err := h.capture.CheckPeriod(r.Context(), installation, queryInt(q.Get("mes")), queryInt(q.Get("year")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getInstallation(w http.ResponseWriter, r *http.Request) {
	code, ok := pathInt(w, r, "code")
	if !ok {
		return
	}

	inst, err := h.capture.LookupInstallation(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstallationView(inst))
}

func (h *Handler) listInstallments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.InstallmentFilter{
		Code:         queryInt(q.Get("codigo")),
		Installation: queryInt(q.Get("instalacion_codigo")),
		Name:         q.Get("nombre"),
		Page:         queryInt(q.Get("page")),
		Limit:        queryInt(q.Get("limit")),
	}

	page, err := h.capture.ListMeterInstallments(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := installmentPageResponse{
		Data:    make([]installmentView, 0, len(page.Data)),
		Total:   page.Total,
		Page:    page.Page,
		Limit:   page.Limit,
		Offline: page.Offline,
	}
	for _, m := range page.Data {
		resp.Data = append(resp.Data, newInstallmentView(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getInstallment(w http.ResponseWriter, r *http.Request) {
	code, ok := pathInt(w, r, "code")
	if !ok {
		return
	}

	m, err := h.capture.GetMeterInstallment(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstallmentView(m))
}

func (h *Handler) syncPending(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.SyncPending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report))
}

func (h *Handler) refreshViews(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.RefreshViews(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report))
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.pending.CountPending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Online:  h.status.IsOnline(),
		State:   h.syncer.State().String(),
		Pending: pending,
	})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionView{
		Operator:      h.creds.Operator(),
		Company:       h.creds.Company(),
		Authenticated: h.creds.Authenticated(),
	})
}

func (h *Handler) putSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "token is required", Field: "token"})
		return
	}

	h.creds.Refresh(req.Operator, req.Company, req.Token)
	h.requestLogger(r).Info("session refreshed", zap.String("operator", req.Operator), zap.Int("company", req.Company))
	h.getSession(w, r)
}

// fail maps an error to its HTTP status
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *apperr.ValidationError
		networkErr    *apperr.NetworkError
		appErr        *apperr.ApplicationError
		storageErr    *apperr.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Field: validationErr.Field})
	case errors.Is(err, apperr.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInstallationNotFound), errors.Is(err, store.ErrReadingNotFound),
		errors.Is(err, store.ErrInstallmentNotFound), errors.Is(err, store.ErrCacheEmpty),
		errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &appErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: appErr.Message, UpstreamStatus: appErr.StatusCode})
	case errors.As(err, &networkErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &storageErr):
		h.requestLogger(r).Error("local storage failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "local storage failure")
	default:
		h.requestLogger(r).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func queryInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
