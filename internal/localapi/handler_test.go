package localapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/capture"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/session"
	"github.com/septivank/aqueduct-sync/internal/store"
	"github.com/septivank/aqueduct-sync/internal/syncer"
)

type fakeCapture struct {
	submitOut capture.Outcome
	err       error
	lastCmd   capture.Command
	lastID    int
	filter    domain.ReadingFilter
	page      capture.ReadingsPage
	inst      domain.Installation
	detail    capture.ReadingDetail
	cuotas    capture.InstallmentsPage
	cuotaF    domain.InstallmentFilter
}

func (f *fakeCapture) Submit(_ context.Context, cmd capture.Command) (capture.Outcome, error) {
	f.lastCmd = cmd
	return f.submitOut, f.err
}

func (f *fakeCapture) Update(_ context.Context, id int, cmd capture.Command) (gateway.ServerReading, error) {
	f.lastID = id
	f.lastCmd = cmd
	return gateway.ServerReading{Code: id}, f.err
}

func (f *fakeCapture) CheckPeriod(_ context.Context, installation, month, year int) (gateway.ExistsResult, error) {
	return gateway.ExistsResult{Exists: true, Installation: installation, Year: year}, f.err
}

func (f *fakeCapture) LookupInstallation(_ context.Context, code int) (domain.Installation, error) {
	return f.inst, f.err
}

func (f *fakeCapture) ListReadings(_ context.Context, filter domain.ReadingFilter) (capture.ReadingsPage, error) {
	f.filter = filter
	return f.page, f.err
}

func (f *fakeCapture) GetReading(_ context.Context, id int) (capture.ReadingDetail, error) {
	f.lastID = id
	return f.detail, f.err
}

func (f *fakeCapture) ListMeterInstallments(_ context.Context, filter domain.InstallmentFilter) (capture.InstallmentsPage, error) {
	f.cuotaF = filter
	return f.cuotas, f.err
}

func (f *fakeCapture) GetMeterInstallment(_ context.Context, code int) (domain.MeterInstallment, error) {
	f.lastID = code
	if len(f.cuotas.Data) > 0 {
		return f.cuotas.Data[0], f.err
	}
	return domain.MeterInstallment{}, f.err
}

type fakeSyncer struct {
	report syncer.Report
	err    error
	state  syncer.State
}

func (f *fakeSyncer) SyncPending(context.Context) (syncer.Report, error)  { return f.report, f.err }
func (f *fakeSyncer) RefreshViews(context.Context) (syncer.Report, error) { return f.report, f.err }
func (f *fakeSyncer) State() syncer.State                                 { return f.state }

type fakeStatus struct {
	online  bool
	pending int
}

func (f fakeStatus) IsOnline() bool                            { return f.online }
func (f fakeStatus) CountPending(context.Context) (int, error) { return f.pending, nil }

func newTestServer(t *testing.T, c *fakeCapture, s *fakeSyncer, status fakeStatus) *httptest.Server {
	t.Helper()
	h := NewHandler(c, s, status, status, session.New("ana", 1, ""), zap.NewNop())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateReading(t *testing.T) {
	ref := uuid.New()
	reading := domain.Reading{
		Installation:   42,
		CurrentReading: decimal.RequireFromString("150.5"),
		Month:          6,
		Year:           2024,
		CaptureDate:    "2024-06-20",
		ClientRef:      ref,
	}

	tests := []struct {
		name       string
		outcome    capture.Outcome
		wantStatus int
	}{
		{
			name:       "submitted online",
			outcome:    capture.Outcome{Status: capture.StatusSubmitted, Reading: reading, Server: &gateway.ServerReading{Code: 9}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "queued offline",
			outcome:    capture.Outcome{Status: capture.StatusQueued, Reading: reading, LocalID: 3},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCapture{submitOut: tt.outcome}
			srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

			body := `{"instalacion":42,"lectura":"150.5","fecha":"2024-06-20"}`
			resp, err := http.Post(srv.URL+"/readings", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			out := decodeBody(t, resp)
			assert.Equal(t, string(tt.outcome.Status), out["status"])
			assert.Equal(t, ref.String(), out["client_ref"])
			assert.Equal(t, 42, c.lastCmd.Installation)
			assert.True(t, c.lastCmd.CurrentReading.Valid)
		})
	}
}

func TestCreateReading_MalformedBody(t *testing.T) {
	c := &fakeCapture{}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Post(srv.URL+"/readings", "application/json", strings.NewReader(`{"instalacion":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", &apperr.ValidationError{Field: "lectura", Reason: "below previous"}, http.StatusUnprocessableEntity, "validation failed: lectura: below previous"},
		{"offline", apperr.Offline("submit reading"), http.StatusServiceUnavailable, ""},
		{"application", &apperr.ApplicationError{StatusCode: 400, Message: "periodo cerrado"}, http.StatusBadGateway, "periodo cerrado"},
		{"storage", &apperr.StorageError{Op: "save offline reading", Err: errors.New("disk full")}, http.StatusInternalServerError, "local storage failure"},
		{"gateway not found", fmt.Errorf("get installation: %w", gateway.ErrNotFound), http.StatusNotFound, ""},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCapture{err: tt.err}
			srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

			resp, err := http.Post(srv.URL+"/readings", "application/json", strings.NewReader(`{"instalacion":1}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			out := decodeBody(t, resp)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, out["error"])
			}
		})
	}
}

func TestUpdateReading(t *testing.T) {
	c := &fakeCapture{}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/readings/17", strings.NewReader(`{"instalacion":42,"lectura":"200"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 17, c.lastID)

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/readings/abc", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListReadings(t *testing.T) {
	c := &fakeCapture{page: capture.ReadingsPage{
		Data: []domain.RecentReading{
			{Code: 1, Installation: 42, Name: "Ana", Reading: decimal.NewFromInt(120), Month: 6, Year: 2024},
		},
		Total:   1,
		Page:    1,
		Limit:   20,
		Offline: true,
	}}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Get(srv.URL + "/readings?year=2024&mes_codigo=6&nombre=Ana&page=1&limit=20")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["offline"])
	data, ok := out["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)

	assert.Equal(t, domain.ReadingFilter{Year: 2024, Month: 6, Name: "Ana", Page: 1, Limit: 20}, c.filter)
}

func TestGetInstallation(t *testing.T) {
	c := &fakeCapture{inst: domain.Installation{Code: 42, Name: "Ana", PreviousReading: decimal.NewFromInt(100)}}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Get(srv.URL + "/installations/42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "Ana", out["nombre"])

	c.err = fmt.Errorf("installation 7: %w", store.ErrInstallationNotFound)
	resp, err = http.Get(srv.URL + "/installations/7")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetReading(t *testing.T) {
	c := &fakeCapture{detail: capture.ReadingDetail{
		Reading:         domain.RecentReading{Code: 981, Installation: 42, Name: "Ana", Reading: decimal.NewFromInt(450), Month: 6, Year: 2024},
		PreviousReading: decimal.NewFromInt(430),
		Offline:         true,
	}}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Get(srv.URL + "/readings/981")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, 981, c.lastID)
	assert.EqualValues(t, 981, out["codigo"])
	assert.Equal(t, "430", out["lectura_anterior"])
	assert.Equal(t, true, out["offline"])

	c.err = fmt.Errorf("reading 5: %w", store.ErrReadingNotFound)
	resp, err = http.Get(srv.URL + "/readings/5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMeterInstallments(t *testing.T) {
	c := &fakeCapture{cuotas: capture.InstallmentsPage{
		Data: []domain.MeterInstallment{
			{Code: 3, Installation: 42, Name: "Ana", Date: "2024-05-01", Balance: decimal.NewFromInt(75000)},
		},
		Total:   12,
		Page:    2,
		Limit:   1,
		Offline: true,
	}}
	srv := newTestServer(t, c, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Get(srv.URL + "/installments?instalacion_codigo=42&nombre=Ana&page=2&limit=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.EqualValues(t, 12, out["total"])
	assert.Equal(t, true, out["offline"])
	data, ok := out["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, "75000", data[0].(map[string]any)["saldo"])
	assert.Equal(t, domain.InstallmentFilter{Installation: 42, Name: "Ana", Page: 2, Limit: 1}, c.cuotaF)

	resp, err = http.Get(srv.URL + "/installments/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out = decodeBody(t, resp)
	assert.EqualValues(t, 42, out["instalacion_codigo"])
	assert.Equal(t, 3, c.lastID)

	c.err = fmt.Errorf("meter installment 9: %w", store.ErrInstallmentNotFound)
	resp, err = http.Get(srv.URL + "/installments/9")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSync(t *testing.T) {
	s := &fakeSyncer{report: syncer.Report{Attempted: 3, Synced: 2, Failed: 1}}
	srv := newTestServer(t, &fakeCapture{}, s, fakeStatus{online: true})

	resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.EqualValues(t, 2, out["synced"])
	assert.EqualValues(t, 1, out["failed"])

	s.err = apperr.ErrSyncInProgress
	resp, err = http.Post(srv.URL+"/sync/views", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestStatus(t *testing.T) {
	s := &fakeSyncer{state: syncer.SyncingPending}
	srv := newTestServer(t, &fakeCapture{}, s, fakeStatus{online: true, pending: 4})

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["online"])
	assert.Equal(t, syncer.SyncingPending.String(), out["state"])
	assert.EqualValues(t, 4, out["pending"])
}

func TestSession(t *testing.T) {
	srv := newTestServer(t, &fakeCapture{}, &fakeSyncer{}, fakeStatus{})

	resp, err := http.Get(srv.URL + "/session")
	require.NoError(t, err)
	out := decodeBody(t, resp)
	assert.Equal(t, "ana", out["usuario"])
	assert.Equal(t, false, out["authenticated"])

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/session", strings.NewReader(`{"usuario":"luis","empresa":3}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/session", strings.NewReader(`{"usuario":"luis","empresa":3,"token":"t0k"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out = decodeBody(t, resp)
	assert.Equal(t, "luis", out["usuario"])
	assert.EqualValues(t, 3, out["empresa"])
	assert.Equal(t, true, out["authenticated"])
}
