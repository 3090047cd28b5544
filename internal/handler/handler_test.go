package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAlertStore struct {
	alerts []*domain.Alert
}

func (s *fakeAlertStore) Insert(_ context.Context, a *domain.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *fakeAlertStore) Resolve(_ context.Context, id uuid.UUID, notes string, at time.Time) error {
	for _, a := range s.alerts {
		if a.ID == id && a.IsActive {
			a.Resolve(at, notes)
			return nil
		}
	}
	return domain.ErrNotFound("active alert", id.String())
}

func (s *fakeAlertStore) ListActive(_ context.Context, f alert.Filter) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.IsActive && (f.Source == "" || a.Source == f.Source) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) LatestCollectionTimes(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (s *fakeAlertStore) DeadTupleRatios(context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func alertsRouter(store *fakeAlertStore) chi.Router {
	manager := alert.NewManager(store, alert.NewMemoryBookkeeper(), nil, discardLogger())
	h := NewAlertsHandler(manager, 4)

	r := chi.NewRouter()
	r.Use(JSONContentType)
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListActive)
		r.Post("/{id}/resolve", h.Resolve)
		r.Get("/gaps", h.CheckGaps)
	})
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/{id}/{enabled}", h.SetRuleEnabled)
	})
	return r
}

func TestListActiveAlerts(t *testing.T) {
	store := &fakeAlertStore{alerts: []*domain.Alert{
		{ID: uuid.New(), Source: "vsin", Type: domain.AlertCollectionGap,
			Severity: domain.SeverityWarning, IsActive: true, CreatedAt: time.Now()},
		{ID: uuid.New(), Source: "sbd", IsActive: false, CreatedAt: time.Now()},
	}}
	srv := httptest.NewServer(alertsRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/alerts/?source=vsin")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"count":1`)
	assert.Contains(t, string(body), "vsin")
}

func TestResolveAlertEndpoint(t *testing.T) {
	a := &domain.Alert{ID: uuid.New(), Source: "vsin", IsActive: true, CreatedAt: time.Now()}
	store := &fakeAlertStore{alerts: []*domain.Alert{a}}
	srv := httptest.NewServer(alertsRouter(store))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/alerts/"+a.ID.String()+"/resolve",
		"application/json", strings.NewReader(`{"notes":"provider back up"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, a.IsActive)
	assert.Equal(t, "provider back up", a.ResolutionNotes)
}

func TestResolveAlertBadID(t *testing.T) {
	srv := httptest.NewServer(alertsRouter(&fakeAlertStore{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/alerts/not-a-uuid/resolve",
		"application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuleToggleEndpoint(t *testing.T) {
	srv := httptest.NewServer(alertsRouter(&fakeAlertStore{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rules/low_confidence/false", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/rules/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "low_confidence")
}

func TestRespondErrorMapsAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, domain.ErrNotFound("source", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")

	rec = httptest.NewRecorder()
	RespondError(rec, io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", seen)
}
