package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/metrics"
)

// memoryPersistence keeps snapshots in memory.
type memoryPersistence struct{ snap *access.Snapshot }

func (p *memoryPersistence) Load(context.Context) (*access.Snapshot, error) { return p.snap, nil }

func (p *memoryPersistence) Save(_ context.Context, s *access.Snapshot) error {
	p.snap = s
	return nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

func (c connected) SubscriptionCount() int {
	if c {
		return 2
	}
	return 0
}

// fakeAccessLog answers Summarise with fixed figures.
type fakeAccessLog struct {
	accesslog.Repository
	err error
}

func (f *fakeAccessLog) CountSince(_ context.Context, typ access.NotificationType, _ time.Time) (int, error) {
	if typ == access.NotificationValidated {
		return 3, f.err
	}
	return 1, f.err
}

func (f *fakeAccessLog) Last(context.Context, access.NotificationType) (*accesslog.Entry, error) {
	return &accesslog.Entry{ID: "acc-1", UserName: "Alice", Source: "front"}, nil
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer creates a Server over a store holding one tag user.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	store := access.NewStore(&memoryPersistence{})
	if err := store.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cipher := access.NewCipher()
	users := access.NewUserManager(store, access.NewUserValidator(access.DefaultPolicy(), cipher), cipher)
	if _, err := users.Create(t.Context(), "Alice", "", "42", true); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	deps := Deps{
		Config:  config.MetricsConfig{Listen: "127.0.0.1:0", Path: "/metrics"},
		Logger:  testLogger(),
		Store:   store,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) error = nil, want logger required")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without store error = nil")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealthDegraded(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
			"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
		}
	})
	w := get(t, srv, "/api/v1/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["database"] != "ok" || resp.Checks["mqtt"] != "not connected" {
		t.Errorf("health = %+v", resp)
	}
}

func TestStats(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.AccessLog = &fakeAccessLog{} })
	w := get(t, srv, "/api/v1/stats")

	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", w.Code, w.Body.String())
	}
	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TotalUsers != 1 || resp.UsersWithTags != 1 || resp.ActiveUsers != 1 {
		t.Errorf("store stats = %+v", resp.Stats)
	}
	if resp.Settings != access.DefaultSettings() {
		t.Errorf("settings = %+v", resp.Settings)
	}
	if resp.AccessLog == nil || resp.AccessLog.GrantedToday != 3 || resp.AccessLog.FailedToday != 1 {
		t.Errorf("access log = %+v", resp.AccessLog)
	}
}

func TestStatsAccessLogError(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.AccessLog = &fakeAccessLog{err: errors.New("db locked")} })
	if w := get(t, srv, "/api/v1/stats"); w.Code != http.StatusInternalServerError {
		t.Errorf("stats status = %d, want 500", w.Code)
	}
}

func TestSystem(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.MQTT = connected(true) })
	w := get(t, srv, "/api/v1/system")

	var resp SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Runtime.Goroutines == 0 || resp.Version != "test" {
		t.Errorf("system = %+v", resp)
	}
	if resp.MQTT == nil || !resp.MQTT.Connected || resp.MQTT.Subscriptions != 2 {
		t.Errorf("mqtt = %+v", resp.MQTT)
	}
	if resp.Database != nil {
		t.Error("database metrics reported without a database")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	prom := metrics.New("test")
	prom.ObserveRateLimited("code")
	srv := testServer(t, func(d *Deps) { d.Metrics = prom.Handler() })

	w := get(t, srv, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_rate_limited_total") {
		t.Error("exposition lacks the rate limited counter")
	}
}

func TestMetricsPathUnsetWithoutHandler(t *testing.T) {
	srv := testServer(t, nil)
	if w := get(t, srv, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, nil)

	w := get(t, srv, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	srv := testServer(t, nil)

	w := get(t, srv, "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, want 405", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status after panic = %d, want 500", w.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	srv := testServer(t, nil)

	if err := srv.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() before Start = nil error")
	}
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live health status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
