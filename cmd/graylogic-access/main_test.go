package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/metrics"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_ACCESS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidStorageBackend verifies config validation stops startup.
func TestRun_InvalidStorageBackend(t *testing.T) {
	t.Setenv("GRAYLOGIC_ACCESS_CONFIG", writeConfig(t, `
site:
  id: test-site
storage:
  backend: tape
`))
	if err := run(t.Context()); err == nil {
		t.Fatal("run() should fail with an unknown storage backend")
	}
}

// TestRun_StartupAndShutdownWithoutMQTT runs the whole process with MQTT off
// and checks it stops cleanly when the context ends.
func TestRun_StartupAndShutdownWithoutMQTT(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GRAYLOGIC_ACCESS_CONFIG", writeConfig(t, `
site:
  id: test-site
  timezone: Europe/London
storage:
  backend: file
  path: "`+filepath.Join(dir, "access.json")+`"
  save_delay_ms: 0
database:
  path: "`+filepath.Join(dir, "access.db")+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
metrics:
  enabled: true
  listen: "127.0.0.1:0"
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "access.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_ACCESS_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("GRAYLOGIC_ACCESS_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/path/config.yaml", got)
	}
}

func TestPolicyFrom(t *testing.T) {
	got, err := policyFrom(config.Default().Access)
	if err != nil {
		t.Fatalf("policyFrom(defaults) error = %v", err)
	}
	if got != access.DefaultPolicy() {
		t.Errorf("policyFrom(defaults) = %+v, want %+v", got, access.DefaultPolicy())
	}

	bad := config.Default().Access
	bad.Tag.Format = "barcode"
	if _, err := policyFrom(bad); err == nil {
		t.Error("policyFrom() with unknown tag format error = nil")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	log := logging.Default()
	prom := metrics.New("test")

	if sinks := buildSinks(cfg, nil, nil, nil, prom, log); len(sinks) != 1 {
		t.Errorf("sinks without outputs = %d, want metrics only", len(sinks))
	}
	if sinks := buildSinks(cfg, nil, nil, &fakeRepo{}, prom, log); len(sinks) != 2 {
		t.Errorf("sinks with access log = %d, want 2", len(sinks))
	}
}

// fakeRepo records Prune calls.
type fakeRepo struct {
	accesslog.Repository
	before  []time.Time
	removed int64
	err     error
}

func (r *fakeRepo) Prune(_ context.Context, before time.Time) (int64, error) {
	r.before = append(r.before, before)
	return r.removed, r.err
}

func TestPrune(t *testing.T) {
	log := logging.Default()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	repo := &fakeRepo{removed: 3}
	prune(t.Context(), repo, 7*24*time.Hour, now, log)
	if len(repo.before) != 1 || !repo.before[0].Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("Prune cutoffs = %v", repo.before)
	}

	// Zero retention keeps everything.
	repo = &fakeRepo{}
	prune(t.Context(), repo, 0, now, log)
	if len(repo.before) != 0 {
		t.Error("Prune called with zero retention")
	}

	// Errors are logged, not fatal; a nil repo is a no-op.
	prune(t.Context(), &fakeRepo{err: errors.New("locked")}, time.Hour, now, log)
	prune(t.Context(), nil, time.Hour, now, log)
}

type recordingGauges struct{ counts []int }

func (g *recordingGauges) SetStoreCounts(total, active, withCode, withTag, schedules int) {
	g.counts = []int{total, active, withCode, withTag, schedules}
}

type nopPersistence struct{}

func (nopPersistence) Load(context.Context) (*access.Snapshot, error) { return nil, nil }
func (nopPersistence) Save(context.Context, *access.Snapshot) error   { return nil }

func TestRefreshGauges(t *testing.T) {
	store := access.NewStore(nopPersistence{})
	if err := store.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cipher := access.NewCipher()
	users := access.NewUserManager(store, access.NewUserValidator(access.DefaultPolicy(), cipher), cipher)
	if _, err := users.Create(t.Context(), "Alice", "", "7", false); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	g := &recordingGauges{}
	refreshGauges(store, g)
	want := []int{1, 0, 0, 1, 0}
	for i := range want {
		if g.counts[i] != want[i] {
			t.Fatalf("counts = %v, want %v", g.counts, want)
		}
	}
}
