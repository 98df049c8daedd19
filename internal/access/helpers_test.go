package access

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"
)

// testCipher uses few iterations to keep tests fast.
func testCipher() *Cipher {
	return &Cipher{iterations: 1000, rand: rand.Reader}
}

// memoryPersistence is a test implementation of Persistence.
type memoryPersistence struct {
	mu      sync.Mutex
	snap    *Snapshot
	saves   int
	loadErr error
	saveErr error
	// failSaves makes the next N saves fail with saveErr.
	failSaves int
}

func (p *memoryPersistence) Load(context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.snap == nil {
		return nil, nil
	}
	cp := *p.snap
	return &cp, nil
}

func (p *memoryPersistence) Save(_ context.Context, snap *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.failSaves > 0 {
		p.failSaves--
		return p.saveErr
	}
	cp := *snap
	p.snap = &cp
	return nil
}

func (p *memoryPersistence) saved() (*Snapshot, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap, p.saves
}

// recordingNotifier collects notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// fixture wires a store, managers and engine over in-memory persistence.
type fixture struct {
	persistence *memoryPersistence
	store       *Store
	cipher      *Cipher
	users       *UserManager
	schedules   *ScheduleManager
	engine      *Engine
	notifier    *recordingNotifier
	now         time.Time
}

// wednesday is day 2 in the Monday-first convention.
var wednesday = time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		persistence: &memoryPersistence{},
		cipher:      testCipher(),
		notifier:    &recordingNotifier{},
		now:         wednesday,
	}
	f.store = NewStore(f.persistence)
	if err := f.store.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	clock := func() time.Time { return f.now }
	f.users = NewUserManager(f.store, NewUserValidator(DefaultPolicy(), f.cipher), f.cipher)
	f.users.SetClock(clock)
	f.schedules = NewScheduleManager(f.store)
	f.schedules.SetClock(clock)
	f.engine = NewEngine(f.store, f.users, f.cipher,
		WithClock(clock),
		WithLocation(time.UTC),
		WithNotifier(f.notifier),
	)
	return f
}

func (f *fixture) createUser(t *testing.T, name, code, tag string) *User {
	t.Helper()
	u, err := f.users.Create(t.Context(), name, code, tag, true)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
	return u
}

func (f *fixture) at(day, hour, minute, second int) {
	// 2026-01-05 is a Monday (day 0).
	f.now = time.Date(2026, time.January, 5+day, hour, minute, second, 0, time.UTC)
}

func wantField(t *testing.T, err error, field string) {
	t.Helper()
	var uve *UserValidationError
	var sve *ScheduleValidationError
	switch {
	case errors.As(err, &uve):
		if uve.Field != field {
			t.Errorf("error field = %q, want %q (err = %v)", uve.Field, field, err)
		}
	case errors.As(err, &sve):
		if sve.Field != field {
			t.Errorf("error field = %q, want %q (err = %v)", sve.Field, field, err)
		}
	default:
		t.Fatalf("error = %v, want validation error on %q", err, field)
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("errors.Is(err, ErrValidation) = false for %v", err)
	}
}
