package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStoreLoadEmpty(t *testing.T) {
	s := NewStore(&memoryPersistence{})
	if err := s.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := s.Settings(); got != DefaultSettings() {
		t.Errorf("Settings() = %+v, want defaults", got)
	}
	if s.Dirty() {
		t.Error("Dirty() = true after loading nothing")
	}
}

func TestStoreLoadError(t *testing.T) {
	cause := errors.New("disk gone")
	s := NewStore(&memoryPersistence{loadErr: cause})

	err := s.Load(t.Context())
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Errorf("Load() error = %v, want ErrStorage wrapping cause", err)
	}
}

func TestStoreLoadDropsOrphanSchedules(t *testing.T) {
	now := time.Now().UTC()
	p := &memoryPersistence{snap: &Snapshot{
		Users: []User{{ID: "u1", Name: "Alice", Tag: "1", Active: true, CreatedAt: now}},
		Schedules: []Schedule{
			{ID: "s1", UserID: "u1", DayOfWeek: 0, StartTime: "08:00:00", EndTime: "09:00:00", Active: true},
			{ID: "s2", UserID: "ghost", DayOfWeek: 0, StartTime: "08:00:00", EndTime: "09:00:00", Active: true},
		},
		Settings: DefaultSettings(),
	}}
	s := NewStore(p, WithSaveDelay(time.Hour))
	if err := s.Load(t.Context()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].ID != "s1" {
		t.Errorf("schedules after load = %+v, want only s1", snap.Schedules)
	}
	if !s.Dirty() {
		t.Error("Dirty() = false, want true so the cleaned state is saved")
	}
	if err := s.Close(t.Context()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	saved, _ := p.saved()
	if len(saved.Schedules) != 1 {
		t.Errorf("saved schedules = %d, want 1", len(saved.Schedules))
	}
}

func TestStoreLoadRejectsInconsistentSnapshot(t *testing.T) {
	tests := []struct {
		name string
		snap *Snapshot
	}{
		{
			name: "duplicate user id",
			snap: &Snapshot{Users: []User{{ID: "u1", Tag: "1"}, {ID: "u1", Tag: "2"}}},
		},
		{
			name: "duplicate tag",
			snap: &Snapshot{Users: []User{{ID: "u1", Tag: "7"}, {ID: "u2", Tag: "7"}}},
		},
		{
			name: "user without credentials",
			snap: &Snapshot{Users: []User{{ID: "u1", Name: "Nobody"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(&memoryPersistence{snap: tt.snap})
			if err := s.Load(t.Context()); !errors.Is(err, ErrInternalInconsistency) {
				t.Errorf("Load() error = %v, want ErrInternalInconsistency", err)
			}
		})
	}
}

func TestStoreUpdateErrorAppliesNothing(t *testing.T) {
	s := NewStore(nil)
	boom := errors.New("boom")

	err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Name: "Alice", Tag: "1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	if got := s.Stats().TotalUsers; got != 0 {
		t.Errorf("TotalUsers = %d after failed update, want 0", got)
	}
}

func TestStoreRejectsOrphanSchedule(t *testing.T) {
	s := NewStore(nil)

	err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutSchedule(&Schedule{ID: "s1", UserID: "ghost"})
		return nil
	})
	if !errors.Is(err, ErrInternalInconsistency) {
		t.Errorf("Update() error = %v, want ErrInternalInconsistency", err)
	}
}

func TestStoreRejectsDuplicateTag(t *testing.T) {
	s := NewStore(nil)
	ctx := t.Context()

	if err := s.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "5"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err := s.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&User{ID: "u2", Tag: "5"})
		return nil
	})
	if !errors.Is(err, ErrInternalInconsistency) {
		t.Errorf("Update() error = %v, want ErrInternalInconsistency", err)
	}

	// Moving the tag away in the same transaction frees it.
	err = s.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "6"})
		tx.PutUser(&User{ID: "u2", Tag: "5"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update() swapping tags error = %v", err)
	}
	_ = s.View(func(r Reader) error {
		if u, ok := r.UserByTag("5"); !ok || u.ID != "u2" {
			t.Errorf("UserByTag(5) = %v, %v, want u2", u, ok)
		}
		if u, ok := r.UserByTag("6"); !ok || u.ID != "u1" {
			t.Errorf("UserByTag(6) = %v, %v, want u1", u, ok)
		}
		return nil
	})
}

func TestStoreDeleteUserCascades(t *testing.T) {
	s := NewStore(nil)
	ctx := t.Context()

	if err := s.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "1"})
		tx.PutSchedule(&Schedule{ID: "s1", UserID: "u1"})
		tx.PutSchedule(&Schedule{ID: "s2", UserID: "u1"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// DeleteUser alone removes owned schedules.
	if err := s.Update(ctx, func(tx *Txn) error {
		tx.DeleteUser("u1")
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Users) != 0 || len(snap.Schedules) != 0 {
		t.Errorf("snapshot = %d users, %d schedules, want none", len(snap.Users), len(snap.Schedules))
	}
	_ = s.View(func(r Reader) error {
		if _, ok := r.UserByTag("1"); ok {
			t.Error("tag index still holds a removed user")
		}
		return nil
	})
}

func TestStoreSynchronousFlush(t *testing.T) {
	p := &memoryPersistence{}
	s := NewStore(p)

	if err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "1"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	saved, saves := p.saved()
	if saves != 1 || saved == nil || len(saved.Users) != 1 {
		t.Errorf("saves = %d, snapshot = %+v, want one save with one user", saves, saved)
	}
	if s.Dirty() {
		t.Error("Dirty() = true after synchronous flush")
	}
}

func TestStoreFlushRetriesOnce(t *testing.T) {
	cause := errors.New("transient")
	p := &memoryPersistence{saveErr: cause, failSaves: 1}
	s := NewStore(p)

	if err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "1"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v, want retry to succeed", err)
	}
	if _, saves := p.saved(); saves != 2 {
		t.Errorf("saves = %d, want 2", saves)
	}
}

func TestStoreFlushFailureKeepsMutation(t *testing.T) {
	cause := errors.New("read-only filesystem")
	p := &memoryPersistence{saveErr: cause, failSaves: 2}

	var handled error
	s := NewStore(p, WithFlushErrorHandler(func(err error) { handled = err }))

	err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "1"})
		return nil
	})

	var serr *StorageError
	if !errors.As(err, &serr) || !errors.Is(err, cause) {
		t.Fatalf("Update() error = %v, want *StorageError wrapping cause", err)
	}
	if handled == nil {
		t.Error("flush error handler not called")
	}
	if got := s.Stats().TotalUsers; got != 1 {
		t.Errorf("TotalUsers = %d, want the mutation kept in memory", got)
	}
	if !s.Dirty() {
		t.Error("Dirty() = false after failed flush")
	}

	// A later flush succeeds once storage recovers.
	if err := s.Flush(t.Context()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if s.Dirty() {
		t.Error("Dirty() = true after successful flush")
	}
}

func TestStoreDebouncedFlush(t *testing.T) {
	p := &memoryPersistence{}
	s := NewStore(p, WithSaveDelay(100*time.Millisecond))
	ctx := t.Context()

	for i, tag := range []string{"1", "2", "3"} {
		id := []string{"a", "b", "c"}[i]
		if err := s.Update(ctx, func(tx *Txn) error {
			tx.PutUser(&User{ID: id, Tag: tag})
			return nil
		}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	if _, saves := p.saved(); saves != 0 {
		t.Errorf("saves before delay = %d, want 0", saves)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Dirty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	saved, saves := p.saved()
	if saves != 1 {
		t.Errorf("saves = %d, want mutations batched into 1", saves)
	}
	if saved == nil || len(saved.Users) != 3 {
		t.Errorf("saved snapshot = %+v, want 3 users", saved)
	}
}

func TestStoreCloseFlushesPending(t *testing.T) {
	p := &memoryPersistence{}
	s := NewStore(p, WithSaveDelay(time.Hour))

	if err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Tag: "1"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Close(t.Context()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, saves := p.saved(); saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(nil)
	if err := s.Update(t.Context(), func(tx *Txn) error {
		tx.PutUser(&User{ID: "u1", Name: "Alice", Tag: "1"})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap := s.Snapshot()
	snap.Users[0].Name = "Mallory"

	if got := s.Snapshot().Users[0].Name; got != "Alice" {
		t.Errorf("store name = %q after mutating snapshot, want Alice", got)
	}
}

func TestStoreUpdateSettings(t *testing.T) {
	s := NewStore(nil)

	want := Settings{DefaultAccessTime: 12, DebugLogging: true}
	if err := s.UpdateSettings(t.Context(), want); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if got := s.Settings(); got != want {
		t.Errorf("Settings() = %+v, want %+v", got, want)
	}

	if err := s.UpdateSettings(t.Context(), Settings{DefaultAccessTime: -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateSettings(negative) error = %v, want ErrValidation", err)
	}
}

func TestStoreConcurrentReadsAndWrites(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = s.Update(ctx, func(tx *Txn) error {
				tx.PutUser(&User{ID: id, Tag: id})
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = s.Stats()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	if got := s.Stats().TotalUsers; got != 20 {
		t.Errorf("TotalUsers = %d, want 20", got)
	}
}
