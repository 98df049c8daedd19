package access

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the access package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Persistence loads and saves complete snapshots.
//
// Load returns (nil, nil) when nothing has been stored yet. Save must replace
// the stored snapshot atomically: after a crash either the old or the new
// snapshot is readable, never a mix.
type Persistence interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Reader is a read-only view of the store's committed state.
//
// Pointers handed out by a Reader refer to the store's own records and must
// not be modified or retained after the callback returns.
type Reader interface {
	User(id string) (*User, bool)
	UserByTag(tag string) (*User, bool)
	EachUser(fn func(u *User) bool)
	Schedule(id string) (*Schedule, bool)
	SchedulesForUser(userID string) []*Schedule
	EachSchedule(fn func(s *Schedule) bool)
	Settings() Settings
}

// Store owns every User and Schedule record.
//
// Reads run concurrently under a read lock. Mutations go through Update,
// which serialises writers with a dedicated mutex and only takes the write
// lock to commit, so slow validation (PBKDF2 uniqueness scans) never blocks
// readers. Persistence happens after the commit, on a copy of the state,
// without holding the data lock.
//
// Code lookup is linear: every code has its own salt, so a presented code
// must be hashed once per user with a code. This is fine for the intended
// scale (under ~100 users) and is the first thing to revisit beyond it.
//
// All public methods are thread-safe.
type Store struct {
	persistence Persistence
	logger      Logger
	saveDelay   time.Duration
	onFlushErr  func(err error)

	writeMu sync.Mutex // serialises Update and Load

	mu            sync.RWMutex // protects the fields below
	users         map[string]*User
	schedules     map[string]*Schedule
	tagIndex      map[string]string              // tag -> user ID
	userSchedules map[string]map[string]struct{} // user ID -> schedule IDs
	settings      Settings
	version       uint64

	flushMu      sync.Mutex // serialises saves
	savedVersion uint64

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSaveDelay sets how long mutations are batched before a flush.
// Zero flushes synchronously at the end of every Update.
func WithSaveDelay(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.saveDelay = d
		}
	}
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(l Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFlushErrorHandler registers a callback for flush failures, including
// background (debounced) flushes that have no caller to return to.
func WithFlushErrorHandler(fn func(err error)) StoreOption {
	return func(s *Store) {
		s.onFlushErr = fn
	}
}

// NewStore creates an empty store. A nil persistence keeps state in memory only.
func NewStore(p Persistence, opts ...StoreOption) *Store {
	s := &Store{
		persistence:   p,
		logger:        noopLogger{},
		users:         make(map[string]*User),
		schedules:     make(map[string]*Schedule),
		tagIndex:      make(map[string]string),
		userSchedules: make(map[string]map[string]struct{}),
		settings:      DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted snapshot.
//
// Orphan schedules are dropped with a warning and the cleaned state is
// scheduled for saving. Duplicate IDs, duplicate tags and users without any
// credential are reported as ErrInternalInconsistency and leave the store
// unchanged.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var snap *Snapshot
	if s.persistence != nil {
		loaded, err := s.persistence.Load(ctx)
		if err != nil {
			return &StorageError{Op: "load", Err: err}
		}
		snap = loaded
	}
	if snap == nil {
		snap = &Snapshot{Settings: DefaultSettings()}
	}

	users := make(map[string]*User, len(snap.Users))
	tags := make(map[string]string, len(snap.Users))
	for i := range snap.Users {
		u := snap.Users[i].Clone()
		if _, dup := users[u.ID]; dup || u.ID == "" {
			return fmt.Errorf("%w: duplicate or empty user id %q", ErrInternalInconsistency, u.ID)
		}
		if !u.HasCode() && !u.HasTag() {
			return fmt.Errorf("%w: user %s has neither code nor tag", ErrInternalInconsistency, u.ID)
		}
		if u.HasTag() {
			if other, dup := tags[u.Tag]; dup {
				return fmt.Errorf("%w: tag shared by users %s and %s", ErrInternalInconsistency, other, u.ID)
			}
			tags[u.Tag] = u.ID
		}
		users[u.ID] = u
	}

	schedules := make(map[string]*Schedule, len(snap.Schedules))
	byUser := make(map[string]map[string]struct{})
	dropped := 0
	for i := range snap.Schedules {
		sc := snap.Schedules[i].Clone()
		if _, dup := schedules[sc.ID]; dup || sc.ID == "" {
			return fmt.Errorf("%w: duplicate or empty schedule id %q", ErrInternalInconsistency, sc.ID)
		}
		if _, ok := users[sc.UserID]; !ok {
			s.logger.Warn("dropping orphan schedule", "schedule_id", sc.ID, "user_id", sc.UserID)
			dropped++
			continue
		}
		schedules[sc.ID] = sc
		if byUser[sc.UserID] == nil {
			byUser[sc.UserID] = make(map[string]struct{})
		}
		byUser[sc.UserID][sc.ID] = struct{}{}
	}

	s.mu.Lock()
	s.users = users
	s.schedules = schedules
	s.tagIndex = tags
	s.userSchedules = byUser
	s.settings = snap.Settings
	s.version++
	if dropped == 0 {
		s.savedVersion = s.version
	}
	s.mu.Unlock()

	s.logger.Info("access store loaded", "users", len(users), "schedules", len(schedules))
	if dropped > 0 {
		s.scheduleFlush()
	}
	return nil
}

// View runs fn against a consistent read-only view of the committed state.
func (s *Store) View(fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(storeReader{s})
}

// Update runs fn as a single-writer transaction.
//
// fn reads the committed state through the Txn and stages mutations. If fn
// returns an error nothing is applied. Otherwise all staged mutations are
// committed at once; deleting a user also deletes its schedules.
//
// After a successful commit the state is flushed, either immediately (zero
// save delay, in which case a *StorageError may be returned even though the
// mutation was applied) or after the configured delay.
func (s *Store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	committed, err := s.commit(fn)
	if err != nil || !committed {
		return err
	}
	if s.saveDelay <= 0 {
		return s.Flush(ctx)
	}
	s.scheduleFlush()
	return nil
}

func (s *Store) commit(fn func(tx *Txn) error) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &Txn{Reader: storeReader{s}}
	if err := fn(tx); err != nil {
		return false, err
	}
	if len(tx.ops) == 0 {
		return false, nil
	}
	if err := s.checkTxn(tx); err != nil {
		s.logger.Error("rejecting inconsistent transaction", "error", err)
		return false, err
	}

	s.mu.Lock()
	for _, op := range tx.ops {
		op(s)
	}
	s.version++
	s.mu.Unlock()
	return true, nil
}

// checkTxn replays the staged operations against an overlay of the committed
// state and rejects any that would leave an orphan schedule, a duplicate tag
// or a user without credentials. The caller holds writeMu, so the committed
// state cannot change underneath it.
func (s *Store) checkTxn(tx *Txn) error {
	userExists := make(map[string]bool)
	tagOwner := make(map[string]string)
	exists := func(id string) bool {
		if v, ok := userExists[id]; ok {
			return v
		}
		_, ok := s.users[id]
		return ok
	}
	owner := func(tag string) string {
		if v, ok := tagOwner[tag]; ok {
			return v
		}
		return s.tagIndex[tag]
	}

	for i, st := range tx.staged {
		switch {
		case st.user != nil:
			u := st.user
			if !u.HasCode() && !u.HasTag() {
				return fmt.Errorf("%w: user %s would have neither code nor tag", ErrInternalInconsistency, u.ID)
			}
			if old := tagBefore(tx.staged[:i], s, u.ID); old != "" && old != u.Tag {
				tagOwner[old] = ""
			}
			if u.HasTag() {
				if o := owner(u.Tag); o != "" && o != u.ID {
					return fmt.Errorf("%w: tag already held by user %s", ErrInternalInconsistency, o)
				}
				tagOwner[u.Tag] = u.ID
			}
			userExists[u.ID] = true
		case st.deleteUser != "":
			if t := tagBefore(tx.staged[:i], s, st.deleteUser); t != "" {
				tagOwner[t] = ""
			}
			userExists[st.deleteUser] = false
		case st.schedule != nil:
			if !exists(st.schedule.UserID) {
				return fmt.Errorf("%w: schedule %s references unknown user %s",
					ErrInternalInconsistency, st.schedule.ID, st.schedule.UserID)
			}
		}
	}
	return nil
}

// tagBefore returns the tag user id holds before the staged operations in prefix
// are applied on top of the committed state.
func tagBefore(prefix []stagedOp, s *Store, id string) string {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i].user != nil && prefix[i].user.ID == id {
			return prefix[i].user.Tag
		}
		if prefix[i].deleteUser == id {
			return ""
		}
	}
	if u, ok := s.users[id]; ok {
		return u.Tag
	}
	return ""
}

// Flush saves the current state if it changed since the last save.
//
// The snapshot is copied under the read lock and written after releasing it.
// A failed save is retried once; if that also fails a *StorageError is
// returned and passed to the flush error handler. The in-memory state stays
// authoritative either way.
func (s *Store) Flush(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.version == s.savedVersion {
		s.mu.RUnlock()
		return nil
	}
	snap := s.snapshotLocked()
	version := s.version
	s.mu.RUnlock()

	err := s.persistence.Save(ctx, snap)
	if err != nil {
		s.logger.Warn("snapshot save failed, retrying", "error", err)
		err = s.persistence.Save(ctx, snap)
	}
	if err != nil {
		serr := &StorageError{Op: "save", Err: err}
		s.logger.Error("snapshot save failed", "error", err)
		if s.onFlushErr != nil {
			s.onFlushErr(serr)
		}
		return serr
	}

	s.mu.Lock()
	s.savedVersion = version
	s.mu.Unlock()
	s.logger.Debug("snapshot saved", "users", len(snap.Users), "schedules", len(snap.Schedules))
	return nil
}

// scheduleFlush arms the debounce timer if it is not already running.
// Mutations arriving while it runs are folded into the same save.
func (s *Store) scheduleFlush() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.closed || s.timer != nil || s.persistence == nil {
		return
	}
	s.timer = time.AfterFunc(s.saveDelay, func() {
		s.timerMu.Lock()
		s.timer = nil
		s.timerMu.Unlock()
		_ = s.Flush(context.Background()) //nolint:errcheck // reported via logger and flush error handler
	})
}

// Dirty reports whether there are mutations not yet saved.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version != s.savedVersion
}

// Close stops the debounce timer and performs a final flush.
func (s *Store) Close(ctx context.Context) error {
	s.timerMu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerMu.Unlock()

	return s.Flush(ctx)
}

// Snapshot returns a deep copy of the complete state, ordered by creation time.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Users:     make([]User, 0, len(s.users)),
		Schedules: make([]Schedule, 0, len(s.schedules)),
		Settings:  s.settings,
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, *u.Clone())
	}
	for _, sc := range s.schedules {
		snap.Schedules = append(snap.Schedules, *sc)
	}
	slices.SortFunc(snap.Users, func(a, b User) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(snap.Schedules, func(a, b Schedule) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return snap
}

// Stats returns counts for monitoring.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalUsers: len(s.users), Schedules: len(s.schedules)}
	for _, u := range s.users {
		if !u.Active {
			continue
		}
		st.ActiveUsers++
		if u.HasCode() {
			st.UsersWithCodes++
		}
		if u.HasTag() {
			st.UsersWithTags++
		}
	}
	return st
}

// Settings returns the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the settings.
func (s *Store) UpdateSettings(ctx context.Context, settings Settings) error {
	if settings.DefaultAccessTime < 0 {
		return fmt.Errorf("%w: default access time cannot be negative", ErrValidation)
	}
	return s.Update(ctx, func(tx *Txn) error {
		tx.SetSettings(settings)
		return nil
	})
}

// =============================================================================
// Transactions
// =============================================================================

// stagedOp records a staged mutation for consistency checks.
type stagedOp struct {
	user       *User
	deleteUser string
	schedule   *Schedule
}

// Txn stages mutations for Store.Update. Reads through the embedded Reader
// see the committed state only, not the transaction's own staged writes.
type Txn struct {
	Reader
	ops    []func(s *Store)
	staged []stagedOp
}

// PutUser stages an insert or replacement of u.
func (t *Txn) PutUser(u *User) {
	c := u.Clone()
	t.staged = append(t.staged, stagedOp{user: c})
	t.ops = append(t.ops, func(s *Store) {
		if old, ok := s.users[c.ID]; ok && old.Tag != "" && old.Tag != c.Tag {
			delete(s.tagIndex, old.Tag)
		}
		if c.Tag != "" {
			s.tagIndex[c.Tag] = c.ID
		}
		s.users[c.ID] = c
	})
}

// DeleteUser stages removal of a user and every schedule it owns.
func (t *Txn) DeleteUser(id string) {
	t.staged = append(t.staged, stagedOp{deleteUser: id})
	t.ops = append(t.ops, func(s *Store) {
		for sid := range s.userSchedules[id] {
			delete(s.schedules, sid)
		}
		delete(s.userSchedules, id)
		if old, ok := s.users[id]; ok && old.Tag != "" {
			delete(s.tagIndex, old.Tag)
		}
		delete(s.users, id)
	})
}

// PutSchedule stages an insert or replacement of sc.
func (t *Txn) PutSchedule(sc *Schedule) {
	c := sc.Clone()
	t.staged = append(t.staged, stagedOp{schedule: c})
	t.ops = append(t.ops, func(s *Store) {
		if old, ok := s.schedules[c.ID]; ok && old.UserID != c.UserID {
			delete(s.userSchedules[old.UserID], c.ID)
		}
		s.schedules[c.ID] = c
		if s.userSchedules[c.UserID] == nil {
			s.userSchedules[c.UserID] = make(map[string]struct{})
		}
		s.userSchedules[c.UserID][c.ID] = struct{}{}
	})
}

// DeleteSchedule stages removal of a schedule.
func (t *Txn) DeleteSchedule(id string) {
	t.ops = append(t.ops, func(s *Store) {
		if old, ok := s.schedules[id]; ok {
			delete(s.userSchedules[old.UserID], id)
			if len(s.userSchedules[old.UserID]) == 0 {
				delete(s.userSchedules, old.UserID)
			}
		}
		delete(s.schedules, id)
	})
}

// SetSettings stages a settings replacement.
func (t *Txn) SetSettings(settings Settings) {
	t.ops = append(t.ops, func(s *Store) {
		s.settings = settings
	})
}

// =============================================================================
// Reader
// =============================================================================

// storeReader reads the store's maps. The caller holds mu (read) or writeMu.
type storeReader struct{ s *Store }

func (r storeReader) User(id string) (*User, bool) {
	u, ok := r.s.users[id]
	return u, ok
}

func (r storeReader) UserByTag(tag string) (*User, bool) {
	id, ok := r.s.tagIndex[tag]
	if !ok {
		return nil, false
	}
	return r.User(id)
}

func (r storeReader) EachUser(fn func(u *User) bool) {
	for _, u := range r.s.users {
		if !fn(u) {
			return
		}
	}
}

func (r storeReader) Schedule(id string) (*Schedule, bool) {
	sc, ok := r.s.schedules[id]
	return sc, ok
}

func (r storeReader) SchedulesForUser(userID string) []*Schedule {
	ids := r.s.userSchedules[userID]
	out := make([]*Schedule, 0, len(ids))
	for id := range ids {
		if sc, ok := r.s.schedules[id]; ok {
			out = append(out, sc)
		}
	}
	return out
}

func (r storeReader) EachSchedule(fn func(sc *Schedule) bool) {
	for _, sc := range r.s.schedules {
		if !fn(sc) {
			return
		}
	}
}

func (r storeReader) Settings() Settings {
	return r.s.settings
}
