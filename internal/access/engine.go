package access

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultSource is recorded when a validation request names no source.
const DefaultSource = "unknown"

// Notifier receives the notification produced by every validation call.
// Implementations must not block for long; the engine calls Notify
// synchronously after the verdict has been decided.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f(ctx, n).
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

// Engine turns a presented credential into a Verdict.
//
// The decision runs in four steps: credential lookup, active check, schedule
// match against the injected clock, and on success a last-used update. Each
// call emits exactly one Notification, whatever the outcome.
//
// Thread Safety: lookups run under the store's read lock and may proceed in
// parallel; the last-used update goes through the store's single writer.
type Engine struct {
	store    *Store
	users    *UserManager
	cipher   *Cipher
	notifier Notifier
	now      func() time.Time
	location *time.Location
	logger   Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source used for schedule matching and timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the site timezone schedules are expressed in.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(store *Store, users *UserManager, cipher *Cipher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		users:    users,
		cipher:   cipher,
		notifier: noopNotifier{},
		now:      time.Now,
		location: time.Local,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidate is the result of a credential lookup.
type candidate struct {
	user      *User
	schedules []*Schedule
}

// ValidateByCode decides whether code grants access now.
//
// Every user with a stored code is checked, active or not, so that a disabled
// user is reported as INACTIVE_USER rather than INVALID_CODE. If two users
// match, the call is refused and ErrInternalInconsistency is returned
// alongside the verdict.
func (e *Engine) ValidateByCode(ctx context.Context, code, source string) (Verdict, error) {
	now := e.now()
	source = normaliseSource(source)

	var found candidate
	var lookupErr error
	if code != "" {
		_ = e.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
			r.EachUser(func(u *User) bool {
				if !u.HasCode() || !e.cipher.Verify(code, u.CodeSalt, u.CodeHash) {
					return true
				}
				if found.user != nil {
					lookupErr = ErrInternalInconsistency
					return false
				}
				found.user = u.Clone()
				return true
			})
			if found.user != nil && lookupErr == nil {
				found.schedules = cloneSchedules(r.SchedulesForUser(found.user.ID))
			}
			return nil
		})
	}

	if lookupErr != nil {
		e.logger.Error("code matched more than one user", "source", source, "error", lookupErr)
		v := Verdict{Valid: false, Reason: ReasonInvalidCode, Source: source}
		e.notify(ctx, v, MethodCode, code, now)
		return v, lookupErr
	}

	v := e.decide(ctx, MethodCode, found, source, now)
	e.notify(ctx, v, MethodCode, code, now)
	return v, nil
}

// ValidateByTag decides whether tag grants access now. The presented tag is
// put in the tag policy's canonical form before the lookup, so a numeric tag
// matches whatever its leading zeros.
func (e *Engine) ValidateByTag(ctx context.Context, tag, source string) (Verdict, error) {
	now := e.now()
	source = normaliseSource(source)
	tag = e.users.CanonicalTag(tag)

	var found candidate
	if tag != "" {
		_ = e.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
			if u, ok := r.UserByTag(tag); ok {
				found.user = u.Clone()
				found.schedules = cloneSchedules(r.SchedulesForUser(u.ID))
			}
			return nil
		})
	}

	v := e.decide(ctx, MethodTag, found, source, now)
	e.notify(ctx, v, MethodTag, tag, now)
	return v, nil
}

// decide applies the active and schedule checks to a lookup result.
func (e *Engine) decide(ctx context.Context, method Method, c candidate, source string, now time.Time) Verdict {
	if c.user == nil {
		reason := ReasonInvalidCode
		if method == MethodTag {
			reason = ReasonInvalidTag
		}
		return Verdict{Valid: false, Reason: reason, Source: source}
	}

	u := c.user
	if !u.Active {
		return Verdict{Valid: false, UserID: u.ID, UserName: u.Name, Reason: ReasonInactiveUser, Source: source}
	}

	if !e.withinSchedule(c.schedules, now) {
		return Verdict{Valid: false, UserID: u.ID, UserName: u.Name, Reason: ReasonInvalidSchedule, Source: source}
	}

	if err := e.users.UpdateLastUsedAt(ctx, u.ID, now); err != nil {
		switch {
		case errors.Is(err, ErrStorage):
			e.logger.Warn("last-used time applied but not saved", "user_id", u.ID, "error", err)
		default:
			e.logger.Warn("failed to record last-used time", "user_id", u.ID, "error", err)
		}
	}

	return Verdict{Valid: true, UserID: u.ID, UserName: u.Name, Source: source}
}

// withinSchedule reports whether now falls in one of the active schedules.
// A user with no active schedules is unrestricted.
func (e *Engine) withinSchedule(schedules []*Schedule, now time.Time) bool {
	local := now.In(e.location)
	active := 0
	for _, sc := range schedules {
		if !sc.Active {
			continue
		}
		active++
		if sc.covers(local) {
			return true
		}
	}
	return active == 0
}

func (e *Engine) notify(ctx context.Context, v Verdict, method Method, credential string, now time.Time) {
	n := Notification{
		Type:      NotificationFailed,
		Method:    method,
		UserID:    v.UserID,
		UserName:  v.UserName,
		Source:    v.Source,
		Reason:    v.Reason,
		Timestamp: now.UTC(),
	}
	if v.Valid {
		n.Type = NotificationValidated
	}
	if method == MethodCode {
		n.Code = credential
	} else {
		n.Tag = credential
	}

	if v.Valid {
		e.logger.Info("access granted", "method", method, "user_id", v.UserID, "source", v.Source)
	} else {
		e.logger.Info("access refused", "method", method, "reason", v.Reason, "user_id", v.UserID, "source", v.Source)
	}
	e.notifier.Notify(ctx, n)
}

func normaliseSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return DefaultSource
	}
	return source
}

func cloneSchedules(in []*Schedule) []*Schedule {
	out := make([]*Schedule, len(in))
	for i, sc := range in {
		out[i] = sc.Clone()
	}
	return out
}
