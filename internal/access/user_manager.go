package access

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserManager creates, updates and removes users.
//
// Every mutation validates completely inside a Store transaction before
// staging anything, so a failed call leaves the store untouched. When the
// mutation commits but the flush fails, the updated user is returned together
// with a *StorageError.
type UserManager struct {
	store     *Store
	validator *UserValidator
	cipher    *Cipher
	now       func() time.Time
	logger    Logger
}

// NewUserManager creates a manager over store.
func NewUserManager(store *Store, validator *UserValidator, cipher *Cipher) *UserManager {
	return &UserManager{
		store:     store,
		validator: validator,
		cipher:    cipher,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// CanonicalTag returns tag in the form users' tags are stored under.
func (m *UserManager) CanonicalTag(tag string) string {
	return m.validator.CanonicalTag(tag)
}

// SetLogger sets the logger for the manager.
func (m *UserManager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetClock replaces the time source used for timestamps.
func (m *UserManager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create adds a user with an optional code and an optional tag. At least one
// of the two is required. Name and tag are trimmed before validation and the
// tag is stored in its canonical form.
func (m *UserManager) Create(ctx context.Context, name, code, tag string, active bool) (*User, error) {
	name = strings.TrimSpace(name)
	tag = m.validator.CanonicalTag(tag)

	var created *User
	err := m.store.Update(ctx, func(tx *Txn) error {
		if err := m.validator.Validate(tx, UserCandidate{Name: name, Code: code, Tag: tag}); err != nil {
			return err
		}

		now := m.now().UTC()
		u := &User{
			ID:        uuid.NewString(),
			Name:      name,
			Tag:       tag,
			Active:    active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if code != "" {
			salt, hash, err := m.cipher.Encrypt(code)
			if err != nil {
				return err
			}
			u.CodeSalt, u.CodeHash = salt, hash
		}

		tx.PutUser(u)
		created = u
		return nil
	})
	if created == nil {
		return nil, err
	}

	m.logger.Info("user created", "user_id", created.ID, "has_code", created.HasCode(), "has_tag", created.HasTag())
	return created.Clone(), err
}

// Get returns a copy of the user with the given ID.
func (m *UserManager) Get(id string) (*User, error) {
	var out *User
	_ = m.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
		if u, ok := r.User(id); ok {
			out = u.Clone()
		}
		return nil
	})
	if out == nil {
		return nil, ErrUserNotFound
	}
	return out, nil
}

// List returns copies of all users ordered by name, then ID.
func (m *UserManager) List() []*User {
	var out []*User
	_ = m.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
		r.EachUser(func(u *User) bool {
			out = append(out, u.Clone())
			return true
		})
		return nil
	})
	slices.SortFunc(out, func(a, b *User) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// UpdateName renames a user.
func (m *UserManager) UpdateName(ctx context.Context, id, name string) (*User, error) {
	name = strings.TrimSpace(name)
	return m.mutate(ctx, id, func(_ *Txn, u *User) error {
		if err := m.validator.ValidateName(name); err != nil {
			return err
		}
		u.Name = name
		return nil
	})
}

// UpdateCode replaces a user's code under a freshly generated salt.
// An empty code removes the code, which is only allowed if the user keeps a tag.
func (m *UserManager) UpdateCode(ctx context.Context, id, code string) (*User, error) {
	return m.mutate(ctx, id, func(tx *Txn, u *User) error {
		if code != "" {
			if err := m.validator.ValidateCode(code); err != nil {
				return err
			}
			if err := m.validator.ValidateCodeUniqueness(tx, code, id); err != nil {
				return err
			}
		}
		if err := m.validator.ValidateHasAccessMethod(code != "", u.HasTag()); err != nil {
			return err
		}

		if code == "" {
			u.CodeSalt, u.CodeHash = "", ""
			return nil
		}
		salt, hash, err := m.cipher.Encrypt(code)
		if err != nil {
			return err
		}
		u.CodeSalt, u.CodeHash = salt, hash
		return nil
	})
}

// UpdateTag replaces a user's tag. An empty tag removes it, which is only
// allowed if the user keeps a code.
func (m *UserManager) UpdateTag(ctx context.Context, id, tag string) (*User, error) {
	tag = m.validator.CanonicalTag(tag)
	return m.mutate(ctx, id, func(tx *Txn, u *User) error {
		if tag != "" {
			if err := m.validator.ValidateTag(tag); err != nil {
				return err
			}
			if err := m.validator.ValidateTagUniqueness(tx, tag, id); err != nil {
				return err
			}
		}
		if err := m.validator.ValidateHasAccessMethod(u.HasCode(), tag != ""); err != nil {
			return err
		}
		u.Tag = tag
		return nil
	})
}

// SetActive enables or disables a user without touching credentials.
func (m *UserManager) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	return m.mutate(ctx, id, func(_ *Txn, u *User) error {
		u.Active = active
		return nil
	})
}

// UpdateLastUsedAt records a granted validation.
func (m *UserManager) UpdateLastUsedAt(ctx context.Context, id string, at time.Time) error {
	_, err := m.mutateAt(ctx, id, false, func(_ *Txn, u *User) error {
		t := at.UTC()
		u.LastUsedAt = &t
		return nil
	})
	return err
}

// Remove deletes a user and all of the user's schedules in one transaction.
func (m *UserManager) Remove(ctx context.Context, id string) error {
	removedSchedules := -1
	err := m.store.Update(ctx, func(tx *Txn) error {
		if _, ok := tx.User(id); !ok {
			return ErrUserNotFound
		}
		scheds := tx.SchedulesForUser(id)
		for _, sc := range scheds {
			tx.DeleteSchedule(sc.ID)
		}
		tx.DeleteUser(id)
		removedSchedules = len(scheds)
		return nil
	})
	if removedSchedules >= 0 {
		m.logger.Info("user removed", "user_id", id, "schedules_removed", removedSchedules)
	}
	return err
}

func (m *UserManager) mutate(ctx context.Context, id string, fn func(tx *Txn, u *User) error) (*User, error) {
	return m.mutateAt(ctx, id, true, fn)
}

// mutateAt applies fn to a copy of the user and stages the result.
// touch controls whether UpdatedAt is bumped.
func (m *UserManager) mutateAt(ctx context.Context, id string, touch bool, fn func(tx *Txn, u *User) error) (*User, error) {
	var updated *User
	err := m.store.Update(ctx, func(tx *Txn) error {
		current, ok := tx.User(id)
		if !ok {
			return ErrUserNotFound
		}
		u := current.Clone()
		if err := fn(tx, u); err != nil {
			return err
		}
		if touch {
			u.UpdatedAt = m.now().UTC()
		}
		tx.PutUser(u)
		updated = u
		return nil
	})
	if updated == nil {
		return nil, err
	}
	if touch {
		m.logger.Debug("user updated", "user_id", id)
	}
	return updated.Clone(), err
}
