package access

import "time"

// User is a person who may present a keypad code and/or an RFID tag.
//
// CodeSalt and CodeHash are either both set or both empty. The plaintext code
// is never stored.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CodeSalt   string     `json:"-"` // hex, never serialised to clients
	CodeHash   string     `json:"-"` // hex, never serialised to clients
	Tag        string     `json:"tag,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// HasCode reports whether the user has a stored code.
func (u *User) HasCode() bool {
	return u.CodeHash != "" && u.CodeSalt != ""
}

// HasTag reports whether the user has an assigned tag.
func (u *User) HasTag() bool {
	return u.Tag != ""
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastUsedAt != nil {
		t := *u.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// Schedule is a recurring weekly window during which a user's credentials
// are accepted. DayOfWeek is 0 for Monday through 6 for Sunday.
type Schedule struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartTime string    `json:"start_time"` // HH:MM:SS
	EndTime   string    `json:"end_time"`   // HH:MM:SS
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Settings holds installation-wide access settings persisted with the snapshot.
type Settings struct {
	// DefaultAccessTime is how long, in seconds, an actuator stays released
	// after a granted validation.
	DefaultAccessTime int `json:"default_access_time"`

	// DebugLogging switches the process log level to debug at runtime.
	DebugLogging bool `json:"debug_logging"`
}

// DefaultSettings returns the settings used when no snapshot exists yet.
func DefaultSettings() Settings {
	return Settings{DefaultAccessTime: 5}
}

// Snapshot is the complete persisted state: users, schedules and settings.
type Snapshot struct {
	Users     []User
	Schedules []Schedule
	Settings  Settings
}

// Method identifies which credential type was presented.
type Method string

const (
	MethodCode Method = "code"
	MethodTag  Method = "tag"
)

// Reason is the typed cause of a refused validation.
type Reason string

const (
	ReasonInvalidCode     Reason = "INVALID_CODE"
	ReasonInvalidTag      Reason = "INVALID_TAG"
	ReasonInactiveUser    Reason = "INACTIVE_USER"
	ReasonInvalidSchedule Reason = "INVALID_SCHEDULE"
)

// Verdict is the result of a validation call.
type Verdict struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
	Source   string `json:"source"`
}

// NotificationType distinguishes granted from refused validations.
type NotificationType string

const (
	NotificationValidated NotificationType = "validated"
	NotificationFailed    NotificationType = "failed"
)

// Notification is the outbound record produced for every validation call.
// Exactly one of Code and Tag is set, matching Method.
type Notification struct {
	Type      NotificationType `json:"type"`
	Method    Method           `json:"method"`
	UserID    string           `json:"user_id,omitempty"`
	UserName  string           `json:"user_name,omitempty"`
	Code      string           `json:"code,omitempty"`
	Tag       string           `json:"tag,omitempty"`
	Source    string           `json:"source"`
	Reason    Reason           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Credential returns the presented code or tag.
func (n Notification) Credential() string {
	if n.Method == MethodCode {
		return n.Code
	}
	return n.Tag
}

// Stats summarises the stored users and schedules.
type Stats struct {
	TotalUsers     int `json:"total_users"`
	ActiveUsers    int `json:"active_users"`
	UsersWithCodes int `json:"users_with_codes"`
	UsersWithTags  int `json:"users_with_tags"`
	Schedules      int `json:"schedules"`
}
