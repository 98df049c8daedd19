package access

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Default validation limits.
const (
	DefaultMinNameLength = 2
	DefaultMaxNameLength = 50
	DefaultMinCodeLength = 4
	DefaultMaxCodeLength = 8
	DefaultMinTagValue   = 0
	DefaultMaxTagValue   = 9999
	DefaultMaxTagLength  = 32

	// maxNumericTagDigits keeps numeric tags within int64.
	maxNumericTagDigits = 18
)

// TagFormat selects how RFID tag identifiers are interpreted.
type TagFormat string

const (
	// TagFormatNumeric accepts decimal digits whose value lies in [Min, Max].
	TagFormatNumeric TagFormat = "numeric"

	// TagFormatAlphanumeric accepts letters, digits, '-', '_' and ':' up to
	// MaxLength characters (e.g. hex card UIDs such as "04:A2:19:7B").
	TagFormatAlphanumeric TagFormat = "alphanumeric"
)

var (
	digitsRegex       = regexp.MustCompile(`^[0-9]+$`)
	alphanumericRegex = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)
)

// TagPolicy is the configured tag format. Readers disagree on what a tag
// looks like, so the format is an installation choice rather than a guess.
type TagPolicy struct {
	Format    TagFormat
	Min       int64
	Max       int64
	MaxLength int
}

// Canonical returns the form tag is stored and looked up under. Numeric tags
// drop leading zeros so "0042" and "42" name the same card; anything that is
// not a plain number is returned trimmed and otherwise unchanged.
func (p TagPolicy) Canonical(tag string) string {
	tag = strings.TrimSpace(tag)
	if p.Format == TagFormatAlphanumeric || !digitsRegex.MatchString(tag) {
		return tag
	}
	trimmed := strings.TrimLeft(tag, "0")
	if trimmed == "" {
		return "0"
	}
	if len(trimmed) > maxNumericTagDigits {
		return tag
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return tag
	}
	return strconv.FormatInt(value, 10)
}

// Policy holds the user validation limits.
type Policy struct {
	MinNameLength int
	MaxNameLength int
	MinCodeLength int
	MaxCodeLength int
	Tag           TagPolicy
}

// DefaultPolicy returns the limits of a standard keypad installation.
func DefaultPolicy() Policy {
	return Policy{
		MinNameLength: DefaultMinNameLength,
		MaxNameLength: DefaultMaxNameLength,
		MinCodeLength: DefaultMinCodeLength,
		MaxCodeLength: DefaultMaxCodeLength,
		Tag: TagPolicy{
			Format:    TagFormatNumeric,
			Min:       DefaultMinTagValue,
			Max:       DefaultMaxTagValue,
			MaxLength: DefaultMaxTagLength,
		},
	}
}

// Check reports an error if the policy itself is unusable.
func (p Policy) Check() error {
	if p.MinNameLength < 1 || p.MaxNameLength < p.MinNameLength {
		return fmt.Errorf("name length bounds %d..%d are invalid", p.MinNameLength, p.MaxNameLength)
	}
	if p.MinCodeLength < 1 || p.MaxCodeLength < p.MinCodeLength {
		return fmt.Errorf("code length bounds %d..%d are invalid", p.MinCodeLength, p.MaxCodeLength)
	}
	switch p.Tag.Format {
	case TagFormatNumeric:
		if p.Tag.Min < 0 || p.Tag.Max < p.Tag.Min {
			return fmt.Errorf("tag value bounds %d..%d are invalid", p.Tag.Min, p.Tag.Max)
		}
	case TagFormatAlphanumeric:
		if p.Tag.MaxLength < 1 {
			return fmt.Errorf("tag max length %d is invalid", p.Tag.MaxLength)
		}
	default:
		return fmt.Errorf("unknown tag format %q", p.Tag.Format)
	}
	return nil
}

// UserCandidate describes the state a user would have after a mutation.
//
// Code and Tag carry only the credentials being set by this mutation.
// KeepsCode and KeepsTag report whether an existing credential stays in place.
type UserCandidate struct {
	ExcludeID string // user being updated; empty on create
	Name      string
	Code      string
	Tag       string
	KeepsCode bool
	KeepsTag  bool
}

// UserValidator checks user fields and credential uniqueness.
type UserValidator struct {
	policy Policy
	cipher *Cipher
}

// NewUserValidator creates a validator for the given policy.
func NewUserValidator(policy Policy, cipher *Cipher) *UserValidator {
	return &UserValidator{policy: policy, cipher: cipher}
}

// ValidateName requires a trimmed name within the configured length bounds.
func (v *UserValidator) ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return userInvalid("name", "cannot be empty")
	}
	n := utf8.RuneCountInString(trimmed)
	if n < v.policy.MinNameLength {
		return userInvalid("name", "must be at least %d characters", v.policy.MinNameLength)
	}
	if n > v.policy.MaxNameLength {
		return userInvalid("name", "must be at most %d characters", v.policy.MaxNameLength)
	}
	return nil
}

// ValidateCode requires MinCodeLength to MaxCodeLength ASCII digits.
func (v *UserValidator) ValidateCode(code string) error {
	if len(code) < v.policy.MinCodeLength || len(code) > v.policy.MaxCodeLength || !digitsRegex.MatchString(code) {
		return userInvalid("code", "must be %d-%d digits", v.policy.MinCodeLength, v.policy.MaxCodeLength)
	}
	return nil
}

// CanonicalTag returns tag in the form it is stored under.
func (v *UserValidator) CanonicalTag(tag string) string {
	return v.policy.Tag.Canonical(tag)
}

// ValidateTag checks tag against the configured TagPolicy.
func (v *UserValidator) ValidateTag(tag string) error {
	p := v.policy.Tag
	switch p.Format {
	case TagFormatAlphanumeric:
		if len(tag) == 0 || len(tag) > p.MaxLength || !alphanumericRegex.MatchString(tag) {
			return userInvalid("tag", "must be 1-%d letters, digits, '-', '_' or ':'", p.MaxLength)
		}
		return nil
	default:
		if !digitsRegex.MatchString(tag) {
			return userInvalid("tag", "must be a number")
		}
		digits := strings.TrimLeft(tag, "0")
		if len(digits) > maxNumericTagDigits {
			return userInvalid("tag", "must be a number from %d to %d", p.Min, p.Max)
		}
		if digits == "" {
			digits = "0"
		}
		value, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || value < p.Min || value > p.Max {
			return userInvalid("tag", "must be a number from %d to %d", p.Min, p.Max)
		}
		return nil
	}
}

// ValidateHasAccessMethod requires a code, a tag, or both.
func (v *UserValidator) ValidateHasAccessMethod(hasCode, hasTag bool) error {
	if !hasCode && !hasTag {
		return userInvalid("access_method", "user must have either a code or a tag")
	}
	return nil
}

// ValidateCodeUniqueness rejects code if any user other than excludeID,
// active or not, already holds it. Each stored code has its own salt, so this
// costs one PBKDF2 derivation per user with a code.
func (v *UserValidator) ValidateCodeUniqueness(r Reader, code, excludeID string) error {
	var clash bool
	r.EachUser(func(u *User) bool {
		if u.ID == excludeID || !u.HasCode() {
			return true
		}
		if v.cipher.Verify(code, u.CodeSalt, u.CodeHash) {
			clash = true
			return false
		}
		return true
	})
	if clash {
		return userInvalid("code", "is already assigned")
	}
	return nil
}

// ValidateTagUniqueness rejects tag if any user other than excludeID holds it
// or an equal tag under the policy's canonical form.
func (v *UserValidator) ValidateTagUniqueness(r Reader, tag, excludeID string) error {
	tag = v.CanonicalTag(tag)
	if owner, ok := r.UserByTag(tag); ok && owner.ID != excludeID {
		return userInvalid("tag", "%q is already assigned", tag)
	}
	return nil
}

// Validate runs every check in a fixed order and returns the first failure
// as a *UserValidationError: name, then code format and uniqueness, then tag
// format and uniqueness, then the access method requirement.
func (v *UserValidator) Validate(r Reader, c UserCandidate) error {
	if err := v.ValidateName(c.Name); err != nil {
		return err
	}
	if c.Code != "" {
		if err := v.ValidateCode(c.Code); err != nil {
			return err
		}
		if err := v.ValidateCodeUniqueness(r, c.Code, c.ExcludeID); err != nil {
			return err
		}
	}
	if c.Tag != "" {
		if err := v.ValidateTag(c.Tag); err != nil {
			return err
		}
		if err := v.ValidateTagUniqueness(r, c.Tag, c.ExcludeID); err != nil {
			return err
		}
	}
	return v.ValidateHasAccessMethod(c.Code != "" || c.KeepsCode, c.Tag != "" || c.KeepsTag)
}
