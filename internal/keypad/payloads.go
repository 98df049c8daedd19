package keypad

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// ReasonRateLimited is reported to keypads that exceed their request budget.
// It is produced by the bridge, never by the engine.
const ReasonRateLimited access.Reason = "RATE_LIMITED"

// =============================================================================
// Validation
// =============================================================================

type codeRequest struct {
	RequestID string `json:"request_id" validate:"required,max=64,excludesall=/+#"`
	Code      string `json:"code" validate:"max=64"`
}

type tagRequest struct {
	RequestID string `json:"request_id" validate:"required,max=64,excludesall=/+#"`
	Tag       string `json:"tag" validate:"max=128"`
}

// ValidateResponse is published for every validation request.
type ValidateResponse struct {
	RequestID  string        `json:"request_id"`
	Valid      bool          `json:"valid"`
	UserName   string        `json:"user_name,omitempty"`
	Reason     access.Reason `json:"reason,omitempty"`
	Source     string        `json:"source"`
	AccessTime int           `json:"access_time,omitempty"`
}

// =============================================================================
// Commands
// =============================================================================

type requestEnvelope struct {
	RequestID string `json:"request_id" validate:"required,max=64,excludesall=/+#"`
}

type createUserRequest struct {
	Name   string `json:"name" validate:"required"`
	Code   string `json:"code"`
	Tag    string `json:"tag"`
	Active *bool  `json:"active"`
}

type userIDRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type updateNameRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `json:"name" validate:"required"`
}

type updateCodeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Code   string `json:"code"` // empty clears
}

type updateTagRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Tag    string `json:"tag"` // empty clears
}

type setActiveRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Active *bool  `json:"active" validate:"required"`
}

type createScheduleRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	DayOfWeek *int   `json:"day_of_week" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Active    *bool  `json:"active"`
}

type updateScheduleRequest struct {
	ScheduleID string  `json:"schedule_id" validate:"required"`
	DayOfWeek  *int    `json:"day_of_week"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	Active     *bool   `json:"active"`
}

type scheduleIDRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
}

type listSchedulesRequest struct {
	UserID string `json:"user_id"` // optional
}

type updateSettingsRequest struct {
	DefaultAccessTime *int  `json:"default_access_time" validate:"omitempty,min=0,max=3600"`
	DebugLogging      *bool `json:"debug_logging"`
}

type listAccessLogRequest struct {
	Type   string `json:"type" validate:"omitempty,oneof=validated failed"`
	UserID string `json:"user_id"`
	Source string `json:"source"`
	Limit  int    `json:"limit" validate:"min=0,max=200"`
	Offset int    `json:"offset" validate:"min=0"`
}

// CommandResponse is published for every command with a request id.
type CommandResponse struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"` // validation|not_found|storage|internal|bad_request
	Field     string `json:"field,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// UserView is the client-facing shape of a user. Hashes never leave the process.
type UserView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	HasCode    bool    `json:"has_code"`
	Tag        string  `json:"tag,omitempty"`
	Active     bool    `json:"active"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
}

// =============================================================================
// Decoding
// =============================================================================

// FieldError names a request field that failed validation.
type FieldError struct {
	Field string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %s failed %s", ErrMalformedRequest.Error(), e.Field, e.Rule)
}

func (e *FieldError) Unwrap() error { return ErrMalformedRequest }

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode unmarshals payload into out and validates its tags.
func decode(v *validator.Validate, payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if err := v.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &FieldError{Field: verrs[0].Field(), Rule: verrs[0].Tag()}
		}
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return nil
}
