package access

import (
	"regexp"
	"strconv"
	"time"
)

// Schedule validation constants.
const (
	minDayOfWeek = 0 // Monday
	maxDayOfWeek = 6 // Sunday

	secondsPerMinute = 60
	secondsPerHour   = 3600
)

var timeOfDayRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9]):([0-5][0-9])$`)

// ScheduleValidator checks schedule structure. It has no state.
type ScheduleValidator struct{}

// ValidateDayOfWeek requires 0 (Monday) through 6 (Sunday).
func (ScheduleValidator) ValidateDayOfWeek(day int) error {
	if day < minDayOfWeek || day > maxDayOfWeek {
		return scheduleInvalid("day_of_week", "must be between 0 (Monday) and 6 (Sunday)")
	}
	return nil
}

// ValidateTimeFormat requires a 24-hour HH:MM:SS value.
func (ScheduleValidator) ValidateTimeFormat(field, value string) error {
	if !timeOfDayRegex.MatchString(value) {
		return scheduleInvalid(field, "must be in HH:MM:SS format (e.g. 09:30:00)")
	}
	return nil
}

// ValidateTimeRange requires start strictly before end on the same day.
// Overnight windows such as 22:00:00-02:00:00 are rejected, not reinterpreted;
// split them into two schedules on consecutive days instead.
func (ScheduleValidator) ValidateTimeRange(start, end string) error {
	s, err := parseTimeOfDay(start)
	if err != nil {
		return scheduleInvalid("start_time", "must be in HH:MM:SS format (e.g. 09:30:00)")
	}
	e, err := parseTimeOfDay(end)
	if err != nil {
		return scheduleInvalid("end_time", "must be in HH:MM:SS format (e.g. 09:30:00)")
	}
	if s >= e {
		return scheduleInvalid("end_time", "start time must be before end time")
	}
	return nil
}

// ValidateSchedule checks day, start, end and range, in that order, and
// returns the first failure.
func (v ScheduleValidator) ValidateSchedule(s *Schedule) error {
	if s == nil {
		return scheduleInvalid("schedule", "is required")
	}
	if err := v.ValidateDayOfWeek(s.DayOfWeek); err != nil {
		return err
	}
	if err := v.ValidateTimeFormat("start_time", s.StartTime); err != nil {
		return err
	}
	if err := v.ValidateTimeFormat("end_time", s.EndTime); err != nil {
		return err
	}
	return v.ValidateTimeRange(s.StartTime, s.EndTime)
}

// timeOfDay is a wall-clock time as seconds since midnight.
type timeOfDay int

// parseTimeOfDay converts a strict HH:MM:SS string to seconds since midnight.
func parseTimeOfDay(value string) (timeOfDay, error) {
	m := timeOfDayRegex.FindStringSubmatch(value)
	if m == nil {
		return 0, scheduleInvalid("time", "must be in HH:MM:SS format")
	}
	h, _ := strconv.Atoi(m[1]) //nolint:errcheck // regex guarantees digits
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return timeOfDay(h*secondsPerHour + mi*secondsPerMinute + sec), nil
}

// clockTimeOfDay returns t's wall-clock position in its own location.
func clockTimeOfDay(t time.Time) timeOfDay {
	h, m, s := t.Clock()
	return timeOfDay(h*secondsPerHour + m*secondsPerMinute + s)
}

// dayOfWeek maps time.Weekday (Sunday = 0) onto the schedule convention
// (Monday = 0 ... Sunday = 6).
func dayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7 //nolint:mnd // shift Sunday from 0 to 6
}

// covers reports whether the schedule's window contains t.
// The window is start-inclusive and end-exclusive.
func (s *Schedule) covers(t time.Time) bool {
	if s.DayOfWeek != dayOfWeek(t) {
		return false
	}
	start, err := parseTimeOfDay(s.StartTime)
	if err != nil {
		return false
	}
	end, err := parseTimeOfDay(s.EndTime)
	if err != nil {
		return false
	}
	now := clockTimeOfDay(t)
	return start <= now && now < end
}
