package accesslog

import (
	"testing"
	"time"
)

func TestSummarise(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	s, err := Summarise(t.Context(), repo, base.Add(time.Hour), time.UTC)
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if s.GrantedToday != 1 || s.FailedToday != 2 {
		t.Errorf("today = %d granted, %d failed; want 1 and 2", s.GrantedToday, s.FailedToday)
	}
	if s.LastAccess == nil || s.LastAccess.UserName != "Alice" {
		t.Errorf("LastAccess = %+v, want Alice", s.LastAccess)
	}
}

func TestSummariseEmpty(t *testing.T) {
	repo := newTestRepo(t)

	s, err := Summarise(t.Context(), repo, base, time.UTC)
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if s.GrantedToday != 0 || s.FailedToday != 0 || s.LastAccess != nil {
		t.Errorf("summary = %+v, want empty", s)
	}
}

func TestStartOfDay(t *testing.T) {
	plus10 := time.FixedZone("UTC+10", 10*60*60)
	at := time.Date(2026, 3, 4, 20, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		loc  *time.Location
		want time.Time
	}{
		{"utc", time.UTC, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"nil is utc", nil, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		// 20:30 UTC is already 06:30 on the 5th in UTC+10.
		{"ahead of utc", plus10, time.Date(2026, 3, 5, 0, 0, 0, 0, plus10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StartOfDay(at, tt.loc); !got.Equal(tt.want) {
				t.Errorf("StartOfDay() = %v, want %v", got, tt.want)
			}
		})
	}
}
