package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestCheckMinuteLimit(t *testing.T) {
	l := New(3, 100)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if err := l.Check("10.0.0.1"); err != nil {
			t.Fatalf("upload %d rejected: %v", i+1, err)
		}
	}

	err := l.Check("10.0.0.1")
	var rlErr *Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("Check() = %v, want *Error", err)
	}
	if rlErr.Window != "minute" {
		t.Errorf("Window = %q, want minute", rlErr.Window)
	}
	if got, want := rlErr.Error(), "Rate limit exceeded: maximum 3 uploads per minute"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	// A different source is unaffected.
	if err := l.Check("10.0.0.2"); err != nil {
		t.Errorf("other source rejected: %v", err)
	}

	// Once the minute window slides, the source recovers.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if err := l.Check("10.0.0.1"); err != nil {
		t.Errorf("Check() after window slide = %v, want nil", err)
	}
}

func TestCheckHourLimit(t *testing.T) {
	l := New(100, 5)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Spread uploads so the minute window never trips.
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * 2 * time.Minute
		l.now = func() time.Time { return base.Add(offset) }
		if err := l.Check("10.0.0.1"); err != nil {
			t.Fatalf("upload %d rejected: %v", i+1, err)
		}
	}

	l.now = func() time.Time { return base.Add(20 * time.Minute) }
	err := l.Check("10.0.0.1")
	var rlErr *Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("Check() = %v, want *Error", err)
	}
	if rlErr.Window != "hour" {
		t.Errorf("Window = %q, want hour", rlErr.Window)
	}
	if rlErr.Current != 5 || rlErr.Limit != 5 {
		t.Errorf("Current/Limit = %d/%d, want 5/5", rlErr.Current, rlErr.Limit)
	}

	// The first upload ages out of the hour window.
	l.now = func() time.Time { return base.Add(time.Hour + time.Second) }
	if err := l.Check("10.0.0.1"); err != nil {
		t.Errorf("Check() after oldest aged out = %v, want nil", err)
	}
}

func TestCheckRejectionsNotRecorded(t *testing.T) {
	l := New(2, 100)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Check("10.0.0.1")
	l.Check("10.0.0.1")

	// Hammering while throttled must not extend the penalty.
	for i := 0; i < 10; i++ {
		if err := l.Check("10.0.0.1"); err == nil {
			t.Fatal("throttled upload admitted")
		}
	}

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if err := l.Check("10.0.0.1"); err != nil {
		t.Errorf("Check() = %v, want nil after original uploads aged out", err)
	}
}

func TestDefaults(t *testing.T) {
	l := New(0, 0)
	if l.perMinute != 10 || l.perHour != 100 {
		t.Errorf("defaults = %d/%d, want 10/100", l.perMinute, l.perHour)
	}
}

func TestActiveSources(t *testing.T) {
	l := New(10, 100)
	if got := l.ActiveSources(); got != 0 {
		t.Errorf("ActiveSources() = %d, want 0", got)
	}
	l.Check("10.0.0.1")
	l.Check("10.0.0.2")
	if got := l.ActiveSources(); got != 2 {
		t.Errorf("ActiveSources() = %d, want 2", got)
	}
}
