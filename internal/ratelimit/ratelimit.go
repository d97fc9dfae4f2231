// Package ratelimit enforces per-source upload quotas over sliding
// minute and hour windows.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Error is a rejection carrying which window tripped and the counts.
type Error struct {
	Window  string // "minute" or "hour"
	Current int
	Limit   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("Rate limit exceeded: maximum %d uploads per %s", e.Limit, e.Window)
}

// Limiter tracks upload timestamps per source IP. Zero limits take the
// defaults of 10/minute and 100/hour.
type Limiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	uploads map[string][]time.Time

	now func() time.Time
}

func New(perMinute, perHour int) *Limiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if perHour <= 0 {
		perHour = 100
	}
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		uploads:   make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Check admits or rejects one upload from ip. Admission records the
// attempt; rejection does not, so a throttled client's quota recovers
// as its window slides.
func (l *Limiter) Check(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hourAgo := now.Add(-time.Hour)

	// Prune everything older than the hour window; it can never count
	// against either limit again.
	series := l.uploads[ip]
	kept := series[:0]
	for _, t := range series {
		if t.After(hourAgo) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.perHour {
		l.uploads[ip] = kept
		return &Error{Window: "hour", Current: len(kept), Limit: l.perHour}
	}

	minuteAgo := now.Add(-time.Minute)
	recent := 0
	for _, t := range kept {
		if t.After(minuteAgo) {
			recent++
		}
	}
	if recent >= l.perMinute {
		l.uploads[ip] = kept
		return &Error{Window: "minute", Current: recent, Limit: l.perMinute}
	}

	l.uploads[ip] = append(kept, now)
	return nil
}

// ActiveSources returns how many distinct IPs currently have tracked
// uploads, for stats reporting.
func (l *Limiter) ActiveSources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.uploads)
}
