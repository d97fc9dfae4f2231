// Package audit records security-relevant decisions as append-only events.
//
// Every authentication, validation, and rate-limit outcome produces one
// event. Emission never fails the request path: when the backing sink is
// down, events spill into an in-memory ring so the hot path keeps moving.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/metrics"
)

// Event types recorded by the engine.
const (
	EventAPIKeyUsed            = "api_key_used"
	EventInvalidAPIKey         = "invalid_api_key"
	EventAPIKeyIPViolation     = "api_key_ip_violation"
	EventAPIKeySystemViolation = "api_key_system_violation"
	EventRateLimitExceeded     = "rate_limit_exceeded"
	EventUploadSuccess         = "upload_success"
	EventUploadBlocked         = "upload_blocked"
)

// Severity levels, lowest to highest.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityFor maps each event type to its fixed severity.
var severityFor = map[string]string{
	EventAPIKeyUsed:            SeverityInfo,
	EventInvalidAPIKey:         SeverityMedium,
	EventAPIKeyIPViolation:     SeverityHigh,
	EventAPIKeySystemViolation: SeverityHigh,
	EventRateLimitExceeded:     SeverityMedium,
	EventUploadSuccess:         SeverityInfo,
	EventUploadBlocked:         SeverityMedium,
}

// Sink persists security events. *database.DB is the production sink.
type Sink interface {
	InsertSecurityEvent(ctx context.Context, ev *database.SecurityEvent) error
}

// Logger emits security events to a sink with an in-memory fallback.
type Logger struct {
	sink Sink
	ring *MemorySink
	log  zerolog.Logger
}

// NewLogger builds a Logger around sink. A nil sink sends everything to
// the fallback ring.
func NewLogger(sink Sink, log zerolog.Logger) *Logger {
	return &Logger{
		sink: sink,
		ring: NewMemorySink(1000),
		log:  log,
	}
}

// Emit records one event. It fills in event_id, timestamp, and severity,
// mirrors the event to the structured log, and never returns an error:
// a sink failure downgrades to the fallback ring.
func (l *Logger) Emit(ctx context.Context, ev *database.SecurityEvent) {
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == "" {
		if sev, ok := severityFor[ev.EventType]; ok {
			ev.Severity = sev
		} else {
			ev.Severity = SeverityInfo
		}
	}

	l.log.WithLevel(zerologLevel(ev.Severity)).
		Str("event_type", ev.EventType).
		Str("severity", ev.Severity).
		Str("source_ip", ev.SourceIP).
		Str("source_system", ev.SourceSystem).
		Msg(ev.Description)
	metrics.SecurityEventsTotal.WithLabelValues(ev.EventType).Inc()

	if l.sink == nil {
		l.ring.InsertSecurityEvent(ctx, ev)
		return
	}
	if err := l.sink.InsertSecurityEvent(ctx, ev); err != nil {
		l.log.Warn().Err(err).
			Str("event_type", ev.EventType).
			Msg("event sink unavailable, buffering in memory")
		l.ring.InsertSecurityEvent(ctx, ev)
	}
}

// Buffered returns events currently held in the fallback ring.
func (l *Logger) Buffered() []database.SecurityEvent {
	return l.ring.Events()
}

func zerologLevel(severity string) zerolog.Level {
	switch severity {
	case SeverityHigh, SeverityCritical:
		return zerolog.WarnLevel
	case SeverityMedium, SeverityLow:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// TruncateKey shortens an API key for safe storage in event records.
func TruncateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// MemorySink holds the most recent events in a fixed-size ring. It backs
// the Logger's fallback path and stands in for the database in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []database.SecurityEvent
	max    int
}

func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 1000
	}
	return &MemorySink{max: max}
}

func (m *MemorySink) InsertSecurityEvent(_ context.Context, ev *database.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	if len(m.events) > m.max {
		m.events = m.events[len(m.events)-m.max:]
	}
	return nil
}

// Events returns a copy of the buffered events, oldest first.
func (m *MemorySink) Events() []database.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}
