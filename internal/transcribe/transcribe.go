// Package transcribe turns queued audio files into stored transcripts
// via an OpenAI-compatible speech-to-text endpoint.
package transcribe

import (
	"context"
	"fmt"

	"github.com/snarg/sq-engine/internal/database"
)

// ErrorKind classifies transcription failures. AudioMissing and
// AudioUnreadable are permanent; NotReady and ModelError are worth
// retrying.
type ErrorKind string

const (
	KindNotReady        ErrorKind = "not_ready"
	KindAudioMissing    ErrorKind = "audio_missing"
	KindAudioUnreadable ErrorKind = "audio_unreadable"
	KindModelError      ErrorKind = "model_error"
)

// Error wraps a transcription failure with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transcriber processes one call's audio end to end: model inference,
// persistence, and any post-processing.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, call *database.RadioCallCreate) error
}

// Noop accepts every call without doing work. Used in tests and when no
// model endpoint is configured.
type Noop struct{}

func (Noop) Transcribe(context.Context, string, *database.RadioCallCreate) error { return nil }
