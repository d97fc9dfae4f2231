package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/database"
)

// DefaultSpeaker labels segments when the model endpoint does not run
// diarization.
const DefaultSpeaker = "SPEAKER_00"

// Archiver moves a processed audio file into durable storage and
// returns its stored path.
type Archiver interface {
	Archive(ctx context.Context, localPath string, name string) (string, error)
}

// Publisher announces completed transcriptions to downstream consumers.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Service is the production Transcriber: Whisper inference, one
// transactional store, optional archival and event publishing, then
// temp file cleanup.
type Service struct {
	whisper   *WhisperClient
	modelName string
	db        *database.DB
	archive   Archiver  // optional
	publisher Publisher // optional
	topic     string
	log       zerolog.Logger
}

func NewService(whisper *WhisperClient, modelName string, db *database.DB, log zerolog.Logger) *Service {
	return &Service{
		whisper:   whisper,
		modelName: modelName,
		db:        db,
		log:       log,
	}
}

// WithArchive enables audio archival after successful transcription.
func (s *Service) WithArchive(a Archiver) *Service {
	s.archive = a
	return s
}

// WithPublisher enables completion events on the given topic.
func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.publisher = p
	s.topic = topic
	return s
}

// completionEvent is the payload published after a call is transcribed.
type completionEvent struct {
	CallID      uuid.UUID `json:"call_id"`
	Timestamp   time.Time `json:"timestamp"`
	SystemID    *int      `json:"system_id,omitempty"`
	TalkgroupID *int      `json:"talkgroup_id,omitempty"`
	Frequency   int64     `json:"frequency"`
	Transcript  string    `json:"transcript"`
	Language    string    `json:"language,omitempty"`
}

// Transcribe runs the full pipeline for one call. Audio that has gone
// missing is a permanent failure; model and store errors are left
// retryable for the queue.
func (s *Service) Transcribe(ctx context.Context, audioPath string, call *database.RadioCallCreate) error {
	if _, err := os.Stat(audioPath); err != nil {
		if os.IsNotExist(err) {
			return &Error{Kind: KindAudioMissing, Err: err}
		}
		return &Error{Kind: KindAudioUnreadable, Err: err}
	}
	if s.whisper == nil {
		return &Error{Kind: KindNotReady, Err: fmt.Errorf("no model endpoint configured")}
	}

	start := time.Now()
	resp, err := s.whisper.Transcribe(ctx, audioPath)
	if err != nil {
		return &Error{Kind: KindModelError, Err: err}
	}
	elapsed := time.Since(start)

	segments, speakerCount, confidence := buildSegments(call.CallID, resp)

	tr := &database.Transcription{
		CallID:                call.CallID,
		FullTranscript:        strings.TrimSpace(resp.Text),
		Language:              resp.Language,
		ConfidenceScore:       confidence,
		SpeakerCount:          speakerCount,
		ModelName:             s.modelName,
		ProcessingTimeSeconds: elapsed.Seconds(),
	}

	if call.AudioDurationSeconds == nil && resp.Duration > 0 {
		d := resp.Duration
		call.AudioDurationSeconds = &d
	}

	// Archive before the store commits so the call row references the
	// durable path. On failure we keep the temp file and its path.
	archived := false
	if s.archive != nil {
		storedPath, err := s.archive.Archive(ctx, audioPath, call.CallID.String()+filepath.Ext(audioPath))
		if err != nil {
			s.log.Warn().Err(err).
				Str("call_id", call.CallID.String()).
				Msg("audio archive failed, keeping temp file")
		} else {
			call.AudioFilePath = storedPath
			archived = true
		}
	}

	if err := s.db.StoreCompleteTranscription(ctx, call, tr, segments); err != nil {
		return fmt.Errorf("store transcription: %w", err)
	}

	if s.publisher != nil {
		payload, err := json.Marshal(completionEvent{
			CallID:      call.CallID,
			Timestamp:   call.Timestamp,
			SystemID:    call.SystemID,
			TalkgroupID: call.TalkgroupID,
			Frequency:   call.Frequency,
			Transcript:  tr.FullTranscript,
			Language:    tr.Language,
		})
		if err == nil {
			if err := s.publisher.Publish(s.topic, payload); err != nil {
				s.log.Warn().Err(err).
					Str("call_id", call.CallID.String()).
					Msg("transcription event publish failed")
			}
		}
	}

	if archived || s.archive == nil {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", audioPath).Msg("temp file cleanup failed")
		}
	}

	s.log.Info().
		Str("call_id", call.CallID.String()).
		Int("segments", len(segments)).
		Dur("elapsed", elapsed).
		Msg("call transcribed")
	return nil
}

// buildSegments converts model output into stored speaker segments,
// returning the distinct speaker count and mean confidence.
func buildSegments(callID uuid.UUID, resp *WhisperResponse) ([]database.SpeakerSegment, int, *float64) {
	segments := make([]database.SpeakerSegment, 0, len(resp.Segments))
	speakers := make(map[string]struct{})
	var confSum float64

	for _, ws := range resp.Segments {
		speaker := ws.Speaker
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		speakers[speaker] = struct{}{}

		conf := segmentConfidence(ws.AvgLogprob)
		confSum += conf

		segments = append(segments, database.SpeakerSegment{
			SegmentID:        uuid.New(),
			CallID:           callID,
			StartTimeSeconds: ws.Start,
			EndTimeSeconds:   ws.End,
			SpeakerID:        speaker,
			Text:             strings.TrimSpace(ws.Text),
			ConfidenceScore:  &conf,
		})
	}

	speakerCount := len(speakers)
	if speakerCount == 0 && strings.TrimSpace(resp.Text) != "" {
		speakerCount = 1
	}

	var confidence *float64
	if len(segments) > 0 {
		mean := confSum / float64(len(segments))
		confidence = &mean
	}
	return segments, speakerCount, confidence
}

// segmentConfidence maps the model's average log-probability onto [0,1].
func segmentConfidence(avgLogprob float64) float64 {
	c := math.Exp(avgLogprob)
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}
