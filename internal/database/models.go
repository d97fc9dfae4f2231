package database

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Transcription status values for a radio call. Status only moves
// forward: pending → processing → (completed | failed).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RadioCallCreate is the input for creating a radio call, built at
// ingest time from the upload form fields plus provenance.
type RadioCallCreate struct {
	CallID        uuid.UUID `json:"call_id"`
	Timestamp     time.Time `json:"timestamp"`
	Frequency     int64     `json:"frequency"`
	TalkgroupID   *int      `json:"talkgroup_id,omitempty"`
	SourceRadioID *int      `json:"source_radio_id,omitempty"`
	SystemID      *int      `json:"system_id,omitempty"`

	SystemLabel    *string `json:"system_label,omitempty"`
	TalkgroupLabel *string `json:"talkgroup_label,omitempty"`
	TalkgroupGroup *string `json:"talkgroup_group,omitempty"`
	TalkerAlias    *string `json:"talker_alias,omitempty"`

	AudioFilePath        string   `json:"audio_file_path"`
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	AudioFormat          string   `json:"audio_format"`

	// Upload provenance
	UploadSourceIP     string  `json:"upload_source_ip"`
	UploadSourceSystem string  `json:"upload_source_system"`
	UploadAPIKeyID     *string `json:"upload_api_key_id,omitempty"`
	UploadUserAgent    string  `json:"upload_user_agent"`
}

// RadioCall is the stored representation of a received transmission.
type RadioCall struct {
	CallID        uuid.UUID `json:"call_id"`
	Timestamp     time.Time `json:"timestamp"`
	Frequency     int64     `json:"frequency"`
	TalkgroupID   *int      `json:"talkgroup_id,omitempty"`
	SourceRadioID *int      `json:"source_radio_id,omitempty"`
	SystemID      *int      `json:"system_id,omitempty"`

	SystemLabel    *string `json:"system_label,omitempty"`
	TalkgroupLabel *string `json:"talkgroup_label,omitempty"`
	TalkgroupGroup *string `json:"talkgroup_group,omitempty"`
	TalkerAlias    *string `json:"talker_alias,omitempty"`

	AudioFilePath        string   `json:"audio_file_path"`
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	AudioFormat          string   `json:"audio_format"`

	TranscriptionStatus string     `json:"transcription_status"`
	TranscribedAt       *time.Time `json:"transcribed_at,omitempty"`

	UploadSourceIP     *string `json:"upload_source_ip,omitempty"`
	UploadSourceSystem *string `json:"upload_source_system,omitempty"`
	UploadAPIKeyID     *string `json:"upload_api_key_id,omitempty"`
	UploadUserAgent    *string `json:"upload_user_agent,omitempty"`
}

// Transcription is 1:1 with RadioCall by call_id.
type Transcription struct {
	CallID                uuid.UUID `json:"call_id"`
	FullTranscript        string    `json:"full_transcript"`
	Language              string    `json:"language,omitempty"`
	ConfidenceScore       *float64  `json:"confidence_score,omitempty"`
	SpeakerCount          int       `json:"speaker_count"`
	ModelName             string    `json:"model_name,omitempty"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

// SpeakerSegment is one diarized region of a call's audio.
type SpeakerSegment struct {
	SegmentID        uuid.UUID `json:"segment_id"`
	CallID           uuid.UUID `json:"call_id"`
	StartTimeSeconds float64   `json:"start_time_seconds"`
	EndTimeSeconds   float64   `json:"end_time_seconds"`
	SpeakerID        string    `json:"speaker_id"`
	Text             string    `json:"text"`
	ConfidenceScore  *float64  `json:"confidence_score,omitempty"`
}

// SecurityEvent is an append-only audit record of a security-relevant
// decision. The core never updates or deletes these.
type SecurityEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Severity  string    `json:"severity"`

	SourceIP     string `json:"source_ip,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`
	APIKeyUsed   string `json:"api_key_used,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`

	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	RelatedCallID   *uuid.UUID `json:"related_call_id,omitempty"`
	RelatedFilePath string     `json:"related_file_path,omitempty"`
}

// nullStr converts the empty string to NULL for nullable text columns.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullIP converts anything that is not an IP literal to NULL, so inet
// columns never see placeholders like "unknown".
func nullIP(s string) *string {
	if net.ParseIP(s) == nil {
		return nil
	}
	return &s
}
