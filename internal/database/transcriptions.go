package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscriptionSearchFilter specifies filters for full-text search.
type TranscriptionSearchFilter struct {
	SystemID    *int
	TalkgroupID *int
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// TranscriptionSearchHit is a search result with relevance score and
// call context joined in.
type TranscriptionSearchHit struct {
	Transcription
	Rank            float32    `json:"rank"`
	CallTimestamp   time.Time  `json:"call_timestamp"`
	CallFrequency   int64      `json:"frequency"`
	CallTalkgroupID *int       `json:"talkgroup_id,omitempty"`
	CallSystemID    *int       `json:"system_id,omitempty"`
	TalkgroupLabel  *string    `json:"talkgroup_label,omitempty"`
}

// StoreCompleteTranscription persists the full result of transcribing a
// call as one transaction: the call row moves to 'processing', the
// transcript and speaker segments are inserted, then the call is marked
// 'completed' with transcribed_at stamped. A failure anywhere rolls the
// whole thing back so the call stays retryable.
func (db *DB) StoreCompleteTranscription(ctx context.Context, call *RadioCallCreate, tr *Transcription, segments []SpeakerSegment) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO radio_calls (
			call_id, timestamp, frequency, talkgroup_id, source_radio_id, system_id,
			system_label, talkgroup_label, talkgroup_group, talker_alias,
			audio_file_path, audio_duration_seconds, audio_format,
			transcription_status,
			upload_source_ip, upload_source_system, upload_api_key_id, upload_user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (timestamp, call_id) DO UPDATE SET transcription_status = EXCLUDED.transcription_status
	`,
		call.CallID, call.Timestamp, call.Frequency, call.TalkgroupID, call.SourceRadioID, call.SystemID,
		call.SystemLabel, call.TalkgroupLabel, call.TalkgroupGroup, call.TalkerAlias,
		call.AudioFilePath, call.AudioDurationSeconds, call.AudioFormat,
		StatusProcessing,
		nullIP(call.UploadSourceIP), nullStr(call.UploadSourceSystem), call.UploadAPIKeyID, nullStr(call.UploadUserAgent),
	)
	if err != nil {
		return storeErr("insert radio call", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transcriptions (
			call_id, full_transcript, language, confidence_score,
			speaker_count, model_name, processing_time_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO UPDATE SET
			full_transcript = EXCLUDED.full_transcript,
			language = EXCLUDED.language,
			confidence_score = EXCLUDED.confidence_score,
			speaker_count = EXCLUDED.speaker_count,
			model_name = EXCLUDED.model_name,
			processing_time_seconds = EXCLUDED.processing_time_seconds
	`,
		tr.CallID, tr.FullTranscript, nullStr(tr.Language), tr.ConfidenceScore,
		tr.SpeakerCount, nullStr(tr.ModelName), tr.ProcessingTimeSeconds,
	)
	if err != nil {
		return storeErr("insert transcription", err)
	}

	for _, seg := range segments {
		if seg.SegmentID == uuid.Nil {
			seg.SegmentID = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO speaker_segments (
				segment_id, call_id, start_time_seconds, end_time_seconds,
				speaker_id, text, confidence_score
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			seg.SegmentID, seg.CallID, seg.StartTimeSeconds, seg.EndTimeSeconds,
			seg.SpeakerID, seg.Text, seg.ConfidenceScore,
		)
		if err != nil {
			return storeErr("insert speaker segment", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE radio_calls SET transcription_status = $2, transcribed_at = NOW()
		WHERE call_id = $1
	`, call.CallID, StatusCompleted)
	if err != nil {
		return storeErr("mark call completed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetTranscription returns the transcript for a call, or ErrNotFound.
func (db *DB) GetTranscription(ctx context.Context, callID uuid.UUID) (*Transcription, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var t Transcription
	err := db.Pool.QueryRow(ctx, `
		SELECT call_id, full_transcript, COALESCE(language, ''), confidence_score,
			COALESCE(speaker_count, 0), COALESCE(model_name, ''),
			COALESCE(processing_time_seconds, 0)
		FROM transcriptions
		WHERE call_id = $1
	`, callID).Scan(
		&t.CallID, &t.FullTranscript, &t.Language, &t.ConfidenceScore,
		&t.SpeakerCount, &t.ModelName, &t.ProcessingTimeSeconds,
	)
	if err != nil {
		return nil, storeErr("get transcription", err)
	}
	return &t, nil
}

// GetSpeakerSegments returns a call's diarized segments in playback order.
func (db *DB) GetSpeakerSegments(ctx context.Context, callID uuid.UUID) ([]SpeakerSegment, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
		SELECT segment_id, call_id, start_time_seconds, end_time_seconds,
			COALESCE(speaker_id, ''), COALESCE(text, ''), confidence_score
		FROM speaker_segments
		WHERE call_id = $1
		ORDER BY start_time_seconds
	`, callID)
	if err != nil {
		return nil, storeErr("get speaker segments", err)
	}
	defer rows.Close()

	var result []SpeakerSegment
	for rows.Next() {
		var s SpeakerSegment
		if err := rows.Scan(
			&s.SegmentID, &s.CallID, &s.StartTimeSeconds, &s.EndTimeSeconds,
			&s.SpeakerID, &s.Text, &s.ConfidenceScore,
		); err != nil {
			return nil, storeErr("scan speaker segment", err)
		}
		result = append(result, s)
	}
	if result == nil {
		result = []SpeakerSegment{}
	}
	return result, storeErr("get speaker segments", rows.Err())
}

// SearchTranscriptions performs full-text search across transcripts with
// call context, ranked by relevance.
func (db *DB) SearchTranscriptions(ctx context.Context, query string, filter TranscriptionSearchFilter) ([]TranscriptionSearchHit, int, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	qb := newQueryBuilder()
	qb.Add("to_tsvector('english', t.full_transcript) @@ plainto_tsquery('english', %s)", query)

	if filter.SystemID != nil {
		qb.Add("c.system_id = %s", *filter.SystemID)
	}
	if filter.TalkgroupID != nil {
		qb.Add("c.talkgroup_id = %s", *filter.TalkgroupID)
	}
	if filter.StartTime != nil {
		qb.Add("c.timestamp >= %s", *filter.StartTime)
	}
	if filter.EndTime != nil {
		qb.Add("c.timestamp < %s", *filter.EndTime)
	}

	whereClause := qb.WhereClause()
	fromClause := "FROM transcriptions t JOIN radio_calls c ON c.call_id = t.call_id"

	var total int
	countQuery := "SELECT count(*) " + fromClause + whereClause
	if err := db.Pool.QueryRow(ctx, countQuery, qb.Args()...).Scan(&total); err != nil {
		return nil, 0, storeErr("count transcription search", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rankExpr := "ts_rank(to_tsvector('english', t.full_transcript), plainto_tsquery('english', " + qb.Next(query) + "))"

	dataQuery := `
		SELECT t.call_id, t.full_transcript, COALESCE(t.language, ''), t.confidence_score,
			COALESCE(t.speaker_count, 0), COALESCE(t.model_name, ''),
			COALESCE(t.processing_time_seconds, 0),
			` + rankExpr + ` AS rank,
			c.timestamp, c.frequency, c.talkgroup_id, c.system_id, c.talkgroup_label
		` + fromClause + whereClause + `
		ORDER BY rank DESC, c.timestamp DESC
		LIMIT ` + qb.Next(limit) + ` OFFSET ` + qb.Next(filter.Offset)

	rows, err := db.Pool.Query(ctx, dataQuery, qb.Args()...)
	if err != nil {
		return nil, 0, storeErr("search transcriptions", err)
	}
	defer rows.Close()

	var hits []TranscriptionSearchHit
	for rows.Next() {
		var h TranscriptionSearchHit
		if err := rows.Scan(
			&h.CallID, &h.FullTranscript, &h.Language, &h.ConfidenceScore,
			&h.SpeakerCount, &h.ModelName, &h.ProcessingTimeSeconds,
			&h.Rank,
			&h.CallTimestamp, &h.CallFrequency, &h.CallTalkgroupID, &h.CallSystemID, &h.TalkgroupLabel,
		); err != nil {
			return nil, 0, storeErr("scan search hit", err)
		}
		hits = append(hits, h)
	}
	if hits == nil {
		hits = []TranscriptionSearchHit{}
	}
	return hits, total, storeErr("search transcriptions", rows.Err())
}
