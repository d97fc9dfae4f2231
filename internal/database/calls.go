package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CallFilter specifies optional filters for listing radio calls.
type CallFilter struct {
	SystemID    *int
	TalkgroupID *int
	Status      string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// CreateRadioCall inserts a new radio call in transcription_status
// 'pending' and returns the stored row's call_id.
func (db *DB) CreateRadioCall(ctx context.Context, c *RadioCallCreate) (uuid.UUID, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var id uuid.UUID
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO radio_calls (
			call_id, timestamp, frequency, talkgroup_id, source_radio_id, system_id,
			system_label, talkgroup_label, talkgroup_group, talker_alias,
			audio_file_path, audio_duration_seconds, audio_format,
			transcription_status,
			upload_source_ip, upload_source_system, upload_api_key_id, upload_user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING call_id
	`,
		c.CallID, c.Timestamp, c.Frequency, c.TalkgroupID, c.SourceRadioID, c.SystemID,
		c.SystemLabel, c.TalkgroupLabel, c.TalkgroupGroup, c.TalkerAlias,
		c.AudioFilePath, c.AudioDurationSeconds, c.AudioFormat,
		StatusPending,
		nullIP(c.UploadSourceIP), nullStr(c.UploadSourceSystem), c.UploadAPIKeyID, nullStr(c.UploadUserAgent),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, storeErr("create radio call", err)
	}
	return id, nil
}

// GetRadioCall returns a single call by call_id, or ErrNotFound.
func (db *DB) GetRadioCall(ctx context.Context, callID uuid.UUID) (*RadioCall, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var c RadioCall
	err := db.Pool.QueryRow(ctx, `
		SELECT call_id, timestamp, frequency, talkgroup_id, source_radio_id, system_id,
			system_label, talkgroup_label, talkgroup_group, talker_alias,
			audio_file_path, audio_duration_seconds, COALESCE(audio_format, 'mp3'),
			COALESCE(transcription_status, 'pending'), transcribed_at,
			upload_source_ip::text, upload_source_system, upload_api_key_id, upload_user_agent
		FROM radio_calls
		WHERE call_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, callID).Scan(
		&c.CallID, &c.Timestamp, &c.Frequency, &c.TalkgroupID, &c.SourceRadioID, &c.SystemID,
		&c.SystemLabel, &c.TalkgroupLabel, &c.TalkgroupGroup, &c.TalkerAlias,
		&c.AudioFilePath, &c.AudioDurationSeconds, &c.AudioFormat,
		&c.TranscriptionStatus, &c.TranscribedAt,
		&c.UploadSourceIP, &c.UploadSourceSystem, &c.UploadAPIKeyID, &c.UploadUserAgent,
	)
	if err != nil {
		return nil, storeErr("get radio call", err)
	}
	return &c, nil
}

// UpdateCallStatus moves a call's transcription_status. Completed calls
// also get transcribed_at stamped.
func (db *DB) UpdateCallStatus(ctx context.Context, callID uuid.UUID, status string) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var err error
	if status == StatusCompleted {
		_, err = db.Pool.Exec(ctx, `
			UPDATE radio_calls SET transcription_status = $2, transcribed_at = NOW()
			WHERE call_id = $1
		`, callID, status)
	} else {
		_, err = db.Pool.Exec(ctx, `
			UPDATE radio_calls SET transcription_status = $2
			WHERE call_id = $1
		`, callID, status)
	}
	return storeErr("update call status", err)
}

// ListRadioCalls returns calls matching the filter, newest first, plus
// an estimated total for pagination.
func (db *DB) ListRadioCalls(ctx context.Context, filter CallFilter) ([]RadioCall, int, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	qb := newQueryBuilder()
	if filter.SystemID != nil {
		qb.Add("system_id = %s", *filter.SystemID)
	}
	if filter.TalkgroupID != nil {
		qb.Add("talkgroup_id = %s", *filter.TalkgroupID)
	}
	if filter.Status != "" {
		qb.Add("transcription_status = %s", filter.Status)
	}
	if filter.StartTime != nil {
		qb.Add("timestamp >= %s", *filter.StartTime)
	}
	if filter.EndTime != nil {
		qb.Add("timestamp < %s", *filter.EndTime)
	}

	whereClause := qb.WhereClause()

	var total int
	countQuery := "SELECT count(*) FROM radio_calls" + whereClause
	if err := db.Pool.QueryRow(ctx, countQuery, qb.Args()...).Scan(&total); err != nil {
		return nil, 0, storeErr("count radio calls", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	dataQuery := `
		SELECT call_id, timestamp, frequency, talkgroup_id, source_radio_id, system_id,
			system_label, talkgroup_label, talkgroup_group, talker_alias,
			audio_file_path, audio_duration_seconds, COALESCE(audio_format, 'mp3'),
			COALESCE(transcription_status, 'pending'), transcribed_at,
			upload_source_ip::text, upload_source_system, upload_api_key_id, upload_user_agent
		FROM radio_calls` + whereClause + `
		ORDER BY timestamp DESC
		LIMIT ` + qb.Next(limit) + ` OFFSET ` + qb.Next(filter.Offset)

	rows, err := db.Pool.Query(ctx, dataQuery, qb.Args()...)
	if err != nil {
		return nil, 0, storeErr("list radio calls", err)
	}
	defer rows.Close()

	var result []RadioCall
	for rows.Next() {
		var c RadioCall
		if err := rows.Scan(
			&c.CallID, &c.Timestamp, &c.Frequency, &c.TalkgroupID, &c.SourceRadioID, &c.SystemID,
			&c.SystemLabel, &c.TalkgroupLabel, &c.TalkgroupGroup, &c.TalkerAlias,
			&c.AudioFilePath, &c.AudioDurationSeconds, &c.AudioFormat,
			&c.TranscriptionStatus, &c.TranscribedAt,
			&c.UploadSourceIP, &c.UploadSourceSystem, &c.UploadAPIKeyID, &c.UploadUserAgent,
		); err != nil {
			return nil, 0, storeErr("scan radio call", err)
		}
		result = append(result, c)
	}
	if result == nil {
		result = []RadioCall{}
	}
	return result, total, storeErr("list radio calls", rows.Err())
}

// UploadSourceStat aggregates upload activity for one source system.
type UploadSourceStat struct {
	SourceSystem string     `json:"source_system"`
	SourceIP     string     `json:"source_ip"`
	UploadCount  int        `json:"upload_count"`
	FirstUpload  *time.Time `json:"first_upload,omitempty"`
	LastUpload   *time.Time `json:"last_upload,omitempty"`
}

// UploadSources returns per-system upload aggregates over the window.
func (db *DB) UploadSources(ctx context.Context, since time.Time) ([]UploadSourceStat, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
		SELECT COALESCE(upload_source_system, ''), COALESCE(upload_source_ip::text, ''),
			count(*), min(timestamp), max(timestamp)
		FROM radio_calls
		WHERE timestamp >= $1
		GROUP BY upload_source_system, upload_source_ip
		ORDER BY count(*) DESC
	`, since)
	if err != nil {
		return nil, storeErr("upload sources", err)
	}
	defer rows.Close()

	var result []UploadSourceStat
	for rows.Next() {
		var s UploadSourceStat
		if err := rows.Scan(&s.SourceSystem, &s.SourceIP, &s.UploadCount, &s.FirstUpload, &s.LastUpload); err != nil {
			return nil, storeErr("scan upload source", err)
		}
		result = append(result, s)
	}
	if result == nil {
		result = []UploadSourceStat{}
	}
	return result, storeErr("upload sources", rows.Err())
}
