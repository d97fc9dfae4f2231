package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventFilter specifies optional filters for querying security events.
type EventFilter struct {
	EventType    string
	Severity     string
	SourceIP     string
	SourceSystem string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// SourceAnalysis summarizes one upload source's behavior over all time:
// upload volume, security-event counts, the IPs it has used, and its
// ten most recent events.
type SourceAnalysis struct {
	SourceSystem  string          `json:"system_id"`
	UploadStats   UploadStatsRow  `json:"upload_statistics"`
	SecurityStats EventStatsRow   `json:"security_statistics"`
	IPAddresses   []IPUploadCount `json:"ip_addresses"`
	RecentEvents  []SecurityEvent `json:"recent_events"`
}

// UploadStatsRow aggregates a source system's accepted calls.
type UploadStatsRow struct {
	TotalUploads int        `json:"total_uploads"`
	UniqueIPs    int        `json:"unique_ips"`
	FirstSeen    *time.Time `json:"first_seen,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// EventStatsRow aggregates a source system's security events.
type EventStatsRow struct {
	TotalEvents  int `json:"total_events"`
	Violations   int `json:"violations"`
	UploadEvents int `json:"upload_events"`
}

// IPUploadCount is one (source IP, upload count) pair.
type IPUploadCount struct {
	SourceIP    string `json:"upload_source_ip"`
	UploadCount int    `json:"upload_count"`
}

// InsertSecurityEvent appends one audit record. Metadata is stored as JSONB.
func (db *DB) InsertSecurityEvent(ctx context.Context, ev *SecurityEvent) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var meta []byte
	if len(ev.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(ev.Metadata)
		if err != nil {
			return storeErr("marshal event metadata", err)
		}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO security_events (
			event_id, timestamp, event_type, severity,
			source_ip, source_system, api_key_used, user_agent,
			description, metadata, related_call_id, related_file_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		ev.EventID, ev.Timestamp, ev.EventType, ev.Severity,
		nullIP(ev.SourceIP), nullStr(ev.SourceSystem), nullStr(ev.APIKeyUsed), nullStr(ev.UserAgent),
		ev.Description, meta, ev.RelatedCallID, nullStr(ev.RelatedFilePath),
	)
	return storeErr("insert security event", err)
}

// QuerySecurityEvents returns events matching the filter, newest first.
func (db *DB) QuerySecurityEvents(ctx context.Context, filter EventFilter) ([]SecurityEvent, int, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	qb := newQueryBuilder()
	if filter.EventType != "" {
		qb.Add("event_type = %s", filter.EventType)
	}
	if filter.Severity != "" {
		qb.Add("severity = %s", filter.Severity)
	}
	if filter.SourceIP != "" {
		qb.Add("source_ip = %s", filter.SourceIP)
	}
	if filter.SourceSystem != "" {
		qb.Add("source_system = %s", filter.SourceSystem)
	}
	if filter.StartTime != nil {
		qb.Add("timestamp >= %s", *filter.StartTime)
	}
	if filter.EndTime != nil {
		qb.Add("timestamp < %s", *filter.EndTime)
	}

	whereClause := qb.WhereClause()

	var total int
	countQuery := "SELECT count(*) FROM security_events" + whereClause
	if err := db.Pool.QueryRow(ctx, countQuery, qb.Args()...).Scan(&total); err != nil {
		return nil, 0, storeErr("count security events", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	dataQuery := `
		SELECT event_id, timestamp, event_type, severity,
			COALESCE(source_ip::text, ''), COALESCE(source_system, ''),
			COALESCE(api_key_used, ''), COALESCE(user_agent, ''),
			description, metadata, related_call_id, COALESCE(related_file_path, '')
		FROM security_events` + whereClause + `
		ORDER BY timestamp DESC
		LIMIT ` + qb.Next(limit) + ` OFFSET ` + qb.Next(filter.Offset)

	rows, err := db.Pool.Query(ctx, dataQuery, qb.Args()...)
	if err != nil {
		return nil, 0, storeErr("query security events", err)
	}
	defer rows.Close()

	var result []SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		var meta []byte
		if err := rows.Scan(
			&ev.EventID, &ev.Timestamp, &ev.EventType, &ev.Severity,
			&ev.SourceIP, &ev.SourceSystem, &ev.APIKeyUsed, &ev.UserAgent,
			&ev.Description, &meta, &ev.RelatedCallID, &ev.RelatedFilePath,
		); err != nil {
			return nil, 0, storeErr("scan security event", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, 0, storeErr("unmarshal event metadata", err)
			}
		}
		result = append(result, ev)
	}
	if result == nil {
		result = []SecurityEvent{}
	}
	return result, total, storeErr("query security events", rows.Err())
}

// AnalyzeUploadSource builds a behavioral summary for one source
// system. The sub-queries run independently, so the view is eventually
// consistent rather than a single snapshot.
func (db *DB) AnalyzeUploadSource(ctx context.Context, sourceSystem string) (*SourceAnalysis, error) {
	analysis := &SourceAnalysis{
		SourceSystem: sourceSystem,
		IPAddresses:  []IPUploadCount{},
	}

	qctx, cancel := db.opCtx(ctx)
	err := db.Pool.QueryRow(qctx, `
		SELECT count(*), count(DISTINCT upload_source_ip),
			min(timestamp), max(timestamp)
		FROM radio_calls
		WHERE upload_source_system = $1
	`, sourceSystem).Scan(
		&analysis.UploadStats.TotalUploads, &analysis.UploadStats.UniqueIPs,
		&analysis.UploadStats.FirstSeen, &analysis.UploadStats.LastSeen,
	)
	cancel()
	if err != nil {
		return nil, storeErr("analyze source uploads", err)
	}

	qctx, cancel = db.opCtx(ctx)
	err = db.Pool.QueryRow(qctx, `
		SELECT count(*),
			count(*) FILTER (WHERE severity IN ('high', 'critical')),
			count(*) FILTER (WHERE event_type LIKE '%upload%')
		FROM security_events
		WHERE source_system = $1
	`, sourceSystem).Scan(
		&analysis.SecurityStats.TotalEvents, &analysis.SecurityStats.Violations,
		&analysis.SecurityStats.UploadEvents,
	)
	cancel()
	if err != nil {
		return nil, storeErr("analyze source events", err)
	}

	qctx, cancel = db.opCtx(ctx)
	rows, err := db.Pool.Query(qctx, `
		SELECT upload_source_ip::text, count(*)
		FROM radio_calls
		WHERE upload_source_system = $1 AND upload_source_ip IS NOT NULL
		GROUP BY upload_source_ip
		ORDER BY count(*) DESC
	`, sourceSystem)
	if err != nil {
		cancel()
		return nil, storeErr("analyze source ips", err)
	}
	for rows.Next() {
		var ip IPUploadCount
		if err := rows.Scan(&ip.SourceIP, &ip.UploadCount); err != nil {
			rows.Close()
			cancel()
			return nil, storeErr("scan source ip", err)
		}
		analysis.IPAddresses = append(analysis.IPAddresses, ip)
	}
	rows.Close()
	cancel()
	if err := rows.Err(); err != nil {
		return nil, storeErr("analyze source ips", err)
	}

	recent, _, err := db.QuerySecurityEvents(ctx, EventFilter{
		SourceSystem: sourceSystem,
		Limit:        10,
	})
	if err != nil {
		return nil, err
	}
	analysis.RecentEvents = recent

	return analysis, nil
}

// EventSummary aggregates event activity over a trailing window.
type EventSummary struct {
	WindowHours int            `json:"window_hours"`
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"events_by_type"`
	BySeverity  map[string]int `json:"events_by_severity"`
	TopSources  []SourceCount  `json:"top_sources"`
}

// SourceCount is one (source system, event count) pair.
type SourceCount struct {
	SourceSystem string `json:"source_system"`
	Count        int    `json:"count"`
}

// SummarizeSecurityEvents aggregates event counts by type, severity,
// and top source systems over the trailing window.
func (db *DB) SummarizeSecurityEvents(ctx context.Context, window time.Duration) (*EventSummary, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	since := time.Now().UTC().Add(-window)
	summary := &EventSummary{
		WindowHours: int(window.Hours()),
		ByType:      map[string]int{},
		BySeverity:  map[string]int{},
		TopSources:  []SourceCount{},
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT event_type, count(*) FROM security_events
		WHERE timestamp >= $1 GROUP BY event_type
	`, since)
	if err != nil {
		return nil, storeErr("summarize by type", err)
	}
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			rows.Close()
			return nil, storeErr("scan type count", err)
		}
		summary.ByType[eventType] = count
		summary.TotalEvents += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("summarize by type", err)
	}

	rows, err = db.Pool.Query(ctx, `
		SELECT severity, count(*) FROM security_events
		WHERE timestamp >= $1 GROUP BY severity
	`, since)
	if err != nil {
		return nil, storeErr("summarize by severity", err)
	}
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return nil, storeErr("scan severity count", err)
		}
		summary.BySeverity[severity] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("summarize by severity", err)
	}

	rows, err = db.Pool.Query(ctx, `
		SELECT COALESCE(source_system, ''), count(*) FROM security_events
		WHERE timestamp >= $1 AND source_system IS NOT NULL
		GROUP BY source_system
		ORDER BY count(*) DESC
		LIMIT 10
	`, since)
	if err != nil {
		return nil, storeErr("summarize top sources", err)
	}
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.SourceSystem, &sc.Count); err != nil {
			rows.Close()
			return nil, storeErr("scan source count", err)
		}
		summary.TopSources = append(summary.TopSources, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("summarize top sources", err)
	}

	return summary, nil
}
