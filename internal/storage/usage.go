package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// --- Usage events ---

// RecordEvent appends a usage event. data is stored as a JSON object; an
// empty sessionID is stored as NULL.
func (s *Store) RecordEvent(eventType string, data map[string]any, sessionID string) error {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	session := sql.NullString{String: sessionID, Valid: sessionID != ""}

	_, err = s.db.Exec(`
		INSERT INTO usage_events (event_type, event_data, session_id, created_at)
		VALUES (?, ?, ?, ?)`,
		eventType, string(b), session, s.timestamp(),
	)
	return wrapErr("record event", err)
}

// RecentEvents returns the newest events of the given type, or of every type
// when eventType is empty.
func (s *Store) RecentEvents(eventType string, limit int) ([]UsageEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, event_type, event_data, session_id, created_at
		FROM usage_events
		WHERE ? = '' OR event_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		eventType, eventType, limit,
	)
	if err != nil {
		return nil, wrapErr("recent events", err)
	}
	defer rows.Close()

	var results []UsageEvent
	for rows.Next() {
		var e UsageEvent
		var session sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &e.Data, &session, &createdAt); err != nil {
			return nil, wrapErr("recent events", err)
		}
		e.SessionID = session.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("recent events", err)
	}
	return results, nil
}

// PopularSubjects ranks the subjects named in events of eventType within the
// trailing window by event count, breaking ties by the most recent event.
// Events whose data carries no "subject" field are ignored.
func (s *Store) PopularSubjects(eventType string, window time.Duration, limit int) ([]PopularSubject, error) {
	since := formatTime(s.now().Add(-window))
	rows, err := s.db.Query(`
		SELECT json_extract(event_data, '$.subject') AS subject,
		       COUNT(*) AS n,
		       MAX(created_at) AS last_seen
		FROM usage_events
		WHERE event_type = ?
		  AND created_at > ?
		  AND json_extract(event_data, '$.subject') IS NOT NULL
		GROUP BY subject
		ORDER BY n DESC, last_seen DESC
		LIMIT ?`,
		eventType, since, limit,
	)
	if err != nil {
		return nil, wrapErr("popular subjects", err)
	}
	defer rows.Close()

	var results []PopularSubject
	for rows.Next() {
		var p PopularSubject
		var lastSeen string
		if err := rows.Scan(&p.Subject, &p.Count, &lastSeen); err != nil {
			return nil, wrapErr("popular subjects", err)
		}
		if p.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("popular subjects", err)
	}
	return results, nil
}
