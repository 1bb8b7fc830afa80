package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/fingerprint"
)

// --- Result cache ---

type rowScanner interface {
	Scan(dest ...any) error
}

const cacheColumns = `id, subject, query_kind, fingerprint, params, payload, source, created_at, expires_at`

// GetCached returns the live cache entry for the tuple, or ErrNotFound when
// there is none or it has expired.
func (s *Store) GetCached(subject string, kind QueryKind, params map[string]any) (CacheEntry, error) {
	fp, err := fingerprint.Generate(subject, string(kind), params)
	if err != nil {
		return CacheEntry{}, err
	}
	return s.GetCachedByFingerprint(fp)
}

// GetCachedByFingerprint is GetCached for a precomputed fingerprint.
func (s *Store) GetCachedByFingerprint(fp string) (CacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT `+cacheColumns+`
		FROM market_cache
		WHERE fingerprint = ? AND (expires_at IS NULL OR expires_at > ?)`,
		fp, s.timestamp(),
	)
	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, wrapErr("get cache entry", err)
	}
	return e, nil
}

// PutCached upserts a result by fingerprint. An existing row for the same
// fingerprint has its payload, source and timestamps replaced.
func (s *Store) PutCached(p CachePut) (CacheEntry, error) {
	fp, err := fingerprint.Generate(p.Subject, string(p.Kind), p.Params)
	if err != nil {
		return CacheEntry{}, err
	}
	params, err := fingerprint.Canonical(p.Params)
	if err != nil {
		return CacheEntry{}, err
	}

	now := s.now().UTC()
	entry := CacheEntry{
		Subject:     p.Subject,
		Kind:        p.Kind,
		Fingerprint: fp,
		Params:      params,
		Payload:     p.Payload,
		Source:      p.Source,
		CreatedAt:   now,
	}

	var expires sql.NullString
	if p.TTL > 0 {
		exp := now.Add(p.TTL)
		entry.ExpiresAt = &exp
		expires = sql.NullString{String: formatTime(exp), Valid: true}
	}

	err = s.db.QueryRow(`
		INSERT INTO market_cache (subject, query_kind, fingerprint, params, payload, source, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			subject = excluded.subject,
			query_kind = excluded.query_kind,
			params = excluded.params,
			payload = excluded.payload,
			source = excluded.source,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		RETURNING id`,
		p.Subject, string(p.Kind), fp, params, p.Payload, p.Source, formatTime(now), expires,
	).Scan(&entry.ID)
	if err != nil {
		return CacheEntry{}, wrapErr("put cache entry", err)
	}
	return entry, nil
}

// SweepExpired deletes entries whose expiry has passed and returns how many
// rows were removed. Entries without expiry are never touched.
func (s *Store) SweepExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM market_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.timestamp())
	if err != nil {
		return 0, wrapErr("sweep cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("sweep cache", err)
	}
	return n, nil
}

// CacheHistory lists live (subject, kind) pairs, most recently written first.
func (s *Store) CacheHistory(limit int) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT subject, query_kind, MAX(created_at) AS last_created
		FROM market_cache
		WHERE expires_at IS NULL OR expires_at > ?
		GROUP BY subject, query_kind
		ORDER BY last_created DESC, subject ASC
		LIMIT ?`,
		s.timestamp(), limit,
	)
	if err != nil {
		return nil, wrapErr("cache history", err)
	}
	defer rows.Close()

	var results []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var kind, createdAt string
		if err := rows.Scan(&h.Subject, &kind, &createdAt); err != nil {
			return nil, wrapErr("cache history", err)
		}
		h.Kind = QueryKind(kind)
		if h.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("cache history", err)
	}
	return results, nil
}

// CompleteAnalysis returns the live parameterless global, vertical and
// horizontal entries for subject. Missing kinds are left out of the map.
func (s *Store) CompleteAnalysis(subject string) (map[QueryKind]CacheEntry, error) {
	out := make(map[QueryKind]CacheEntry, 3)
	for _, kind := range []QueryKind{KindGlobal, KindVertical, KindHorizontal} {
		e, err := s.GetCached(subject, kind, nil)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s analysis: %w", kind, err)
		}
		out[kind] = e
	}
	return out, nil
}

func scanCacheEntry(row rowScanner) (CacheEntry, error) {
	var e CacheEntry
	var kind, createdAt string
	var expiresAt sql.NullString
	if err := row.Scan(&e.ID, &e.Subject, &kind, &e.Fingerprint, &e.Params, &e.Payload, &e.Source, &createdAt, &expiresAt); err != nil {
		return CacheEntry{}, err
	}
	e.Kind = QueryKind(kind)

	t, err := parseTime(createdAt)
	if err != nil {
		return CacheEntry{}, err
	}
	e.CreatedAt = t

	if expiresAt.Valid {
		exp, err := parseTime(expiresAt.String)
		if err != nil {
			return CacheEntry{}, err
		}
		e.ExpiresAt = &exp
	}
	return e, nil
}
