package storage

import (
	"encoding/json"
	"fmt"
)

// --- M&A searches ---

// SaveMASearch appends an M&A search result. Identical searches are kept as
// separate rows.
func (s *Store) SaveMASearch(subject, timeframe, payload string, dealCount int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO ma_searches (subject, timeframe, payload, deal_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		subject, timeframe, payload, dealCount, s.timestamp(),
	)
	if err != nil {
		return 0, wrapErr("save ma search", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("save ma search", err)
	}
	return id, nil
}

// RecentMASearches returns the newest M&A searches first.
func (s *Store) RecentMASearches(limit int) ([]MASearch, error) {
	rows, err := s.db.Query(`
		SELECT id, subject, timeframe, payload, deal_count, created_at
		FROM ma_searches
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, wrapErr("recent ma searches", err)
	}
	defer rows.Close()

	var results []MASearch
	for rows.Next() {
		var m MASearch
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Subject, &m.Timeframe, &m.Payload, &m.DealCount, &createdAt); err != nil {
			return nil, wrapErr("recent ma searches", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("recent ma searches", err)
	}
	return results, nil
}

// --- Document comparisons ---

func (s *Store) SaveComparison(c Comparison) (int64, error) {
	ids := c.DocumentIDs
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("encoding document ids: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO pdf_comparisons (document_ids, prompt, payload, web_search, web_insights, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(b), c.Prompt, c.Payload, c.WebSearch, c.WebInsights, s.timestamp(),
	)
	if err != nil {
		return 0, wrapErr("save comparison", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("save comparison", err)
	}
	return id, nil
}

func (s *Store) RecentComparisons(limit int) ([]Comparison, error) {
	rows, err := s.db.Query(`
		SELECT id, document_ids, prompt, payload, web_search, web_insights, created_at
		FROM pdf_comparisons
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, wrapErr("recent comparisons", err)
	}
	defer rows.Close()

	var results []Comparison
	for rows.Next() {
		var c Comparison
		var ids, createdAt string
		if err := rows.Scan(&c.ID, &ids, &c.Prompt, &c.Payload, &c.WebSearch, &c.WebInsights, &createdAt); err != nil {
			return nil, wrapErr("recent comparisons", err)
		}
		if err := json.Unmarshal([]byte(ids), &c.DocumentIDs); err != nil {
			return nil, fmt.Errorf("decoding document ids: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("recent comparisons", err)
	}
	return results, nil
}
