package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// --- Document registry ---

const documentColumns = `id, file_name, content_hash, byte_size, page_count, chunk_count, chunk_pages, external_ids, status, error_reason, processed_at`

// ContentHash returns the hex SHA-256 of raw document bytes. The file name
// plays no part, so renamed copies share a hash.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RegisterDocument inserts a new document row and returns its id. It never
// checks for an existing hash; callers dedupe with FindDocumentByHash first.
func (s *Store) RegisterDocument(in DocumentInput) (int64, error) {
	status := in.Status
	if status == "" {
		status = StatusProcessed
	}
	chunkCount := in.ChunkCount
	if chunkCount == 0 {
		chunkCount = len(in.ExternalIDs)
	}
	ids, err := marshalStrings(in.ExternalIDs)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO documents (file_name, content_hash, byte_size, page_count, chunk_count, chunk_pages, external_ids, status, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.FileName, ContentHash(in.Content), len(in.Content), in.PageCount, chunkCount, in.ChunkPages, ids, string(status), s.timestamp(),
	)
	if err != nil {
		return 0, wrapErr("register document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("register document", err)
	}
	return id, nil
}

// FindDocumentByHash returns the most recently processed record with the
// given content hash, or ErrNotFound.
func (s *Store) FindDocumentByHash(hash string) (DocumentRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+documentColumns+`
		FROM documents
		WHERE content_hash = ? AND status = ?
		ORDER BY processed_at DESC, id DESC
		LIMIT 1`,
		hash, string(StatusProcessed),
	)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, ErrNotFound
	}
	if err != nil {
		return DocumentRecord{}, wrapErr("find document", err)
	}
	return d, nil
}

// GetDocument returns a document by id regardless of status.
func (s *Store) GetDocument(id int64) (DocumentRecord, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, ErrNotFound
	}
	if err != nil {
		return DocumentRecord{}, wrapErr("get document", err)
	}
	return d, nil
}

// CompleteDocument moves a processing document to processed and records the
// uploaded chunk references.
func (s *Store) CompleteDocument(id int64, externalIDs []string) error {
	ids, err := marshalStrings(externalIDs)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE documents SET status = ?, external_ids = ?, chunk_count = ?, processed_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusProcessed), ids, len(externalIDs), s.timestamp(), id, string(StatusProcessing),
	)
	if err != nil {
		return wrapErr("complete document", err)
	}
	return s.checkTransition(res, id)
}

// MarkDocumentError moves a processing document to the terminal error state.
func (s *Store) MarkDocumentError(id int64, reason string) error {
	res, err := s.db.Exec(`
		UPDATE documents SET status = ?, error_reason = ?
		WHERE id = ? AND status = ?`,
		string(StatusError), reason, id, string(StatusProcessing),
	)
	if err != nil {
		return wrapErr("mark document error", err)
	}
	return s.checkTransition(res, id)
}

// checkTransition distinguishes a missing document from one that is no
// longer in the processing state when a guarded update touched no rows.
func (s *Store) checkTransition(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("document transition", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRow(`SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return wrapErr("document transition", err)
	}
	return fmt.Errorf("document %d is %s: %w", id, status, ErrInvalidTransition)
}

// ListDocumentSessions returns processed documents with their Q&A counts,
// most recently processed first.
func (s *Store) ListDocumentSessions(limit int) ([]DocumentSession, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.file_name, d.content_hash, d.byte_size, d.page_count, d.chunk_count, d.chunk_pages,
		       d.external_ids, d.status, d.error_reason, d.processed_at,
		       COUNT(q.id), MAX(q.created_at)
		FROM documents d
		LEFT JOIN qa_log q ON q.document_id = d.id
		WHERE d.status = ?
		GROUP BY d.id
		ORDER BY d.processed_at DESC, d.id DESC
		LIMIT ?`,
		string(StatusProcessed), limit,
	)
	if err != nil {
		return nil, wrapErr("list document sessions", err)
	}
	defer rows.Close()

	var results []DocumentSession
	for rows.Next() {
		var ds DocumentSession
		var lastQuestion sql.NullString
		d, err := scanDocument(rowFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &ds.QACount, &lastQuestion)...)
		}))
		if err != nil {
			return nil, wrapErr("list document sessions", err)
		}
		ds.Document = d
		if lastQuestion.Valid {
			t, err := parseTime(lastQuestion.String)
			if err != nil {
				return nil, err
			}
			ds.LastQuestion = &t
		}
		results = append(results, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list document sessions", err)
	}
	return results, nil
}

// RestoreSession returns a processed document together with its Q&A history
// in chronological order.
func (s *Store) RestoreSession(id int64) (Session, error) {
	d, err := s.GetDocument(id)
	if err != nil {
		return Session{}, err
	}
	if d.Status != StatusProcessed {
		return Session{}, ErrNotFound
	}
	history, err := s.QAHistory(id, Ascending)
	if err != nil {
		return Session{}, err
	}
	return Session{Document: d, History: history}, nil
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func scanDocument(row rowScanner) (DocumentRecord, error) {
	var d DocumentRecord
	var ids, status, processedAt string
	if err := row.Scan(&d.ID, &d.FileName, &d.ContentHash, &d.ByteSize, &d.PageCount, &d.ChunkCount, &d.ChunkPages, &ids, &status, &d.ErrorReason, &processedAt); err != nil {
		return DocumentRecord{}, err
	}
	d.Status = DocumentStatus(status)
	if err := json.Unmarshal([]byte(ids), &d.ExternalIDs); err != nil {
		return DocumentRecord{}, fmt.Errorf("decoding external_ids: %w", err)
	}
	t, err := parseTime(processedAt)
	if err != nil {
		return DocumentRecord{}, err
	}
	d.ProcessedAt = t
	return d, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding external ids: %w", err)
	}
	return string(b), nil
}
