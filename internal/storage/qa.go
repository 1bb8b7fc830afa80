package storage

// --- Q&A log ---

// AppendQA records a question answered against a document and returns the new
// row id. The cost estimate is derived from the token counts and the Store's
// pricing. A document id that does not exist is rejected by the foreign key.
func (s *Store) AppendQA(in QAInput) (int64, error) {
	cost := s.pricing.Cost(in.QueryTokens, in.ResponseTokens)
	res, err := s.db.Exec(`
		INSERT INTO qa_log (document_id, question, answer, query_tokens, response_tokens, cost_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.DocumentID, in.Question, in.Answer, in.QueryTokens, in.ResponseTokens, cost, s.timestamp(),
	)
	if err != nil {
		return 0, wrapErr("append qa", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("append qa", err)
	}
	return id, nil
}

// QAHistory lists all entries for a document ordered by creation time.
func (s *Store) QAHistory(documentID int64, order Order) ([]QAEntry, error) {
	query := `
		SELECT id, document_id, question, answer, query_tokens, response_tokens, cost_estimate, created_at
		FROM qa_log WHERE document_id = ?
		ORDER BY created_at ASC, id ASC`
	if order == Descending {
		query = `
		SELECT id, document_id, question, answer, query_tokens, response_tokens, cost_estimate, created_at
		FROM qa_log WHERE document_id = ?
		ORDER BY created_at DESC, id DESC`
	}

	rows, err := s.db.Query(query, documentID)
	if err != nil {
		return nil, wrapErr("qa history", err)
	}
	defer rows.Close()

	var results []QAEntry
	for rows.Next() {
		var q QAEntry
		var createdAt string
		if err := rows.Scan(&q.ID, &q.DocumentID, &q.Question, &q.Answer, &q.QueryTokens, &q.ResponseTokens, &q.CostEstimate, &createdAt); err != nil {
			return nil, wrapErr("qa history", err)
		}
		if q.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, q)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("qa history", err)
	}
	return results, nil
}
