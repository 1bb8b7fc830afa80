package storage

import (
	"errors"
	"testing"
	"time"
)

// TestFindDocumentByHashReturnsLatest registers identical bytes under two
// names and verifies the second registration wins the lookup.
func TestFindDocumentByHashReturnsLatest(t *testing.T) {
	s, clock := openClockedStore(t)
	b1 := []byte("%PDF-1.4 identical bytes")

	firstID, err := s.RegisterDocument(DocumentInput{FileName: "report.pdf", Content: b1, PageCount: 120, ExternalIDs: []string{"file-1", "file-2", "file-3"}})
	if err != nil {
		t.Fatalf("RegisterDocument #1: %v", err)
	}
	clock.Advance(time.Second)
	secondID, err := s.RegisterDocument(DocumentInput{FileName: "report_copy.pdf", Content: b1, PageCount: 120, ExternalIDs: []string{"file-4", "file-5", "file-6"}})
	if err != nil {
		t.Fatalf("RegisterDocument #2: %v", err)
	}
	if firstID == secondID {
		t.Fatal("expected distinct ids for two registrations")
	}

	got, err := s.FindDocumentByHash(ContentHash(b1))
	if err != nil {
		t.Fatalf("FindDocumentByHash: %v", err)
	}
	if got.ID != secondID || got.FileName != "report_copy.pdf" {
		t.Errorf("got id=%d name=%q, want id=%d name=report_copy.pdf", got.ID, got.FileName, secondID)
	}
	if got.ByteSize != int64(len(b1)) || got.PageCount != 120 || got.ChunkCount != 3 {
		t.Errorf("size/pages/chunks = %d/%d/%d", got.ByteSize, got.PageCount, got.ChunkCount)
	}
	if len(got.ExternalIDs) != 3 || got.ExternalIDs[0] != "file-4" || got.ExternalIDs[2] != "file-6" {
		t.Errorf("ExternalIDs = %v", got.ExternalIDs)
	}
	if got.Status != StatusProcessed {
		t.Errorf("Status = %s, want processed", got.Status)
	}
}

// TestFindDocumentByHashSameInstant verifies the id breaks ties when two
// registrations share a timestamp.
func TestFindDocumentByHashSameInstant(t *testing.T) {
	s, _ := openClockedStore(t)
	content := []byte("same instant")

	s.RegisterDocument(DocumentInput{FileName: "a.pdf", Content: content})
	second, err := s.RegisterDocument(DocumentInput{FileName: "b.pdf", Content: content})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}

	got, err := s.FindDocumentByHash(ContentHash(content))
	if err != nil {
		t.Fatalf("FindDocumentByHash: %v", err)
	}
	if got.ID != second {
		t.Errorf("ID = %d, want %d", got.ID, second)
	}
}

// TestFindDocumentByHashIgnoresUnprocessed verifies processing and error rows
// are invisible to dedup lookups.
func TestFindDocumentByHashIgnoresUnprocessed(t *testing.T) {
	s := openTestStore(t)
	content := []byte("pending bytes")

	pending, err := s.RegisterDocument(DocumentInput{FileName: "p.pdf", Content: content, Status: StatusProcessing})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	failed, err := s.RegisterDocument(DocumentInput{FileName: "f.pdf", Content: content, Status: StatusProcessing})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	if err := s.MarkDocumentError(failed, "upload failed"); err != nil {
		t.Fatalf("MarkDocumentError: %v", err)
	}

	if _, err := s.FindDocumentByHash(ContentHash(content)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindDocumentByHash err = %v, want ErrNotFound", err)
	}

	if err := s.CompleteDocument(pending, []string{"file-a", "file-b"}); err != nil {
		t.Fatalf("CompleteDocument: %v", err)
	}
	got, err := s.FindDocumentByHash(ContentHash(content))
	if err != nil {
		t.Fatalf("FindDocumentByHash after complete: %v", err)
	}
	if got.ID != pending || got.ChunkCount != 2 {
		t.Errorf("got id=%d chunks=%d, want id=%d chunks=2", got.ID, got.ChunkCount, pending)
	}
}

func TestFindDocumentByHashNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.FindDocumentByHash(ContentHash([]byte("nothing"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestDocumentTransitions verifies processed and error are terminal states.
func TestDocumentTransitions(t *testing.T) {
	s := openTestStore(t)

	id, err := s.RegisterDocument(DocumentInput{FileName: "x.pdf", Content: []byte("x"), Status: StatusProcessing})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	if err := s.MarkDocumentError(id, "split failed"); err != nil {
		t.Fatalf("MarkDocumentError: %v", err)
	}

	d, err := s.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if d.Status != StatusError || d.ErrorReason != "split failed" {
		t.Errorf("status=%s reason=%q", d.Status, d.ErrorReason)
	}

	if err := s.CompleteDocument(id, []string{"f"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CompleteDocument on error doc: err = %v, want ErrInvalidTransition", err)
	}
	if err := s.MarkDocumentError(id, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkDocumentError twice: err = %v, want ErrInvalidTransition", err)
	}

	done, _ := s.RegisterDocument(DocumentInput{FileName: "y.pdf", Content: []byte("y")})
	if err := s.MarkDocumentError(done, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkDocumentError on processed doc: err = %v, want ErrInvalidTransition", err)
	}

	if err := s.MarkDocumentError(9999, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDocumentError unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestContentHashIgnoresName(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.RegisterDocument(DocumentInput{FileName: "a.pdf", Content: []byte("bytes")})
	b, _ := s.RegisterDocument(DocumentInput{FileName: "b.pdf", Content: []byte("bytes")})
	c, _ := s.RegisterDocument(DocumentInput{FileName: "a.pdf", Content: []byte("other")})

	da, _ := s.GetDocument(a)
	db, _ := s.GetDocument(b)
	dc, _ := s.GetDocument(c)
	if da.ContentHash != db.ContentHash {
		t.Error("same bytes under different names should share a hash")
	}
	if da.ContentHash == dc.ContentHash {
		t.Error("different bytes under the same name should not share a hash")
	}
}

// TestListDocumentSessions verifies sessions include Q&A counts and skip
// documents that never finished processing.
func TestListDocumentSessions(t *testing.T) {
	s, clock := openClockedStore(t)

	older, _ := s.RegisterDocument(DocumentInput{FileName: "older.pdf", Content: []byte("1")})
	clock.Advance(time.Minute)
	newer, _ := s.RegisterDocument(DocumentInput{FileName: "newer.pdf", Content: []byte("2")})
	s.RegisterDocument(DocumentInput{FileName: "pending.pdf", Content: []byte("3"), Status: StatusProcessing})

	clock.Advance(time.Minute)
	for _, q := range []string{"q1", "q2"} {
		if _, err := s.AppendQA(QAInput{DocumentID: older, Question: q, Answer: "a"}); err != nil {
			t.Fatalf("AppendQA: %v", err)
		}
		clock.Advance(time.Second)
	}

	sessions, err := s.ListDocumentSessions(10)
	if err != nil {
		t.Fatalf("ListDocumentSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if sessions[0].Document.ID != newer || sessions[0].QACount != 0 || sessions[0].LastQuestion != nil {
		t.Errorf("sessions[0] = %+v", sessions[0])
	}
	if sessions[1].Document.ID != older || sessions[1].QACount != 2 {
		t.Errorf("sessions[1] = %+v", sessions[1])
	}
	if sessions[1].LastQuestion == nil || !sessions[1].LastQuestion.Equal(clock.Now().Add(-time.Second)) {
		t.Errorf("LastQuestion = %v, want %v", sessions[1].LastQuestion, clock.Now().Add(-time.Second))
	}
}

func TestRestoreSession(t *testing.T) {
	s, clock := openClockedStore(t)

	id, _ := s.RegisterDocument(DocumentInput{FileName: "r.pdf", Content: []byte("r")})
	for _, q := range []string{"first", "second"} {
		s.AppendQA(QAInput{DocumentID: id, Question: q, Answer: "a"})
		clock.Advance(time.Second)
	}

	sess, err := s.RestoreSession(id)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if sess.Document.FileName != "r.pdf" {
		t.Errorf("FileName = %q", sess.Document.FileName)
	}
	if len(sess.History) != 2 || sess.History[0].Question != "first" {
		t.Errorf("History = %+v", sess.History)
	}

	pending, _ := s.RegisterDocument(DocumentInput{FileName: "p.pdf", Content: []byte("p"), Status: StatusProcessing})
	if _, err := s.RestoreSession(pending); !errors.Is(err, ErrNotFound) {
		t.Errorf("RestoreSession(pending) err = %v, want ErrNotFound", err)
	}
}
