package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", tooLarge.Limit)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		res, err := deps.Documents.Process(r.Context(), filepath.Base(header.Filename), data, r.FormValue("question"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, documentAnswer(res))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Store.ListDocumentSessions(parseIntParam(r, "limit", 20, 100))
		if err != nil {
			serviceError(w, err)
			return
		}
		out := make([]DocumentSummary, len(sessions))
		for i, s := range sessions {
			out[i] = DocumentSummary{
				Document:     documentFrom(s.Document),
				QACount:      s.QACount,
				LastQuestion: s.LastQuestion,
			}
		}
		writeJSON(w, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		session, err := deps.Store.RestoreSession(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, SessionResponse{
			Document: documentFrom(session.Document),
			History:  qaEntries(session.History),
		})
	}
}

func handleAskDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req QuestionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := deps.Documents.Ask(r.Context(), id, req.Question)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, documentAnswer(res))
	}
}

func handleListQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if _, err := deps.Store.GetDocument(id); err != nil {
			serviceError(w, err)
			return
		}
		order := storage.Ascending
		if r.URL.Query().Get("order") == "desc" {
			order = storage.Descending
		}
		entries, err := deps.Store.QAHistory(id, order)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, qaEntries(entries))
	}
}

func handleCompare(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ComparisonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cmp, err := deps.Documents.Compare(r.Context(), req.DocumentIDs, req.Prompt, req.WebSearch)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, ComparisonResponse{
			ID:          cmp.ID,
			DocumentIDs: cmp.DocumentIDs,
			Report:      cmp.Report,
			WebInsights: cmp.WebInsights,
		})
	}
}
