package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/copernicus-go/copernicus/internal/task"
	"github.com/copernicus-go/copernicus/internal/taskstore"
)

// handleSubmitTextEvaluation implements POST /api/v1/evaluate/text/async.
func (s *Server) handleSubmitTextEvaluation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxHotwordsFieldBytes); err != nil {
		// Fall back to a plain form body (no file parts expected here).
		if err := r.ParseForm(); err != nil {
			writeError(w, invalidRequest("malformed form body"))
			return
		}
	}

	text := r.FormValue("text")
	if strings.TrimSpace(text) == "" {
		writeError(w, invalidRequest("text must not be empty"))
		return
	}
	parentTaskID := r.FormValue("parent_task_id")

	taskID, err := s.store.SubmitTextEvaluation(text, parentTaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitTranscriptResponse{TaskID: taskID, Status: string(task.StatusPending), Existing: false})
}

// handleSubmitComplianceAudit implements POST /api/v1/compliance/audit/async.
func (s *Server) handleSubmitComplianceAudit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxRulesBytes); err != nil {
		writeError(w, tooLarge("rules_file exceeds the maximum allowed size"))
		return
	}

	file, header, err := r.FormFile("rules_file")
	if err != nil {
		writeError(w, invalidRequest("missing required form field \"rules_file\""))
		return
	}
	defer file.Close()

	rulesBytes, err := io.ReadAll(io.LimitReader(file, maxRulesBytes+1))
	if err != nil {
		writeError(w, invalidRequest("reading rules_file: "+err.Error()))
		return
	}
	if len(rulesBytes) > maxRulesBytes {
		writeError(w, tooLarge("rules_file exceeds the maximum allowed size"))
		return
	}

	entries, err := decodeTranscriptEntries(r.FormValue("transcript"))
	if err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}

	parentTaskID := r.FormValue("parent_task_id")

	taskID, err := s.store.SubmitComplianceAudit(entries, rulesBytes, header.Filename, parentTaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitTranscriptResponse{TaskID: taskID, Status: string(task.StatusPending), Existing: false})
}

func decodeTranscriptEntries(raw string) ([]taskstore.TranscriptEntry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errEmptyTranscriptField
	}
	var entries []taskstore.TranscriptEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, errMalformedTranscriptField
	}
	return entries, nil
}

var (
	errEmptyTranscriptField     = invalidRequest("transcript must not be empty")
	errMalformedTranscriptField = invalidRequest("transcript must be a JSON array of transcript entries")
)
