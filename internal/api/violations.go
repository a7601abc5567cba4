package api

import (
	"encoding/json"
	"net/http"

	"github.com/copernicus-go/copernicus/internal/compliance"
)

// violationUpdate is one entry of a PATCH .../compliance/violations request
// body, per spec.md §6.
type violationUpdate struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
}

type patchViolationsRequest struct {
	Updates []violationUpdate `json:"updates"`
}

// handlePatchViolations implements PATCH /api/v1/tasks/{id}/compliance/violations:
// it mutates the review status of individual violations in the task's
// persisted compliance.json. The in-memory task result, if any, is left
// untouched — a completed task's [task.Info] is read-only to API handlers
// (only its own worker mutates it), so the persisted file is authoritative
// for subsequent reads of this endpoint and of .../results.
func (s *Server) handlePatchViolations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req patchViolationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidRequest("malformed request body"))
		return
	}

	var resp compliance.Response
	ok, err := s.persist.LoadJSON(id, "compliance.json", &resp)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, notFound("no compliance report found for task "+id))
		return
	}

	for _, u := range req.Updates {
		if u.Index < 0 || u.Index >= len(resp.Report.Violations) {
			writeError(w, invalidRequest("violation index out of range"))
			return
		}
		status := compliance.ViolationStatus(u.Status)
		switch status {
		case compliance.StatusPending, compliance.StatusConfirmed, compliance.StatusRejected:
		default:
			writeError(w, invalidRequest("invalid violation status \""+u.Status+"\""))
			return
		}
		resp.Report.Violations[u.Index].Status = status
	}

	if err := s.persist.SaveJSON(id, "compliance.json", resp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
