package api

import (
	"net/http"

	"github.com/copernicus-go/copernicus/internal/compliance"
	"github.com/copernicus-go/copernicus/internal/evaluate"
	"github.com/copernicus-go/copernicus/internal/taskstore"
)

// resultsResponse is the full persisted bundle GET .../results returns:
// whichever of transcript/evaluation/compliance have been persisted for the
// task, plus presence flags for the artifacts media.go/frames serve.
type resultsResponse struct {
	TaskID        string                      `json:"task_id"`
	Transcript    *taskstore.TranscriptResult `json:"transcript,omitempty"`
	Evaluation    *evaluate.Response          `json:"evaluation,omitempty"`
	Compliance    *compliance.Response        `json:"compliance,omitempty"`
	HasMedia      bool                        `json:"has_media"`
	HasAudio      bool                        `json:"has_audio"`
	KeyframeCount int                         `json:"keyframe_count"`
	HasOCRResults bool                        `json:"has_ocr_results"`
}

// handleGetResults implements GET /api/v1/tasks/{id}/results.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		writeError(w, notFound("unknown task "+id))
		return
	}

	resp := resultsResponse{TaskID: id}

	var transcript taskstore.TranscriptResult
	if ok, err := s.persist.LoadJSON(id, "transcript.json", &transcript); err == nil && ok {
		resp.Transcript = &transcript
	}

	var evalResp evaluate.Response
	if ok, err := s.persist.LoadJSON(id, "evaluation.json", &evalResp); err == nil && ok {
		resp.Evaluation = &evalResp
	}

	var complianceResp compliance.Response
	if ok, err := s.persist.LoadJSON(id, "compliance.json", &complianceResp); err == nil && ok {
		resp.Compliance = &complianceResp
	}

	_, resp.HasMedia = s.persist.FindVideo(id)
	_, resp.HasAudio = s.persist.FindAudio(id)
	resp.KeyframeCount = s.persist.CountFrames(id)
	resp.HasOCRResults = s.persist.HasFile(id, "ocr_results.json")

	writeJSON(w, http.StatusOK, resp)
}
