package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/copernicus-go/copernicus/internal/task"
)

// maxHotwordsFieldBytes bounds the hotwords form field itself, independent
// of the uploaded file.
const maxHotwordsFieldBytes = 64 << 10

// submitTranscriptResponse is the 202 body for a new or deduplicated
// transcript submission.
type submitTranscriptResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Existing bool   `json:"existing"`
}

// handleSubmitTranscript implements POST /api/v1/tasks/transcript.
func (s *Server) handleSubmitTranscript(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, tooLarge("upload exceeds the maximum allowed size"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, invalidRequest("missing required form field \"file\""))
		return
	}
	defer file.Close()

	mediaBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, invalidRequest("reading uploaded file: "+err.Error()))
		return
	}

	hotwords, err := parseHotwords(r.FormValue("hotwords"))
	if err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}

	taskID, existing, err := s.store.SubmitTranscript(mediaBytes, header.Filename, hotwords)
	if err != nil {
		writeError(w, err)
		return
	}

	status := string(task.StatusPending)
	if existing {
		if info, ok := s.store.Get(taskID); ok {
			status = string(info.Status())
		}
	}
	writeJSON(w, http.StatusAccepted, submitTranscriptResponse{TaskID: taskID, Status: status, Existing: existing})
}

// parseHotwords decodes the hotwords form field: absent means no hotwords,
// present must be a JSON array of strings.
func parseHotwords(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var hotwords []string
	if err := json.Unmarshal([]byte(raw), &hotwords); err != nil {
		return nil, errInvalidHotwords
	}
	return hotwords, nil
}

var errInvalidHotwords = invalidRequest("hotwords must be a JSON array of strings")

// taskStatusResponse is the GET /api/v1/tasks/{id} body.
type taskStatusResponse struct {
	TaskID   string        `json:"task_id"`
	Status   string        `json:"status"`
	Progress task.Progress `json:"progress"`
	Result   any           `json:"result"`
	Error    *string       `json:"error"`
}

// handleGetTask implements GET /api/v1/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.store.Get(id)
	if !ok {
		writeError(w, notFound("unknown task "+id))
		return
	}

	resp := taskStatusResponse{
		TaskID:   id,
		Status:   string(info.Status()),
		Progress: info.Progress(),
		Result:   info.Result(),
	}
	if info.Status() == task.StatusFailed {
		if err := info.Err(); err != nil {
			msg := err.Error()
			resp.Error = &msg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRerunTranscript implements POST /api/v1/tasks/{id}/rerun-transcript.
func (s *Server) handleRerunTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Hotwords []string `json:"hotwords"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, maxHotwordsFieldBytes)).Decode(&body)
	}

	if err := s.store.RerunTranscript(id, body.Hotwords); err != nil {
		writeError(w, storageErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, submitTranscriptResponse{TaskID: id, Status: string(task.StatusPending), Existing: true})
}

// handleRerunEvaluation implements POST /api/v1/tasks/{id}/rerun-evaluation.
func (s *Server) handleRerunEvaluation(w http.ResponseWriter, r *http.Request) {
	parentID := r.PathValue("id")

	childID, err := s.store.RerunEvaluation(parentID)
	if err != nil {
		writeError(w, rerunEvaluationError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, submitTranscriptResponse{TaskID: childID, Status: string(task.StatusPending), Existing: false})
}

// rerunEvaluationError classifies [taskstore.Store.RerunEvaluation]'s
// failure modes: an empty transcript is a client-input problem (422, per
// spec.md §8's boundary behaviour), anything else (missing transcript, a
// storage failure) is surfaced as 404/500 via the generic core-error path.
func rerunEvaluationError(err error) error {
	if isComplianceKind(err) {
		return invalidRequest(err.Error())
	}
	return storageErrorStatus(err)
}
