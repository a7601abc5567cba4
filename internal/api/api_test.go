package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/copernicus-go/copernicus/internal/compliance"
	"github.com/copernicus-go/copernicus/internal/observe"
	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/internal/task"
	"github.com/copernicus-go/copernicus/internal/taskstore"
)

// stubStage is a minimal [pipeline.Stage], mirroring taskstore's own test
// double, so handler tests can drive a real [taskstore.Store] without a
// real ASR/correction pipeline.
type stubStage struct {
	name    string
	err     error
	entries []pipeline.TranscriptEntryResult
}

func (s *stubStage) Name() string                         { return s.name }
func (s *stubStage) ShouldRun(ctx *pipeline.Context) bool  { return true }
func (s *stubStage) Execute(ctx *pipeline.Context, onProgress pipeline.ProgressFunc) error {
	onProgress(0, 1)
	if s.err != nil {
		return s.err
	}
	ctx.Entries = s.entries
	onProgress(1, 1)
	return nil
}

func newTestServer(t *testing.T) (*Server, *taskstore.Store, *persistence.Store) {
	t.Helper()
	persist, err := persistence.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("persistence.New() error = %v", err)
	}
	orch := pipeline.New(nil, &stubStage{
		name:    "text_correction",
		entries: []pipeline.TranscriptEntryResult{{Speaker: "说话人1", Text: "你好", TextCorrected: "你好", StartMs: 0, EndMs: 500}},
	})
	store := taskstore.New(orch, persist, nil, nil)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(nil) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("observe.NewMetrics() error = %v", err)
	}

	return New(store, persist, metrics, nil), store, persist
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte, extraFields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	for k, v := range extraFields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s) error = %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestSubmitTranscriptReturns202(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "file", "rec.wav", []byte("fake-audio-bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/transcript", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.handleSubmitTranscript(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp submitTranscriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID == "" {
		t.Error("TaskID is empty")
	}
	if resp.Existing {
		t.Error("Existing = true for a first-time upload")
	}
}

func TestSubmitTranscriptMissingFileReturns422(t *testing.T) {
	s, _, _ := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/transcript", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	s.handleSubmitTranscript(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestSubmitTranscriptInvalidHotwordsReturns422(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "file", "rec.wav", []byte("x"), map[string]string{
		"hotwords": "not-json",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/transcript", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.handleSubmitTranscript(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestGetTaskUnknownIDReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	s.handleGetTask(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetTaskReturnsProgressAndStatus(t *testing.T) {
	s, store, _ := newTestServer(t)

	taskID, _, err := store.SubmitTranscript([]byte("audio-bytes"), "rec.wav", nil)
	if err != nil {
		t.Fatalf("SubmitTranscript() error = %v", err)
	}
	waitForTaskStatus(t, store, taskID, task.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID, nil)
	req.SetPathValue("id", taskID)
	rec := httptest.NewRecorder()

	s.handleGetTask(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp taskStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(task.StatusCompleted) {
		t.Errorf("Status = %q, want %q", resp.Status, task.StatusCompleted)
	}
	if resp.Progress.Percent != 100.0 {
		t.Errorf("Progress.Percent = %v, want 100.0", resp.Progress.Percent)
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", *resp.Error)
	}
}

func TestGetResultsIncludesPersistedTranscriptAndFlags(t *testing.T) {
	s, store, persist := newTestServer(t)

	taskID, _, err := store.SubmitTranscript([]byte("audio-bytes"), "rec.wav", nil)
	if err != nil {
		t.Fatalf("SubmitTranscript() error = %v", err)
	}
	waitForTaskStatus(t, store, taskID, task.StatusCompleted)

	if err := persist.SaveJSON(taskID, "ocr_results.json", []map[string]any{{"text": "hi"}}); err != nil {
		t.Fatalf("SaveJSON(ocr_results.json) error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID+"/results", nil)
	req.SetPathValue("id", taskID)
	rec := httptest.NewRecorder()

	s.handleGetResults(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp resultsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Transcript == nil || len(resp.Transcript.Transcript) != 1 {
		t.Errorf("Transcript = %+v, want one persisted entry", resp.Transcript)
	}
	if !resp.HasOCRResults {
		t.Error("HasOCRResults = false, want true")
	}
	if !resp.HasAudio {
		t.Error("HasAudio = false, want true (SubmitTranscript persists the uploaded audio on disk)")
	}
}

func TestGetResultsUnknownTaskReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope/results", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	s.handleGetResults(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeFrameRejectsPathTraversal(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1/frames/..%2F..%2Fsecret", nil)
	req.SetPathValue("id", "t1")
	req.SetPathValue("filename", "../../secret")
	rec := httptest.NewRecorder()

	s.handleServeFrame(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeAudioUnknownTaskReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope/audio", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	s.handleServeAudio(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSubmitTextEvaluationRequiresNonEmptyText(t *testing.T) {
	s, _, _ := newTestServer(t)

	form := "text=" + ""
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate/text/async", bytes.NewBufferString(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.handleSubmitTextEvaluation(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestSubmitTextEvaluationWithoutEvaluatorConfiguredReturns500(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate/text/async", bytes.NewBufferString("text=hello+there"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.handleSubmitTextEvaluation(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestSubmitComplianceAuditMissingRulesFileReturns422(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "not_rules", "ignored.csv", []byte("x"), map[string]string{
		"transcript": `[]`,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/audit/async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.handleSubmitComplianceAudit(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestSubmitComplianceAuditEmptyTranscriptReturns422(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "rules_file", "rules.csv", []byte("1,不得承诺保本保收益\n"), map[string]string{
		"transcript": "",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/audit/async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.handleSubmitComplianceAudit(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestPatchViolationsUpdatesPersistedStatus(t *testing.T) {
	s, _, persist := newTestServer(t)

	taskID := "with-compliance"
	resp := compliance.Response{
		Report: compliance.Report{
			Violations: []compliance.Violation{
				{RuleID: 1, Status: compliance.StatusPending},
				{RuleID: 2, Status: compliance.StatusPending},
			},
		},
	}
	if err := persist.SaveJSON(taskID, "compliance.json", resp); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}

	reqBody, _ := json.Marshal(patchViolationsRequest{
		Updates: []violationUpdate{{Index: 0, Status: "confirmed"}},
	})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/tasks/"+taskID+"/compliance/violations", bytes.NewReader(reqBody))
	req.SetPathValue("id", taskID)
	rec := httptest.NewRecorder()

	s.handlePatchViolations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var stored compliance.Response
	ok, err := persist.LoadJSON(taskID, "compliance.json", &stored)
	if err != nil || !ok {
		t.Fatalf("LoadJSON() ok=%v err=%v", ok, err)
	}
	if stored.Report.Violations[0].Status != compliance.StatusConfirmed {
		t.Errorf("Violations[0].Status = %q, want confirmed", stored.Report.Violations[0].Status)
	}
	if stored.Report.Violations[1].Status != compliance.StatusPending {
		t.Errorf("Violations[1].Status = %q, want pending (untouched)", stored.Report.Violations[1].Status)
	}
}

func TestPatchViolationsOutOfRangeIndexReturns422(t *testing.T) {
	s, _, persist := newTestServer(t)

	taskID := "with-one-violation"
	resp := compliance.Response{Report: compliance.Report{Violations: []compliance.Violation{{RuleID: 1}}}}
	if err := persist.SaveJSON(taskID, "compliance.json", resp); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}

	reqBody, _ := json.Marshal(patchViolationsRequest{Updates: []violationUpdate{{Index: 5, Status: "confirmed"}}})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/tasks/"+taskID+"/compliance/violations", bytes.NewReader(reqBody))
	req.SetPathValue("id", taskID)
	rec := httptest.NewRecorder()

	s.handlePatchViolations(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestPatchViolationsUnknownTaskReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	reqBody, _ := json.Marshal(patchViolationsRequest{Updates: []violationUpdate{{Index: 0, Status: "confirmed"}}})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/tasks/nope/compliance/violations", bytes.NewReader(reqBody))
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	s.handlePatchViolations(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRerunEvaluationUnknownParentReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/nope/rerun-evaluation", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	s.handleRerunEvaluation(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRoutesServesHealthyRequest(t *testing.T) {
	s, store, _ := newTestServer(t)
	mux := s.Routes()

	taskID, _, err := store.SubmitTranscript([]byte("bytes"), "rec.wav", nil)
	if err != nil {
		t.Fatalf("SubmitTranscript() error = %v", err)
	}
	waitForTaskStatus(t, store, taskID, task.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+taskID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func waitForTaskStatus(t *testing.T, store *taskstore.Store, taskID string, want task.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := store.Get(taskID); ok && info.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s within deadline", taskID, want)
}
