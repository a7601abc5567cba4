package taskstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/copernicus-go/copernicus/internal/compliance"
	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/internal/evaluate"
	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/internal/task"
	"github.com/copernicus-go/copernicus/pkg/types"
)

// SubmitTranscript registers a new transcript task for mediaBytes, unless an
// identical upload (by SHA-256) was already transcribed, in which case the
// existing task id is returned with existing=true and no new work is done.
func (s *Store) SubmitTranscript(mediaBytes []byte, filename string, hotwords []string) (id string, existing bool, err error) {
	hash := sha256Hex(mediaBytes)
	if taskID, ok := s.LookupByHash(hash); ok {
		return taskID, true, nil
	}

	taskID := newTaskID()
	ext := extOf(filename)
	meta := persistence.Meta{
		Filename:  filename,
		Hash:      hash,
		MediaType: "audio",
		CreatedAt: time.Now(),
	}

	if s.videoExts[ext] {
		meta.MediaType = "video"
		meta.VideoSuffix = ext
		if _, err := s.persistence.SaveVideo(taskID, mediaBytes, ext); err != nil {
			return "", false, errs.Storage(err, "saving uploaded video for task %s", taskID)
		}
	} else {
		meta.AudioSuffix = ext
		if _, err := s.persistence.SaveAudio(taskID, mediaBytes, ext); err != nil {
			return "", false, errs.Storage(err, "saving uploaded audio for task %s", taskID)
		}
	}
	if err := s.persistence.SaveMeta(taskID, meta); err != nil {
		return "", false, errs.Storage(err, "saving metadata for task %s", taskID)
	}

	s.register(taskID, task.New(taskID))
	s.registerHash(hash, taskID)

	var audioBytes []byte
	if meta.MediaType == "audio" {
		audioBytes = mediaBytes
	}
	go s.runTranscript(taskID, audioBytes, filename, hotwords)

	s.logger.Info("task submitted", "task_id", taskID, "kind", "transcript")
	return taskID, false, nil
}

// SubmitTextEvaluation registers a new text-evaluation-only task (no ASR
// stage). If parentTaskID is non-empty, the evaluation result is also
// persisted as the parent transcript task's evaluation.json on completion.
func (s *Store) SubmitTextEvaluation(text, parentTaskID string) (string, error) {
	if s.evaluator == nil {
		return "", errors.New("taskstore: evaluator not configured")
	}
	taskID := newTaskID()
	s.register(taskID, task.NewEvalOnly(taskID, parentTaskID))
	go s.runTextEvaluation(taskID, text)
	s.logger.Info("task submitted", "task_id", taskID, "kind", "text_evaluation", "parent_task_id", parentTaskID)
	return taskID, nil
}

// SubmitComplianceAudit registers a new compliance-audit task over entries
// against the rules parsed from rulesBytes. If parentTaskID is non-empty,
// the parent's ocr_results.json (if present) is used to enrich violations
// with visual evidence, and the report is persisted as the parent's
// compliance.json on completion.
func (s *Store) SubmitComplianceAudit(entries []TranscriptEntry, rulesBytes []byte, rulesFilename, parentTaskID string) (string, error) {
	if s.compliance == nil {
		return "", errors.New("taskstore: compliance engine not configured")
	}
	taskID := newTaskID()
	s.register(taskID, task.NewEvalOnly(taskID, parentTaskID))
	go s.runComplianceAudit(taskID, toSharedEntries(entries), rulesBytes, rulesFilename, parentTaskID)
	s.logger.Info("task submitted", "task_id", taskID, "kind", "compliance_audit", "parent_task_id", parentTaskID)
	return taskID, nil
}

// RerunTranscript resets taskID to pending and re-runs ASR and correction
// against its already-persisted source media, invalidating any downstream
// evaluation/compliance results. Returns an error if the task or its source
// media can't be found.
func (s *Store) RerunTranscript(taskID string, hotwords []string) error {
	info, ok := s.Get(taskID)
	if !ok {
		return errs.Storage(nil, "task %s not found", taskID)
	}
	meta, ok, err := s.persistence.LoadMeta(taskID)
	if err != nil {
		return errs.Storage(err, "loading metadata for task %s", taskID)
	}
	if !ok {
		return errs.Storage(nil, "metadata not found for task %s", taskID)
	}

	var audioBytes []byte
	var filename string
	if meta.MediaType == "video" {
		if _, found := s.persistence.FindVideo(taskID); !found {
			return errs.Storage(nil, "video not found for task %s", taskID)
		}
		// audioBytes stays nil: VideoPreprocessStage reads the persisted
		// video directly via persistence.Store, it never touches ctx.AudioBytes.
		filename = "video" + meta.VideoSuffix
	} else {
		audioPath, found := s.persistence.FindAudio(taskID)
		if !found {
			return errs.Storage(nil, "audio not found for task %s", taskID)
		}
		audioBytes, err = readFile(audioPath)
		if err != nil {
			return errs.Storage(err, "reading audio for task %s", taskID)
		}
		filename = "audio" + meta.AudioSuffix
	}

	info.Reset()
	if err := s.persistence.DeleteFile(taskID, "evaluation.json"); err != nil {
		return errs.Storage(err, "deleting evaluation.json for task %s", taskID)
	}
	if err := s.persistence.DeleteFile(taskID, "compliance.json"); err != nil {
		return errs.Storage(err, "deleting compliance.json for task %s", taskID)
	}

	go s.runTranscript(taskID, audioBytes, filename, hotwords)
	s.logger.Info("task rerun", "task_id", taskID, "kind", "transcript")
	return nil
}

// RerunEvaluation re-evaluates a completed transcript task's corrected text
// as a fresh child task, deleting the parent's stale evaluation.json first.
// Returns the new child task id.
func (s *Store) RerunEvaluation(parentTaskID string) (string, error) {
	var result TranscriptResult
	ok, err := s.persistence.LoadJSON(parentTaskID, "transcript.json", &result)
	if err != nil {
		return "", errs.Storage(err, "loading transcript.json for task %s", parentTaskID)
	}
	if !ok {
		return "", errs.Storage(nil, "transcript.json not found for task %s", parentTaskID)
	}

	lines := make([]string, len(result.Transcript))
	for i, e := range result.Transcript {
		lines[i] = e.TextCorrected
	}
	fullText := strings.Join(lines, "\n")
	if strings.TrimSpace(fullText) == "" {
		return "", errs.Compliance(nil, "transcript text is empty for task %s", parentTaskID)
	}

	if err := s.persistence.DeleteFile(parentTaskID, "evaluation.json"); err != nil {
		return "", errs.Storage(err, "deleting evaluation.json for task %s", parentTaskID)
	}
	return s.SubmitTextEvaluation(fullText, parentTaskID)
}

// -- worker goroutines -------------------------------------------------

func (s *Store) runTranscript(taskID string, audioBytes []byte, filename string, hotwords []string) {
	info, ok := s.Get(taskID)
	if !ok {
		return
	}
	s.logger.Info("task starting execution", "task_id", taskID, "kind", "transcript")
	info.SetStatus(task.StatusProcessingASR)

	pctx := &pipeline.Context{
		TaskID:     taskID,
		Filename:   filename,
		AudioBytes: audioBytes,
		Hotwords:   hotwords,
	}

	err := s.runWithTimeout(taskID, func(_ context.Context, giveUp *abandoned) error {
		return s.orchestrator.Run(pctx, func(stageName string, _, _, current, total int) {
			if giveUp.is() {
				return
			}
			switch stageName {
			case "asr_transcribe":
				info.SetStatus(task.StatusProcessingASR)
			case "text_correction":
				info.SetStatus(task.StatusCorrecting)
				info.SetProgress(current, total)
			}
		})
	})
	if err != nil {
		info.Fail(err)
		s.logger.Error("task failed", "task_id", taskID, "err", err)
		s.evict()
		return
	}

	result := TranscriptResult{
		Transcript:       toTranscriptEntries(pctx.Entries),
		ProcessingTimeMs: float64(totalElapsed(pctx.Elapsed).Milliseconds()),
	}
	info.SetResult(result)
	info.SetStatus(task.StatusCompleted)

	if err := s.persistence.SaveJSON(taskID, "transcript.json", result); err != nil {
		s.logger.Error("failed to persist transcript", "task_id", taskID, "err", err)
	}
	s.logger.Info("task completed", "task_id", taskID, "kind", "transcript")
	s.evict()
}

func (s *Store) runTextEvaluation(taskID, text string) {
	info, ok := s.Get(taskID)
	if !ok {
		return
	}
	info.SetStatus(task.StatusEvaluating)
	info.SetProgress(0, 0)

	var result evaluate.Result
	err := s.runWithTimeout(taskID, func(ctx context.Context, giveUp *abandoned) error {
		var evalErr error
		result, evalErr = s.evaluator.Evaluate(ctx, text, func(current, total int) {
			if !giveUp.is() {
				info.SetProgress(current, total)
			}
		})
		return evalErr
	})
	if err != nil {
		info.Fail(err)
		s.logger.Error("task failed", "task_id", taskID, "err", err)
		s.evict()
		return
	}

	resp := evaluate.Response{
		RawText:       "",
		CorrectedText: text,
		Evaluation:    result,
	}
	info.SetResult(resp)
	info.SetStatus(task.StatusCompleted)

	if parent := info.ParentTaskID(); parent != "" {
		if err := s.persistence.SaveJSON(parent, "evaluation.json", resp); err != nil {
			s.logger.Error("failed to persist evaluation for parent task", "task_id", taskID, "parent_task_id", parent, "err", err)
		}
	}
	s.logger.Info("task completed", "task_id", taskID, "kind", "text_evaluation")
	s.evict()
}

func (s *Store) runComplianceAudit(taskID string, entries []types.TranscriptEntry, rulesBytes []byte, rulesFilename, parentTaskID string) {
	info, ok := s.Get(taskID)
	if !ok {
		return
	}
	info.SetStatus(task.StatusAuditing)
	info.SetProgress(0, 0)

	started := time.Now()
	var report compliance.Report
	var rawRules []compliance.Rule

	err := s.runWithTimeout(taskID, func(ctx context.Context, giveUp *abandoned) error {
		rules, fewShot, parseErr := compliance.ParseRules(rulesBytes, rulesFilename)
		if parseErr != nil {
			return errs.Compliance(parseErr, "parsing rule file %s", rulesFilename)
		}
		rawRules = rules
		structured := s.rules.Enrich(rules)

		var ocrResults []compliance.OCRResult
		if parentTaskID != "" {
			ocrResults = s.loadOCRResults(parentTaskID)
		}

		rep, auditErr := s.compliance.Audit(ctx, compliance.AuditInput{
			Rules:           structured,
			Entries:         entries,
			FewShotExamples: fewShot,
			OCRResults:      ocrResults,
			OnProgress: func(current, total int) {
				if !giveUp.is() {
					info.SetProgress(current, total)
				}
			},
		})
		if auditErr != nil {
			return auditErr
		}

		rep.Violations = compliance.RunFilters(rep.Violations, structured, joinCorrectedText(entries), ocrResults, compliance.DefaultFilterOptions(), s.logger)
		report = rep
		return nil
	})
	if err != nil {
		info.Fail(err)
		s.logger.Error("task failed", "task_id", taskID, "err", err)
		s.evict()
		return
	}

	resp := compliance.Response{
		Rules:            rawRules,
		Report:           report,
		ProcessingTimeMs: float64(time.Since(started).Milliseconds()),
	}
	info.SetResult(resp)
	info.SetStatus(task.StatusCompleted)

	if parentTaskID != "" {
		if err := s.persistence.SaveJSON(parentTaskID, "compliance.json", resp); err != nil {
			s.logger.Error("failed to persist compliance report for parent task", "task_id", taskID, "parent_task_id", parentTaskID, "err", err)
		}
	}
	s.logger.Info("task completed", "task_id", taskID, "kind", "compliance_audit")
	s.evict()
}

func (s *Store) loadOCRResults(taskID string) []compliance.OCRResult {
	var records []pipeline.OCRRecord
	ok, err := s.persistence.LoadJSON(taskID, "ocr_results.json", &records)
	if err != nil || !ok {
		return nil
	}
	out := make([]compliance.OCRResult, len(records))
	for i, r := range records {
		out[i] = compliance.OCRResult{TimestampMs: r.TimestampMs, Text: r.Text, FramePath: r.FramePath}
	}
	return out
}
