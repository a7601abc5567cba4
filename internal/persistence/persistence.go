// Package persistence manages on-disk JSON state for every task: its audio
// and video source files, the stage outputs (transcript/evaluation/
// compliance JSON), extracted keyframes, and the cross-restart hash-dedup
// index. Everything lives under uploadDir/{taskID}/, written with an
// atomic temp-file-then-rename so a crash mid-write never leaves a task
// directory with a half-written JSON file.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	metaFile       = "meta.json"
	hashIndexFile  = "hash_index.json"
	transcriptFile = "transcript.json"
	evaluationFile = "evaluation.json"
	complianceFile = "compliance.json"
)

// Meta describes the source upload a task was created from.
type Meta struct {
	Filename    string    `json:"filename"`
	Hash        string    `json:"hash"`
	AudioSuffix string    `json:"audio_suffix"`
	MediaType   string    `json:"media_type"`
	VideoSuffix string    `json:"video_suffix,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScanEntry is one task directory found by [Store.ScanCompletedTasks].
type ScanEntry struct {
	TaskID          string
	Meta            Meta
	HasTranscript   bool
	HasEvaluation   bool
	HasCompliance   bool
	AudioPath       string
	HasVideo        bool
	KeyframeCount   int
	HasOCRResults   bool
	HasVisualEvents bool
}

// Store manages JSON persistence under uploadDir/{taskID}/.
type Store struct {
	uploadDir string
	logger    *slog.Logger
}

// New returns a Store rooted at uploadDir, creating it if necessary.
func New(uploadDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: creating upload dir: %w", err)
	}
	return &Store{uploadDir: uploadDir, logger: logger}, nil
}

// TaskDir returns (and creates) the directory for taskID.
func (s *Store) TaskDir(taskID string) (string, error) {
	dir := filepath.Join(s.uploadDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persistence: creating task dir %s: %w", taskID, err)
	}
	return dir, nil
}

// SaveJSON marshals v with two-space indentation and atomically writes it to
// uploadDir/{taskID}/{filename}.
func (s *Store) SaveJSON(taskID, filename string, v any) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshaling %s for task %s: %w", filename, taskID, err)
	}
	if err := atomicWrite(filepath.Join(dir, filename), data); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("persisted task file", "task_id", taskID, "file", filename)
	}
	return nil
}

// LoadJSON reads and unmarshals uploadDir/{taskID}/{filename} into v. It
// returns (false, nil) if the file doesn't exist, and logs (returning false,
// nil rather than an error) if the file exists but fails to parse — a
// corrupt result file should not bring down a restart scan.
func (s *Store) LoadJSON(taskID, filename string, v any) (bool, error) {
	path := filepath.Join(s.uploadDir, taskID, filename)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persistence: reading %s for task %s: %w", filename, taskID, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to parse persisted file", "task_id", taskID, "file", filename, "err", err)
		}
		return false, nil
	}
	return true, nil
}

// HasFile reports whether uploadDir/{taskID}/{filename} exists.
func (s *Store) HasFile(taskID, filename string) bool {
	_, err := os.Stat(filepath.Join(s.uploadDir, taskID, filename))
	return err == nil
}

// DeleteFile removes uploadDir/{taskID}/{filename} if it exists.
func (s *Store) DeleteFile(taskID, filename string) error {
	path := filepath.Join(s.uploadDir, taskID, filename)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persistence: deleting %s for task %s: %w", filename, taskID, err)
	}
	if s.logger != nil {
		s.logger.Info("deleted task file", "task_id", taskID, "file", filename)
	}
	return nil
}

// SaveMeta persists a task's source-upload metadata.
func (s *Store) SaveMeta(taskID string, meta Meta) error {
	return s.SaveJSON(taskID, metaFile, meta)
}

// LoadMeta loads a task's source-upload metadata, if present.
func (s *Store) LoadMeta(taskID string) (Meta, bool, error) {
	var meta Meta
	ok, err := s.LoadJSON(taskID, metaFile, &meta)
	return meta, ok, err
}

// SaveAudio writes raw audio bytes to uploadDir/{taskID}/audio{suffix}.
func (s *Store) SaveAudio(taskID string, audio []byte, suffix string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "audio"+suffix)
	if err := os.WriteFile(dest, audio, 0o644); err != nil {
		return "", fmt.Errorf("persistence: saving audio for task %s: %w", taskID, err)
	}
	if s.logger != nil {
		s.logger.Info("saved audio", "task_id", taskID, "bytes", len(audio))
	}
	return dest, nil
}

// FindAudio locates the audio file for taskID, matching "audio.*" in its
// task directory.
func (s *Store) FindAudio(taskID string) (string, bool) {
	return findGlob(filepath.Join(s.uploadDir, taskID), "audio.*")
}

// SaveVideo writes raw video bytes to uploadDir/{taskID}/video{suffix}.
func (s *Store) SaveVideo(taskID string, video []byte, suffix string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "video"+suffix)
	if err := os.WriteFile(dest, video, 0o644); err != nil {
		return "", fmt.Errorf("persistence: saving video for task %s: %w", taskID, err)
	}
	if s.logger != nil {
		s.logger.Info("saved video", "task_id", taskID, "bytes", len(video))
	}
	return dest, nil
}

// FindVideo locates the video file for taskID, matching "video.*" in its
// task directory.
func (s *Store) FindVideo(taskID string) (string, bool) {
	return findGlob(filepath.Join(s.uploadDir, taskID), "video.*")
}

// FramesDir returns (and creates) the keyframe directory for taskID.
func (s *Store) FramesDir(taskID string) (string, error) {
	dir := filepath.Join(s.uploadDir, taskID, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persistence: creating frames dir for task %s: %w", taskID, err)
	}
	return dir, nil
}

// FramePath returns the on-disk path of keyframe filename for taskID,
// without creating the frames directory as a side effect. Rejects any
// filename containing a path separator so callers serving it directly from
// an HTTP path parameter can't be tricked into reading outside the frames
// directory.
func (s *Store) FramePath(taskID, filename string) (string, bool) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", false
	}
	path := filepath.Join(s.uploadDir, taskID, "frames", filename)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// CountFrames reports how many keyframes have been extracted for taskID,
// without creating the frames directory as a side effect (unlike
// [Store.FramesDir], which API handlers serving a read-only view must not
// trigger).
func (s *Store) CountFrames(taskID string) int {
	entries, err := os.ReadDir(filepath.Join(s.uploadDir, taskID, "frames"))
	if err != nil {
		return 0
	}
	return len(entries)
}

func findGlob(dir, pattern string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// LoadHashIndex loads the file-hash -> task-ID dedup index, returning an
// empty map if it doesn't exist yet or fails to parse.
func (s *Store) LoadHashIndex() map[string]string {
	path := filepath.Join(s.uploadDir, hashIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]string{}
	}
	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to load hash index", "err", err)
		}
		return map[string]string{}
	}
	return index
}

// SaveHashIndex atomically persists the file-hash -> task-ID dedup index.
func (s *Store) SaveHashIndex(index map[string]string) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshaling hash index: %w", err)
	}
	return atomicWrite(filepath.Join(s.uploadDir, hashIndexFile), data)
}

// ScanCompletedTasks walks uploadDir for task directories carrying a
// meta.json, reporting what each has persisted — used to restore state into
// memory on restart.
func (s *Store) ScanCompletedTasks() ([]ScanEntry, error) {
	dirEntries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return nil, fmt.Errorf("persistence: reading upload dir: %w", err)
	}

	var results []ScanEntry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		taskID := de.Name()

		var meta Meta
		ok, err := s.LoadJSON(taskID, metaFile, &meta)
		if err != nil || !ok {
			continue
		}

		audioPath, _ := s.FindAudio(taskID)
		_, hasVideo := s.FindVideo(taskID)

		keyframeCount := s.CountFrames(taskID)

		results = append(results, ScanEntry{
			TaskID:          taskID,
			Meta:            meta,
			HasTranscript:   s.HasFile(taskID, transcriptFile),
			HasEvaluation:   s.HasFile(taskID, evaluationFile),
			HasCompliance:   s.HasFile(taskID, complianceFile),
			AudioPath:       audioPath,
			HasVideo:        hasVideo,
			KeyframeCount:   keyframeCount,
			HasOCRResults:   s.HasFile(taskID, "ocr_results.json"),
			HasVisualEvents: s.HasFile(taskID, "visual_events.json"),
		})
	}

	if s.logger != nil {
		s.logger.Info("scanned persisted tasks", "count", len(results))
	}
	return results, nil
}

// atomicWrite writes data to dest via a temp file in the same directory
// followed by a rename, so a crash mid-write never leaves dest partially
// written. The temp file is cleaned up if anything fails before the rename.
func atomicWrite(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: creating temp file for %s: %w", dest, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: writing temp file for %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: closing temp file for %s: %w", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: renaming temp file into %s: %w", dest, err)
	}
	return nil
}
