// Package taskstore is the in-memory task registry that glues the
// transcript pipeline, the evaluator, and the compliance auditor into the
// five operations the HTTP surface exposes: submit a recording for
// transcription, submit a corrected transcript for evaluation, submit a
// transcript plus a rule file for compliance audit, and rerun either of the
// first two against already-persisted state. Every submit spawns a
// goroutine worker that drives one [task.Info] through its status
// transitions under a per-task timeout; [Store.Get] lets API handlers poll
// that Info concurrently while the worker runs.
package taskstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/copernicus-go/copernicus/internal/compliance"
	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/internal/evaluate"
	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/internal/task"
)

const (
	defaultTaskTimeout = 30 * time.Minute
	defaultMaxInMemory = 500
)

var defaultVideoExts = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// TranscriptResult is the persisted and polled result of a transcript task.
type TranscriptResult struct {
	Transcript       []TranscriptEntry `json:"transcript"`
	ProcessingTimeMs float64           `json:"processing_time_ms"`
}

// Store is the task registry. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*task.Info
	order     []string // insertion order, oldest first, for eviction
	hashIndex map[string]string

	orchestrator *pipeline.Orchestrator
	persistence  *persistence.Store
	evaluator    *evaluate.Engine
	compliance   *compliance.Engine
	rules        *compliance.Registry

	logger      *slog.Logger
	taskTimeout time.Duration
	maxInMemory int
	videoExts   map[string]bool
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger attaches a logger; nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTaskTimeout overrides the per-task worker deadline. Default: 30 minutes.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Store) { s.taskTimeout = d }
}

// WithMaxInMemory overrides how many tasks are kept in memory before the
// oldest terminal ones are evicted. Default: 500.
func WithMaxInMemory(n int) Option {
	return func(s *Store) { s.maxInMemory = n }
}

// WithVideoExts overrides which upload extensions are treated as video
// (and therefore routed through [persistence.Store.SaveVideo] instead of
// SaveAudio). Must match the extensions the orchestrator's
// VideoPreprocessStage was built with.
func WithVideoExts(exts []string) Option {
	return func(s *Store) {
		s.videoExts = make(map[string]bool, len(exts))
		for _, e := range exts {
			s.videoExts[strings.ToLower(strings.TrimSpace(e))] = true
		}
	}
}

// New returns a Store wiring together orchestrator (the transcript
// pipeline), store (on-disk persistence, including the hash-dedup index
// loaded immediately), and the optional evaluator/complianceEngine —
// either may be nil, in which case the corresponding Submit method returns
// an error, mirroring a deployment that only runs transcription.
func New(orchestrator *pipeline.Orchestrator, store *persistence.Store, evaluator *evaluate.Engine, complianceEngine *compliance.Engine, opts ...Option) *Store {
	s := &Store{
		tasks:        make(map[string]*task.Info),
		hashIndex:    store.LoadHashIndex(),
		orchestrator: orchestrator,
		persistence:  store,
		evaluator:    evaluator,
		compliance:   complianceEngine,
		rules:        compliance.NewRegistry(),
		taskTimeout:  defaultTaskTimeout,
		maxInMemory:  defaultMaxInMemory,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.videoExts == nil {
		WithVideoExts(defaultVideoExts)(s)
	}
	return s
}

// Get returns the task registered under id, or false if no such task exists.
func (s *Store) Get(id string) (*task.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tasks[id]
	return info, ok
}

// LookupByHash returns the task id previously registered for fileHash, or
// false if none exists, or if the index entry is stale (its transcript was
// never persisted, or has since been removed) — a stale entry is evicted
// from the index as a side effect.
func (s *Store) LookupByHash(fileHash string) (string, bool) {
	s.mu.Lock()
	taskID, ok := s.hashIndex[fileHash]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	if s.persistence.HasFile(taskID, "transcript.json") {
		return taskID, true
	}

	s.mu.Lock()
	delete(s.hashIndex, fileHash)
	index := cloneHashIndex(s.hashIndex)
	s.mu.Unlock()
	if err := s.persistence.SaveHashIndex(index); err != nil {
		s.logger.Error("failed to persist hash index", "err", err)
	}
	return "", false
}

func (s *Store) registerHash(fileHash, taskID string) {
	s.mu.Lock()
	s.hashIndex[fileHash] = taskID
	index := cloneHashIndex(s.hashIndex)
	s.mu.Unlock()
	if err := s.persistence.SaveHashIndex(index); err != nil {
		s.logger.Error("failed to persist hash index", "err", err)
	}
}

func cloneHashIndex(index map[string]string) map[string]string {
	clone := make(map[string]string, len(index))
	for k, v := range index {
		clone[k] = v
	}
	return clone
}

// register adds info to the registry in insertion order and evicts the
// oldest terminal (completed or failed) tasks if the registry now exceeds
// maxInMemory. On-disk state is untouched by eviction — only the in-memory
// task is dropped, so a completed task remains reachable via
// [Store.RestoreFromDisk] after a restart.
func (s *Store) register(id string, info *task.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = info
	s.order = append(s.order, id)
	s.evictLocked()
}

func (s *Store) evictLocked() {
	if s.maxInMemory <= 0 || len(s.tasks) <= s.maxInMemory {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if len(s.tasks) <= s.maxInMemory {
			kept = append(kept, id)
			continue
		}
		info, ok := s.tasks[id]
		if !ok {
			continue
		}
		status := info.Status()
		if status != task.StatusCompleted && status != task.StatusFailed {
			kept = append(kept, id)
			continue
		}
		delete(s.tasks, id)
		if s.logger != nil {
			s.logger.Info("evicted task from memory", "task_id", id, "status", status)
		}
	}
	s.order = kept
}

func (s *Store) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// RestoreFromDisk scans the persistence layer's upload directory and loads
// every completed transcript task back into memory, so a restarted process
// can still answer GET requests for work it did before the restart.
func (s *Store) RestoreFromDisk() error {
	entries, err := s.persistence.ScanCompletedTasks()
	if err != nil {
		return errs.Storage(err, "scanning upload directory for restore")
	}

	for _, entry := range entries {
		if _, exists := s.Get(entry.TaskID); exists {
			continue
		}
		if !entry.HasTranscript {
			continue
		}

		var result TranscriptResult
		ok, err := s.persistence.LoadJSON(entry.TaskID, "transcript.json", &result)
		if err != nil || !ok {
			continue
		}

		info := task.New(entry.TaskID)
		info.SetAudioPath(entry.AudioPath)
		info.SetResult(result)
		info.SetStatus(task.StatusCompleted)
		s.register(entry.TaskID, info)
		s.logger.Info("restored task from disk", "task_id", entry.TaskID)
	}

	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	s.logger.Info("restore complete", "tasks_in_memory", count)
	return nil
}

// abandoned is set by runWithTimeout the instant it gives up waiting on a
// worker, so the worker's still-running goroutine can stop touching the
// task's status/progress instead of racing the Fail() call its caller is
// about to make.
type abandoned struct{ flag atomic.Bool }

func (a *abandoned) is() bool { return a != nil && a.flag.Load() }

// runWithTimeout runs fn in its own goroutine under a context that expires
// after s.taskTimeout, returning [errs.Timeout] if fn hasn't finished by
// then. fn's goroutine is not forcibly killed on timeout — ctx cancellation
// only stops work that actually observes ctx (the LLM calls inside
// evaluate/compliance do; the pipeline orchestrator's Stage.Execute, which
// predates context-aware stages, does not) — so a timed-out transcript
// worker keeps running to completion in the background. fn is handed the
// abandoned flag so it can skip further task-state writes once that
// happens; its eventual return value is discarded either way.
func (s *Store) runWithTimeout(taskID string, fn func(ctx context.Context, giveUp *abandoned) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	giveUp := &abandoned{}
	done := make(chan error, 1)
	go func() { done <- fn(ctx, giveUp) }()

	select {
	case <-ctx.Done():
		giveUp.flag.Store(true)
		return errs.Timeout("task %s exceeded %s", taskID, s.taskTimeout)
	case err := <-done:
		return err
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTaskID() string {
	return uuid.New().String()
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
