package taskstore

import (
	"log/slog"
	"testing"
	"time"

	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/internal/task"
)

func newTestPersistence(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("persistence.New() error = %v", err)
	}
	return store
}

// stubStage is a minimal [pipeline.Stage] that either fails or populates
// ctx.Entries directly, letting taskstore tests exercise the worker/timeout
// machinery without a real ASR/correction pipeline.
type stubStage struct {
	name    string
	err     error
	entries []pipeline.TranscriptEntryResult
	delay   time.Duration
}

func (s *stubStage) Name() string                      { return s.name }
func (s *stubStage) ShouldRun(ctx *pipeline.Context) bool { return true }
func (s *stubStage) Execute(ctx *pipeline.Context, onProgress pipeline.ProgressFunc) error {
	onProgress(0, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return s.err
	}
	ctx.Entries = s.entries
	onProgress(1, 1)
	return nil
}

func waitForStatus(t *testing.T, info *task.Info, want task.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s after deadline, want %s", info.Status(), want)
}

func TestLookupByHashMissReturnsFalse(t *testing.T) {
	s := New(pipeline.New(nil), newTestPersistence(t), nil, nil)
	if _, ok := s.LookupByHash("nonexistent"); ok {
		t.Error("LookupByHash() = true for unregistered hash, want false")
	}
}

func TestGetReturnsFalseForUnknownID(t *testing.T) {
	s := New(pipeline.New(nil), newTestPersistence(t), nil, nil)
	if _, ok := s.Get("nope"); ok {
		t.Error("Get() = true for unregistered task, want false")
	}
}

func TestEvictionDropsOldestTerminalTasksOverBound(t *testing.T) {
	s := New(pipeline.New(nil), newTestPersistence(t), nil, nil, WithMaxInMemory(2))

	for i := 0; i < 3; i++ {
		id := newTaskID()
		info := task.New(id)
		info.SetStatus(task.StatusCompleted)
		s.register(id, info)
	}

	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	if count != 2 {
		t.Fatalf("tasks in memory = %d, want 2 (bound enforced)", count)
	}
}

func TestEvictionSkipsNonTerminalTasks(t *testing.T) {
	s := New(pipeline.New(nil), newTestPersistence(t), nil, nil, WithMaxInMemory(1))

	pendingID := newTaskID()
	s.register(pendingID, task.New(pendingID))

	doneID := newTaskID()
	doneInfo := task.New(doneID)
	doneInfo.SetStatus(task.StatusCompleted)
	s.register(doneID, doneInfo)

	if _, ok := s.Get(pendingID); !ok {
		t.Error("pending task was evicted, want only terminal tasks evicted")
	}
}

func TestRestoreFromDiskLoadsCompletedTranscript(t *testing.T) {
	store := newTestPersistence(t)
	taskID := "restored-task"
	if err := store.SaveMeta(taskID, persistence.Meta{Filename: "rec.wav", MediaType: "audio"}); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}
	result := TranscriptResult{Transcript: []TranscriptEntry{{ID: 0, Speaker: "Speaker 1", TextCorrected: "Hi."}}}
	if err := store.SaveJSON(taskID, "transcript.json", result); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}

	s := New(pipeline.New(nil), store, nil, nil)
	if err := s.RestoreFromDisk(); err != nil {
		t.Fatalf("RestoreFromDisk() error = %v", err)
	}

	info, ok := s.Get(taskID)
	if !ok {
		t.Fatal("Get() = false after restore, want restored task present")
	}
	if info.Status() != task.StatusCompleted {
		t.Errorf("status = %s, want completed", info.Status())
	}
	restored, ok := info.Result().(TranscriptResult)
	if !ok || len(restored.Transcript) != 1 {
		t.Errorf("Result() = %+v, want the persisted TranscriptResult", info.Result())
	}
}

func TestRestoreFromDiskSkipsTasksWithoutTranscript(t *testing.T) {
	store := newTestPersistence(t)
	taskID := "incomplete-task"
	if err := store.SaveMeta(taskID, persistence.Meta{Filename: "rec.wav"}); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	s := New(pipeline.New(nil), store, nil, nil)
	if err := s.RestoreFromDisk(); err != nil {
		t.Fatalf("RestoreFromDisk() error = %v", err)
	}
	if _, ok := s.Get(taskID); ok {
		t.Error("Get() = true for a task with no transcript.json, want not restored")
	}
}
