// Package task defines the lifecycle state machine tracked for every
// submitted recording: status transitions from pending through ASR,
// correction, evaluation, and/or compliance auditing to completed or
// failed, alongside the progress-percent formula the API surface reports to
// callers polling a task.
package task

import (
	"math"
	"sync"
)

// Status is a task's current pipeline stage.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessingASR Status = "processing_asr"
	StatusCorrecting    Status = "correcting"
	StatusEvaluating    Status = "evaluating"
	StatusAuditing      Status = "auditing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Progress is the current-step/total-step/percent-complete triple reported
// to API callers.
type Progress struct {
	CurrentChunk int     `json:"current_chunk"`
	TotalChunks  int     `json:"total_chunks"`
	Percent      float64 `json:"percent"`
}

// Info tracks one submitted task's state across its lifetime. It is safe
// for concurrent use: the pipeline goroutine driving the task writes
// status/progress while API handlers read them to answer polling requests.
type Info struct {
	mu sync.RWMutex

	id           string
	status       Status
	currentChunk int
	totalChunks  int
	result       any
	err          error
	evalOnly     bool
	audioPath    string
	parentTaskID string
}

// New returns a fresh Info in [StatusPending].
func New(id string) *Info {
	return &Info{id: id, status: StatusPending}
}

// NewEvalOnly returns a fresh Info for a task that has no ASR stage (a
// direct text-evaluation or compliance-audit submission), optionally
// carrying the parent transcript task's ID so its result is linked back.
func NewEvalOnly(id, parentTaskID string) *Info {
	return &Info{id: id, status: StatusPending, evalOnly: true, parentTaskID: parentTaskID}
}

// ID returns the task's identifier.
func (i *Info) ID() string { return i.id }

// EvalOnly reports whether this task skips the ASR stage.
func (i *Info) EvalOnly() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.evalOnly
}

// ParentTaskID returns the parent transcript task this task's result should
// be attached to, if any.
func (i *Info) ParentTaskID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.parentTaskID
}

// Status returns the task's current status.
func (i *Info) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// SetStatus transitions the task to a new status.
func (i *Info) SetStatus(status Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
}

// SetProgress updates the current/total chunk counters driving [Info.Progress].
func (i *Info) SetProgress(current, total int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.currentChunk = current
	i.totalChunks = total
}

// AudioPath returns the source audio file path, if one has been recorded.
func (i *Info) AudioPath() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.audioPath
}

// SetAudioPath records the source audio file path.
func (i *Info) SetAudioPath(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.audioPath = path
}

// Result returns the task's stage result, if it has completed.
func (i *Info) Result() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.result
}

// SetResult records the task's stage result.
func (i *Info) SetResult(result any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.result = result
}

// Err returns the task's failure, if it failed.
func (i *Info) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Fail marks the task failed, recording err for [Info.Err].
func (i *Info) Fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = StatusFailed
	i.err = err
}

// Reset returns the task to its initial pending state, clearing progress,
// result, and error — used before a rerun.
func (i *Info) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = StatusPending
	i.currentChunk = 0
	i.totalChunks = 0
	i.result = nil
	i.err = nil
}

// Progress computes the current [Progress], including the percent-complete
// figure derived from status and chunk counters.
func (i *Info) Progress() Progress {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return Progress{
		CurrentChunk: i.currentChunk,
		TotalChunks:  i.totalChunks,
		Percent:      math.Round(i.percentLocked()*10) / 10,
	}
}

// percentLocked computes the raw (unrounded) percent-complete figure.
// Callers must hold i.mu.
func (i *Info) percentLocked() float64 {
	switch i.status {
	case StatusPending:
		return 0.0

	case StatusProcessingASR:
		return 5.0

	case StatusCorrecting:
		if i.totalChunks > 0 {
			return 5.0 + (float64(i.currentChunk)/float64(i.totalChunks))*85.0
		}
		return 5.0 + (float64(i.currentChunk)/1.0)*85.0

	case StatusAuditing:
		if i.totalChunks > 0 {
			return (float64(i.currentChunk) / float64(i.totalChunks)) * 100.0
		}
		return 0.0

	case StatusEvaluating:
		if i.evalOnly {
			if i.totalChunks > 0 {
				return (float64(i.currentChunk) / float64(i.totalChunks)) * 100.0
			}
			return 0.0
		}
		if i.totalChunks > 0 {
			return 90.0 + (float64(i.currentChunk)/float64(i.totalChunks))*10.0
		}
		return 90.0

	case StatusCompleted:
		return 100.0

	default: // StatusFailed and any future status
		total := i.totalChunks
		if total < 1 {
			total = 1
		}
		return 5.0 + (float64(i.currentChunk)/float64(total))*85.0
	}
}
