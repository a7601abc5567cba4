// Package mock provides a test double for the asr.Engine interface.
package mock

import (
	"sync"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

// Call records a single invocation of Transcribe.
type Call struct {
	WavPath string
	Opts    asr.Options
}

// Engine is a mock implementation of asr.Engine. Zero value returns an empty
// Result and nil error; set Err to inject a failure.
type Engine struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result asr.Result
	// Err, if non-nil, is returned as the error from Transcribe instead.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []Call
}

func (e *Engine) Transcribe(wavPath string, opts asr.Options) (asr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{WavPath: wavPath, Opts: opts})
	if e.Err != nil {
		return asr.Result{}, e.Err
	}
	return e.Result, nil
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)
