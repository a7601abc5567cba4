package mock

import (
	"testing"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

func TestEngineReturnsCannedResult(t *testing.T) {
	e := &Engine{Result: asr.Result{Text: "你好"}}
	res, err := e.Transcribe("a.wav", asr.Options{Hotwords: []string{"保费"}})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "你好" {
		t.Errorf("Text = %q, want 你好", res.Text)
	}
	if len(e.Calls) != 1 || e.Calls[0].WavPath != "a.wav" {
		t.Errorf("Calls = %+v", e.Calls)
	}
}

func TestEngineReturnsErr(t *testing.T) {
	e := &Engine{Err: asrErr("boom")}
	_, err := e.Transcribe("a.wav", asr.Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

type asrErr string

func (e asrErr) Error() string { return string(e) }
