package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeOCR struct {
	records map[string][]OCRRecord
	err     error
	calls   int
}

func (f *fakeOCR) ScanFrame(imagePath string, timestampMs int) ([]OCRRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records[filepath.Base(imagePath)], nil
}

func TestOCRScanStageShouldRun(t *testing.T) {
	s := NewOCRScanStage(&fakeOCR{}, newTestStore(t), true)
	if !s.ShouldRun(&Context{Keyframes: []KeyFrame{{}}}) {
		t.Error("ShouldRun() = false with keyframes and enabled, want true")
	}
	if s.ShouldRun(&Context{}) {
		t.Error("ShouldRun() = true with no keyframes, want false")
	}

	disabled := NewOCRScanStage(&fakeOCR{}, newTestStore(t), false)
	if disabled.ShouldRun(&Context{Keyframes: []KeyFrame{{}}}) {
		t.Error("ShouldRun() = true while disabled, want false")
	}
}

func TestOCRScanStageExecuteCollectsAndPersists(t *testing.T) {
	store := newTestStore(t)
	framesDir, err := store.FramesDir("task1")
	if err != nil {
		t.Fatalf("FramesDir() error = %v", err)
	}
	for _, name := range []string{"0001.jpg", "0002.jpg"} {
		if err := os.WriteFile(filepath.Join(framesDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing frame: %v", err)
		}
	}

	ocr := &fakeOCR{records: map[string][]OCRRecord{
		"0001.jpg": {{Text: "premium: $100", TimestampMs: 0}},
	}}
	s := NewOCRScanStage(ocr, store, true)

	ctx := &Context{
		TaskID: "task1",
		Keyframes: []KeyFrame{
			{Index: 0, TimestampMs: 0, Path: "0001.jpg"},
			{Index: 1, TimestampMs: 5000, Path: "0002.jpg"},
		},
	}
	if err := s.Execute(ctx, func(int, int) {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ocr.calls != 2 {
		t.Errorf("ocr.calls = %d, want 2", ocr.calls)
	}
	if len(ctx.OCRResults) != 1 || ctx.OCRResults[0].Text != "premium: $100" {
		t.Errorf("OCRResults = %+v", ctx.OCRResults)
	}

	var saved []OCRRecord
	ok, err := store.LoadJSON("task1", "ocr_results.json", &saved)
	if err != nil || !ok || len(saved) != 1 {
		t.Errorf("LoadJSON(ocr_results.json) = (%v, %v, len=%d), want persisted single record", ok, err, len(saved))
	}
}

func TestOCRScanStageExecutePropagatesError(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.FramesDir("task1"); err != nil {
		t.Fatalf("FramesDir() error = %v", err)
	}
	s := NewOCRScanStage(&fakeOCR{err: errors.New("ocr model unavailable")}, store, true)

	ctx := &Context{TaskID: "task1", Keyframes: []KeyFrame{{Path: "0001.jpg"}}}
	if err := s.Execute(ctx, func(int, int) {}); err == nil {
		t.Error("Execute() error = nil, want error")
	}
}
