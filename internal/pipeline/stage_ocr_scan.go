package pipeline

import (
	"path/filepath"

	"github.com/copernicus-go/copernicus/internal/persistence"
)

// OCRService recognizes text in one video keyframe. Concrete
// implementations wrap an external OCR model (e.g. RapidOCR); the pipeline
// names only this interface, matching spec's treatment of OCR as an
// external collaborator.
type OCRService interface {
	ScanFrame(imagePath string, timestampMs int) ([]OCRRecord, error)
}

// OCRScanStage runs OCRService over every extracted keyframe and persists
// ocr_results.json. Disabled stages (enabled=false) never run, matching a
// deployment that has no OCR model configured.
type OCRScanStage struct {
	ocr         OCRService
	persistence *persistence.Store
	enabled     bool
}

// NewOCRScanStage returns a stage backed by ocr. Pass enabled=false to
// always skip the stage (e.g. no OCR model configured for this deployment).
func NewOCRScanStage(ocr OCRService, store *persistence.Store, enabled bool) *OCRScanStage {
	return &OCRScanStage{ocr: ocr, persistence: store, enabled: enabled}
}

func (s *OCRScanStage) Name() string { return "ocr_scan" }

func (s *OCRScanStage) ShouldRun(ctx *Context) bool {
	return s.enabled && len(ctx.Keyframes) > 0
}

func (s *OCRScanStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	if len(ctx.Keyframes) == 0 {
		return nil
	}

	framesDir, err := s.persistence.FramesDir(ctx.TaskID)
	if err != nil {
		return err
	}

	var all []OCRRecord
	total := len(ctx.Keyframes)
	for i, kf := range ctx.Keyframes {
		imagePath := filepath.Join(framesDir, kf.Path)
		records, err := s.ocr.ScanFrame(imagePath, kf.TimestampMs)
		if err != nil {
			return err
		}
		all = append(all, records...)
		onProgress(i+1, total)
	}

	ctx.OCRResults = all
	return s.persistence.SaveJSON(ctx.TaskID, "ocr_results.json", all)
}
