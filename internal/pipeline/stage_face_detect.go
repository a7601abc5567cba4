package pipeline

import (
	"path/filepath"

	"github.com/copernicus-go/copernicus/internal/persistence"
)

// FaceRecord is one detected face in a keyframe.
type FaceRecord struct {
	Confidence float64
}

// FaceDetectorService detects faces in one video keyframe and analyzes a
// timeline of per-frame detections into presence/absence spans. Concrete
// implementations wrap an external detection model (e.g. YOLO); named here
// only as the interface the pipeline requires, matching spec's treatment of
// face detection as an external collaborator.
type FaceDetectorService interface {
	DetectFrame(imagePath string) ([]FaceRecord, error)
	AnalyzeFaceTimeline(frames []FrameFaceResult, intervalMs int) []VisualEvent
}

// FrameFaceResult is one keyframe's face-detection summary, the unit
// AnalyzeFaceTimeline consumes.
type FrameFaceResult struct {
	TimestampMs   int
	FaceCount     int
	MaxConfidence float64
	FramePath     string
}

// FaceDetectStage runs FaceDetectorService over every extracted keyframe,
// builds a face-presence timeline, and persists visual_events.json.
type FaceDetectStage struct {
	detector    FaceDetectorService
	persistence *persistence.Store
	enabled     bool
	intervalMs  int
}

// NewFaceDetectStage returns a stage backed by detector. Pass enabled=false
// to always skip (no face-detection model configured for this deployment).
func NewFaceDetectStage(detector FaceDetectorService, store *persistence.Store, enabled bool, intervalMs int) *FaceDetectStage {
	return &FaceDetectStage{detector: detector, persistence: store, enabled: enabled, intervalMs: intervalMs}
}

func (s *FaceDetectStage) Name() string { return "face_detect" }

func (s *FaceDetectStage) ShouldRun(ctx *Context) bool {
	return s.enabled && len(ctx.Keyframes) > 0
}

func (s *FaceDetectStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	if len(ctx.Keyframes) == 0 {
		return nil
	}

	framesDir, err := s.persistence.FramesDir(ctx.TaskID)
	if err != nil {
		return err
	}

	total := len(ctx.Keyframes)
	frameResults := make([]FrameFaceResult, total)
	for i, kf := range ctx.Keyframes {
		imagePath := filepath.Join(framesDir, kf.Path)
		faces, err := s.detector.DetectFrame(imagePath)
		if err != nil {
			return err
		}

		maxConf := 0.0
		for _, f := range faces {
			if f.Confidence > maxConf {
				maxConf = f.Confidence
			}
		}
		frameResults[i] = FrameFaceResult{
			TimestampMs:   kf.TimestampMs,
			FaceCount:     len(faces),
			MaxConfidence: maxConf,
			FramePath:     kf.Path,
		}
		onProgress(i+1, total)
	}

	events := s.detector.AnalyzeFaceTimeline(frameResults, s.intervalMs)
	ctx.VisualEvents = events
	return s.persistence.SaveJSON(ctx.TaskID, "visual_events.json", events)
}
