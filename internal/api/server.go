// Package api wires the HTTP surface spec.md §6 describes onto
// [taskstore.Store]: submitting recordings and rule files, polling task
// status, serving persisted media/frames, and rerunning stages. Routing
// uses the standard library's pattern-matching [http.ServeMux] (Go 1.22+)
// rather than a third-party router — the example pack has no router
// dependency to ground one on, and the surface here is small enough that
// method+path patterns cover it without middleware chains for path params.
package api

import (
	"log/slog"
	"net/http"

	"github.com/copernicus-go/copernicus/internal/observe"
	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/taskstore"
)

// maxUploadBytes bounds a single multipart recording upload (audio/video).
// Requests whose body exceeds this are rejected with 413.
const maxUploadBytes = 2 << 30 // 2 GiB, generous for a full session recording

// maxRulesBytes bounds the rules_file field of the async compliance-audit
// endpoint specifically, per spec.md §6.
const maxRulesBytes = 2 << 20 // 2 MiB

// Server holds every dependency the HTTP handlers need. All fields are
// read-only after [New] — the Store itself manages its own concurrency.
type Server struct {
	store   *taskstore.Store
	persist *persistence.Store
	metrics *observe.Metrics
	logger  *slog.Logger
	stream  *streamHub
}

// New returns a Server ready to have its routes registered.
func New(store *taskstore.Store, persist *persistence.Store, metrics *observe.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		store:   store,
		persist: persist,
		metrics: metrics,
		logger:  logger,
		stream:  newStreamHub(),
	}
}

// Routes builds the mux for every endpoint in spec.md §6, wrapped in the
// shared observability middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/tasks/transcript", s.handleSubmitTranscript)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/results", s.handleGetResults)
	mux.HandleFunc("GET /api/v1/tasks/{id}/media", s.handleServeMedia)
	mux.HandleFunc("GET /api/v1/tasks/{id}/audio", s.handleServeAudio)
	mux.HandleFunc("GET /api/v1/tasks/{id}/frames/{filename}", s.handleServeFrame)
	mux.HandleFunc("POST /api/v1/tasks/{id}/rerun-transcript", s.handleRerunTranscript)
	mux.HandleFunc("POST /api/v1/tasks/{id}/rerun-evaluation", s.handleRerunEvaluation)
	mux.HandleFunc("POST /api/v1/evaluate/text/async", s.handleSubmitTextEvaluation)
	mux.HandleFunc("POST /api/v1/compliance/audit/async", s.handleSubmitComplianceAudit)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}/compliance/violations", s.handlePatchViolations)
	mux.HandleFunc("GET /api/v1/tasks/{id}/stream", s.handleStream)

	return observe.Middleware(s.metrics)(mux)
}
