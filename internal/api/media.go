package api

import (
	"net/http"
)

// handleServeMedia implements GET /api/v1/tasks/{id}/media — the original
// uploaded video, if the source was a video.
func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, ok := s.persist.FindVideo(id)
	if !ok {
		writeError(w, notFound("no media found for task "+id))
		return
	}
	http.ServeFile(w, r, path)
}

// handleServeAudio implements GET /api/v1/tasks/{id}/audio — the source
// audio, whether uploaded directly or extracted from an uploaded video.
func (s *Server) handleServeAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, ok := s.persist.FindAudio(id)
	if !ok {
		writeError(w, notFound("no audio found for task "+id))
		return
	}
	http.ServeFile(w, r, path)
}

// handleServeFrame implements GET /api/v1/tasks/{id}/frames/{filename} — one
// extracted keyframe.
func (s *Server) handleServeFrame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	filename := r.PathValue("filename")
	path, ok := s.persist.FramePath(id, filename)
	if !ok {
		writeError(w, notFound("frame "+filename+" not found for task "+id))
		return
	}
	http.ServeFile(w, r, path)
}
