package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/copernicus-go/copernicus/internal/errs"
)

// httpError is a handler-local error carrying the HTTP status it should be
// reported as — used for the validation (422), not-found (404), and
// too-large (413) cases spec.md §6/§7 call out, which are boundary concerns
// rather than core-pipeline errors and so have no [errs.Kind] of their own.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func invalidRequest(msg string) error { return &httpError{status: http.StatusUnprocessableEntity, message: msg} }
func notFound(msg string) error       { return &httpError{status: http.StatusNotFound, message: msg} }
func tooLarge(msg string) error       { return &httpError{status: http.StatusRequestEntityTooLarge, message: msg} }

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to its HTTP status per spec.md §7: a handler-raised
// [httpError] carries its own status; a typed [errs.Error] from the core
// pipeline always becomes 500; anything else also becomes 500, treated as
// an unexpected internal failure.
func writeError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		writeJSON(w, he.status, errorResponse{Error: he.message})
		return
	}

	var ce *errs.Error
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: ce.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// isComplianceKind reports whether err is an [errs.Error] of
// [errs.KindCompliance] — used to distinguish [taskstore.Store]'s
// client-input validation failures (e.g. an empty transcript) from
// not-found/storage conditions that share the same call path.
func isComplianceKind(err error) bool {
	var ce *errs.Error
	return errors.As(err, &ce) && ce.Kind == errs.KindCompliance
}

// storageErrorStatus classifies an [errs.KindStorage] error from
// [taskstore.Store] as 404 when it's a bare not-found sentinel (no wrapped
// cause — [taskstore.Store] uses this shape for "task/file does not
// exist"), or 500 when it wraps a genuine I/O failure.
func storageErrorStatus(err error) error {
	var ce *errs.Error
	if errors.As(err, &ce) && ce.Kind == errs.KindStorage {
		if ce.Cause == nil {
			return notFound(ce.Error())
		}
	}
	return err
}

// writeJSON encodes v as JSON with the given status code. Matches
// internal/health's writeJSON helper.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
