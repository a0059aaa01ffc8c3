package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"stimlog/internal/recorder"
	"stimlog/internal/telemetry"
)

// Handlers serializes HTTP access to one recording session.
type Handlers struct {
	mu      sync.Mutex
	session *recorder.Session
	metrics *telemetry.Metrics
}

func NewHandlers(session *recorder.Session, metrics *telemetry.Metrics) *Handlers {
	return &Handlers{
		session: session,
		metrics: metrics,
	}
}

func (h *Handlers) HandleRecord(w http.ResponseWriter, r *http.Request) {
	// Numbers stay json.Number so integers keep every digit.
	var req RecordRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	// A flush outlives the request: the batch is gone once it starts.
	ctx := context.WithoutCancel(r.Context())

	h.mu.Lock()
	queued := h.session.Len()
	err := h.session.Invoke(ctx, req.Stimulus, req.Final, req.Args...)
	pending := h.session.Len()
	h.mu.Unlock()

	if err != nil {
		h.writeSessionError(w, err, r)
		return
	}

	status := "queued"
	switch {
	case len(req.Args) == 0 && (!req.Final || queued == 0):
		status = "noop"
	case req.Final:
		status = "flushed"
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: status, Pending: pending})
}

func (h *Handlers) HandleFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := h.Flush(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeSessionError(w, err, r)
		return
	}
	status := "flushed"
	if !flushed {
		status = "noop"
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

func (h *Handlers) HandlePending(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	records := h.session.Pending()
	h.mu.Unlock()

	if records == nil {
		records = []recorder.Record{}
	}
	writeJSON(w, http.StatusOK, PendingResponse{Count: len(records), Records: records})
}

// Flush flushes the session outside of a request, e.g. on shutdown. It
// reports false when the queue was empty and nothing was attempted.
func (h *Handlers) Flush(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session.Len() == 0 {
		return false, nil
	}
	return true, h.session.FlushOnly(ctx)
}

// PendingCount returns the number of queued records.
func (h *Handlers) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Len()
}

func (h *Handlers) writeSessionError(w http.ResponseWriter, err error, r *http.Request) {
	code, status := classify(err)

	var fe *recorder.FlushError
	lost := 0
	if errors.As(err, &fe) {
		lost = fe.Lost
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("session request failed")
	}

	writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Lost:      lost,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, recorder.ErrInvalidArity):
		return "INVALID_ARITY", http.StatusBadRequest
	case errors.Is(err, recorder.ErrInvalidStartTime):
		return "INVALID_START_TIME", http.StatusBadRequest
	case errors.Is(err, recorder.ErrMissingStimulus):
		return "MISSING_STIMULUS", http.StatusBadRequest
	case recorder.IsAborted(err):
		return "USER_ABORTED", http.StatusConflict
	case errors.Is(err, recorder.ErrUnsupportedParameterType):
		return "UNSUPPORTED_PARAMETER", http.StatusUnprocessableEntity
	case errors.Is(err, recorder.ErrRowInsertFailed):
		return "ROW_INSERT_FAILED", http.StatusBadGateway
	case errors.Is(err, recorder.ErrStimulusLookup):
		return "STIMULUS_LOOKUP_FAILED", http.StatusBadGateway
	case errors.Is(err, recorder.ErrMonitorReconcile):
		return "MONITOR_RECONCILE_FAILED", http.StatusBadGateway
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
