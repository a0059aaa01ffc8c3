package api

import "stimlog/internal/recorder"

// RecordRequest reports a stimulus run, or with no args asks for a flush.
// Args is either empty or [start_time, params].
type RecordRequest struct {
	Stimulus string `json:"stimulus"`
	Args     []any  `json:"args"`
	Final    bool   `json:"final"`
}

// StatusResponse is returned by the record and flush endpoints.
type StatusResponse struct {
	Status  string `json:"status"` // queued, flushed, noop
	Pending int    `json:"pending"`
}

// PendingResponse lists the queued records.
type PendingResponse struct {
	Count   int               `json:"count"`
	Records []recorder.Record `json:"records"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Lost      int    `json:"lost,omitempty"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
	Uptime  string `json:"uptime"`
}
