// Package recorder queues experiment records for one recording session and
// writes them to the database when the session is flushed.
package recorder

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stimlog/internal/credentials"
	"stimlog/internal/display"
	"stimlog/internal/storage"
	"stimlog/internal/telemetry"
)

// Store is an open database session.
type Store interface {
	User() string
	StimulusID(ctx context.Context, name string) (int64, error)
	InsertExperiment(ctx context.Context, row *storage.ExperimentRow) error
	display.History
	Close(ctx context.Context) error
}

// Record is one queued stimulus run. Records are not modified after creation.
type Record struct {
	Stimulus string    `json:"stimulus"`
	Start    TimeOfDay `json:"start_time"`
	End      time.Time `json:"end_time"`
	Params   []any     `json:"params"`
}

// Options configures a Session.
type Options struct {
	Provider  credentials.Provider
	Connector credentials.Connector[Store]
	// Display is queried once per flush. Nil skips monitor reconciliation.
	Display     display.Querier
	MaxAttempts int
	Metrics     *telemetry.Metrics
	Tracer      *telemetry.Tracer
	Now         func() time.Time
}

// Session owns the pending queue. It is not safe for concurrent use.
type Session struct {
	provider    credentials.Provider
	connector   credentials.Connector[Store]
	display     display.Querier
	maxAttempts int
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	now         func() time.Time

	pending []Record
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	s := &Session{
		provider:    opts.Provider,
		connector:   opts.Connector,
		display:     opts.Display,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		now:         opts.Now,
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewTracer()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Record queues a run of the calling function, named after it. When final is
// set the queue is flushed afterwards.
func (s *Session) Record(ctx context.Context, start string, params []any, final bool) error {
	return s.RecordAs(ctx, callerName(2), start, params, final)
}

// RecordAs queues a run of the named stimulus. start is the HH:MM:SS time
// the run began; the end time is taken from the session clock.
func (s *Session) RecordAs(ctx context.Context, stimulus, start string, params []any, final bool) error {
	if stimulus == "" {
		return ErrMissingStimulus
	}
	tod, err := ParseTimeOfDay(start)
	if err != nil {
		return err
	}

	rec := Record{
		Stimulus: stimulus,
		Start:    tod,
		End:      s.now(),
		Params:   cloneParams(params),
	}
	s.pending = append(s.pending, rec)
	s.metrics.RecordsQueued.WithLabelValues(stimulus).Inc()
	s.metrics.PendingRecords.Set(float64(len(s.pending)))

	log.Debug().
		Str("stimulus", stimulus).
		Str("start_time", tod.String()).
		Int("params", len(params)).
		Int("pending", len(s.pending)).
		Msg("record queued")

	if final {
		return s.Flush(ctx)
	}
	return nil
}

// Invoke dispatches on argument count: no arguments only checks whether to
// flush, (start string, params []any) records a run. Any other shape fails
// with ErrInvalidArity.
func (s *Session) Invoke(ctx context.Context, stimulus string, final bool, args ...any) error {
	switch len(args) {
	case 0:
		if final {
			return s.Flush(ctx)
		}
		return nil
	case 2:
		start, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("%w: start time must be a string, got %T", ErrInvalidStartTime, args[0])
		}
		params, ok := args[1].([]any)
		if !ok && args[1] != nil {
			return fmt.Errorf("%w: second argument must be a parameter list, got %T", ErrInvalidArity, args[1])
		}
		return s.RecordAs(ctx, stimulus, start, params, final)
	default:
		return fmt.Errorf("%w: got %d, want 0 or 2", ErrInvalidArity, len(args))
	}
}

// FlushOnly flushes without recording a run.
func (s *Session) FlushOnly(ctx context.Context) error {
	return s.Flush(ctx)
}

// Pending returns a deep copy of the queue.
func (s *Session) Pending() []Record {
	if s.pending == nil {
		return nil
	}
	out := make([]Record, len(s.pending))
	for i, rec := range s.pending {
		rec.Params = cloneParams(rec.Params)
		out[i] = rec
	}
	return out
}

// Len returns the number of queued records.
func (s *Session) Len() int {
	return len(s.pending)
}

// callerName returns the bare function name skip frames above it.
func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
