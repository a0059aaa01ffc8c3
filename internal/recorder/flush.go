package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stimlog/internal/credentials"
	"stimlog/internal/display"
	"stimlog/internal/storage"
	"stimlog/internal/telemetry"
)

// Flush writes every queued record, in order, through one database session,
// then reconciles the monitor history. The queue is cleared before anything
// else happens: a declined login or a failed write loses the batch.
//
// Rows are committed one by one. If row i fails, rows before it stay in the
// database and the rest of the batch is dropped.
func (s *Session) Flush(ctx context.Context) (err error) {
	if len(s.pending) == 0 {
		log.Debug().Msg("nothing to flush")
		return nil
	}

	batch := s.pending
	s.pending = nil
	s.metrics.PendingRecords.Set(0)

	started := time.Now()
	flushID := uuid.New().String()
	ctx, span := s.tracer.StartSpan(ctx, "flush",
		telemetry.AttrFlushID.String(flushID),
		telemetry.AttrRecords.Int(len(batch)),
	)
	defer func() {
		s.metrics.RecordFlush(flushOutcome(err), time.Since(started).Seconds())
		telemetry.EndSpan(span, err)
	}()

	logger := log.With().Str("flush_id", flushID).Int("records", len(batch)).Logger()

	store, err := credentials.Acquire(ctx, s.provider, s.connector, credentials.Options{
		MaxAttempts: s.maxAttempts,
		OnAttempt:   s.metrics.RecordCredentialAttempt,
	})
	if err != nil {
		s.metrics.RecordDiscarded("aborted", len(batch))
		logger.Warn().Err(err).Msg("no database session, pending records discarded")
		return &FlushError{Op: "acquire", Lost: len(batch), Err: err}
	}
	defer func() {
		if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn().Err(cerr).Msg("closing database session")
		}
	}()
	span.SetAttributes(telemetry.AttrUser.String(store.User()))

	for i, rec := range batch {
		if op, werr := s.writeRecord(ctx, store, rec); werr != nil {
			lost := len(batch) - i
			s.metrics.RecordDiscarded(op, lost)
			logger.Error().
				Err(werr).
				Int("index", i).
				Str("stimulus", rec.Stimulus).
				Int("lost", lost).
				Msg("flush stopped, earlier rows remain committed")
			return &FlushError{Op: op, Stimulus: rec.Stimulus, Index: i, Lost: lost, Err: werr}
		}
	}

	if s.display != nil {
		rctx, rspan := s.tracer.StartSpan(ctx, "reconcile_monitor")
		changed, rerr := display.Reconcile(rctx, store, s.display)
		rspan.SetAttributes(telemetry.AttrChanged.Bool(changed))
		telemetry.EndSpan(rspan, rerr)
		if rerr != nil {
			logger.Error().Err(rerr).Msg("monitor reconciliation failed")
			return &FlushError{Op: "reconcile", Err: fmt.Errorf("%w: %w", ErrMonitorReconcile, rerr)}
		}
		if changed {
			s.metrics.MonitorRows.Inc()
		}
	}

	logger.Info().
		Str("user", store.User()).
		Dur("duration", time.Since(started)).
		Msg("flush complete")
	return nil
}

// writeRecord inserts one row. On failure it returns the failing step.
func (s *Session) writeRecord(ctx context.Context, store Store, rec Record) (op string, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "write_record", telemetry.AttrStimulus.String(rec.Stimulus))
	defer func() { telemetry.EndSpan(span, err) }()

	id, err := store.StimulusID(ctx, rec.Stimulus)
	if err != nil {
		return "lookup", fmt.Errorf("%w: %w", ErrStimulusLookup, err)
	}
	span.SetAttributes(telemetry.AttrStimulusID.Int64(id))

	params, err := FormatParams(rec.Params)
	if err != nil {
		return "format", err
	}
	if id == storage.NoStimulus {
		params = rec.Stimulus + ParamSeparator + params
	}

	row := &storage.ExperimentRow{
		StimulusID: id,
		User:       store.User(),
		Date:       rec.End.Format(dateLayout),
		StartTime:  rec.Start.String(),
		EndTime:    rec.End.Format(clockLayout),
		Params:     params,
	}
	if err := store.InsertExperiment(ctx, row); err != nil {
		return "insert", fmt.Errorf("%w: %w", ErrRowInsertFailed, err)
	}

	s.metrics.RowsWritten.Inc()
	return "", nil
}

func flushOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAborted(err):
		return "aborted"
	case errors.Is(err, ErrUnsupportedParameterType):
		return "unsupported_parameter"
	case errors.Is(err, ErrRowInsertFailed):
		return "insert_failed"
	default:
		return "error"
	}
}
