package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stimlog/internal/credentials"
	"stimlog/internal/display"
	"stimlog/internal/storage"
)

// memStore is an in-memory Store.
type memStore struct {
	user     string
	catalog  map[string]int64
	rows     []storage.ExperimentRow
	monitors []storage.MonitorProfile
	failAt   int // InsertExperiment fails on this call (1-based); 0 never
	inserts  int
	closed   int
}

func newMemStore() *memStore {
	return &memStore{user: "alice", catalog: map[string]int64{}}
}

func (m *memStore) User() string { return m.user }

func (m *memStore) StimulusID(_ context.Context, name string) (int64, error) {
	if id, ok := m.catalog[name]; ok {
		return id, nil
	}
	return storage.NoStimulus, nil
}

func (m *memStore) InsertExperiment(_ context.Context, row *storage.ExperimentRow) error {
	m.inserts++
	if m.failAt == m.inserts {
		return errors.New("connection reset by peer")
	}
	m.rows = append(m.rows, *row)
	return nil
}

func (m *memStore) LatestMonitor(context.Context) (storage.MonitorProfile, bool, error) {
	if len(m.monitors) == 0 {
		return storage.MonitorProfile{}, false, nil
	}
	return m.monitors[len(m.monitors)-1], true, nil
}

func (m *memStore) InsertMonitor(_ context.Context, p storage.MonitorProfile) error {
	m.monitors = append(m.monitors, p)
	return nil
}

func (m *memStore) Close(context.Context) error {
	m.closed++
	return nil
}

// scriptedProvider answers from a list and declines when it runs out.
type scriptedProvider struct {
	answers []credentials.Credentials
	calls   int
}

func (p *scriptedProvider) Credentials(context.Context, error) (credentials.Credentials, bool) {
	p.calls++
	if len(p.answers) == 0 {
		return credentials.Credentials{}, false
	}
	c := p.answers[0]
	p.answers = p.answers[1:]
	return c, true
}

type harness struct {
	session  *Session
	store    *memStore
	provider *scriptedProvider
	connects int
	clock    time.Time
}

func newHarness(t *testing.T, answers ...credentials.Credentials) *harness {
	t.Helper()
	if len(answers) == 0 {
		answers = []credentials.Credentials{{User: "alice", Password: "good"}}
	}
	h := &harness{
		store:    newMemStore(),
		provider: &scriptedProvider{answers: answers},
		clock:    time.Date(2026, 10, 18, 14, 30, 5, 0, time.UTC),
	}
	connect := credentials.ConnectFunc[Store](func(_ context.Context, c credentials.Credentials) (Store, error) {
		h.connects++
		if c.Password != "good" {
			return nil, errors.New("password authentication failed")
		}
		h.store.user = c.User
		return h.store, nil
	})
	h.session = NewSession(Options{
		Provider:  h.provider,
		Connector: connect,
		Display:   display.Static{Width: 1920, Height: 1080, RefreshRate: 60, PixelDepth: 24},
		Now:       func() time.Time { return h.clock },
	})
	return h
}

func TestRecordAs_AppendsOneRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.RecordAs(ctx, "grating", "14:29:00", []any{"RF", 5}, false); err != nil {
		t.Fatalf("RecordAs: %v", err)
	}

	pending := h.session.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	rec := pending[0]
	if rec.Stimulus != "grating" {
		t.Errorf("Stimulus = %q, want grating", rec.Stimulus)
	}
	if rec.Start.String() != "14:29:00" {
		t.Errorf("Start = %s, want 14:29:00", rec.Start)
	}
	if !rec.End.Equal(h.clock) {
		t.Errorf("End = %v, want session clock %v", rec.End, h.clock)
	}
	if h.connects != 0 {
		t.Errorf("connects = %d, want 0 for a non-final record", h.connects)
	}
}

func TestRecordAs_EndTimeNotBeforeCall(t *testing.T) {
	s := NewSession(Options{})
	before := time.Now()
	if err := s.RecordAs(context.Background(), "grating", "00:00:01", nil, false); err != nil {
		t.Fatal(err)
	}
	if end := s.Pending()[0].End; end.Before(before) {
		t.Errorf("End = %v is before the call at %v", end, before)
	}
}

func TestRecordAs_CopiesParams(t *testing.T) {
	h := newHarness(t)
	params := []any{"RF", 5}
	if err := h.session.RecordAs(context.Background(), "grating", "14:29:00", params, false); err != nil {
		t.Fatal(err)
	}
	params[0] = "changed"
	if got := h.session.Pending()[0].Params[0]; got != "RF" {
		t.Errorf("queued param = %v, want RF", got)
	}
}

func TestRecordAs_RecordIsImmutable(t *testing.T) {
	h := newHarness(t)
	nested := []any{1.0, 2.0}
	params := []any{"RF", nested}
	if err := h.session.RecordAs(context.Background(), "grating", "14:29:00", params, false); err != nil {
		t.Fatal(err)
	}

	nested[0] = 99.0
	view := h.session.Pending()
	view[0].Params[0] = "tampered"
	view[0].Params[1].([]any)[1] = 42.0

	got, err := FormatParams(h.session.Pending()[0].Params)
	if err != nil {
		t.Fatal(err)
	}
	if want := "RF, [1 2]"; got != want {
		t.Errorf("queued params = %q, want %q", got, want)
	}
}

func TestRecordAs_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.RecordAs(ctx, "", "10:00:00", nil, false); !errors.Is(err, ErrMissingStimulus) {
		t.Errorf("empty stimulus error = %v, want ErrMissingStimulus", err)
	}
	if err := h.session.RecordAs(ctx, "grating", "25:61:00", nil, false); !errors.Is(err, ErrInvalidStartTime) {
		t.Errorf("bad start error = %v, want ErrInvalidStartTime", err)
	}
	if n := len(h.session.Pending()); n != 0 {
		t.Errorf("pending = %d after rejected records, want 0", n)
	}
}

func recordFromHelper(s *Session) error {
	return s.Record(context.Background(), "09:00:00", nil, false)
}

func TestRecord_UsesCallerName(t *testing.T) {
	h := newHarness(t)
	if err := recordFromHelper(h.session); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Pending()[0].Stimulus; got != "recordFromHelper" {
		t.Errorf("Stimulus = %q, want recordFromHelper", got)
	}
}

func TestInvoke_Arity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    []any
		wantErr error
	}{
		{"one argument", []any{"10:00:00"}, ErrInvalidArity},
		{"three arguments", []any{"10:00:00", []any{}, "x"}, ErrInvalidArity},
		{"params not a list", []any{"10:00:00", 5}, ErrInvalidArity},
		{"start not a string", []any{1000, []any{}}, ErrInvalidStartTime},
		{"record", []any{"10:00:00", []any{"RF"}}, nil},
		{"record without params", []any{"10:00:00", nil}, nil},
		{"flush check only", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.session.Invoke(ctx, "grating", false, tt.args...)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Invoke error = %v, want nil", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Invoke error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if n := len(h.session.Pending()); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
	if h.connects != 0 {
		t.Errorf("connects = %d, want 0 without a final call", h.connects)
	}
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t)

	if err := h.session.FlushOnly(context.Background()); err != nil {
		t.Fatalf("FlushOnly: %v", err)
	}
	if h.provider.calls != 0 || h.connects != 0 {
		t.Errorf("prompts=%d connects=%d, want no login on an empty queue", h.provider.calls, h.connects)
	}
	if len(h.store.rows) != 0 || len(h.store.monitors) != 0 {
		t.Errorf("rows=%d monitors=%d, want no writes", len(h.store.rows), len(h.store.monitors))
	}
}

func TestFlush_WritesRowsInOrder(t *testing.T) {
	h := newHarness(t)
	h.store.catalog["grating"] = 7
	ctx := context.Background()

	if err := h.session.RecordAs(ctx, "grating", "14:00:00", []any{"RF", 5, []int{1, 2, 3}}, false); err != nil {
		t.Fatal(err)
	}
	if err := h.session.RecordAs(ctx, "dots", "14:10:00", []any{0.5}, false); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Invoke(ctx, "", true); err != nil {
		t.Fatalf("final Invoke: %v", err)
	}

	want := []storage.ExperimentRow{
		{StimulusID: 7, User: "alice", Date: "2026-10-18", StartTime: "14:00:00", EndTime: "14:30:05", Params: "RF, 5, [1 2 3]"},
		{StimulusID: -1, User: "alice", Date: "2026-10-18", StartTime: "14:10:00", EndTime: "14:30:05", Params: "dots, 0.5"},
	}
	if len(h.store.rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(h.store.rows), len(want))
	}
	for i := range want {
		if h.store.rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, h.store.rows[i], want[i])
		}
	}
	if n := len(h.session.Pending()); n != 0 {
		t.Errorf("pending = %d after flush, want 0", n)
	}
	if h.store.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.store.closed)
	}
	if len(h.store.monitors) != 1 {
		t.Errorf("monitor rows = %d, want 1", len(h.store.monitors))
	}
}

func TestFlush_UnknownStimulusPrefix(t *testing.T) {
	h := newHarness(t)
	if err := h.session.RecordAs(context.Background(), "grating", "08:00:00", []any{"RF"}, true); err != nil {
		t.Fatal(err)
	}
	if got := h.store.rows[0].Params; !strings.HasPrefix(got, "grating, ") {
		t.Errorf("Params = %q, want prefix %q", got, "grating, ")
	}
	if h.store.rows[0].StimulusID != storage.NoStimulus {
		t.Errorf("StimulusID = %d, want %d", h.store.rows[0].StimulusID, storage.NoStimulus)
	}
}

func TestFlush_DeclineAfterFailedLogin(t *testing.T) {
	h := newHarness(t, credentials.Credentials{User: "alice", Password: "typo"})
	ctx := context.Background()

	if err := h.session.RecordAs(ctx, "grating", "08:00:00", []any{"RF"}, false); err != nil {
		t.Fatal(err)
	}
	err := h.session.FlushOnly(ctx)
	if !errors.Is(err, ErrUserAborted) || !IsAborted(err) {
		t.Fatalf("FlushOnly error = %v, want ErrUserAborted", err)
	}
	var fe *FlushError
	if !errors.As(err, &fe) || fe.Lost != 1 {
		t.Errorf("FlushError = %+v, want Lost=1", fe)
	}
	if h.connects != 1 {
		t.Errorf("connects = %d, want 1", h.connects)
	}
	if n := len(h.session.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0 after abort", n)
	}
	if len(h.store.rows) != 0 {
		t.Errorf("rows = %d, want 0", len(h.store.rows))
	}
}

func TestFlush_UnsupportedParameter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.session.RecordAs(ctx, "grating", "08:00:00", []any{"RF"}, false)
	_ = h.session.RecordAs(ctx, "dots", "08:05:00", []any{true}, false)
	_ = h.session.RecordAs(ctx, "bars", "08:10:00", []any{3}, false)

	err := h.session.FlushOnly(ctx)
	if !errors.Is(err, ErrUnsupportedParameterType) {
		t.Fatalf("FlushOnly error = %v, want ErrUnsupportedParameterType", err)
	}
	var fe *FlushError
	if !errors.As(err, &fe) || fe.Stimulus != "dots" || fe.Index != 1 || fe.Op != "format" {
		t.Errorf("FlushError = %+v, want dots at index 1 in format", fe)
	}
	if len(h.store.rows) != 1 {
		t.Errorf("rows = %d, want only the record before the bad one", len(h.store.rows))
	}
	if n := len(h.session.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if h.store.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.store.closed)
	}
	if len(h.store.monitors) != 0 {
		t.Errorf("monitor rows = %d, want 0 after a failed flush", len(h.store.monitors))
	}
}

func TestFlush_InsertFailureKeepsEarlierRows(t *testing.T) {
	h := newHarness(t)
	h.store.failAt = 2
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_ = h.session.RecordAs(ctx, name, "08:00:00", nil, false)
	}

	err := h.session.FlushOnly(ctx)
	if !errors.Is(err, ErrRowInsertFailed) {
		t.Fatalf("FlushOnly error = %v, want ErrRowInsertFailed", err)
	}
	var fe *FlushError
	if errors.As(err, &fe) && fe.Lost != 2 {
		t.Errorf("Lost = %d, want 2", fe.Lost)
	}
	if len(h.store.rows) != 1 || h.store.rows[0].Params != "a, " {
		t.Errorf("rows = %+v, want only the first", h.store.rows)
	}
	if h.store.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.store.closed)
	}
}

func TestFlush_MonitorReconciledOnce(t *testing.T) {
	h := newHarness(t,
		credentials.Credentials{User: "alice", Password: "good"},
		credentials.Credentials{User: "alice", Password: "good"},
	)
	ctx := context.Background()

	_ = h.session.RecordAs(ctx, "a", "08:00:00", nil, true)
	_ = h.session.RecordAs(ctx, "b", "08:01:00", nil, true)

	if len(h.store.monitors) != 1 {
		t.Errorf("monitor rows = %d, want 1 for an unchanged display", len(h.store.monitors))
	}
}

func TestSession_NoDisplaySkipsReconcile(t *testing.T) {
	store := newMemStore()
	s := NewSession(Options{
		Provider: credentials.NewStatic("alice", "pw"),
		Connector: credentials.ConnectFunc[Store](func(context.Context, credentials.Credentials) (Store, error) {
			return store, nil
		}),
	})
	if err := s.RecordAs(context.Background(), "a", "08:00:00", nil, true); err != nil {
		t.Fatal(err)
	}
	if len(store.rows) != 1 || len(store.monitors) != 0 {
		t.Errorf("rows=%d monitors=%d, want 1 and 0", len(store.rows), len(store.monitors))
	}
}

func TestFlushOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&FlushError{Op: "acquire", Err: ErrUserAborted}, "aborted"},
		{&FlushError{Op: "format", Err: ErrUnsupportedParameterType}, "unsupported_parameter"},
		{&FlushError{Op: "insert", Err: ErrRowInsertFailed}, "insert_failed"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := flushOutcome(tt.err); got != tt.want {
			t.Errorf("flushOutcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
