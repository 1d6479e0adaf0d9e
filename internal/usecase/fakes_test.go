package usecase

import (
	"context"
	"errors"
	"sync"

	"VaultPulse/internal/domain/models"
)

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
	sent   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}, sent: map[string]int{}}
}

func (m *countingMetrics) RecordEvent(string, string) {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordMessageSent(backend, _ string) {
	m.mu.Lock()
	m.sent[backend]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordLastPrice(string, float64)        {}
func (m *countingMetrics) RecordLatency(string, float64)          {}
func (m *countingMetrics) RecordSnapshot(*models.MetricsSnapshot) {}

func (m *countingMetrics) Errors(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type memorySink struct {
	name  string
	block chan struct{}

	mu     sync.Mutex
	snaps  []uint64
	alerts []models.Alert
	closed bool
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) WriteSnapshot(ctx context.Context, snap *models.MetricsSnapshot) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snap.Generation)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) DeliverAlerts(_ context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alerts...)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) Generations() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.snaps...)
}

func (s *memorySink) Alerts() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Alert(nil), s.alerts...)
}

func (s *memorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingSubmitter struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (r *recordingSubmitter) Submit(_ context.Context, ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSubmitter) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

type scriptedAccounts struct {
	mu    sync.Mutex
	acct  *models.AccountState
	err   error
	calls int
}

func (s *scriptedAccounts) FetchAccount(context.Context) (*models.AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.acct, nil
}

func (s *scriptedAccounts) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

var errFetch = errors.New("fetch failed")

// scriptedStream serves one batch of events per Read and then ends the read,
// forcing the collector through Reconnect. The read after the last batch
// stays open until ctx is done.
type scriptedStream struct {
	mu         sync.Mutex
	batches    [][]models.Event
	reads      int
	reconnects int
	connected  bool
}

func (s *scriptedStream) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Subscribe(context.Context) error { return nil }

func (s *scriptedStream) Read(ctx context.Context) (<-chan models.Event, <-chan error) {
	s.mu.Lock()
	var batch []models.Event
	if s.reads < len(s.batches) {
		batch = s.batches[s.reads]
	}
	s.reads++
	last := s.reads > len(s.batches)
	s.mu.Unlock()

	events := make(chan models.Event, len(batch))
	errs := make(chan error, 1)
	for _, ev := range batch {
		events <- ev
	}
	if !last {
		close(events)
		close(errs)
		return events, errs
	}
	go func() {
		<-ctx.Done()
		close(events)
		close(errs)
	}()
	return events, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedStream) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}
