package coordinator_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	connAlice = "conn-alice-0001"
	connBob   = "conn-bob-00002"
	connCarol = "conn-carol-003"
)

type deliveryKind int

const (
	toOne deliveryKind = iota
	toAll
	toAllExcept
)

type delivery struct {
	kind    deliveryKind
	conn    identity.ConnectionID
	event   coordinator.Event
	payload any
}

// reaches reports whether the delivery would arrive at conn.
func (d delivery) reaches(conn identity.ConnectionID) bool {
	switch d.kind {
	case toOne:
		return d.conn == conn
	case toAllExcept:
		return d.conn != conn
	}
	return true
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []delivery
}

func (f *fakeMessenger) record(d delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return nil
}

func (f *fakeMessenger) DeliverToOne(_ context.Context, conn identity.ConnectionID, event coordinator.Event, payload any) error {
	return f.record(delivery{kind: toOne, conn: conn, event: event, payload: payload})
}

func (f *fakeMessenger) DeliverToAll(_ context.Context, event coordinator.Event, payload any) error {
	return f.record(delivery{kind: toAll, event: event, payload: payload})
}

func (f *fakeMessenger) DeliverToAllExcept(_ context.Context, except identity.ConnectionID, event coordinator.Event, payload any) error {
	return f.record(delivery{kind: toAllExcept, conn: except, event: event, payload: payload})
}

func (f *fakeMessenger) events(event coordinator.Event) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.sent {
		if d.event == event {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu    sync.Mutex
	ended []string
	size  int64
}

func (r *fakeRecorder) BeginCapture(_ context.Context, req coordinator.CaptureRequest) (string, error) {
	return "/recordings/" + req.RecordingID + ".mp4", nil
}

func (r *fakeRecorder) EndCapture(_ context.Context, handle string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, handle)
	return r.size, nil
}

func (r *fakeRecorder) endedHandles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

type harness struct {
	svc     *coordinator.Service
	results chan coordinator.CaptureResult
}

// newHarness starts a Service with its capture loop running until the test
// ends.
func newHarness(t *testing.T, messenger coordinator.Messenger, recorder coordinator.Recorder, opts ...func(*coordinator.Config)) *harness {
	t.Helper()
	results := make(chan coordinator.CaptureResult, 16)
	cfg := coordinator.Config{
		Messenger:       messenger,
		Recorder:        recorder,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnCaptureResult: func(r coordinator.CaptureResult) {
			select {
			case results <- r:
			default:
			}
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{svc: svc, results: results}
}

func (h *harness) waitCapture(t *testing.T) coordinator.CaptureResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for capture result")
		return coordinator.CaptureResult{}
	}
}
