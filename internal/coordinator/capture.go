package coordinator

import (
	"context"
	"errors"
	"time"
)

var errCaptureQueueFull = errors.New("capture queue full")

// CaptureResult reports the outcome of one BeginCapture call.
type CaptureResult struct {
	SessionID   string
	RecordingID string
	Handle      string
	Err         error
}

// captureWorker runs BeginCapture calls off the signaling path. Jobs are
// accepted without blocking; outcomes come back on results.
type captureWorker struct {
	recorder Recorder
	timeout  time.Duration

	jobs    chan CaptureRequest
	results chan CaptureResult
}

func newCaptureWorker(recorder Recorder, queueSize int, timeout time.Duration) *captureWorker {
	return &captureWorker{
		recorder: recorder,
		timeout:  timeout,
		jobs:     make(chan CaptureRequest, queueSize),
		results:  make(chan CaptureResult, queueSize),
	}
}

func (w *captureWorker) submit(req CaptureRequest) error {
	select {
	case w.jobs <- req:
		return nil
	default:
		return errCaptureQueueFull
	}
}

// run processes jobs until ctx is cancelled. A job in flight when ctx ends
// sees its context cancelled and its result is dropped.
func (w *captureWorker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.jobs:
			res := w.begin(ctx, req)
			select {
			case w.results <- res:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *captureWorker) begin(ctx context.Context, req CaptureRequest) CaptureResult {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	handle, err := w.recorder.BeginCapture(ctx, req)
	return CaptureResult{
		SessionID:   req.SessionID,
		RecordingID: req.RecordingID,
		Handle:      handle,
		Err:         err,
	}
}
