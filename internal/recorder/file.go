// Package recorder provides the default file-backed Recorder. It does not
// encode media; it reserves a file name per capture and keeps an .info
// sidecar describing the capture next to it.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
)

const (
	infoSuffix = ".info"
	fileLayout = "20060102_150405"
)

var ErrUnknownHandle = errors.New("recorder: unknown capture handle")

type FileRecorder struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	active map[string]coordinator.CaptureRequest
}

var _ coordinator.Recorder = (*FileRecorder)(nil)

// New creates dir if needed.
func New(dir string, logger *slog.Logger) (*FileRecorder, error) {
	if dir == "" {
		return nil, errors.New("recorder: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRecorder{
		dir:    dir,
		log:    logger,
		now:    time.Now,
		active: make(map[string]coordinator.CaptureRequest),
	}, nil
}

// BeginCapture reserves recording_<user>_<timestamp>.mp4 and writes its
// sidecar. The returned handle is the media file path.
func (r *FileRecorder) BeginCapture(ctx context.Context, req coordinator.CaptureRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := r.now()
	path := r.reserve(req, now)

	var info bytes.Buffer
	fmt.Fprintf(&info, "User: %s\n", req.UserID)
	fmt.Fprintf(&info, "SessionId: %s\n", req.SessionID)
	fmt.Fprintf(&info, "RecordingId: %s\n", req.RecordingID)
	fmt.Fprintf(&info, "Quality: %s\n", req.Quality)
	fmt.Fprintf(&info, "Recording started at %s\n", now.Format(time.RFC3339))

	if err := writeAtomic(path+infoSuffix, info.Bytes()); err != nil {
		r.release(path)
		return "", err
	}
	r.log.Info("capture started", "session_id", req.SessionID, "recording_id", req.RecordingID, "path", path)
	return path, nil
}

// reserve picks a file name that no active capture or existing file uses.
func (r *FileRecorder) reserve(req coordinator.CaptureRequest, now time.Time) string {
	base := fmt.Sprintf("recording_%s_%s", req.UserID, now.Format(fileLayout))
	r.mu.Lock()
	defer r.mu.Unlock()
	path := filepath.Join(r.dir, base+".mp4")
	for n := 1; r.taken(path); n++ {
		path = filepath.Join(r.dir, fmt.Sprintf("%s_%d.mp4", base, n))
	}
	r.active[path] = req
	return path
}

func (r *FileRecorder) taken(path string) bool {
	if _, ok := r.active[path]; ok {
		return true
	}
	_, err := os.Stat(path + infoSuffix)
	return err == nil
}

func (r *FileRecorder) release(path string) (coordinator.CaptureRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.active[path]
	delete(r.active, path)
	return req, ok
}

// EndCapture appends the end line to the sidecar and reports the size of the
// media file, 0 when nothing was written to it.
func (r *FileRecorder) EndCapture(ctx context.Context, handle string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	req, ok := r.release(handle)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}

	infoPath := handle + infoSuffix
	info, err := os.ReadFile(infoPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("recorder: read %s: %w", infoPath, err)
	}
	info = fmt.Appendf(info, "Recording ended at %s\nStatus: Completed\n", r.now().Format(time.RFC3339))
	if err := writeAtomic(infoPath, info); err != nil {
		return 0, err
	}

	var size int64
	switch st, err := os.Stat(handle); {
	case err == nil:
		size = st.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return 0, fmt.Errorf("recorder: stat %s: %w", handle, err)
	}
	r.log.Info("capture ended", "session_id", req.SessionID, "recording_id", req.RecordingID, "bytes", size)
	return size, nil
}

// Active reports the number of captures begun and not yet ended.
func (r *FileRecorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Check reports whether the recordings directory is still usable.
func (r *FileRecorder) Check() error {
	st, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("recorder: %s is not a directory", r.dir)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("recorder: write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("recorder: replace %s: %w", path, err)
	}
	return nil
}
