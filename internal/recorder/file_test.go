package recorder

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

func newTestRecorder(t *testing.T) *FileRecorder {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "recordings"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return r
}

func captureRequest(user string) coordinator.CaptureRequest {
	return coordinator.CaptureRequest{
		SessionID:   "sess-1",
		RecordingID: "rec-1",
		UserID:      identity.UserID(user),
		Quality:     domain.QualityHigh,
	}
}

func TestFileRecorder_BeginWritesSidecar(t *testing.T) {
	req := require.New(t)
	r := newTestRecorder(t)

	handle, err := r.BeginCapture(context.Background(), captureRequest("alice"))
	req.NoError(err)
	req.Equal("recording_alice_20240506_070809.mp4", filepath.Base(handle))
	req.Equal(1, r.Active())

	info, err := os.ReadFile(handle + ".info")
	req.NoError(err)
	req.Contains(string(info), "User: alice\n")
	req.Contains(string(info), "Quality: high\n")
	req.Contains(string(info), "Recording started at 2024-05-06T07:08:09Z")
}

func TestFileRecorder_EndReportsMediaSize(t *testing.T) {
	req := require.New(t)
	r := newTestRecorder(t)
	ctx := context.Background()

	empty, err := r.BeginCapture(ctx, captureRequest("alice"))
	req.NoError(err)
	size, err := r.EndCapture(ctx, empty)
	req.NoError(err)
	req.Zero(size)

	info, err := os.ReadFile(empty + ".info")
	req.NoError(err)
	req.True(strings.HasSuffix(string(info), "Status: Completed\n"))

	withMedia, err := r.BeginCapture(ctx, captureRequest("bob"))
	req.NoError(err)
	req.NoError(os.WriteFile(withMedia, make([]byte, 1500), 0o644))
	size, err = r.EndCapture(ctx, withMedia)
	req.NoError(err)
	req.Equal(int64(1500), size)
	req.Zero(r.Active())
}

func TestFileRecorder_EndUnknownHandleFails(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	_, err := r.EndCapture(ctx, "/nowhere.mp4")
	require.ErrorIs(t, err, ErrUnknownHandle)

	handle, err := r.BeginCapture(ctx, captureRequest("alice"))
	require.NoError(t, err)
	_, err = r.EndCapture(ctx, handle)
	require.NoError(t, err)
	_, err = r.EndCapture(ctx, handle)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestFileRecorder_SameSecondGetsDistinctFiles(t *testing.T) {
	req := require.New(t)
	r := newTestRecorder(t)
	ctx := context.Background()

	first, err := r.BeginCapture(ctx, captureRequest("alice"))
	req.NoError(err)
	second, err := r.BeginCapture(ctx, captureRequest("alice"))
	req.NoError(err)
	req.NotEqual(first, second)
	req.Equal("recording_alice_20240506_070809_1.mp4", filepath.Base(second))
}

func TestFileRecorder_CancelledContext(t *testing.T) {
	r := newTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.BeginCapture(ctx, captureRequest("alice"))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, r.Active())
}

func TestFileRecorder_Check(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, r.Check())

	require.NoError(t, os.RemoveAll(r.dir))
	require.Error(t, r.Check())

	require.NoError(t, os.WriteFile(r.dir, []byte("x"), 0o644))
	require.ErrorContains(t, r.Check(), "not a directory")
}
