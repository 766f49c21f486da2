package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recording tracks one capture of a session. The coordinator never touches
// media; FilePath is whatever handle the recorder returned.
type Recording struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	FilePath  string          `json:"filePath,omitempty"`
	FileName  string          `json:"fileName,omitempty"`
	StartedAt time.Time       `json:"startTime"`
	EndedAt   time.Time       `json:"endTime,omitzero"`
	Active    bool            `json:"isRecording"`
	Status    RecordingStatus `json:"status"`
	Quality   Quality         `json:"quality"`
	FileSize  int64           `json:"fileSizeBytes"`
	Duration  time.Duration   `json:"duration"`
	LastError string          `json:"errorMessage,omitempty"`
}

func NewRecording(sessionID string, quality Quality, now time.Time) Recording {
	if !quality.Valid() {
		quality = DefaultQuality
	}
	return Recording{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: now,
		Active:    true,
		Status:    RecordingActive,
		Quality:   quality,
	}
}

// AttachFile stores the recorder handle once capture has begun.
func (r *Recording) AttachFile(path string) {
	r.FilePath = path
	r.FileName = filepath.Base(path)
}

// Stop completes an active or paused recording. Stopping twice fails.
func (r *Recording) Stop(now time.Time, fileSize int64) error {
	if !r.Active {
		return invalidState("recording %s is not active (status %s)", r.ID, r.Status)
	}
	r.finish(now, RecordingCompleted)
	r.FileSize = fileSize
	return nil
}

func (r *Recording) SetError(msg string, now time.Time) error {
	if strings.TrimSpace(msg) == "" {
		return invalidState("recording error message must not be empty")
	}
	if !r.Active {
		return invalidState("recording %s is not active (status %s)", r.ID, r.Status)
	}
	r.finish(now, RecordingFailed)
	r.LastError = msg
	return nil
}

func (r *Recording) Cancel(now time.Time) error {
	if !r.Active {
		return invalidState("recording %s is not active (status %s)", r.ID, r.Status)
	}
	r.finish(now, RecordingCancelled)
	return nil
}

func (r *Recording) Pause() error {
	if !r.Active || r.Status != RecordingActive {
		return invalidState("cannot pause recording %s in status %s", r.ID, r.Status)
	}
	r.Status = RecordingPaused
	return nil
}

func (r *Recording) Resume() error {
	if !r.Active || r.Status != RecordingPaused {
		return invalidState("can only resume paused recordings, %s is %s", r.ID, r.Status)
	}
	r.Status = RecordingActive
	return nil
}

func (r *Recording) UpdateFileSize(size int64) { r.FileSize = size }

func (r *Recording) finish(now time.Time, status RecordingStatus) {
	r.Active = false
	r.EndedAt = now
	r.Duration = now.Sub(r.StartedAt)
	r.Status = status
}

// CurrentDuration is the final duration once stopped, otherwise the time
// elapsed so far.
func (r *Recording) CurrentDuration(now time.Time) time.Duration {
	if !r.EndedAt.IsZero() {
		return r.Duration
	}
	return now.Sub(r.StartedAt)
}

// FormattedDuration renders the duration as HH:MM:SS. The hour field wraps
// at 24.
func (r *Recording) FormattedDuration(now time.Time) string {
	d := r.CurrentDuration(now)
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := (total / 3600) % 24
	m := (total / 60) % 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (r *Recording) FormattedFileSize() string {
	return FormatBytes(r.FileSize)
}

// FormatBytes renders n using B, KB, MB or GB with one decimal place.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	for _, suffix := range []string{"KB", "MB"} {
		v /= unit
		if v < unit {
			return fmt.Sprintf("%.1f %s", v, suffix)
		}
	}
	return fmt.Sprintf("%.1f GB", v/unit)
}
