package coordinator

import (
	"context"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
)

// StartRecording adds a recording to an active session that has none
// running. Capture starts asynchronously, as with StartSharing.
func (s *Service) StartRecording(ctx context.Context, sessionID string, quality domain.Quality) (domain.Recording, error) {
	if !quality.Valid() {
		quality = s.quality
	}

	s.mu.Lock()
	sess, err := s.sessionLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return domain.Recording{}, err
	}
	rec := domain.NewRecording(sess.ID, quality, s.now())
	if err := sess.AddRecording(rec); err != nil {
		s.mu.Unlock()
		return domain.Recording{}, err
	}
	err = s.persistLocked(sess)
	s.mu.Unlock()
	if err != nil {
		return domain.Recording{}, err
	}
	s.log.Info("recording started", "session_id", sessionID, "recording_id", rec.ID, "quality", quality)

	job := CaptureRequest{SessionID: sess.ID, RecordingID: rec.ID, UserID: sess.UserID, Quality: quality}
	if err := s.submitCapture(ctx, &job); err != nil {
		failed, _ := s.repos.Recordings.Get(rec.ID)
		return failed, err
	}
	return rec, nil
}

// recordingLocked returns the recording together with the session that owns
// it.
func (s *Service) recordingLocked(id string) (*domain.Session, *domain.Recording, error) {
	stored, ok := s.repos.Recordings.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("recording %q: %w", id, ErrNotFound)
	}
	sess, err := s.sessionLocked(stored.SessionID)
	if err != nil {
		return nil, nil, err
	}
	rec := sess.Recording(id)
	if rec == nil {
		return nil, nil, fmt.Errorf("recording %q: %w", id, ErrNotFound)
	}
	return sess, rec, nil
}

// StopRecording completes an active or paused recording and releases its
// capture.
func (s *Service) StopRecording(ctx context.Context, id string) (domain.Recording, error) {
	s.mu.Lock()
	_, rec, err := s.recordingLocked(id)
	if err != nil {
		s.mu.Unlock()
		return domain.Recording{}, err
	}
	if !rec.Active {
		status := rec.Status
		s.mu.Unlock()
		return domain.Recording{}, fmt.Errorf("recording %s is %s: %w", id, status, domain.ErrInvalidState)
	}
	snapshot := *rec
	s.mu.Unlock()

	return s.finishRecording(ctx, snapshot)
}

func (s *Service) PauseRecording(id string) (domain.Recording, error) {
	return s.mutateRecording(id, (*domain.Recording).Pause)
}

func (s *Service) ResumeRecording(id string) (domain.Recording, error) {
	return s.mutateRecording(id, (*domain.Recording).Resume)
}

func (s *Service) mutateRecording(id string, fn func(*domain.Recording) error) (domain.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, rec, err := s.recordingLocked(id)
	if err != nil {
		return domain.Recording{}, err
	}
	if err := fn(rec); err != nil {
		return domain.Recording{}, err
	}
	if err := s.persistLocked(sess); err != nil {
		return domain.Recording{}, err
	}
	return *rec, nil
}

// DeleteRecording cancels the recording if it is still running, releases its
// capture and removes it from its session and the repository.
func (s *Service) DeleteRecording(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, rec, err := s.recordingLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wasActive := rec.Active
	if wasActive {
		_ = rec.Cancel(s.now())
	}
	handle := rec.FilePath
	sess.RemoveRecording(id)
	err = s.persistLocked(sess)
	s.repos.Recordings.Delete(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.log.Info("recording deleted", "session_id", sess.ID, "recording_id", id, "cancelled", wasActive)

	if wasActive && handle != "" {
		if _, err := s.recorder.EndCapture(ctx, handle); err != nil {
			s.metrics.Inc(metrics.CapabilityFailure)
			s.log.Warn("release deleted recording", "recording_id", id, "err", err)
		} else {
			s.metrics.Inc(metrics.CaptureReleased)
		}
	}
	return nil
}

// CreateConnection tracks a transport connection on an active session.
func (s *Service) CreateConnection(sessionID, rawConn, rawTarget string, typ domain.ConnectionType) (domain.Connection, error) {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return domain.Connection{}, err
	}
	var target identity.UserID
	if rawTarget != "" {
		if target, err = identity.ParseUserID(rawTarget); err != nil {
			return domain.Connection{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionLocked(sessionID)
	if err != nil {
		return domain.Connection{}, err
	}
	c := domain.NewConnection(sess.ID, conn, target, typ, s.now())
	if err := sess.AddConnection(c); err != nil {
		return domain.Connection{}, err
	}
	if err := s.persistLocked(sess); err != nil {
		return domain.Connection{}, err
	}
	return c, nil
}

// CloseConnection closes an active connection. Closing twice fails.
func (s *Service) CloseConnection(id string) (domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.repos.Connections.Get(id)
	if !ok {
		return domain.Connection{}, fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	sess, err := s.sessionLocked(stored.SessionID)
	if err != nil {
		return domain.Connection{}, err
	}
	c := sess.Connection(id)
	if c == nil {
		return domain.Connection{}, fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	if err := c.Close(s.now()); err != nil {
		return domain.Connection{}, err
	}
	if err := s.persistLocked(sess); err != nil {
		return domain.Connection{}, err
	}
	return *c, nil
}
