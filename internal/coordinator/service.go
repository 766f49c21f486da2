// Package coordinator pairs sharers with viewers, routes signaling payloads
// and drives the session, connection and recording lifecycles.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/store"
)

const (
	DefaultCaptureQueueSize = 64
	DefaultCaptureTimeout   = 10 * time.Second
)

type Config struct {
	Repos     *store.Repositories
	Messenger Messenger
	Recorder  Recorder

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time

	// DefaultQuality is used for recordings started by StartSharing.
	DefaultQuality domain.Quality

	CaptureQueueSize int
	CaptureTimeout   time.Duration

	// OnCaptureResult, if set, is called from Run after each capture result
	// has been applied to the repositories.
	OnCaptureResult func(CaptureResult)
}

// Service is safe for concurrent use. Run must be running for recordings to
// receive their capture handles.
type Service struct {
	repos     *store.Repositories
	messenger Messenger
	recorder  Recorder
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	quality   domain.Quality
	onCapture func(CaptureResult)

	// mu serializes read-modify-write sequences that span repositories. It
	// is never held across Messenger or Recorder calls.
	mu sync.Mutex

	pending *pendingViewers
	capture *captureWorker
}

func New(cfg Config) (*Service, error) {
	if cfg.Messenger == nil {
		return nil, errors.New("coordinator: messenger is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("coordinator: recorder is required")
	}
	repos := cfg.Repos
	if repos == nil {
		repos = store.NewRepositories()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	quality := cfg.DefaultQuality
	if !quality.Valid() {
		quality = domain.DefaultQuality
	}
	queueSize := cfg.CaptureQueueSize
	if queueSize <= 0 {
		queueSize = DefaultCaptureQueueSize
	}
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}

	return &Service{
		repos:     repos,
		messenger: cfg.Messenger,
		recorder:  cfg.Recorder,
		log:       logger,
		metrics:   cfg.Metrics,
		now:       now,
		quality:   quality,
		onCapture: cfg.OnCaptureResult,
		pending:   newPendingViewers(),
		capture:   newCaptureWorker(cfg.Recorder, queueSize, timeout),
	}, nil
}

// Repos exposes the repositories for read-only queries.
func (s *Service) Repos() *store.Repositories { return s.repos }

// Run processes capture jobs and applies their results until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.capture.run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case res := <-s.capture.results:
				s.applyCaptureResult(ctx, res)
			}
		}
	})
	return g.Wait()
}

// RegisterUser creates the user or, when it already exists, moves it to
// conn and marks it online.
func (s *Service) RegisterUser(ctx context.Context, rawUserID, rawConn string, typ domain.UserType, groupID string) (*domain.User, error) {
	userID, err := identity.ParseUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, userID, rawConn, typ, groupID, true)
}

// RegisterDesktopClient registers a desktop capture client under a UserID
// derived from its client and group identifiers. An existing user keeps its
// type and group.
func (s *Service) RegisterDesktopClient(ctx context.Context, clientID, groupID, rawConn string) (*domain.User, error) {
	userID, err := identity.SynthesizeUserID(clientID, groupID)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, userID, rawConn, domain.UserTypeDesktopClient, groupID, false)
}

func (s *Service) register(ctx context.Context, userID identity.UserID, rawConn string, typ domain.UserType, groupID string, overwrite bool) (*domain.User, error) {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	s.evictConnectionLocked(conn, userID, now)
	u, ok := s.repos.Users.ByUserID(userID)
	if ok {
		u.SetOnline(conn, now)
		if overwrite {
			u.Type = typ
			u.UpdateGroupID(groupID)
		}
		err = s.repos.Users.Update(u)
	} else {
		u = domain.NewUser(userID, conn, typ, groupID, now)
		err = s.repos.Users.Add(u)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.UserRegistered)
	s.log.Info("user registered", "user_id", userID, "connection_id", conn, "type", u.Type)
	s.broadcastPresence(ctx)
	return u, nil
}

// evictConnectionLocked forces offline any other online user still holding
// conn, keeping connection ids unique among online users.
func (s *Service) evictConnectionLocked(conn identity.ConnectionID, keep identity.UserID, now time.Time) {
	for _, other := range s.repos.Users.Online() {
		if other.ConnectionID != conn || other.UserID == keep {
			continue
		}
		other.SetOffline(now)
		if err := s.repos.Users.Update(other); err != nil {
			s.log.Warn("evict stale connection owner", "user_id", other.UserID, "err", err)
			continue
		}
		s.log.Info("connection taken over", "connection_id", conn, "previous_user_id", other.UserID, "user_id", keep)
	}
}

func (s *Service) SetOnline(ctx context.Context, rawUserID, rawConn string) (*domain.User, error) {
	userID, err := identity.ParseUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	u, ok := s.repos.Users.ByUserID(userID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	s.evictConnectionLocked(conn, userID, now)
	u.SetOnline(conn, now)
	err = s.repos.Users.Update(u)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.broadcastPresence(ctx)
	return u, nil
}

// SetOffline clears the online flag. Sessions are left untouched.
func (s *Service) SetOffline(ctx context.Context, rawUserID string) (*domain.User, error) {
	userID, err := identity.ParseUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	u, ok := s.repos.Users.ByUserID(userID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	u.SetOffline(s.now())
	err = s.repos.Users.Update(u)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.broadcastPresence(ctx)
	return u, nil
}

// StartSession ends the user's active session, if any, and starts a new one
// in Created status.
func (s *Service) StartSession(ctx context.Context, rawUserID string) (*domain.Session, error) {
	userID, err := identity.ParseUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	u, ok := s.repos.Users.ByUserID(userID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	stopped := s.endActiveSessionsLocked(userID, now)
	sess, err := s.newSessionLocked(u, now)
	s.mu.Unlock()

	s.releaseCaptures(ctx, stopped)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) newSessionLocked(u *domain.User, now time.Time) (*domain.Session, error) {
	sess := domain.NewSession(u.UserID, now)
	if err := s.repos.Sessions.Add(sess); err != nil {
		return nil, err
	}
	u.AddSession(sess.ID)
	if err := s.repos.Users.Update(u); err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.SessionStarted)
	s.log.Info("session started", "session_id", sess.ID, "user_id", u.UserID)
	return sess.Clone(), nil
}

// endActiveSessionsLocked ends every active session owned by userID and
// returns the recordings whose captures must be released.
func (s *Service) endActiveSessionsLocked(userID identity.UserID, now time.Time) []domain.Recording {
	var stopped []domain.Recording
	for _, sess := range s.repos.Sessions.ActiveByUser(userID) {
		recs, err := s.endSessionLocked(sess, now)
		if err != nil {
			s.log.Warn("end session", "session_id", sess.ID, "err", err)
			continue
		}
		stopped = append(stopped, recs...)
	}
	return stopped
}

func (s *Service) endSessionLocked(sess *domain.Session, now time.Time) ([]domain.Recording, error) {
	stopped, err := sess.End(now)
	if err != nil {
		return nil, err
	}
	if err := s.persistLocked(sess); err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.SessionEnded)
	s.log.Info("session ended", "session_id", sess.ID, "user_id", sess.UserID, "recordings_stopped", len(stopped))
	return stopped, nil
}

// persistLocked writes the session and every owned connection and recording.
func (s *Service) persistLocked(sess *domain.Session) error {
	if err := s.repos.Sessions.Update(sess); err != nil {
		return err
	}
	for _, c := range sess.Connections {
		s.repos.Connections.Upsert(c)
	}
	for _, r := range sess.Recordings {
		s.repos.Recordings.Upsert(r)
	}
	return nil
}

func (s *Service) sessionLocked(id string) (*domain.Session, error) {
	sess, ok := s.repos.Sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return sess, nil
}

// StartSharing moves an active session to Sharing and starts a recording.
// Capture begins asynchronously; the recording receives its file once the
// Recorder answers.
func (s *Service) StartSharing(ctx context.Context, sessionID string) (*domain.Session, error) {
	now := s.now()
	s.mu.Lock()
	sess, err := s.sessionLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	job, err := s.startSharingLocked(sess, now)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := sess.Clone()
	s.mu.Unlock()

	err = s.submitCapture(ctx, job)
	s.broadcastPresence(ctx)
	return out, err
}

// startSharingLocked returns the capture job to submit once the lock is
// released, or nil when the session already had an active recording.
func (s *Service) startSharingLocked(sess *domain.Session, now time.Time) (*CaptureRequest, error) {
	if err := sess.StartSharing(); err != nil {
		return nil, err
	}
	var job *CaptureRequest
	if _, ok := sess.ActiveRecording(); !ok {
		rec := domain.NewRecording(sess.ID, s.quality, now)
		if err := sess.AddRecording(rec); err != nil {
			return nil, err
		}
		job = &CaptureRequest{SessionID: sess.ID, RecordingID: rec.ID, UserID: sess.UserID, Quality: rec.Quality}
	}
	if err := s.persistLocked(sess); err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.SharingStarted)
	s.log.Info("sharing started", "session_id", sess.ID, "user_id", sess.UserID)
	return job, nil
}

// submitCapture hands job to the capture worker. A full queue fails the
// recording immediately.
func (s *Service) submitCapture(ctx context.Context, job *CaptureRequest) error {
	if job == nil {
		return nil
	}
	err := s.capture.submit(*job)
	if err == nil {
		return nil
	}
	s.metrics.Inc(metrics.CaptureFailed)
	s.log.Warn("capture not started", "session_id", job.SessionID, "recording_id", job.RecordingID, "err", err)
	s.failRecording(job.SessionID, job.RecordingID, err)
	return capabilityFailure("begin capture", err)
}

func (s *Service) failRecording(sessionID, recordingID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.repos.Sessions.Get(sessionID)
	if !ok {
		return
	}
	rec := sess.Recording(recordingID)
	if rec == nil || !rec.Active {
		return
	}
	if err := rec.SetError(cause.Error(), s.now()); err != nil {
		return
	}
	if err := s.persistLocked(sess); err != nil {
		s.log.Warn("persist failed recording", "recording_id", recordingID, "err", err)
	}
}

// StopSharing returns the session to Connected and stops its active
// recording. The recording ends Completed, or Error when the Recorder fails.
func (s *Service) StopSharing(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	sess, err := s.sessionLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := sess.StopSharing(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var rec domain.Recording
	active, hasRec := sess.ActiveRecording()
	if hasRec {
		rec = *active
	}
	err = s.persistLocked(sess)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(metrics.SharingStopped)
	s.log.Info("sharing stopped", "session_id", sessionID)

	var capErr error
	if hasRec {
		_, capErr = s.finishRecording(ctx, rec)
	}
	s.broadcastPresence(ctx)

	s.mu.Lock()
	out, _ := s.repos.Sessions.Get(sessionID)
	s.mu.Unlock()
	return out, capErr
}

// finishRecording ends the capture for rec and stores the outcome.
func (s *Service) finishRecording(ctx context.Context, rec domain.Recording) (domain.Recording, error) {
	var (
		size   int64
		capErr error
	)
	if rec.FilePath != "" {
		size, capErr = s.recorder.EndCapture(ctx, rec.FilePath)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionLocked(rec.SessionID)
	if err != nil {
		return rec, err
	}
	r := sess.Recording(rec.ID)
	if r == nil {
		return rec, fmt.Errorf("recording %q: %w", rec.ID, ErrNotFound)
	}
	if r.Active {
		if capErr != nil {
			_ = r.SetError(capErr.Error(), now)
		} else {
			_ = r.Stop(now, size)
		}
	} else if capErr == nil && size > 0 {
		r.UpdateFileSize(size)
	}
	if err := s.persistLocked(sess); err != nil {
		return *r, err
	}
	if capErr != nil {
		s.metrics.Inc(metrics.CapabilityFailure)
		s.log.Warn("end capture", "recording_id", rec.ID, "session_id", rec.SessionID, "err", capErr)
		return *r, capabilityFailure("end capture", capErr)
	}
	return *r, nil
}

// EndSession terminates the session with the full cascade.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	sess, err := s.sessionLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	stopped, err := s.endSessionLocked(sess, s.now())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.releaseCaptures(ctx, stopped)
	s.broadcastPresence(ctx)

	out, _ := s.repos.Sessions.Get(sessionID)
	return out, nil
}

// releaseCaptures ends the captures of recordings stopped by a cascade and
// records their final sizes. Failures are logged and do not stop the loop.
func (s *Service) releaseCaptures(ctx context.Context, recs []domain.Recording) {
	for _, rec := range recs {
		if rec.FilePath == "" {
			continue
		}
		size, err := s.recorder.EndCapture(ctx, rec.FilePath)
		if err != nil {
			s.metrics.Inc(metrics.CapabilityFailure)
			s.log.Warn("release capture", "recording_id", rec.ID, "session_id", rec.SessionID, "err", err)
			continue
		}
		s.metrics.Inc(metrics.CaptureReleased)
		s.updateRecordingSize(rec.SessionID, rec.ID, size)
	}
}

func (s *Service) updateRecordingSize(sessionID, recordingID string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.repos.Sessions.Get(sessionID)
	if !ok {
		return
	}
	r := sess.Recording(recordingID)
	if r == nil {
		return
	}
	r.UpdateFileSize(size)
	if err := s.persistLocked(sess); err != nil {
		s.log.Warn("persist recording size", "recording_id", recordingID, "err", err)
	}
}

func (s *Service) applyCaptureResult(ctx context.Context, res CaptureResult) {
	defer func() {
		if s.onCapture != nil {
			s.onCapture(res)
		}
	}()

	if res.Err != nil {
		s.metrics.Inc(metrics.CaptureFailed)
		s.metrics.Inc(metrics.CapabilityFailure)
		s.log.Warn("begin capture", "session_id", res.SessionID, "recording_id", res.RecordingID, "err", res.Err)
		s.failRecording(res.SessionID, res.RecordingID, res.Err)
		return
	}

	s.mu.Lock()
	sess, ok := s.repos.Sessions.Get(res.SessionID)
	var rec *domain.Recording
	if ok {
		rec = sess.Recording(res.RecordingID)
	}
	if rec != nil && rec.Active {
		rec.AttachFile(res.Handle)
		err := s.persistLocked(sess)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("persist capture handle", "recording_id", res.RecordingID, "err", err)
			return
		}
		s.metrics.Inc(metrics.CaptureStarted)
		s.log.Debug("capture started", "session_id", res.SessionID, "recording_id", res.RecordingID, "handle", res.Handle)
		return
	}
	s.mu.Unlock()

	// The recording ended while capture was starting. Release the capture
	// right away and keep its file on the stopped recording.
	size, err := s.recorder.EndCapture(ctx, res.Handle)
	if err != nil {
		s.metrics.Inc(metrics.CapabilityFailure)
		s.log.Warn("release orphaned capture", "recording_id", res.RecordingID, "handle", res.Handle, "err", err)
	} else {
		s.metrics.Inc(metrics.CaptureReleased)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok = s.repos.Sessions.Get(res.SessionID)
	if !ok {
		return
	}
	if rec = sess.Recording(res.RecordingID); rec == nil {
		return
	}
	rec.AttachFile(res.Handle)
	if err == nil {
		rec.UpdateFileSize(size)
	}
	if err := s.persistLocked(sess); err != nil {
		s.log.Warn("persist orphaned capture", "recording_id", res.RecordingID, "err", err)
	}
}
