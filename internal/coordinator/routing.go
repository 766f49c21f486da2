package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
)

// RequestStream asks the sharer behind targetUserID to offer its stream to
// the viewer on rawViewer. The sharer's next offer goes to that viewer only.
// A target that is unknown or offline is not an error.
func (s *Service) RequestStream(ctx context.Context, rawViewer, rawTarget string) error {
	viewer, err := identity.ParseConnectionID(rawViewer)
	if err != nil {
		return err
	}
	target, err := identity.ParseUserID(rawTarget)
	if err != nil {
		return err
	}

	sharer, ok := s.repos.Users.ByUserID(target)
	if !ok || !sharer.Online {
		s.log.Debug("stream request for offline user", "user_id", target, "connection_id", viewer)
		return nil
	}

	if prev, replaced := s.pending.Set(sharer.ConnectionID, viewer); replaced && prev != viewer {
		s.metrics.Inc(metrics.PendingViewerReplace)
		s.log.Warn("pending viewer replaced", "user_id", target, "previous_viewer", prev, "viewer", viewer)
	}
	s.metrics.Inc(metrics.StreamRequested)
	s.touch(viewer)

	err = s.messenger.DeliverToOne(ctx, sharer.ConnectionID, EventStreamRequested, viewer)
	s.metrics.Delivery(string(EventStreamRequested), err)
	if err != nil {
		return capabilityFailure("deliver stream request", err)
	}
	return nil
}

// RouteOffer delivers an offer from rawSender. When a viewer is waiting on
// the sender the offer goes to that viewer alone and the wait is consumed;
// otherwise it is broadcast to every other peer. The sender's session is
// moved to Sharing, starting one when needed.
func (s *Service) RouteOffer(ctx context.Context, rawSender string, payload json.RawMessage) error {
	sender, err := identity.ParseConnectionID(rawSender)
	if err != nil {
		return err
	}

	sig := Signal{From: sender, Data: payload}
	viewer, directed := s.pending.Take(sender)
	if directed {
		err = s.messenger.DeliverToOne(ctx, viewer, EventReceiveOffer, sig)
		s.metrics.Inc(metrics.OfferDirected)
	} else {
		err = s.messenger.DeliverToAllExcept(ctx, sender, EventReceiveOffer, sig)
		s.metrics.Inc(metrics.OfferBroadcast)
	}
	s.metrics.Delivery(string(EventReceiveOffer), err)

	job := s.markOffering(sender, viewer, directed)
	capErr := s.submitCapture(ctx, job)
	s.broadcastPresence(ctx)

	if err != nil {
		return capabilityFailure("deliver offer", err)
	}
	return capErr
}

// markOffering brings the sender's active session to Sharing and, for a
// directed offer, records the connection to the viewer.
func (s *Service) markOffering(sender, viewer identity.ConnectionID, directed bool) *CaptureRequest {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.repos.Users.ByConnectionID(sender)
	if !ok {
		return nil
	}
	u.UpdateActivity(now)
	if err := s.repos.Users.Update(u); err != nil {
		s.log.Warn("update sender activity", "user_id", u.UserID, "err", err)
	}

	var sess *domain.Session
	if active := s.repos.Sessions.ActiveByUser(u.UserID); len(active) > 0 {
		sess = active[len(active)-1]
	} else {
		created, err := s.newSessionLocked(u, now)
		if err != nil {
			s.log.Warn("start session for offer", "user_id", u.UserID, "err", err)
			return nil
		}
		sess = created
	}

	var job *CaptureRequest
	if !sess.Sharing {
		var err error
		if job, err = s.startSharingLocked(sess, now); err != nil {
			s.log.Warn("start sharing for offer", "session_id", sess.ID, "err", err)
			return nil
		}
	}

	if directed {
		var target identity.UserID
		if vu, ok := s.repos.Users.ByConnectionID(viewer); ok {
			target = vu.UserID
		}
		if err := sess.AddConnection(domain.NewConnection(sess.ID, viewer, target, domain.ConnectionWebRTC, now)); err != nil {
			s.log.Warn("track viewer connection", "session_id", sess.ID, "connection_id", viewer, "err", err)
		} else if err := s.persistLocked(sess); err != nil {
			s.log.Warn("persist viewer connection", "session_id", sess.ID, "err", err)
		}
	}
	return job
}

// RouteAnswer broadcasts an answer to every peer except the sender. Any
// Connecting connection that targets the sender is marked Connected.
func (s *Service) RouteAnswer(ctx context.Context, rawSender string, payload json.RawMessage) error {
	sender, err := identity.ParseConnectionID(rawSender)
	if err != nil {
		return err
	}
	err = s.messenger.DeliverToAllExcept(ctx, sender, EventReceiveAnswer, Signal{From: sender, Data: payload})
	s.metrics.Inc(metrics.AnswerRelayed)
	s.metrics.Delivery(string(EventReceiveAnswer), err)

	s.markAnswered(sender)
	if err != nil {
		return capabilityFailure("deliver answer", err)
	}
	return nil
}

func (s *Service) markAnswered(viewer identity.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.repos.Connections.ByConnectionID(viewer) {
		if !c.Active || c.Status != domain.ConnectionConnecting {
			continue
		}
		sess, ok := s.repos.Sessions.Get(c.SessionID)
		if !ok {
			continue
		}
		owned := sess.Connection(c.ID)
		if owned == nil || owned.SetConnected() != nil {
			continue
		}
		_ = sess.MarkConnected()
		if err := s.persistLocked(sess); err != nil {
			s.log.Warn("persist answered connection", "session_id", sess.ID, "err", err)
		}
	}
	s.touchLocked(viewer, s.now())
}

// RouteIceCandidate broadcasts a candidate to every peer except the sender.
func (s *Service) RouteIceCandidate(ctx context.Context, rawSender string, payload json.RawMessage) error {
	sender, err := identity.ParseConnectionID(rawSender)
	if err != nil {
		return err
	}
	err = s.messenger.DeliverToAllExcept(ctx, sender, EventReceiveIceCandidate, Signal{From: sender, Data: payload})
	s.metrics.Inc(metrics.CandidateRelayed)
	s.metrics.Delivery(string(EventReceiveIceCandidate), err)
	if err != nil {
		return capabilityFailure("deliver candidate", err)
	}
	return nil
}

// StopStream stops sharing and ends every active session of the user behind
// rawConn.
func (s *Service) StopStream(ctx context.Context, rawConn string) error {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return err
	}
	s.pending.Forget(conn)

	u, ok := s.repos.Users.ByConnectionID(conn)
	if !ok {
		return nil
	}

	var capErr error
	for _, sess := range s.repos.Sessions.ActiveByUser(u.UserID) {
		if sess.Sharing {
			if _, err := s.StopSharing(ctx, sess.ID); err != nil && capErr == nil {
				capErr = err
			}
		}
		var (
			stopped []domain.Recording
			endErr  error
		)
		s.mu.Lock()
		if cur, ok := s.repos.Sessions.Get(sess.ID); ok && cur.Active {
			stopped, endErr = s.endSessionLocked(cur, s.now())
		}
		s.mu.Unlock()
		if endErr != nil {
			s.log.Warn("end session on stop stream", "session_id", sess.ID, "err", endErr)
		}
		s.releaseCaptures(ctx, stopped)
	}
	s.broadcastPresence(ctx)
	return capErr
}

// HandleDisconnect runs the disconnect cascade for rawConn. It never fails;
// an unknown connection only clears pending entries.
func (s *Service) HandleDisconnect(ctx context.Context, rawConn string) {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		s.log.Debug("disconnect with invalid connection id", "connection_id", rawConn, "err", err)
		return
	}
	if n := s.pending.Forget(conn); n > 0 {
		s.log.Debug("pending viewers cleared", "connection_id", conn, "count", n)
	}

	now := s.now()
	s.mu.Lock()
	s.closeConnectionsToLocked(conn, now)
	u, ok := s.repos.Users.ByConnectionID(conn)
	var stopped []domain.Recording
	if ok {
		if u.Online {
			u.SetOffline(now)
			if err := s.repos.Users.Update(u); err != nil {
				s.log.Warn("set offline on disconnect", "user_id", u.UserID, "err", err)
			}
		}
		stopped = s.endActiveSessionsLocked(u.UserID, now)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("disconnect for unregistered connection", "connection_id", conn)
		return
	}
	s.metrics.Inc(metrics.UserDisconnected)
	s.log.Info("user disconnected", "user_id", u.UserID, "connection_id", conn, "recordings_stopped", len(stopped))

	s.releaseCaptures(ctx, stopped)
	s.broadcastPresence(ctx)
}

func (s *Service) closeConnectionsToLocked(conn identity.ConnectionID, now time.Time) {
	for _, c := range s.repos.Connections.ByConnectionID(conn) {
		if !c.Active {
			continue
		}
		sess, ok := s.repos.Sessions.Get(c.SessionID)
		if !ok {
			continue
		}
		owned := sess.Connection(c.ID)
		if owned == nil || owned.Close(now) != nil {
			continue
		}
		if err := s.persistLocked(sess); err != nil {
			s.log.Warn("close viewer connection", "session_id", sess.ID, "connection_id", conn, "err", err)
		}
	}
}

// GetOnlineUsers returns the presence snapshot sorted by UserID. Viewer
// placeholders are left out.
func (s *Service) GetOnlineUsers() []OnlineUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineUsersLocked()
}

func (s *Service) onlineUsersLocked() []OnlineUser {
	sharing := make(map[identity.UserID]bool)
	for _, sess := range s.repos.Sessions.Active() {
		if sess.Sharing {
			sharing[sess.UserID] = true
		}
	}
	var out []OnlineUser
	for _, u := range s.repos.Users.Online() {
		if u.UserID.IsViewerPlaceholder() {
			continue
		}
		out = append(out, OnlineUser{UserID: u.UserID, IsSharing: sharing[u.UserID], StartTime: u.OnlineSince})
	}
	slices.SortFunc(out, func(a, b OnlineUser) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out
}

// Ping refreshes activity for rawConn and replies with the server time.
func (s *Service) Ping(ctx context.Context, rawConn string) error {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return err
	}
	now := s.touch(conn)
	err = s.messenger.DeliverToOne(ctx, conn, EventPong, now.UTC())
	s.metrics.Delivery(string(EventPong), err)
	if err != nil {
		return capabilityFailure("deliver pong", err)
	}
	return nil
}

// KeepAlive refreshes activity for rawConn and acknowledges it.
func (s *Service) KeepAlive(ctx context.Context, rawConn string) error {
	conn, err := identity.ParseConnectionID(rawConn)
	if err != nil {
		return err
	}
	s.touch(conn)
	err = s.messenger.DeliverToOne(ctx, conn, EventKeepAliveResponse, "OK")
	s.metrics.Delivery(string(EventKeepAliveResponse), err)
	if err != nil {
		return capabilityFailure("deliver keepalive", err)
	}
	return nil
}

func (s *Service) touch(conn identity.ConnectionID) time.Time {
	now := s.now()
	s.mu.Lock()
	s.touchLocked(conn, now)
	s.mu.Unlock()
	return now
}

func (s *Service) touchLocked(conn identity.ConnectionID, now time.Time) {
	u, ok := s.repos.Users.ByConnectionID(conn)
	if !ok {
		return
	}
	u.UpdateActivity(now)
	if err := s.repos.Users.Update(u); err != nil {
		s.log.Debug("refresh activity", "user_id", u.UserID, "err", err)
	}
}

// broadcastPresence sends the current snapshot to every peer. Delivery
// failures are logged and counted only.
func (s *Service) broadcastPresence(ctx context.Context) {
	s.mu.Lock()
	users := s.onlineUsersLocked()
	gauges := metrics.Gauges{
		OnlineUsers:      s.repos.Users.OnlineCount(),
		ActiveSessions:   s.repos.Sessions.ActiveCount(),
		SharingSessions:  s.repos.Sessions.SharingCount(),
		ActiveRecordings: s.repos.Recordings.ActiveCount(),
	}
	s.mu.Unlock()
	s.metrics.SetGauges(gauges)

	if users == nil {
		users = []OnlineUser{}
	}
	err := s.messenger.DeliverToAll(ctx, EventOnlineUsersUpdated, users)
	s.metrics.Delivery(string(EventOnlineUsersUpdated), err)
	if err != nil {
		s.log.Warn("broadcast presence", "err", fmt.Errorf("%w: %w", ErrCapabilityFailure, err))
	}
}
