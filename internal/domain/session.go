package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

// Session is one sharing attempt by a user. It owns its Connections and
// Recordings; ending it ends them.
type Session struct {
	ID          string          `json:"id"`
	UserID      identity.UserID `json:"userId"`
	StartedAt   time.Time       `json:"startTime"`
	EndedAt     time.Time       `json:"endTime,omitzero"`
	Active      bool            `json:"isActive"`
	Sharing     bool            `json:"isSharing"`
	Status      SessionStatus   `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	Connections []Connection    `json:"connections"`
	Recordings  []Recording     `json:"recordings"`
}

func NewSession(userID identity.UserID, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: now,
		Active:    true,
		Status:    SessionCreated,
	}
}

// MarkConnected moves a freshly created session to Connected.
func (s *Session) MarkConnected() error {
	if !s.Active || s.Status.Terminal() {
		return invalidState("session %s is %s", s.ID, s.Status)
	}
	if s.Status == SessionCreated {
		s.Status = SessionConnected
	}
	return nil
}

func (s *Session) StartSharing() error {
	if !s.Active || s.Status.Terminal() {
		return invalidState("session %s is not active", s.ID)
	}
	if s.Sharing {
		return invalidState("session %s is already sharing", s.ID)
	}
	s.Sharing = true
	s.Status = SessionSharing
	return nil
}

func (s *Session) StopSharing() error {
	if !s.Active || !s.Sharing {
		return invalidState("session %s is not sharing", s.ID)
	}
	s.Sharing = false
	s.Status = SessionConnected
	return nil
}

// End terminates the session and cascades: every active connection is
// closed and every active recording is stopped. It returns the recordings
// that were stopped so the caller can release their captures.
func (s *Session) End(now time.Time) ([]Recording, error) {
	if s.Status.Terminal() {
		return nil, invalidState("session %s is already %s", s.ID, s.Status)
	}
	stopped := s.terminate(now)
	s.Status = SessionEnded
	return stopped, nil
}

// Fail moves the session to Error and runs the same cascade as End.
func (s *Session) Fail(msg string, now time.Time) ([]Recording, error) {
	if s.Status.Terminal() {
		return nil, invalidState("session %s is already %s", s.ID, s.Status)
	}
	stopped := s.terminate(now)
	s.Status = SessionError
	s.LastError = msg
	return stopped, nil
}

func (s *Session) terminate(now time.Time) []Recording {
	s.Active = false
	s.Sharing = false
	s.EndedAt = now

	for i := range s.Connections {
		if s.Connections[i].Active {
			_ = s.Connections[i].Close(now)
		}
	}

	var stopped []Recording
	for i := range s.Recordings {
		if s.Recordings[i].Active {
			_ = s.Recordings[i].Stop(now, s.Recordings[i].FileSize)
			stopped = append(stopped, s.Recordings[i])
		}
	}
	return stopped
}

func (s *Session) AddConnection(c Connection) error {
	if s.Status.Terminal() {
		return invalidState("session %s is %s", s.ID, s.Status)
	}
	c.SessionID = s.ID
	s.Connections = append(s.Connections, c)
	return nil
}

func (s *Session) AddRecording(r Recording) error {
	if !s.Active {
		return invalidState("session %s is not active", s.ID)
	}
	if _, ok := s.ActiveRecording(); ok {
		return invalidState("session %s already has an active recording", s.ID)
	}
	r.SessionID = s.ID
	s.Recordings = append(s.Recordings, r)
	return nil
}

// Connection returns a pointer into the session's connection list.
func (s *Session) Connection(id string) *Connection {
	for i := range s.Connections {
		if s.Connections[i].ID == id {
			return &s.Connections[i]
		}
	}
	return nil
}

// ConnectionTo returns the newest active connection towards conn.
func (s *Session) ConnectionTo(conn identity.ConnectionID) *Connection {
	for i := len(s.Connections) - 1; i >= 0; i-- {
		c := &s.Connections[i]
		if c.Active && c.ConnectionID == conn {
			return c
		}
	}
	return nil
}

// Recording returns a pointer into the session's recording list.
func (s *Session) Recording(id string) *Recording {
	for i := range s.Recordings {
		if s.Recordings[i].ID == id {
			return &s.Recordings[i]
		}
	}
	return nil
}

func (s *Session) RemoveRecording(id string) bool {
	n := len(s.Recordings)
	s.Recordings = slices.DeleteFunc(s.Recordings, func(r Recording) bool { return r.ID == id })
	return len(s.Recordings) != n
}

func (s *Session) ActiveRecording() (*Recording, bool) {
	for i := range s.Recordings {
		if s.Recordings[i].Active {
			return &s.Recordings[i], true
		}
	}
	return nil, false
}

func (s *Session) ActiveConnectionCount() int {
	n := 0
	for _, c := range s.Connections {
		if c.Active {
			n++
		}
	}
	return n
}

func (s *Session) Duration(now time.Time) time.Duration {
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Connections = slices.Clone(s.Connections)
	out.Recordings = slices.Clone(s.Recordings)
	return &out
}
