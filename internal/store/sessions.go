package store

import (
	"time"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

type Sessions struct {
	*Keyed[*domain.Session]
}

func NewSessions() *Sessions {
	return &Sessions{NewKeyed("session",
		func(s *domain.Session) string { return s.ID },
		(*domain.Session).Clone,
	)}
}

// ActiveByUser returns the user's active sessions. The coordinator keeps this
// to at most one; the slice form lets callers repair a violation.
func (r *Sessions) ActiveByUser(userID identity.UserID) []*domain.Session {
	return r.Filter(func(s *domain.Session) bool { return s.Active && s.UserID == userID })
}

// ByUser returns every session the user has started, oldest first.
func (r *Sessions) ByUser(userID identity.UserID) []*domain.Session {
	return r.Filter(func(s *domain.Session) bool { return s.UserID == userID })
}

func (r *Sessions) Active() []*domain.Session {
	return r.Filter(func(s *domain.Session) bool { return s.Active })
}

func (r *Sessions) ByStatus(status domain.SessionStatus) []*domain.Session {
	return r.Filter(func(s *domain.Session) bool { return s.Status == status })
}

// StartedBetween returns sessions with from <= StartedAt < to.
func (r *Sessions) StartedBetween(from, to time.Time) []*domain.Session {
	return r.Filter(func(s *domain.Session) bool {
		return !s.StartedAt.Before(from) && s.StartedAt.Before(to)
	})
}

func (r *Sessions) ActiveCount() int {
	return r.Count(func(s *domain.Session) bool { return s.Active })
}

func (r *Sessions) SharingCount() int {
	return r.Count(func(s *domain.Session) bool { return s.Active && s.Sharing })
}

func (r *Sessions) WithRecordings() []*domain.Session {
	return r.Filter(func(s *domain.Session) bool { return len(s.Recordings) > 0 })
}

// TotalDurationByUser sums the duration of every session the user owns,
// counting active sessions up to now.
func (r *Sessions) TotalDurationByUser(userID identity.UserID, now time.Time) time.Duration {
	return lo.SumBy(r.ByUser(userID), func(s *domain.Session) time.Duration {
		return s.Duration(now)
	})
}
