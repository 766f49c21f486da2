package store

import (
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

// Users is keyed by UserID, which makes "one User per UserID" a property of
// the store rather than of its callers.
type Users struct {
	*Keyed[*domain.User]
}

func NewUsers() *Users {
	return &Users{NewKeyed("user",
		func(u *domain.User) string { return string(u.UserID) },
		(*domain.User).Clone,
	)}
}

func (r *Users) ByUserID(id identity.UserID) (*domain.User, bool) {
	return r.Get(string(id))
}

// ByID looks a user up by its internal id.
func (r *Users) ByID(id string) (*domain.User, bool) {
	return r.Find(func(u *domain.User) bool { return u.ID == id })
}

// ByConnectionID prefers the online user holding conn. An offline match is
// returned only when no online user holds it.
func (r *Users) ByConnectionID(conn identity.ConnectionID) (*domain.User, bool) {
	if u, ok := r.Find(func(u *domain.User) bool { return u.Online && u.ConnectionID == conn }); ok {
		return u, true
	}
	return r.Find(func(u *domain.User) bool { return u.ConnectionID == conn })
}

func (r *Users) Online() []*domain.User {
	return r.Filter(func(u *domain.User) bool { return u.Online })
}

func (r *Users) ByType(t domain.UserType) []*domain.User {
	return r.Filter(func(u *domain.User) bool { return u.Type == t })
}

func (r *Users) ByGroup(groupID string) []*domain.User {
	return r.Filter(func(u *domain.User) bool { return u.GroupID == groupID })
}

func (r *Users) Exists(id identity.UserID) bool {
	_, ok := r.Get(string(id))
	return ok
}

func (r *Users) OnlineCount() int {
	return r.Count(func(u *domain.User) bool { return u.Online })
}

// WithActiveSessions returns the users owning at least one active session.
func (r *Users) WithActiveSessions(sessions *Sessions) []*domain.User {
	return r.Filter(func(u *domain.User) bool {
		return len(sessions.ActiveByUser(u.UserID)) > 0
	})
}
