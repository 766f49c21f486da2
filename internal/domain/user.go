package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

// User is a participant known to the coordinator. Users are soft-offlined on
// disconnect rather than removed.
type User struct {
	ID           string                `json:"id"`
	UserID       identity.UserID       `json:"userId"`
	ConnectionID identity.ConnectionID `json:"connectionId"`
	CreatedAt    time.Time             `json:"createdAt"`
	LastActivity time.Time             `json:"lastActivity"`
	OnlineSince  time.Time             `json:"onlineSince,omitzero"`
	Online       bool                  `json:"isOnline"`
	Type         UserType              `json:"type"`
	GroupID      string                `json:"groupId,omitempty"`

	// SessionIDs lists owned sessions in the order they were started.
	SessionIDs []string `json:"sessionIds"`
}

func NewUser(userID identity.UserID, conn identity.ConnectionID, typ UserType, groupID string, now time.Time) *User {
	return &User{
		ID:           uuid.NewString(),
		UserID:       userID,
		ConnectionID: conn,
		CreatedAt:    now,
		LastActivity: now,
		OnlineSince:  now,
		Online:       true,
		Type:         typ,
		GroupID:      groupID,
	}
}

func (u *User) UpdateActivity(now time.Time) { u.LastActivity = now }

// SetOnline marks the user online on conn. OnlineSince only moves when the
// user was offline or switched connections.
func (u *User) SetOnline(conn identity.ConnectionID, now time.Time) {
	if !u.Online || u.ConnectionID != conn {
		u.OnlineSince = now
	}
	u.ConnectionID = conn
	u.Online = true
	u.LastActivity = now
}

func (u *User) SetOffline(now time.Time) {
	u.Online = false
	u.LastActivity = now
}

func (u *User) UpdateConnectionID(conn identity.ConnectionID, now time.Time) {
	u.ConnectionID = conn
	u.LastActivity = now
}

func (u *User) UpdateGroupID(groupID string) { u.GroupID = groupID }

// AddSession records ownership of sessionID. Adding the same id twice is a
// no-op.
func (u *User) AddSession(sessionID string) {
	if slices.Contains(u.SessionIDs, sessionID) {
		return
	}
	u.SessionIDs = append(u.SessionIDs, sessionID)
}

// LatestSessionID returns the most recently started session id, if any.
func (u *User) LatestSessionID() (string, bool) {
	if len(u.SessionIDs) == 0 {
		return "", false
	}
	return u.SessionIDs[len(u.SessionIDs)-1], true
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.SessionIDs = slices.Clone(u.SessionIDs)
	return &out
}
