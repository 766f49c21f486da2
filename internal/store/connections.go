package store

import (
	"time"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

type Connections struct {
	*Keyed[domain.Connection]
}

func NewConnections() *Connections {
	return &Connections{NewKeyed("connection",
		func(c domain.Connection) string { return c.ID },
		func(c domain.Connection) domain.Connection { return c },
	)}
}

// ByConnectionID returns every connection record towards the transport
// connection conn, oldest first.
func (r *Connections) ByConnectionID(conn identity.ConnectionID) []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.ConnectionID == conn })
}

func (r *Connections) BySession(sessionID string) []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.SessionID == sessionID })
}

func (r *Connections) Active() []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.Active })
}

func (r *Connections) ByStatus(status domain.ConnectionStatus) []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.Status == status })
}

func (r *Connections) ByType(t domain.ConnectionType) []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.Type == t })
}

func (r *Connections) ByTarget(userID identity.UserID) []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.TargetUserID == userID })
}

func (r *Connections) ActiveCount() int {
	return r.Count(func(c domain.Connection) bool { return c.Active })
}

// AverageDuration averages over closed connections only. It is zero when
// none have closed.
func (r *Connections) AverageDuration() time.Duration {
	closed := r.Filter(func(c domain.Connection) bool { return !c.ClosedAt.IsZero() })
	if len(closed) == 0 {
		return 0
	}
	total := lo.SumBy(closed, func(c domain.Connection) time.Duration { return c.ClosedAt.Sub(c.CreatedAt) })
	return total / time.Duration(len(closed))
}

func (r *Connections) WithErrors() []domain.Connection {
	return r.Filter(func(c domain.Connection) bool { return c.LastError != "" })
}
