package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

// Connection is a directed link from a sharing session to one remote
// transport connection (usually a viewer).
type Connection struct {
	ID           string                `json:"id"`
	SessionID    string                `json:"sessionId"`
	ConnectionID identity.ConnectionID `json:"connectionId"`
	TargetUserID identity.UserID       `json:"targetUserId,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	ClosedAt     time.Time             `json:"closedAt,omitzero"`
	Active       bool                  `json:"isActive"`
	Status       ConnectionStatus      `json:"status"`
	Type         ConnectionType        `json:"type"`
	LastError    string                `json:"lastError,omitempty"`
}

func NewConnection(sessionID string, conn identity.ConnectionID, target identity.UserID, typ ConnectionType, now time.Time) Connection {
	return Connection{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		ConnectionID: conn,
		TargetUserID: target,
		CreatedAt:    now,
		Active:       true,
		Status:       ConnectionConnecting,
		Type:         typ,
	}
}

func (c *Connection) SetConnected() error {
	if !c.Active {
		return invalidState("connection %s is not active", c.ID)
	}
	c.Status = ConnectionConnected
	return nil
}

func (c *Connection) SetDisconnected() error {
	if !c.Active {
		return invalidState("connection %s is not active", c.ID)
	}
	c.Active = false
	c.Status = ConnectionDisconnected
	return nil
}

func (c *Connection) SetError(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return invalidState("connection error message must not be empty")
	}
	if !c.Active {
		return invalidState("connection %s is not active", c.ID)
	}
	c.Active = false
	c.Status = ConnectionError
	c.LastError = msg
	return nil
}

// Close is the only transition that sets ClosedAt, and only from an active
// state, so ClosedAt is written at most once.
func (c *Connection) Close(now time.Time) error {
	if !c.Active {
		return invalidState("connection %s is already %s", c.ID, c.Status)
	}
	c.Active = false
	c.ClosedAt = now
	c.Status = ConnectionClosed
	return nil
}

// Duration is the time the connection has been (or was) open.
func (c *Connection) Duration(now time.Time) time.Duration {
	if !c.ClosedAt.IsZero() {
		return c.ClosedAt.Sub(c.CreatedAt)
	}
	return now.Sub(c.CreatedAt)
}

func (c *Connection) IsConnectedToUser(userID identity.UserID) bool {
	return c.TargetUserID == userID && c.Active && c.Status == ConnectionConnected
}

func (c *Connection) UpdateTargetUser(userID identity.UserID) { c.TargetUserID = userID }
