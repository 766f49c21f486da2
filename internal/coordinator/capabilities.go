package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

//go:generate go run go.uber.org/mock/mockgen -source=capabilities.go -destination=../mocks/mock_capabilities.go -package=mocks

// Event names delivered through a Messenger.
type Event string

const (
	EventOnlineUsersUpdated  Event = "OnlineUsersUpdated"
	EventReceiveOffer        Event = "ReceiveOffer"
	EventReceiveAnswer       Event = "ReceiveAnswer"
	EventReceiveIceCandidate Event = "ReceiveIceCandidate"
	EventStreamRequested     Event = "StreamRequested"
	EventPong                Event = "Pong"
	EventKeepAliveResponse   Event = "KeepAliveResponse"
)

// Messenger delivers events to remote peers. Implementations should return
// once the message is queued; the coordinator does not wait for delivery.
type Messenger interface {
	DeliverToOne(ctx context.Context, conn identity.ConnectionID, event Event, payload any) error
	DeliverToAll(ctx context.Context, event Event, payload any) error
	DeliverToAllExcept(ctx context.Context, except identity.ConnectionID, event Event, payload any) error
}

// CaptureRequest asks a Recorder to begin capturing a session.
type CaptureRequest struct {
	SessionID   string
	RecordingID string
	UserID      identity.UserID
	Quality     domain.Quality
}

// Recorder starts and stops media capture. The returned handle is opaque to
// the coordinator and is stored as the recording's file path.
type Recorder interface {
	BeginCapture(ctx context.Context, req CaptureRequest) (handle string, err error)
	EndCapture(ctx context.Context, handle string) (fileSizeBytes int64, err error)
}

// Signal is the payload of ReceiveOffer, ReceiveAnswer and
// ReceiveIceCandidate events.
type Signal struct {
	From identity.ConnectionID `json:"from"`
	Data json.RawMessage       `json:"data"`
}

// OnlineUser is one entry of a presence snapshot.
type OnlineUser struct {
	UserID    identity.UserID `json:"userId"`
	IsSharing bool            `json:"isSharing"`
	StartTime time.Time       `json:"startTime"`
}
