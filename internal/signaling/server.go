package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/store"
)

const (
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultSendQueueLength      = 64
)

const wsWriteWait = 1 * time.Second

// Coordinator is the set of coordinator operations a socket can trigger.
type Coordinator interface {
	RegisterUser(ctx context.Context, userID, conn string, typ domain.UserType, groupID string) (*domain.User, error)
	RegisterDesktopClient(ctx context.Context, clientID, groupID, conn string) (*domain.User, error)
	GetOnlineUsers() []coordinator.OnlineUser
	RouteOffer(ctx context.Context, sender string, payload json.RawMessage) error
	RouteAnswer(ctx context.Context, sender string, payload json.RawMessage) error
	RouteIceCandidate(ctx context.Context, sender string, payload json.RawMessage) error
	RequestStream(ctx context.Context, viewer, targetUserID string) error
	StopStream(ctx context.Context, conn string) error
	Ping(ctx context.Context, conn string) error
	KeepAlive(ctx context.Context, conn string) error
	HandleDisconnect(ctx context.Context, conn string)
}

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Coordinator Coordinator
	Hub         *Hub

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// IdleTimeout closes sockets that send nothing, pongs included, for this
	// long. PingInterval should be well below it.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	SendQueueLength int
}

// Server implements the WebSocket signaling endpoint:
//
//   - GET /webrtc/signal : presence, pairing and offer/answer/candidate relay
type Server struct {
	cfg Config
	log *slog.Logger

	wg sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("signaling: coordinator is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("signaling: hub is required")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = DefaultSendQueueLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, log: logger}, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webrtc/signal", s.handleWebSocketSignal)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close closes every open socket and waits for their disconnect handling
// to finish.
func (s *Server) Close() {
	s.cfg.Hub.CloseAll()
	s.wg.Wait()
}

func (s *Server) handleWebSocketSignal(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// Origin checks are enforced by the outer httpserver origin middleware.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := identity.NewConnectionID()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	wss := &wsSession{
		srv:    s,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		log:    s.log.With("connection_id", id),
		limiter: rate.NewLimiter(
			rate.Limit(s.cfg.MaxMessagesPerSecond),
			s.cfg.MaxMessagesPerSecond,
		),
	}
	wss.client = &client{
		id:    id,
		send:  make(chan []byte, s.cfg.SendQueueLength),
		done:  make(chan struct{}),
		close: wss.Close,
	}

	s.wg.Add(1)
	defer s.wg.Done()
	wss.run()
}

type wsSession struct {
	srv    *Server
	conn   *websocket.Conn
	client *client
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	limiter *rate.Limiter

	writeMu   sync.Mutex
	writers   sync.WaitGroup
	closeOnce sync.Once
}

func (wss *wsSession) id() string { return string(wss.client.id) }

func (wss *wsSession) run() {
	hub := wss.srv.cfg.Hub
	m := wss.srv.cfg.Metrics

	hub.add(wss.client)
	m.SocketOpened()
	wss.log.Debug("signaling socket opened")
	defer func() {
		wss.Close()
		wss.writers.Wait()
		wss.srv.cfg.Coordinator.HandleDisconnect(context.WithoutCancel(wss.ctx), wss.id())
		m.SocketClosed()
		wss.log.Debug("signaling socket closed")
	}()

	wss.writers.Add(1)
	go wss.writeLoop()

	if err := wss.reply(welcomeMessage{Type: messageTypeWelcome, ConnectionID: wss.client.id}); err != nil {
		return
	}

	idle := wss.srv.cfg.IdleTimeout
	wss.conn.SetReadLimit(wss.srv.cfg.MaxMessageBytes)
	_ = wss.conn.SetReadDeadline(time.Now().Add(idle))
	wss.conn.SetPongHandler(func(string) error {
		return wss.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				wss.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				wss.closeWith(websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		_ = wss.conn.SetReadDeadline(time.Now().Add(idle))

		// Rate limit after reading so the close frame is not lost behind
		// unread bytes.
		if !wss.limiter.Allow() {
			m.Inc(metrics.DropReasonRateLimited)
			wss.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			m.Inc(metrics.BadMessage)
			wss.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			m.Inc(metrics.BadMessage)
			wss.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}
		if msg.Type == messageTypeClose {
			wss.closeWith(websocket.CloseNormalClosure, "")
			return
		}

		if err := wss.dispatch(msg); err != nil {
			code := errorCode(err)
			wss.log.Debug("signaling request failed", "type", msg.Type, "code", code, "err", err)
			if err := wss.reply(errorMessage{Type: messageTypeError, Code: code, Message: err.Error()}); err != nil {
				return
			}
		}
	}
}

func (wss *wsSession) dispatch(msg clientMessage) error {
	c := wss.srv.cfg.Coordinator
	ctx := wss.ctx
	conn := wss.id()

	switch msg.Type {
	case messageTypeRegister:
		u, err := c.RegisterUser(ctx, msg.UserID, conn, domain.UserTypeWebClient, msg.GroupID)
		if err != nil {
			return err
		}
		return wss.reply(registeredMessage{Type: messageTypeRegistered, UserID: u.UserID})
	case messageTypeRegisterDesktop:
		u, err := c.RegisterDesktopClient(ctx, msg.ClientID, msg.GroupID, conn)
		if err != nil {
			return err
		}
		return wss.reply(registeredMessage{Type: messageTypeRegistered, UserID: u.UserID})
	case messageTypeGetOnlineUsers:
		users := c.GetOnlineUsers()
		if users == nil {
			users = []coordinator.OnlineUser{}
		}
		return wss.reply(onlineUsersMessage{Type: messageTypeOnlineUsers, Users: users})
	case messageTypeOffer:
		payload, err := json.Marshal(msg.SDP)
		if err != nil {
			return err
		}
		return c.RouteOffer(ctx, conn, payload)
	case messageTypeAnswer:
		payload, err := json.Marshal(msg.SDP)
		if err != nil {
			return err
		}
		return c.RouteAnswer(ctx, conn, payload)
	case messageTypeCandidate:
		payload, err := json.Marshal(msg.Candidate)
		if err != nil {
			return err
		}
		return c.RouteIceCandidate(ctx, conn, payload)
	case messageTypeRequestStream:
		return c.RequestStream(ctx, conn, msg.TargetUserID)
	case messageTypeStopStream:
		return c.StopStream(ctx, conn)
	case messageTypePing:
		return c.Ping(ctx, conn)
	case messageTypeKeepAlive:
		return c.KeepAlive(ctx, conn)
	}
	return &protocolError{Code: "bad_message", Message: fmt.Sprintf("unexpected message type %q", msg.Type)}
}

type protocolError struct {
	Code    string
	Message string
}

func (e *protocolError) Error() string { return e.Code + ": " + e.Message }

// errorCode maps an operation error to the code sent in an error frame.
func errorCode(err error) string {
	var protoErr *protocolError
	switch {
	case errors.As(err, &protoErr):
		return protoErr.Code
	case errors.Is(err, identity.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, coordinator.ErrCapabilityFailure):
		return "capability_failure"
	}
	return "internal_error"
}

// reply queues a frame for this socket only.
func (wss *wsSession) reply(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = wss.client.enqueue(frame)
	if errors.Is(err, errSendQueueFull) {
		wss.srv.cfg.Metrics.Inc(metrics.DropReasonQueueFull)
	}
	return err
}

func (wss *wsSession) writeLoop() {
	defer wss.writers.Done()
	ticker := time.NewTicker(wss.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wss.client.done:
			return
		case frame := <-wss.client.send:
			if err := wss.write(websocket.TextMessage, frame); err != nil {
				wss.Close()
				return
			}
		case <-ticker.C:
			wss.writeMu.Lock()
			err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wss.writeMu.Unlock()
			if err != nil {
				wss.Close()
				return
			}
		}
	}
}

func (wss *wsSession) write(msgType int, data []byte) error {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(msgType, data)
}

// fail writes an error frame directly, skipping the queue, then closes.
func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) {
	if frame, err := json.Marshal(errorMessage{Type: messageTypeError, Code: code, Message: message}); err == nil {
		_ = wss.write(websocket.TextMessage, frame)
	}
	wss.closeWith(closeCode, closeReason)
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		wss.srv.cfg.Hub.remove(wss.client.id)
		close(wss.client.done)
		wss.cancel()
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Coordinator = (*coordinator.Service)(nil)
