package signaling_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/recorder"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/signaling"
)

const testSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n"

type testServer struct {
	url string
	svc *coordinator.Service
	hub *signaling.Hub
}

func startTestServer(t *testing.T, tweak func(*signaling.Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	rec, err := recorder.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	hub := signaling.NewHub(m)
	svc, err := coordinator.New(coordinator.Config{
		Messenger: hub,
		Recorder:  rec,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = svc.Run(ctx)
	}()

	cfg := signaling.Config{
		Coordinator: svc,
		Hub:         hub,
		Logger:      logger,
		Metrics:     m,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	srv, err := signaling.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		cancel()
		<-runDone
	})
	return &testServer{
		url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/webrtc/signal",
		svc: svc,
		hub: hub,
	}
}

// frame is the union of every server frame.
type frame struct {
	Type         string                   `json:"type"`
	ConnectionID string                   `json:"connectionId"`
	UserID       string                   `json:"userId"`
	Event        string                   `json:"event"`
	From         string                   `json:"from"`
	Payload      json.RawMessage          `json:"payload"`
	Users        []coordinator.OnlineUser `json:"users"`
	Code         string                   `json:"code"`
	Message      string                   `json:"message"`
}

type peer struct {
	t    *testing.T
	c    *websocket.Conn
	conn string
}

func dialPeer(t *testing.T, url string) *peer {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	p := &peer{t: t, c: c}
	welcome := p.next()
	if welcome.Type != "welcome" || welcome.ConnectionID == "" {
		t.Fatalf("first frame = %#v, want welcome", welcome)
	}
	p.conn = welcome.ConnectionID
	return p
}

func (p *peer) send(v any) {
	p.t.Helper()
	if err := p.c.WriteJSON(v); err != nil {
		p.t.Fatalf("WriteJSON: %v", err)
	}
}

func (p *peer) next() frame {
	p.t.Helper()
	_ = p.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := p.c.ReadMessage()
	if err != nil {
		p.t.Fatalf("ReadMessage: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		p.t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

// await skips frames until match accepts one.
func (p *peer) await(what string, match func(frame) bool) frame {
	p.t.Helper()
	for i := 0; i < 32; i++ {
		if f := p.next(); match(f) {
			return f
		}
	}
	p.t.Fatalf("no %s frame", what)
	return frame{}
}

func (p *peer) awaitEvent(event string) frame {
	p.t.Helper()
	return p.await(event, func(f frame) bool { return f.Type == "event" && f.Event == event })
}

func (p *peer) awaitType(typ string) frame {
	p.t.Helper()
	return p.await(typ, func(f frame) bool { return f.Type == typ })
}

func (p *peer) register(userID string) {
	p.t.Helper()
	p.send(map[string]any{"type": "register", "userId": userID})
	if got := p.awaitType("registered"); got.UserID != userID {
		p.t.Fatalf("registered as %q, want %q", got.UserID, userID)
	}
}

func TestWebSocket_SharerViewerExchange(t *testing.T) {
	ts := startTestServer(t, nil)

	alice := dialPeer(t, ts.url)
	alice.register("alice")
	bob := dialPeer(t, ts.url)
	bob.register("bob")

	bob.send(map[string]any{"type": "requestStream", "targetUserId": "alice"})
	req := alice.awaitEvent("StreamRequested")
	var viewer string
	if err := json.Unmarshal(req.Payload, &viewer); err != nil || viewer != bob.conn {
		t.Fatalf("StreamRequested payload=%s err=%v, want %q", req.Payload, err, bob.conn)
	}

	alice.send(map[string]any{"type": "offer", "sdp": map[string]any{"type": "offer", "sdp": testSDP}})
	offer := bob.awaitEvent("ReceiveOffer")
	if offer.From != alice.conn {
		t.Fatalf("offer from %q, want %q", offer.From, alice.conn)
	}
	var desc struct{ Type, SDP string }
	if err := json.Unmarshal(offer.Payload, &desc); err != nil || desc.Type != "offer" || desc.SDP != testSDP {
		t.Fatalf("offer payload=%s err=%v", offer.Payload, err)
	}

	bob.send(map[string]any{"type": "answer", "sdp": map[string]any{"type": "answer", "sdp": testSDP}})
	if answer := alice.awaitEvent("ReceiveAnswer"); answer.From != bob.conn {
		t.Fatalf("answer from %q, want %q", answer.From, bob.conn)
	}

	bob.send(map[string]any{"type": "candidate", "candidate": map[string]any{
		"candidate":     "candidate:1 1 udp 2130706431 10.0.0.2 50000 typ host",
		"sdpMid":        "0",
		"sdpMLineIndex": 0,
	}})
	if cand := alice.awaitEvent("ReceiveIceCandidate"); cand.From != bob.conn {
		t.Fatalf("candidate from %q, want %q", cand.From, bob.conn)
	}

	alice.send(map[string]any{"type": "getOnlineUsers"})
	users := alice.awaitType("onlineUsers").Users
	sharing := map[string]bool{}
	for _, u := range users {
		sharing[string(u.UserID)] = u.IsSharing
	}
	if len(sharing) != 2 || !sharing["alice"] || sharing["bob"] {
		t.Fatalf("onlineUsers = %+v", users)
	}

	_ = bob.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.c.Close()
	alice.await("presence without bob", func(f frame) bool {
		if f.Type != "event" || f.Event != "OnlineUsersUpdated" {
			return false
		}
		var snapshot []coordinator.OnlineUser
		if err := json.Unmarshal(f.Payload, &snapshot); err != nil {
			t.Fatalf("unmarshal presence: %v", err)
		}
		return len(snapshot) == 1 && snapshot[0].UserID == "alice"
	})

	u, ok := ts.svc.Repos().Users.ByUserID("bob")
	if !ok || u.Online {
		t.Fatalf("bob after disconnect: %+v ok=%v", u, ok)
	}
}

func TestWebSocket_OperationErrorKeepsSocketOpen(t *testing.T) {
	ts := startTestServer(t, nil)
	p := dialPeer(t, ts.url)

	p.send(map[string]any{"type": "register", "userId": "no spaces"})
	if got := p.awaitType("error"); got.Code != "invalid_identity" {
		t.Fatalf("error code=%q, want invalid_identity", got.Code)
	}

	p.register("carol")
	p.send(map[string]any{"type": "ping"})
	p.awaitEvent("Pong")
	p.send(map[string]any{"type": "keepAlive"})
	if got := p.awaitEvent("KeepAliveResponse"); string(got.Payload) != `"OK"` {
		t.Fatalf("keepAlive payload=%s", got.Payload)
	}
}

func TestWebSocket_DesktopRegistration(t *testing.T) {
	ts := startTestServer(t, nil)
	p := dialPeer(t, ts.url)

	p.send(map[string]any{"type": "registerDesktop", "clientId": "PC 01", "groupId": "lab"})
	if got := p.awaitType("registered"); got.UserID != "lab_pc_01" {
		t.Fatalf("registered as %q, want lab_pc_01", got.UserID)
	}
}

func expectClose(t *testing.T, p *peer, code int) {
	t.Helper()
	_ = p.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := p.c.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("expected close code %d, got %v", code, err)
		}
		return
	}
}

func TestWebSocket_BadMessageCloses(t *testing.T) {
	ts := startTestServer(t, nil)
	p := dialPeer(t, ts.url)

	p.send(map[string]any{"type": "bogus"})
	if got := p.awaitType("error"); got.Code != "bad_message" {
		t.Fatalf("error code=%q, want bad_message", got.Code)
	}
	expectClose(t, p, websocket.ClosePolicyViolation)
}

func TestWebSocket_BinaryMessageCloses(t *testing.T) {
	ts := startTestServer(t, nil)
	p := dialPeer(t, ts.url)

	if err := p.c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	expectClose(t, p, websocket.CloseUnsupportedData)
}

func TestWebSocket_RateLimitCloses(t *testing.T) {
	ts := startTestServer(t, func(cfg *signaling.Config) {
		cfg.MaxMessagesPerSecond = 1
	})
	p := dialPeer(t, ts.url)

	for i := 0; i < 5; i++ {
		if err := p.c.WriteJSON(map[string]any{"type": "keepAlive"}); err != nil {
			break
		}
	}
	if got := p.awaitType("error"); got.Code != "rate_limited" {
		t.Fatalf("error code=%q, want rate_limited", got.Code)
	}
	expectClose(t, p, websocket.ClosePolicyViolation)
}

func TestWebSocket_OversizedMessageCloses(t *testing.T) {
	ts := startTestServer(t, func(cfg *signaling.Config) {
		cfg.MaxMessageBytes = 128
	})
	p := dialPeer(t, ts.url)

	_ = p.c.WriteJSON(map[string]any{"type": "register", "userId": strings.Repeat("a", 512)})
	expectClose(t, p, websocket.CloseMessageTooBig)
}
