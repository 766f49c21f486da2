package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/mocks"
)

var offerSDP = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

func register(t *testing.T, svc *coordinator.Service, userID, conn string) {
	t.Helper()
	if _, err := svc.RegisterUser(context.Background(), userID, conn, domain.UserTypeWebClient, ""); err != nil {
		t.Fatalf("RegisterUser(%s): %v", userID, err)
	}
}

func TestScenario_RequestedOfferReachesOnlyTheViewer(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	register(t, h.svc, "carol", connCarol)

	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))
	requested := msgr.events(coordinator.EventStreamRequested)
	req.Len(requested, 1)
	req.Equal(toOne, requested[0].kind)
	req.Equal(identity.ConnectionID(connAlice), requested[0].conn)
	req.Equal(identity.ConnectionID(connBob), requested[0].payload)

	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	offers := msgr.events(coordinator.EventReceiveOffer)
	req.Len(offers, 1)
	req.True(offers[0].reaches(connBob))
	req.False(offers[0].reaches(connCarol))
	req.False(offers[0].reaches(connAlice))
	req.Equal(coordinator.Signal{From: connAlice, Data: offerSDP}, offers[0].payload)

	// The pending entry was consumed, so the next offer is broadcast.
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	offers = msgr.events(coordinator.EventReceiveOffer)
	req.Len(offers, 2)
	req.Equal(toAllExcept, offers[1].kind)
	req.True(offers[1].reaches(connBob))
	req.True(offers[1].reaches(connCarol))
	req.False(offers[1].reaches(connAlice))
}

func TestRouteOffer_MarksSenderSharing(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))

	msgr.reset()
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	h.waitCapture(t)

	active := h.svc.Repos().Sessions.ActiveByUser("alice")
	req.Len(active, 1)
	sess := active[0]
	req.True(sess.Sharing)
	req.Len(sess.Recordings, 1)
	req.Len(sess.Connections, 1)
	req.Equal(identity.ConnectionID(connBob), sess.Connections[0].ConnectionID)
	req.Equal(identity.UserID("bob"), sess.Connections[0].TargetUserID)
	req.Equal(domain.ConnectionConnecting, sess.Connections[0].Status)

	updates := msgr.events(coordinator.EventOnlineUsersUpdated)
	req.NotEmpty(updates)
	snapshot := updates[len(updates)-1].payload.([]coordinator.OnlineUser)
	req.Len(snapshot, 2)
	req.Equal(identity.UserID("alice"), snapshot[0].UserID)
	req.True(snapshot[0].IsSharing)
	req.False(snapshot[1].IsSharing)

	// A later offer reuses the sharing session.
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	req.Len(h.svc.Repos().Sessions.ByUser("alice"), 1)
}

func TestRequestStream_LastRequestWins(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	register(t, h.svc, "carol", connCarol)

	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))
	req.NoError(h.svc.RequestStream(ctx, connCarol, "alice"))
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))

	offers := msgr.events(coordinator.EventReceiveOffer)
	req.Len(offers, 1)
	req.Equal(toOne, offers[0].kind)
	req.Equal(identity.ConnectionID(connCarol), offers[0].conn)
}

func TestRequestStream_UnknownOrOfflineTargetIsNoop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	msgr := mocks.NewMockMessenger(ctrl)
	rec := mocks.NewMockRecorder(ctrl)
	h := newHarness(t, msgr, rec)
	ctx := context.Background()

	req.NoError(h.svc.RequestStream(ctx, connBob, "nobody"))

	msgr.EXPECT().DeliverToAll(gomock.Any(), coordinator.EventOnlineUsersUpdated, gomock.Any()).Return(nil).Times(2)
	register(t, h.svc, "alice", connAlice)
	_, err := h.svc.SetOffline(ctx, "alice")
	req.NoError(err)

	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))

	_, err = h.svc.RegisterUser(ctx, "x", connAlice, domain.UserTypeWebClient, "")
	req.ErrorIs(err, identity.ErrInvalidIdentity)
	req.ErrorIs(h.svc.RequestStream(ctx, "bad", "alice"), identity.ErrInvalidIdentity)
}

func TestRequestStream_DeliveryFailureIsCapabilityFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	msgr := mocks.NewMockMessenger(ctrl)
	h := newHarness(t, msgr, mocks.NewMockRecorder(ctrl))
	ctx := context.Background()

	msgr.EXPECT().DeliverToAll(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	msgr.EXPECT().
		DeliverToOne(gomock.Any(), identity.ConnectionID(connAlice), coordinator.EventStreamRequested, identity.ConnectionID(connBob)).
		Return(errors.New("socket gone")).
		Times(1)

	register(t, h.svc, "alice", connAlice)
	err := h.svc.RequestStream(ctx, connBob, "alice")
	req.ErrorIs(err, coordinator.ErrCapabilityFailure)
}

func TestRouteAnswer_BroadcastsAndMarksConnectionConnected(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	req.NoError(h.svc.RouteAnswer(ctx, connBob, answer))

	answers := msgr.events(coordinator.EventReceiveAnswer)
	req.Len(answers, 1)
	req.Equal(toAllExcept, answers[0].kind)
	req.Equal(identity.ConnectionID(connBob), answers[0].conn)

	conns := h.svc.Repos().Connections.ByConnectionID(connBob)
	req.Len(conns, 1)
	req.Equal(domain.ConnectionConnected, conns[0].Status)
}

func TestRouteIceCandidate_AlwaysBroadcasts(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	req.NoError(h.svc.RequestStream(ctx, connAlice, "bob"))

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)
	req.NoError(h.svc.RouteIceCandidate(ctx, connBob, cand))

	got := msgr.events(coordinator.EventReceiveIceCandidate)
	req.Len(got, 1)
	req.Equal(toAllExcept, got[0].kind)
	req.Equal(coordinator.Signal{From: connBob, Data: cand}, got[0].payload)
}

func TestHandleDisconnect_UnknownConnectionIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t, mocks.NewMockMessenger(ctrl), mocks.NewMockRecorder(ctrl))

	h.svc.HandleDisconnect(context.Background(), connAlice)
	h.svc.HandleDisconnect(context.Background(), "bad")
	require.Zero(t, h.svc.Repos().Users.Len())
}

func TestHandleDisconnect_RunsCascade(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	rec := &fakeRecorder{size: 99}
	h := newHarness(t, msgr, rec)
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	res := h.waitCapture(t)
	req.NoError(res.Err)

	h.svc.HandleDisconnect(ctx, connAlice)

	alice, _ := h.svc.Repos().Users.ByUserID("alice")
	req.False(alice.Online)
	req.Empty(h.svc.Repos().Sessions.ActiveByUser("alice"))
	req.Empty(h.svc.Repos().Connections.Active())

	stored, _ := h.svc.Repos().Recordings.Get(res.RecordingID)
	req.Equal(domain.RecordingCompleted, stored.Status)
	req.Equal(int64(99), stored.FileSize)
	req.Equal([]string{res.Handle}, rec.endedHandles())

	users := h.svc.GetOnlineUsers()
	req.Len(users, 1)
	req.Equal(identity.UserID("bob"), users[0].UserID)

	// A duplicate disconnect changes nothing.
	h.svc.HandleDisconnect(ctx, connAlice)
	req.Len(rec.endedHandles(), 1)
}

func TestHandleDisconnect_ViewerDropClearsPendingEntry(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	register(t, h.svc, "carol", connCarol)
	req.NoError(h.svc.RequestStream(ctx, connBob, "alice"))

	h.svc.HandleDisconnect(ctx, connBob)
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))

	offers := msgr.events(coordinator.EventReceiveOffer)
	req.Len(offers, 1)
	req.Equal(toAllExcept, offers[0].kind)
}

func TestHandleDisconnect_CompletesWhenBroadcastFails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	msgr := mocks.NewMockMessenger(ctrl)
	h := newHarness(t, msgr, mocks.NewMockRecorder(ctrl))
	ctx := context.Background()

	msgr.EXPECT().DeliverToAll(gomock.Any(), coordinator.EventOnlineUsersUpdated, gomock.Any()).
		Return(errors.New("hub closed")).
		AnyTimes()

	register(t, h.svc, "alice", connAlice)
	sess, err := h.svc.StartSession(ctx, "alice")
	req.NoError(err)

	h.svc.HandleDisconnect(ctx, connAlice)

	alice, _ := h.svc.Repos().Users.ByUserID("alice")
	req.False(alice.Online)
	stored, _ := h.svc.Repos().Sessions.Get(sess.ID)
	req.False(stored.Active)
	req.Equal(domain.SessionEnded, stored.Status)
}

func TestGetOnlineUsers_Snapshot(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, &fakeMessenger{}, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "zed", "conn-zed-000001")
	register(t, h.svc, "alice", connAlice)
	register(t, h.svc, "bob", connBob)
	register(t, h.svc, "viewer_bob", connCarol)
	_, err := h.svc.SetOffline(ctx, "bob")
	req.NoError(err)

	sess, err := h.svc.StartSession(ctx, "zed")
	req.NoError(err)
	_, err = h.svc.StartSharing(ctx, sess.ID)
	req.NoError(err)
	h.waitCapture(t)

	type row struct {
		UserID    identity.UserID
		IsSharing bool
	}
	var got []row
	for _, u := range h.svc.GetOnlineUsers() {
		req.False(u.StartTime.IsZero())
		got = append(got, row{u.UserID, u.IsSharing})
	}
	want := []row{{"alice", false}, {"zed", true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("online users mismatch (-want +got):\n%s", diff)
	}
}

func TestStopStream_EndsSharingSessions(t *testing.T) {
	req := require.New(t)
	rec := &fakeRecorder{size: 10}
	h := newHarness(t, &fakeMessenger{}, rec)
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	req.NoError(h.svc.RouteOffer(ctx, connAlice, offerSDP))
	res := h.waitCapture(t)

	req.NoError(h.svc.StopStream(ctx, connAlice))

	req.Empty(h.svc.Repos().Sessions.ActiveByUser("alice"))
	stored, _ := h.svc.Repos().Recordings.Get(res.RecordingID)
	req.Equal(domain.RecordingCompleted, stored.Status)
	req.Equal(int64(10), stored.FileSize)
	req.Equal([]string{res.Handle}, rec.endedHandles())

	alice, _ := h.svc.Repos().Users.ByUserID("alice")
	req.True(alice.Online, "stopping a stream keeps the user online")
	req.NoError(h.svc.StopStream(ctx, "conn-unknown-1"))
}

func TestPingAndKeepAlive_Reply(t *testing.T) {
	req := require.New(t)
	msgr := &fakeMessenger{}
	h := newHarness(t, msgr, &fakeRecorder{})
	ctx := context.Background()

	register(t, h.svc, "alice", connAlice)
	before, _ := h.svc.Repos().Users.ByUserID("alice")

	req.NoError(h.svc.Ping(ctx, connAlice))
	req.NoError(h.svc.KeepAlive(ctx, connAlice))

	pongs := msgr.events(coordinator.EventPong)
	req.Len(pongs, 1)
	req.Equal(identity.ConnectionID(connAlice), pongs[0].conn)

	acks := msgr.events(coordinator.EventKeepAliveResponse)
	req.Len(acks, 1)
	req.Equal("OK", acks[0].payload)

	after, _ := h.svc.Repos().Users.ByUserID("alice")
	req.False(after.LastActivity.Before(before.LastActivity))
}
