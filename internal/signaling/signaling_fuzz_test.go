package signaling

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var fuzzSeeds = []string{
	`{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`,
	`{"type":"answer","sdp":{"type":"answer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}}`,
	`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
	`{"type":"register","userId":"alice","groupId":"lab"}`,
	`{"type":"registerDesktop","clientId":"PC 01","groupId":"lab"}`,
	`{"type":"requestStream","targetUserId":"alice"}`,
	`{"type":"getOnlineUsers"}`,
	`{"type":"keepAlive"}`,
	`{"type":"close"}`,
	`{"type":"ping","userId":"alice"}`,
	`{"type":"offer","sdp":{"type":"answer","sdp":"v=0"}}`,
	`{"type":"bogus"}`,
	`{"type":"close"}{"type":"close"}`,
	`[]`,
	``,
}

func FuzzParseClientMessage(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := parseClientMessage(data)
		if err != nil {
			return
		}

		// Accepted messages carry what dispatch needs for their type.
		switch msg.Type {
		case messageTypeRegister:
			if msg.UserID == "" {
				t.Fatalf("register accepted without userId: %q", data)
			}
		case messageTypeRegisterDesktop:
			if msg.ClientID == "" {
				t.Fatalf("registerDesktop accepted without clientId: %q", data)
			}
		case messageTypeOffer, messageTypeAnswer:
			if msg.SDP == nil {
				t.Fatalf("%s accepted without sdp: %q", msg.Type, data)
			}
			if _, err := msg.SDP.ToPion(); err != nil {
				t.Fatalf("accepted sdp does not convert: %v", err)
			}
		case messageTypeCandidate:
			if msg.Candidate == nil {
				t.Fatalf("candidate accepted without candidate: %q", data)
			}
		case messageTypeRequestStream:
			if msg.TargetUserID == "" {
				t.Fatalf("requestStream accepted without targetUserId: %q", data)
			}
		}

		// Re-encoding an accepted message yields the same message.
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		again, err := parseClientMessage(b)
		if err != nil {
			t.Fatalf("re-parse %q: %v", b, err)
		}
		if diff := cmp.Diff(msg, again); diff != "" {
			t.Fatalf("round trip changed the message (-first +second):\n%s", diff)
		}
	})
}
