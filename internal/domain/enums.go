package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when an operation is not allowed from the
// entity's current lifecycle state.
var ErrInvalidState = errors.New("invalid state")

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

type UserType int

const (
	UserTypeWebClient UserType = iota
	UserTypeDesktopClient
)

var userTypeNames = []string{"web_client", "desktop_client"}

func (t UserType) String() string { return enumName(userTypeNames, int(t)) }

func (t UserType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *UserType) UnmarshalText(b []byte) error {
	return parseEnum(userTypeNames, "user type", b, (*int)(t))
}

type SessionStatus int

const (
	SessionCreated SessionStatus = iota
	SessionConnected
	SessionSharing
	SessionEnded
	SessionError
)

var sessionStatusNames = []string{"created", "connected", "sharing", "ended", "error"}

func (s SessionStatus) String() string { return enumName(sessionStatusNames, int(s)) }

func (s SessionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SessionStatus) UnmarshalText(b []byte) error {
	return parseEnum(sessionStatusNames, "session status", b, (*int)(s))
}

// Terminal reports whether no transition may leave s.
func (s SessionStatus) Terminal() bool { return s == SessionEnded || s == SessionError }

type ConnectionStatus int

const (
	ConnectionConnecting ConnectionStatus = iota
	ConnectionConnected
	ConnectionDisconnected
	ConnectionClosed
	ConnectionError
)

var connectionStatusNames = []string{"connecting", "connected", "disconnected", "closed", "error"}

func (s ConnectionStatus) String() string { return enumName(connectionStatusNames, int(s)) }

func (s ConnectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionStatus) UnmarshalText(b []byte) error {
	return parseEnum(connectionStatusNames, "connection status", b, (*int)(s))
}

type ConnectionType int

const (
	ConnectionWebRTC ConnectionType = iota
	// ConnectionTransport is the signaling transport connection itself.
	ConnectionTransport
	ConnectionHTTP
)

var connectionTypeNames = []string{"webrtc", "transport", "http"}

func (t ConnectionType) String() string { return enumName(connectionTypeNames, int(t)) }

func (t ConnectionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ConnectionType) UnmarshalText(b []byte) error {
	return parseEnum(connectionTypeNames, "connection type", b, (*int)(t))
}

type RecordingStatus int

const (
	RecordingActive RecordingStatus = iota
	RecordingPaused
	RecordingCompleted
	RecordingFailed
	RecordingCancelled
)

var recordingStatusNames = []string{"recording", "paused", "completed", "error", "cancelled"}

func (s RecordingStatus) String() string { return enumName(recordingStatusNames, int(s)) }

func (s RecordingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RecordingStatus) UnmarshalText(b []byte) error {
	return parseEnum(recordingStatusNames, "recording status", b, (*int)(s))
}

// Quality is a recording quality tier. Values are wire-stable.
type Quality int

const (
	QualityLow      Quality = 1
	QualityMedium   Quality = 2
	QualityStandard Quality = 3
	QualityHigh     Quality = 4
	QualityUltra    Quality = 5

	DefaultQuality = QualityStandard
)

var qualityNames = []string{"low", "medium", "standard", "high", "ultra_high"}

func (q Quality) Valid() bool { return q >= QualityLow && q <= QualityUltra }

func (q Quality) String() string { return enumName(qualityNames, int(q)-1) }

func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *Quality) UnmarshalText(b []byte) error {
	var idx int
	if err := parseEnum(qualityNames, "recording quality", b, &idx); err != nil {
		return err
	}
	*q = Quality(idx + 1)
	return nil
}

// ParseQuality accepts either a tier name ("high") or its numeric value ("4").
func ParseQuality(raw string) (Quality, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if len(raw) == 1 && raw[0] >= '1' && raw[0] <= '5' {
		return Quality(raw[0] - '0'), nil
	}
	var q Quality
	if err := q.UnmarshalText([]byte(raw)); err != nil {
		return 0, err
	}
	return q, nil
}

func enumName(names []string, idx int) string {
	if idx < 0 || idx >= len(names) {
		return fmt.Sprintf("unknown(%d)", idx)
	}
	return names[idx]
}

func parseEnum(names []string, kind string, b []byte, out *int) error {
	raw := strings.ToLower(strings.TrimSpace(string(b)))
	for i, name := range names {
		if raw == name {
			*out = i
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (expected one of %s)", kind, string(b), strings.Join(names, ", "))
}
