// Package identity holds the validated identifiers used across the signaling
// coordinator: the user-chosen UserID and the transport-assigned ConnectionID.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MinUserIDLength       = 3
	MaxUserIDLength       = 50
	MinConnectionIDLength = 10

	// ViewerPrefix marks viewer-only placeholder users. They are registered
	// like any other user but never appear in presence snapshots.
	ViewerPrefix = "viewer_"
)

var ErrInvalidIdentity = errors.New("invalid identity")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// UserID identifies a participant. The zero value is not a valid UserID.
type UserID string

// ParseUserID validates raw as a UserID: 3-50 characters drawn from
// [A-Za-z0-9_-].
func ParseUserID(raw string) (UserID, error) {
	if n := len(raw); n < MinUserIDLength || n > MaxUserIDLength {
		return "", fmt.Errorf("%w: user id must be %d-%d characters, got %d", ErrInvalidIdentity, MinUserIDLength, MaxUserIDLength, n)
	}
	if !userIDPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: user id %q may only contain letters, digits, '_' and '-'", ErrInvalidIdentity, raw)
	}
	return UserID(raw), nil
}

func (u UserID) String() string { return string(u) }

// IsViewerPlaceholder reports whether u names a viewer-only placeholder user.
func (u UserID) IsViewerPlaceholder() bool {
	return strings.HasPrefix(string(u), ViewerPrefix)
}

// ConnectionID identifies a single transport connection. A user may hold
// different ConnectionIDs over time as they reconnect.
type ConnectionID string

// ParseConnectionID validates raw as a ConnectionID: non-blank and at least
// 10 characters long.
func ParseConnectionID(raw string) (ConnectionID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: connection id must not be empty", ErrInvalidIdentity)
	}
	if len(raw) < MinConnectionIDLength {
		return "", fmt.Errorf("%w: connection id must be at least %d characters", ErrInvalidIdentity, MinConnectionIDLength)
	}
	return ConnectionID(raw), nil
}

// NewConnectionID mints a random ConnectionID.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func (c ConnectionID) String() string { return string(c) }

// SynthesizeUserID derives a UserID for a desktop client from its client and
// group identifiers. Characters outside [A-Za-z0-9_-] are replaced with '_'
// and the result is truncated to MaxUserIDLength.
func SynthesizeUserID(clientID, groupID string) (UserID, error) {
	raw := strings.TrimSpace(clientID)
	if g := strings.TrimSpace(groupID); g != "" {
		raw = g + "_" + raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > MaxUserIDLength {
		out = out[:MaxUserIDLength]
	}
	if strings.Trim(out, "_") == "" {
		return "", fmt.Errorf("%w: client id %q yields no usable characters", ErrInvalidIdentity, clientID)
	}
	return ParseUserID(out)
}
