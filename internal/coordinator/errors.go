package coordinator

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/store"
)

var (
	// ErrNotFound is store.ErrNotFound so callers can match either.
	ErrNotFound = store.ErrNotFound

	// ErrCapabilityFailure wraps failures reported by a Messenger or Recorder.
	ErrCapabilityFailure = errors.New("capability failure")
)

func capabilityFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCapabilityFailure, op, err)
}
