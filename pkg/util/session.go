package util

import (
	// Packages
	"github.com/google/uuid"
)

// SessionID mints a fresh opaque session id, minted by the Outer and echoed
// by the Inner (spec.md §3 SessionId). Grounded on the teacher's id minting
// in pkg/session/memory.go and pkg/store/*.go (uuid.New().String()).
func SessionID() string {
	return uuid.New().String()
}
