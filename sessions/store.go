// Package sessions persists the client's current session.
package sessions

import "context"

// Store holds at most one session. Writes replace the whole session and reads
// never observe a partially written one.
type Store interface {
	// Read returns the current session, or nil when there is none.
	Read(ctx context.Context) (*Session, error)

	// Write replaces the current session.
	Write(ctx context.Context, s *Session) error

	// Clear removes the current session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
