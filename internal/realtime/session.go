// Package realtime implements the session layer: connection admission,
// room membership, message relay, and workspace reconciliation.
package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/protocol"
)

// Session is one live, authenticated, project-bound connection. The
// identity and project binding are immutable after admission; a session
// never migrates rooms.
type Session struct {
	// ID is unique per connection.
	ID string

	// Identity is the verified user bound at admission.
	Identity identity.Identity

	// ProjectID is the room binding fixed at admission.
	ProjectID string

	send      chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session bound to the identity and project.
// buffer is the outbound queue depth; deliveries beyond it are dropped
// rather than blocking the sender.
func NewSession(id identity.Identity, projectID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		ID:        uuid.New().String(),
		Identity:  id,
		ProjectID: projectID,
		send:      make(chan protocol.Event, buffer),
		done:      make(chan struct{}),
	}
}

// Deliver enqueues an event for the session's writer. It never blocks:
// delivery to a closed session is a no-op and a full queue drops the
// event, both reported by the return value.
func (s *Session) Deliver(ev protocol.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- ev:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Events exposes the outbound queue to the connection writer.
func (s *Session) Events() <-chan protocol.Event {
	return s.send
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session dead. Idempotent. Pending queued events are
// abandoned to the garbage collector; the writer drains via Done.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
