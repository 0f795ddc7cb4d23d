// Package ledger implements the per-session bookkeeping a client must
// keep so that optimistic sends and server broadcasts reconcile into a
// single ordered, duplicate-free message list.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one message as the session displays it.
type Entry struct {
	// ID is the server-assigned message id; empty while the entry is an
	// unconfirmed optimistic send.
	ID string

	// CorrelationToken ties an optimistic send to its server echo.
	CorrelationToken string

	// SenderID identifies the message sender.
	SenderID string

	// SenderName is the sender's display name.
	SenderName string

	// Text is the message body.
	Text string

	// CreatedAt is the message timestamp. For an optimistic entry this
	// is the local send time until the echo overwrites it.
	CreatedAt time.Time

	// Pending marks an optimistic entry awaiting its server echo.
	Pending bool
}

// Confirmed is a server-broadcast message being applied to the ledger.
type Confirmed struct {
	ID               string
	CorrelationToken string
	SenderID         string
	SenderName       string
	Text             string
	CreatedAt        time.Time
}

// Ledger reconciles local optimistic sends with server broadcasts.
// Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []*Entry
	seen    map[string]struct{}
	byToken map[string]*Entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		seen:    make(map[string]struct{}),
		byToken: make(map[string]*Entry),
	}
}

// AppendLocal records an optimistic send and returns the correlation
// token the client must attach to the outgoing message event.
func (l *Ledger) AppendLocal(senderID, senderName, text string) string {
	token := uuid.New().String()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		CorrelationToken: token,
		SenderID:         senderID,
		SenderName:       senderName,
		Text:             text,
		CreatedAt:        time.Now().UTC(),
		Pending:          true,
	}
	l.entries = append(l.entries, entry)
	l.byToken[token] = entry

	return token
}

// Apply reconciles a server broadcast into the ledger. It returns true
// when the message appended a new entry, false when it confirmed a
// pending entry in place or was a duplicate redelivery.
func (l *Ledger) Apply(msg Confirmed) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// An id already applied must never append again, even if redelivered.
	if msg.ID != "" {
		if _, dup := l.seen[msg.ID]; dup {
			return false
		}
		l.seen[msg.ID] = struct{}{}
	}

	if entry := l.matchPending(msg); entry != nil {
		entry.ID = msg.ID
		entry.CreatedAt = msg.CreatedAt
		entry.Pending = false
		if entry.CorrelationToken != "" {
			delete(l.byToken, entry.CorrelationToken)
		}
		return false
	}

	l.entries = append(l.entries, &Entry{
		ID:               msg.ID,
		CorrelationToken: msg.CorrelationToken,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		Text:             msg.Text,
		CreatedAt:        msg.CreatedAt,
	})
	return true
}

// matchPending finds the optimistic entry this broadcast confirms:
// correlation token first, then the oldest pending entry with the same
// sender and text when no token survived the round trip.
func (l *Ledger) matchPending(msg Confirmed) *Entry {
	if msg.CorrelationToken != "" {
		if entry, ok := l.byToken[msg.CorrelationToken]; ok && entry.Pending {
			return entry
		}
	}

	for _, entry := range l.entries {
		if entry.Pending && entry.SenderID == msg.SenderID && entry.Text == msg.Text {
			return entry
		}
	}
	return nil
}

// Entries returns a snapshot of the ledger in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i, entry := range l.entries {
		out[i] = *entry
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
