package realtime

import (
	"log/slog"
	"strings"
	"time"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/protocol"
)

// Relay fans chat messages out to room members. Message ids are assigned
// and deliveries enqueued under the room mutex, so two messages relayed
// to the same room are observed in id order by every member.
type Relay struct {
	reg    *Registry
	logger *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewRelay creates a relay over the registry.
func NewRelay(reg *Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		reg:    reg,
		logger: logger,
		now:    time.Now,
	}
}

// Relay stamps text as a room message and enqueues it to every member
// except origin. A nil origin delivers to everyone, which is how
// server-originated messages go out. Whitespace-only text is a no-op,
// reported by the second return value; the text is otherwise relayed
// verbatim.
func (rl *Relay) Relay(projectID string, origin *Session, sender identity.Identity, text, token string) (protocol.Message, bool) {
	if strings.TrimSpace(text) == "" {
		return protocol.Message{}, false
	}

	r := rl.reg.room(projectID, false)
	if r == nil {
		return protocol.Message{}, false
	}

	r.mu.Lock()
	r.nextID++
	msg := protocol.Message{
		ID:               r.nextID,
		Sender:           sender,
		Text:             text,
		CreatedAt:        rl.now().UTC(),
		CorrelationToken: token,
	}

	ev, err := protocol.NewEvent(protocol.EventProjectMessage, msg)
	if err != nil {
		r.mu.Unlock()
		rl.logger.Error("encode message", "project", projectID, "error", err)
		return protocol.Message{}, false
	}

	dropped := 0
	for _, s := range r.members {
		if s == origin {
			continue
		}
		if !s.Deliver(ev) {
			dropped++
			observability.RecordBroadcastDrop()
		}
	}
	r.mu.Unlock()

	kind := "user"
	if sender.IsAssistant() {
		kind = "assistant"
	}
	observability.RecordMessageRelayed(kind)

	if dropped > 0 {
		rl.logger.Warn("dropped deliveries under backpressure",
			"project", projectID, "message_id", msg.ID, "dropped", dropped)
	}
	return msg, true
}
