// Package protocol defines the wire format spoken between the realtime
// server and its clients. Every frame is a JSON Event envelope carrying
// a typed payload.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/workspace"
)

// EventType names a websocket event.
type EventType string

const (
	// EventAdmitted confirms the handshake. Payload: Admitted.
	EventAdmitted EventType = "admitted"

	// EventProjectMessage carries chat messages in both directions.
	// Client payload: ChatMessage. Server payload: Message.
	EventProjectMessage EventType = "project-message"

	// EventWorkspaceSync pushes the merged workspace snapshot.
	// Payload: WorkspaceSync.
	EventWorkspaceSync EventType = "workspace-sync"

	// EventServerReady relays an executor server-ready notification.
	// Payload: ServerReady.
	EventServerReady EventType = "server-ready"
)

// Close codes sent when the admission handshake fails. The 4xxx range
// is reserved for application use by RFC 6455.
const (
	CloseInvalidProject  = 4400
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
	CloseUnknownProject  = 4404
	CloseInfrastructure  = 4500
)

// Event is the envelope for all websocket frames.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: data}, nil
}

// Admitted is the handshake confirmation sent to a freshly joined
// session. FileTree carries the project's current workspace state.
type Admitted struct {
	SessionID string             `json:"sessionId"`
	ProjectID string             `json:"projectId"`
	Self      identity.Identity  `json:"self"`
	FileTree  workspace.Snapshot `json:"fileTree,omitempty"`
}

// ChatMessage is a client-originated message event.
type ChatMessage struct {
	Text string `json:"text"`

	// Sender may name the reserved assistant sentinel when the payload
	// originates from an assistant-side producer; any other value is
	// ignored in favor of the session's verified identity.
	Sender string `json:"sender,omitempty"`

	// CorrelationToken ties the broadcast echo back to the sender's
	// optimistic local entry.
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// Message is a server-confirmed broadcast message.
type Message struct {
	// ID is server-assigned and monotonic within a room.
	ID int64 `json:"id"`

	Sender           identity.Identity `json:"sender"`
	Text             string            `json:"text"`
	CreatedAt        time.Time         `json:"createdAt"`
	CorrelationToken string            `json:"correlationToken,omitempty"`
}

// WorkspaceSync pushes the full merged snapshot after a reconciliation.
type WorkspaceSync struct {
	ProjectID string             `json:"projectId"`
	FileTree  workspace.Snapshot `json:"fileTree"`
}

// ServerReady relays an executor notification that a process inside the
// sandbox is serving.
type ServerReady struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}
