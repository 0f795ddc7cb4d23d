// Package identity defines user identities and credential verification.
package identity

import (
	"context"
	"errors"
)

// Common errors for credential verification.
var (
	// ErrUnauthenticated is returned when a credential is missing, malformed,
	// expired, or fails signature verification.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// AssistantID is the reserved sender id for assistant-produced messages.
// It never resolves through a Verifier; the assistant is a peer producer,
// not an authenticated user.
const AssistantID = "ai"

// Identity is an authenticated user as issued by the account store.
// Identities are referenced, never owned, by the session layer.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsAssistant reports whether this identity is the reserved assistant sentinel.
func (id Identity) IsAssistant() bool {
	return id.ID == AssistantID
}

// Assistant returns the reserved assistant sentinel identity.
func Assistant() Identity {
	return Identity{ID: AssistantID, Name: "Assistant"}
}

// Verifier validates a bearer credential and resolves it to an Identity.
// Implementations must be safe for concurrent use.
type Verifier interface {
	// Verify resolves the credential to an Identity.
	// Returns ErrUnauthenticated if the credential is invalid; any other
	// error indicates the verifier itself is unavailable.
	Verify(ctx context.Context, credential string) (Identity, error)
}
