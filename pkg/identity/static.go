package identity

import (
	"context"
	"crypto/subtle"
	"sync"
)

// StaticVerifier resolves credentials from a fixed in-memory table.
// Intended for tests and single-node development.
type StaticVerifier struct {
	tokens map[string]Identity
	mu     sync.RWMutex
}

// NewStaticVerifier creates an empty static verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{
		tokens: make(map[string]Identity),
	}
}

// Add registers a credential with its associated identity.
func (v *StaticVerifier) Add(credential string, id Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[credential] = id
}

// Verify resolves a registered credential to its identity.
func (v *StaticVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	// Constant-time comparison to prevent timing attacks.
	for token, id := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(credential)) == 1 {
			return id, nil
		}
	}

	return Identity{}, ErrUnauthenticated
}
