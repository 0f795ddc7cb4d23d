package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/codehive-dev/codehive/pkg/identity"
)

// Roster answers project membership questions for the session layer.
// It is a read-through view over the store; it owns no state of its own.
type Roster struct {
	store Store
}

// NewRoster creates a roster backed by the given store.
func NewRoster(s Store) *Roster {
	return &Roster{store: s}
}

// ProjectExists reports whether the project id resolves to a record.
func (r *Roster) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	_, err := r.store.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup project: %w", err)
	}
	return true, nil
}

// IsMember reports whether the user belongs to the project.
func (r *Roster) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	p, err := r.store.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup project: %w", err)
	}
	return p.HasMember(userID), nil
}

// Members resolves the project's member list in join order.
// Members that no longer resolve to a user record are skipped.
func (r *Roster) Members(ctx context.Context, projectID string) ([]identity.Identity, error) {
	p, err := r.store.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("lookup project: %w", err)
	}

	members := make([]identity.Identity, 0, len(p.MemberIDs))
	for _, id := range p.MemberIDs {
		u, err := r.store.UserByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolve member: %w", err)
		}
		members = append(members, identity.Identity{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return members, nil
}
