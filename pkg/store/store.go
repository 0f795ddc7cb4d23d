// Package store persists user accounts and project membership.
// The realtime session layer only reads through it; ownership of the
// records stays here.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrUserNotFound is returned when a user doesn't exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an email that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrProjectNotFound is returned when a project doesn't exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Project is a shared workspace. MemberIDs preserves join order; the
// first member is the creator.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userID is in the project's member list.
func (p *Project) HasMember(userID string) bool {
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserStore abstracts user account persistence.
// Implementations must be safe for concurrent use.
type UserStore interface {
	// CreateUser persists a new user.
	// Returns ErrUserExists if the email is already registered.
	CreateUser(ctx context.Context, u *User) error

	// UserByID retrieves a user by id.
	// Returns ErrUserNotFound if the user doesn't exist.
	UserByID(ctx context.Context, id string) (*User, error)

	// UserByEmail retrieves a user by email.
	// Returns ErrUserNotFound if the user doesn't exist.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// ListUsers returns all registered users.
	ListUsers(ctx context.Context) ([]*User, error)
}

// ProjectStore abstracts project persistence.
// Implementations must be safe for concurrent use.
type ProjectStore interface {
	// CreateProject persists a new project.
	CreateProject(ctx context.Context, p *Project) error

	// Project retrieves a project by id.
	// Returns ErrProjectNotFound if the project doesn't exist.
	Project(ctx context.Context, id string) (*Project, error)

	// ProjectsForUser returns all projects the user is a member of.
	ProjectsForUser(ctx context.Context, userID string) ([]*Project, error)

	// AddMembers appends users to a project's member list, preserving
	// join order and skipping users already present.
	AddMembers(ctx context.Context, projectID string, userIDs []string) error
}

// Store combines user and project persistence behind one backend.
type Store interface {
	UserStore
	ProjectStore

	// Close releases any resources held by the store.
	Close() error
}
