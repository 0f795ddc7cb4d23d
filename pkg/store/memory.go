package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with in-process maps.
// Intended for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	byEmail  map[string]string
	projects map[string]*Project
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		projects: make(map[string]*Project),
	}
}

// CreateUser persists a new user.
func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	email := strings.ToLower(u.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrUserExists
	}

	clone := *u
	s.users[u.ID] = &clone
	s.byEmail[email] = u.ID
	return nil
}

// UserByID retrieves a user by id.
func (s *MemoryStore) UserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

// UserByEmail retrieves a user by email.
func (s *MemoryStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrUserNotFound
	}
	return s.UserByID(ctx, id)
}

// ListUsers returns all registered users.
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		clone := *u
		users = append(users, &clone)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CreateProject persists a new project.
func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	clone := *p
	clone.MemberIDs = append([]string(nil), p.MemberIDs...)
	s.projects[p.ID] = &clone
	return nil
}

// Project retrieves a project by id.
func (s *MemoryStore) Project(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	clone := *p
	clone.MemberIDs = append([]string(nil), p.MemberIDs...)
	return &clone, nil
}

// ProjectsForUser returns all projects the user is a member of.
func (s *MemoryStore) ProjectsForUser(ctx context.Context, userID string) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	projects := make([]*Project, 0)
	for _, p := range s.projects {
		if p.HasMember(userID) {
			clone := *p
			clone.MemberIDs = append([]string(nil), p.MemberIDs...)
			projects = append(projects, &clone)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// AddMembers appends users to a project's member list.
func (s *MemoryStore) AddMembers(ctx context.Context, projectID string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	p, ok := s.projects[projectID]
	if !ok {
		return ErrProjectNotFound
	}

	for _, id := range userIDs {
		if id == "" || p.HasMember(id) {
			continue
		}
		p.MemberIDs = append(p.MemberIDs, id)
	}
	return nil
}

// Close releases resources held by the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
