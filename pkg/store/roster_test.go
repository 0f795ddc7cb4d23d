package store

import (
	"context"
	"testing"
)

func seedRoster(t *testing.T) *Roster {
	t.Helper()

	s := NewMemoryStore()
	ctx := context.Background()

	users := []*User{
		{ID: "user-1", Name: "Ada", Email: "ada@example.com"},
		{ID: "user-2", Name: "Lin", Email: "lin@example.com"},
	}
	for _, u := range users {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	p := &Project{ID: "proj-1", Name: "demo", MemberIDs: []string{"user-1", "user-2", "ghost"}}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })
	return NewRoster(s)
}

func TestRosterProjectExists(t *testing.T) {
	r := seedRoster(t)
	ctx := context.Background()

	ok, err := r.ProjectExists(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ProjectExists failed: %v", err)
	}
	if !ok {
		t.Error("ProjectExists(proj-1) = false, want true")
	}

	ok, err = r.ProjectExists(ctx, "missing")
	if err != nil {
		t.Fatalf("ProjectExists failed: %v", err)
	}
	if ok {
		t.Error("ProjectExists(missing) = true, want false")
	}
}

func TestRosterIsMember(t *testing.T) {
	r := seedRoster(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		projectID string
		userID    string
		want      bool
	}{
		{"member", "proj-1", "user-1", true},
		{"non-member", "proj-1", "user-9", false},
		{"unknown project", "missing", "user-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.IsMember(ctx, tt.projectID, tt.userID)
			if err != nil {
				t.Fatalf("IsMember failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsMember(%s, %s) = %v, want %v", tt.projectID, tt.userID, got, tt.want)
			}
		})
	}
}

func TestRosterMembers(t *testing.T) {
	r := seedRoster(t)
	ctx := context.Background()

	members, err := r.Members(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}

	// Join order preserved; the unresolvable "ghost" entry is skipped.
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}
	if members[0].ID != "user-1" || members[1].ID != "user-2" {
		t.Errorf("members = %v, want [user-1 user-2]", members)
	}
	if members[0].Email != "ada@example.com" {
		t.Errorf("members[0].Email = %s, want ada@example.com", members[0].Email)
	}

	if _, err := r.Members(ctx, "missing"); err != ErrProjectNotFound {
		t.Errorf("Members(missing) error = %v, want ErrProjectNotFound", err)
	}
}
