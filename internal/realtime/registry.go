package realtime

import (
	"sync"

	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/workspace"
)

// room is the per-project coordination unit: the live member set, the
// room's message id counter, and the canonical workspace snapshot. All
// mutation happens under mu, which serializes relays and reconciles for
// the project.
type room struct {
	projectID string

	mu       sync.Mutex
	members  map[string]*Session
	nextID   int64
	snapshot workspace.Snapshot

	// evicted marks a room removed from the registry. A joiner holding
	// a stale pointer must not insert into it.
	evicted bool
}

func newRoom(projectID string) *room {
	return &room{
		projectID: projectID,
		members:   make(map[string]*Session),
		snapshot:  make(workspace.Snapshot),
	}
}

// memberSnapshot returns the current members. Callers must tolerate the
// result being stale by the time they act on it.
func (r *room) memberSnapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// Registry maintains the live set of admitted sessions per project.
// It is the sole authority for who receives a broadcast right now.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
	}
}

// Join adds the session to its project's room. Idempotent; the room is
// created lazily on first join. A concurrent last-member Leave may evict
// the room between lookup and insert, so the insert retries against a
// fresh room rather than landing in the orphaned one.
func (reg *Registry) Join(s *Session) {
	for {
		r := reg.room(s.ProjectID, true)

		r.mu.Lock()
		if r.evicted {
			r.mu.Unlock()
			continue
		}
		r.members[s.ID] = s
		r.mu.Unlock()
		break
	}

	reg.updateGauges()
}

// Leave removes the session from its room. Idempotent; an empty room is
// evicted, which callers cannot observe.
func (reg *Registry) Leave(s *Session) {
	r := reg.room(s.ProjectID, false)
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.members, s.ID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		reg.mu.Lock()
		// Re-check under the registry lock: a concurrent Join may have
		// repopulated the room since we released its mutex. The evicted
		// guard keeps a stale pointer from deleting a recreated room.
		r.mu.Lock()
		if len(r.members) == 0 && !r.evicted {
			r.evicted = true
			delete(reg.rooms, s.ProjectID)
			observability.DeleteWorkspaceFiles(s.ProjectID)
		}
		r.mu.Unlock()
		reg.mu.Unlock()
	}

	reg.updateGauges()
}

// MembersOf returns a point-in-time snapshot of the sessions attached
// to the project. A member may disconnect between snapshot and use;
// delivery to it is then a no-op.
func (reg *Registry) MembersOf(projectID string) []*Session {
	r := reg.room(projectID, false)
	if r == nil {
		return nil
	}
	return r.memberSnapshot()
}

// Snapshot returns a copy of the project's current workspace snapshot.
func (reg *Registry) Snapshot(projectID string) workspace.Snapshot {
	r := reg.room(projectID, false)
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.Clone()
}

// room returns the project's room, creating it when create is set.
func (reg *Registry) room(projectID string, create bool) *room {
	reg.mu.RLock()
	r, ok := reg.rooms[projectID]
	reg.mu.RUnlock()
	if ok || !create {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[projectID]; ok {
		return r
	}
	r = newRoom(projectID)
	reg.rooms[projectID] = r
	return r
}

func (reg *Registry) updateGauges() {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	sessions := 0
	for _, r := range reg.rooms {
		r.mu.Lock()
		sessions += len(r.members)
		r.mu.Unlock()
	}
	observability.SetActiveRooms(len(reg.rooms))
	observability.SetActiveSessions(sessions)
}
