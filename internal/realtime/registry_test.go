package realtime

import (
	"sync"
	"testing"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/workspace"
)

func testSession(userID, projectID string) *Session {
	return NewSession(identity.Identity{ID: userID, Name: userID}, projectID, 8)
}

func TestRegistryJoinLeave(t *testing.T) {
	reg := NewRegistry()
	s := testSession("u1", "p1")

	reg.Join(s)
	reg.Join(s) // idempotent

	members := reg.MembersOf("p1")
	if len(members) != 1 {
		t.Fatalf("MembersOf() = %d members, want 1", len(members))
	}
	if members[0].Identity.ID != "u1" {
		t.Errorf("member = %s, want u1", members[0].Identity.ID)
	}

	reg.Leave(s)
	reg.Leave(s) // idempotent

	if got := reg.MembersOf("p1"); len(got) != 0 {
		t.Errorf("MembersOf() after leave = %d members, want 0", len(got))
	}
}

func TestRegistryRoomsAreIsolated(t *testing.T) {
	reg := NewRegistry()
	a := testSession("u1", "p1")
	b := testSession("u2", "p2")
	reg.Join(a)
	reg.Join(b)

	if got := reg.MembersOf("p1"); len(got) != 1 || got[0].Identity.ID != "u1" {
		t.Errorf("p1 members = %+v, want just u1", got)
	}
	if got := reg.MembersOf("p2"); len(got) != 1 || got[0].Identity.ID != "u2" {
		t.Errorf("p2 members = %+v, want just u2", got)
	}
}

func TestRegistryMembersOfUnknownProject(t *testing.T) {
	reg := NewRegistry()
	if got := reg.MembersOf("nope"); got != nil {
		t.Errorf("MembersOf(unknown) = %v, want nil", got)
	}
	if got := reg.Snapshot("nope"); got != nil {
		t.Errorf("Snapshot(unknown) = %v, want nil", got)
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	reg := NewRegistry()
	s := testSession("u1", "p1")
	reg.Join(s)

	r := reg.room("p1", false)
	r.mu.Lock()
	r.snapshot = workspace.Snapshot{"a.js": "1"}
	r.mu.Unlock()

	snap := reg.Snapshot("p1")
	snap["a.js"] = "mutated"

	if got := reg.Snapshot("p1"); got["a.js"] != "1" {
		t.Errorf("snapshot mutated through copy: %q", got["a.js"])
	}
}

func TestJoinRetriesPastEvictedRoom(t *testing.T) {
	reg := NewRegistry()

	// Hold a room pointer the way a joiner does between lookup and
	// insert, then let the last member's leave evict that room.
	stale := reg.room("p1", true)
	tmp := testSession("tmp", "p1")
	reg.Join(tmp)
	reg.Leave(tmp)

	if !stale.evicted {
		t.Fatal("evicted room not marked")
	}

	s := testSession("u1", "p1")
	reg.Join(s)

	members := reg.MembersOf("p1")
	if len(members) != 1 || members[0].Identity.ID != "u1" {
		t.Fatalf("MembersOf() = %+v, want the joiner", members)
	}
	if fresh := reg.room("p1", false); fresh == stale {
		t.Error("joiner landed in the evicted room")
	}
	stale.mu.Lock()
	orphaned := len(stale.members)
	stale.mu.Unlock()
	if orphaned != 0 {
		t.Errorf("evicted room holds %d members", orphaned)
	}
}

func TestConcurrentLeaveAndJoinKeepsJoinerVisible(t *testing.T) {
	reg := NewRegistry()

	for i := 0; i < 2000; i++ {
		leaver := testSession("leaver", "p1")
		reg.Join(leaver)

		joiner := testSession("joiner", "p1")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Leave(leaver)
		}()
		go func() {
			defer wg.Done()
			reg.Join(joiner)
		}()
		wg.Wait()

		found := false
		for _, m := range reg.MembersOf("p1") {
			if m == joiner {
				found = true
			}
		}
		if !found {
			t.Fatalf("iteration %d: joiner invisible after concurrent leave", i)
		}
		reg.Leave(joiner)
	}
}

func TestEvictionClearsWorkspaceGauge(t *testing.T) {
	reg := NewRegistry()
	projectID := "gauge-project"

	s := testSession("u1", projectID)
	reg.Join(s)
	observability.SetWorkspaceFiles(projectID, 3)

	reg.Leave(s)

	// The eviction dropped the project's series; a second delete finds
	// nothing left to remove.
	if observability.DeleteWorkspaceFiles(projectID) {
		t.Error("workspace gauge series survived room eviction")
	}
}

func TestRegistryEmptyRoomIsEvicted(t *testing.T) {
	reg := NewRegistry()
	s := testSession("u1", "p1")
	reg.Join(s)

	r := reg.room("p1", false)
	r.mu.Lock()
	r.snapshot = workspace.Snapshot{"a.js": "1"}
	r.mu.Unlock()

	reg.Leave(s)

	// The room is gone; a later join starts from an empty snapshot.
	if got := reg.room("p1", false); got != nil {
		t.Fatal("room survived eviction")
	}
	reg.Join(testSession("u2", "p1"))
	if got := reg.Snapshot("p1"); len(got) != 0 {
		t.Errorf("snapshot after eviction = %v, want empty", got)
	}
}
