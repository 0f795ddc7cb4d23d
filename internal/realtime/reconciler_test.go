package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codehive-dev/codehive/pkg/executor"
	"github.com/codehive-dev/codehive/pkg/protocol"
)

func recvSync(t *testing.T, s *Session) protocol.WorkspaceSync {
	t.Helper()
	select {
	case ev := <-s.Events():
		if ev.Type != protocol.EventWorkspaceSync {
			t.Fatalf("event type = %s, want %s", ev.Type, protocol.EventWorkspaceSync)
		}
		var sync protocol.WorkspaceSync
		if err := json.Unmarshal(ev.Payload, &sync); err != nil {
			t.Fatalf("decode sync: %v", err)
		}
		return sync
	case <-time.After(time.Second):
		t.Fatal("no event queued")
		return protocol.WorkspaceSync{}
	}
}

func TestReconcileStructuredReply(t *testing.T) {
	reg := NewRegistry()
	rl := NewRelay(reg, nil)
	rec := executor.NewRecorder()
	rc := NewReconciler(reg, rl, rec, nil)

	alice := testSession("alice", "p1")
	bob := testSession("bob", "p1")
	reg.Join(alice)
	reg.Join(bob)

	raw := `{"text":"done","fileTree":{"a.js":{"content":"console.log(1)"}}}`
	reply := rc.Reconcile(context.Background(), "p1", alice, raw, "tok-9")

	if reply.Text != "done" || !reply.HasDelta() {
		t.Fatalf("reply = %+v", reply)
	}

	// Bob sees the assistant message, then the sync. Alice, as the
	// originator, sees only the sync.
	msg := recvMessage(t, bob)
	if msg.Text != "done" || !msg.Sender.IsAssistant() || msg.CorrelationToken != "tok-9" {
		t.Errorf("message = %+v", msg)
	}
	bobSync := recvSync(t, bob)
	if bobSync.FileTree["a.js"] != "console.log(1)" {
		t.Errorf("bob sync = %+v", bobSync)
	}
	aliceSync := recvSync(t, alice)
	if aliceSync.ProjectID != "p1" {
		t.Errorf("alice sync project = %s", aliceSync.ProjectID)
	}
	assertNoEvent(t, alice)

	if got := reg.Snapshot("p1"); got["a.js"] != "console.log(1)" {
		t.Errorf("room snapshot = %+v", got)
	}

	mounts := rec.Mounts()
	if len(mounts) != 1 || mounts[0]["a.js"] != "console.log(1)" {
		t.Errorf("mounts = %+v", mounts)
	}
}

func TestReconcilePlainTextSkipsMerge(t *testing.T) {
	reg := NewRegistry()
	rl := NewRelay(reg, nil)
	rec := executor.NewRecorder()
	rc := NewReconciler(reg, rl, rec, nil)

	alice := testSession("alice", "p1")
	bob := testSession("bob", "p1")
	reg.Join(alice)
	reg.Join(bob)

	reply := rc.Reconcile(context.Background(), "p1", alice, "just words", "")
	if reply.Text != "just words" || reply.HasDelta() {
		t.Fatalf("reply = %+v", reply)
	}

	recvMessage(t, bob)
	assertNoEvent(t, bob)
	assertNoEvent(t, alice)

	if got := reg.Snapshot("p1"); len(got) != 0 {
		t.Errorf("snapshot mutated: %+v", got)
	}
	if got := rec.Mounts(); len(got) != 0 {
		t.Errorf("unexpected mounts: %+v", got)
	}
}

func TestReconcileEmptyTreeIsNoOp(t *testing.T) {
	reg := NewRegistry()
	rl := NewRelay(reg, nil)
	rc := NewReconciler(reg, rl, nil, nil)

	alice := testSession("alice", "p1")
	reg.Join(alice)

	raw := `{"text":"nothing to apply","fileTree":{}}`
	reply := rc.Reconcile(context.Background(), "p1", nil, raw, "")
	if reply.HasDelta() {
		t.Fatalf("reply carries a delta: %+v", reply)
	}

	recvMessage(t, alice)
	assertNoEvent(t, alice)
}

func TestReconcileMergePreservesUntouchedFiles(t *testing.T) {
	reg := NewRegistry()
	rl := NewRelay(reg, nil)
	rc := NewReconciler(reg, rl, nil, nil)

	alice := testSession("alice", "p1")
	reg.Join(alice)

	first := `{"text":"one","fileTree":{"a.js":"1","b.js":"2"}}`
	rc.Reconcile(context.Background(), "p1", nil, first, "")
	recvMessage(t, alice)
	recvSync(t, alice)

	second := `{"text":"two","fileTree":{"b.js":"patched"}}`
	rc.Reconcile(context.Background(), "p1", nil, second, "")
	recvMessage(t, alice)
	sync := recvSync(t, alice)

	if sync.FileTree["a.js"] != "1" || sync.FileTree["b.js"] != "patched" {
		t.Errorf("sync = %+v, want a.js kept and b.js patched", sync.FileTree)
	}
}

func TestWatchExecutorForwardsServerReady(t *testing.T) {
	reg := NewRegistry()
	rl := NewRelay(reg, nil)
	rec := executor.NewRecorder()
	rc := NewReconciler(reg, rl, rec, nil)

	alice := testSession("alice", "p1")
	reg.Join(alice)

	raw := `{"text":"serving","fileTree":{"index.js":"require('http')"}}`
	rc.Reconcile(context.Background(), "p1", nil, raw, "")
	recvMessage(t, alice)
	recvSync(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.WatchExecutor(ctx)

	rec.EmitReady(3000, "http://localhost:3000")

	select {
	case ev := <-alice.Events():
		if ev.Type != protocol.EventServerReady {
			t.Fatalf("event type = %s, want %s", ev.Type, protocol.EventServerReady)
		}
		var ready protocol.ServerReady
		if err := json.Unmarshal(ev.Payload, &ready); err != nil {
			t.Fatalf("decode ready: %v", err)
		}
		if ready.Port != 3000 {
			t.Errorf("port = %d, want 3000", ready.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server-ready not forwarded")
	}
}
