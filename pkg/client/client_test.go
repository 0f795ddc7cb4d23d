package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/codehive-dev/codehive/internal/realtime"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/ledger"
	"github.com/codehive-dev/codehive/pkg/store"
)

func newTestBackend(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx := context.Background()

	ms := store.NewMemoryStore()
	for _, u := range []*store.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
	} {
		if err := ms.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	projectID := uuid.NewString()
	if err := ms.CreateProject(ctx, &store.Project{
		ID:        projectID,
		Name:      "demo",
		MemberIDs: []string{"alice", "bob"},
	}); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	verifier := identity.NewStaticVerifier()
	verifier.Add("alice-token", identity.Identity{ID: "alice", Name: "Alice", Email: "alice@example.com"})
	verifier.Add("bob-token", identity.Identity{ID: "bob", Name: "Bob", Email: "bob@example.com"})

	reg := realtime.NewRegistry()
	relay := realtime.NewRelay(reg, nil)
	reconciler := realtime.NewReconciler(reg, relay, nil, nil)
	gate := realtime.NewGatekeeper(verifier, store.NewRoster(ms), nil)
	hub := realtime.NewHub(gate, reg, relay, reconciler, nil, nil, realtime.HubOptions{})
	srv := realtime.NewServer(hub, nil, 100, 200)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleConnection)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts, projectID
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialAndIdentity(t *testing.T) {
	ts, projectID := newTestBackend(t)

	c, err := Dial(context.Background(), ts.URL, projectID, "alice-token")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if c.Self().ID != "alice" {
		t.Errorf("Self() = %+v, want alice", c.Self())
	}
	if c.SessionID() == "" {
		t.Error("empty session id")
	}
	if len(c.FileTree()) != 0 {
		t.Errorf("fresh file tree = %+v, want empty", c.FileTree())
	}
}

func TestDialRefused(t *testing.T) {
	ts, projectID := newTestBackend(t)

	if _, err := Dial(context.Background(), ts.URL, projectID, "forged"); err == nil {
		t.Error("Dial() accepted a forged credential")
	}
	if _, err := Dial(context.Background(), ts.URL, "not-a-uuid", "alice-token"); err == nil {
		t.Error("Dial() accepted a malformed project id")
	}
}

func TestSendIsOptimisticAndRelays(t *testing.T) {
	ts, projectID := newTestBackend(t)

	alice, err := Dial(context.Background(), ts.URL, projectID, "alice-token")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := Dial(context.Background(), ts.URL, projectID, "bob-token")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	if err := alice.Send("hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Alice sees her own entry immediately, before any round trip.
	msgs := alice.Messages()
	if len(msgs) != 1 || !msgs[0].Pending || msgs[0].Text != "hello" {
		t.Fatalf("alice ledger = %+v", msgs)
	}

	waitFor(t, func() bool { return len(bob.Messages()) == 1 }, "bob to receive the message")
	got := bob.Messages()[0]
	if got.SenderID != "alice" || got.Text != "hello" || got.Pending {
		t.Errorf("bob entry = %+v", got)
	}
	if got.ID == "" {
		t.Error("server-confirmed entry has no id")
	}

	// No echo comes back to the sender; the optimistic entry is the
	// displayed one and nothing duplicates it.
	time.Sleep(50 * time.Millisecond)
	if n := len(alice.Messages()); n != 1 {
		t.Errorf("alice ledger length = %d, want 1", n)
	}
}

func TestAssistantPayloadSyncsAllClients(t *testing.T) {
	ts, projectID := newTestBackend(t)

	alice, err := Dial(context.Background(), ts.URL, projectID, "alice-token")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := Dial(context.Background(), ts.URL, projectID, "bob-token")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	raw := `{"text":"done","fileTree":{"a.js":{"content":"console.log(1)"}}}`
	if err := alice.SendAssistantPayload(raw); err != nil {
		t.Fatalf("SendAssistantPayload() error = %v", err)
	}

	waitFor(t, func() bool { return len(bob.Messages()) == 1 }, "bob to receive the assistant message")
	got := bob.Messages()[0]
	if got.SenderID != identity.AssistantID || got.Text != "done" {
		t.Errorf("bob entry = %+v", got)
	}

	waitFor(t, func() bool { return alice.FileTree()["a.js"] == "console.log(1)" }, "alice file tree sync")
	waitFor(t, func() bool { return bob.FileTree()["a.js"] == "console.log(1)" }, "bob file tree sync")
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	ts, projectID := newTestBackend(t)

	alice, err := Dial(context.Background(), ts.URL, projectID, "alice-token")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()

	raw := `{"text":"seeded","fileTree":{"a.js":"1"}}`
	if err := alice.SendAssistantPayload(raw); err != nil {
		t.Fatalf("SendAssistantPayload() error = %v", err)
	}
	waitFor(t, func() bool { return alice.FileTree()["a.js"] == "1" }, "alice sync")

	bob, err := Dial(context.Background(), ts.URL, projectID, "bob-token")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	if bob.FileTree()["a.js"] != "1" {
		t.Errorf("bob initial tree = %+v, want seeded a.js", bob.FileTree())
	}
}

func TestLedgerSuppressesRedelivery(t *testing.T) {
	// The ledger guarantee the client relies on, checked at its own
	// level: a confirmed id applied twice appends once.
	l := ledger.New()
	msg := ledger.Confirmed{ID: "7", SenderID: "bob", SenderName: "Bob", Text: "hi"}

	if appended := l.Apply(msg); !appended {
		t.Fatal("first apply did not append")
	}
	if appended := l.Apply(msg); appended {
		t.Fatal("redelivery appended a duplicate")
	}
	if l.Len() != 1 {
		t.Errorf("ledger length = %d, want 1", l.Len())
	}
}
