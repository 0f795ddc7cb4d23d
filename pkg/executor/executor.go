// Package executor is the boundary to the code-execution sandbox. The
// session layer only forwards workspace snapshots to it and relays its
// server-ready notifications; it never implements execution itself.
package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/codehive-dev/codehive/pkg/workspace"
)

// ErrNotConfigured is returned by spawn attempts when no sandbox is wired.
var ErrNotConfigured = errors.New("no executor configured")

// ServerReady announces that a process inside the sandbox is serving.
type ServerReady struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// ProcessHandle is a running process inside the sandbox.
type ProcessHandle interface {
	// Output streams the process's combined output.
	Output() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
}

// Executor accepts a file tree and produces running processes.
// Implementations must be safe for concurrent use.
type Executor interface {
	// Mount replaces the sandbox's file tree with the snapshot.
	Mount(ctx context.Context, snapshot workspace.Snapshot) error

	// Spawn starts a command inside the mounted tree.
	Spawn(ctx context.Context, command string, args []string) (ProcessHandle, error)

	// Ready delivers server-ready notifications from the sandbox.
	Ready() <-chan ServerReady

	// Close releases sandbox resources.
	Close() error
}

// Nop is an Executor that accepts mounts and discards them.
// Used when no sandbox is configured.
type Nop struct {
	ready chan ServerReady
	once  sync.Once
}

// NewNop creates a no-op executor.
func NewNop() *Nop {
	return &Nop{ready: make(chan ServerReady)}
}

// Mount discards the snapshot.
func (n *Nop) Mount(ctx context.Context, snapshot workspace.Snapshot) error {
	return nil
}

// Spawn always fails; there is nothing to run in.
func (n *Nop) Spawn(ctx context.Context, command string, args []string) (ProcessHandle, error) {
	return nil, ErrNotConfigured
}

// Ready returns a channel that never delivers.
func (n *Nop) Ready() <-chan ServerReady {
	return n.ready
}

// Close releases the ready channel.
func (n *Nop) Close() error {
	n.once.Do(func() { close(n.ready) })
	return nil
}

// Recorder is an Executor for tests: it captures mounts and lets the
// test inject server-ready notifications.
type Recorder struct {
	mu     sync.Mutex
	mounts []workspace.Snapshot
	ready  chan ServerReady
	once   sync.Once
}

// NewRecorder creates a recording executor.
func NewRecorder() *Recorder {
	return &Recorder{ready: make(chan ServerReady, 4)}
}

// Mount records the snapshot.
func (r *Recorder) Mount(ctx context.Context, snapshot workspace.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts = append(r.mounts, snapshot.Clone())
	return nil
}

// Mounts returns the snapshots mounted so far.
func (r *Recorder) Mounts() []workspace.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workspace.Snapshot(nil), r.mounts...)
}

// Spawn returns a handle whose output echoes the command line.
func (r *Recorder) Spawn(ctx context.Context, command string, args []string) (ProcessHandle, error) {
	return &recordedProcess{
		output: strings.NewReader(command + " " + strings.Join(args, " ") + "\n"),
	}, nil
}

// EmitReady injects a server-ready notification.
func (r *Recorder) EmitReady(port int, url string) {
	r.ready <- ServerReady{Port: port, URL: url}
}

// Ready delivers injected notifications.
func (r *Recorder) Ready() <-chan ServerReady {
	return r.ready
}

// Close releases the ready channel.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.ready) })
	return nil
}

type recordedProcess struct {
	output io.Reader
}

func (p *recordedProcess) Output() io.Reader {
	return p.output
}

func (p *recordedProcess) Wait(ctx context.Context) (int, error) {
	return 0, nil
}
