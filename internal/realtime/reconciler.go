package realtime

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/codehive-dev/codehive/pkg/executor"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/protocol"
	"github.com/codehive-dev/codehive/pkg/workspace"
)

// Reconciler folds assistant replies into the room's workspace snapshot.
// Merges are serialized per room and all-or-nothing: either every file
// in the reply's tree lands in the snapshot or, when the reply carries
// no usable tree, the snapshot is untouched and no sync is published.
type Reconciler struct {
	reg    *Registry
	relay  *Relay
	exec   executor.Executor
	logger *slog.Logger

	mu          sync.Mutex
	lastProject string
}

// NewReconciler creates a reconciler. exec may be nil when no sandbox
// is configured.
func NewReconciler(reg *Registry, relay *Relay, exec executor.Executor, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		reg:    reg,
		relay:  relay,
		exec:   exec,
		logger: logger,
	}
}

// Reconcile handles one raw assistant payload for a project. The parsed
// text is relayed to the room as the assistant (origin excluded, since
// the originator already rendered it locally); a usable tree is then
// merged into the snapshot and the result pushed to every member,
// originator included. Returns the parsed reply.
func (rc *Reconciler) Reconcile(ctx context.Context, projectID string, origin *Session, raw, token string) workspace.Reply {
	ctx, span := observability.StartSpan(ctx, "workspace.reconcile",
		attribute.String("project.id", projectID))
	defer span.End()

	reply := workspace.ParseReply(raw)

	rc.relay.Relay(projectID, origin, identity.Assistant(), reply.Text, token)

	if !reply.HasDelta() {
		observability.RecordReconciliation("skipped")
		return reply
	}

	r := rc.reg.room(projectID, false)
	if r == nil {
		observability.RecordReconciliation("skipped")
		return reply
	}

	r.mu.Lock()
	merged := r.snapshot.Merge(reply.Delta)
	r.snapshot = merged

	ev, err := protocol.NewEvent(protocol.EventWorkspaceSync, protocol.WorkspaceSync{
		ProjectID: projectID,
		FileTree:  merged,
	})
	if err != nil {
		r.mu.Unlock()
		rc.logger.Error("encode workspace sync", "project", projectID, "error", err)
		observability.RecordReconciliation("skipped")
		return reply
	}
	for _, s := range r.members {
		if !s.Deliver(ev) {
			observability.RecordBroadcastDrop()
		}
	}
	r.mu.Unlock()

	observability.RecordReconciliation("merged")
	observability.SetWorkspaceFiles(projectID, len(merged))
	rc.logger.Info("workspace reconciled",
		"project", projectID, "files", len(merged), "updated", len(reply.Delta))

	rc.mount(ctx, projectID, merged.Clone())
	return reply
}

// mount forwards the merged tree to the sandbox and remembers which
// project it holds, so server-ready notifications can be routed back.
func (rc *Reconciler) mount(ctx context.Context, projectID string, snapshot workspace.Snapshot) {
	if rc.exec == nil {
		return
	}
	if err := rc.exec.Mount(ctx, snapshot); err != nil {
		rc.logger.Warn("mount workspace", "project", projectID, "error", err)
		return
	}
	rc.mu.Lock()
	rc.lastProject = projectID
	rc.mu.Unlock()
}

// WatchExecutor forwards sandbox server-ready notifications to the room
// whose workspace is currently mounted. Blocks until ctx is done or the
// executor's ready channel closes.
func (rc *Reconciler) WatchExecutor(ctx context.Context) {
	if rc.exec == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ready, ok := <-rc.exec.Ready():
			if !ok {
				return
			}
			rc.mu.Lock()
			projectID := rc.lastProject
			rc.mu.Unlock()
			if projectID == "" {
				continue
			}

			ev, err := protocol.NewEvent(protocol.EventServerReady, protocol.ServerReady{
				Port: ready.Port,
				URL:  ready.URL,
			})
			if err != nil {
				rc.logger.Error("encode server ready", "error", err)
				continue
			}
			for _, s := range rc.reg.MembersOf(projectID) {
				if !s.Deliver(ev) {
					observability.RecordBroadcastDrop()
				}
			}
			rc.logger.Info("server ready", "project", projectID, "port", ready.Port, "url", ready.URL)
		}
	}
}
