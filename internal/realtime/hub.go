package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/codehive-dev/codehive/pkg/assistant"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/protocol"
)

// Hub ties admission, room membership, relay, and reconciliation
// together behind the two entry points the transport needs: Admit and
// HandleChat.
type Hub struct {
	gate       *Gatekeeper
	reg        *Registry
	relay      *Relay
	reconciler *Reconciler
	producer   assistant.Producer
	logger     *slog.Logger

	// sendBuffer is the outbound queue depth for new sessions.
	sendBuffer int

	// generateTimeout bounds a single producer call.
	generateTimeout time.Duration
}

// HubOptions tunes hub construction. Zero values select defaults.
type HubOptions struct {
	SendBuffer      int
	GenerateTimeout time.Duration
}

// NewHub creates a hub. producer may be nil, which disables mention
// handling; assistant passthrough messages still reconcile.
func NewHub(gate *Gatekeeper, reg *Registry, relay *Relay, reconciler *Reconciler, producer assistant.Producer, logger *slog.Logger, opts HubOptions) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 2 * time.Minute
	}
	return &Hub{
		gate:            gate,
		reg:             reg,
		relay:           relay,
		reconciler:      reconciler,
		producer:        producer,
		logger:          logger,
		sendBuffer:      opts.SendBuffer,
		generateTimeout: opts.GenerateTimeout,
	}
}

// Admit runs the admission checks and, on success, creates a session
// already joined to its room. The caller owns the session and must call
// Leave when the connection ends.
func (h *Hub) Admit(ctx context.Context, projectID, credential string) (*Session, protocol.Admitted, error) {
	id, err := h.gate.Admit(ctx, projectID, credential)
	if err != nil {
		return nil, protocol.Admitted{}, err
	}

	s := NewSession(id, projectID, h.sendBuffer)
	h.reg.Join(s)

	return s, protocol.Admitted{
		SessionID: s.ID,
		ProjectID: projectID,
		Self:      id,
		FileTree:  h.reg.Snapshot(projectID),
	}, nil
}

// Leave detaches the session from its room and closes it. Idempotent.
func (h *Hub) Leave(s *Session) {
	h.reg.Leave(s)
	s.Close()
}

// HandleChat routes one inbound chat frame from a session. A frame
// whose sender names the assistant sentinel carries a producer payload
// and takes the reconcile path; anything else is relayed under the
// session's verified identity, with assistant mentions spawning a
// producer call whose reply reconciles asynchronously.
func (h *Hub) HandleChat(ctx context.Context, s *Session, chat protocol.ChatMessage) {
	if chat.Sender == identity.AssistantID {
		h.reconciler.Reconcile(ctx, s.ProjectID, s, chat.Text, chat.CorrelationToken)
		return
	}

	_, relayed := h.relay.Relay(s.ProjectID, s, s.Identity, chat.Text, chat.CorrelationToken)
	if !relayed {
		return
	}

	if h.producer == nil {
		return
	}
	prompt, ok := assistant.ExtractPrompt(chat.Text)
	if !ok {
		return
	}

	projectID := s.ProjectID
	go func() {
		gctx, cancel := context.WithTimeout(context.Background(), h.generateTimeout)
		defer cancel()

		raw, err := h.producer.Generate(gctx, prompt)
		if err != nil {
			h.logger.Warn("assistant generate", "project", projectID, "error", err)
			return
		}
		h.reconciler.Reconcile(gctx, projectID, nil, raw, "")
	}()
}
