package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/protocol"
)

// MembershipOracle answers the project questions admission needs.
// *store.Roster is the production implementation.
type MembershipOracle interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	Members(ctx context.Context, projectID string) ([]identity.Identity, error)
}

// AdmissionError reports why a connection was refused, with the close
// code the transport should send.
type AdmissionError struct {
	// Outcome is a stable label ("invalid_project", "unauthenticated",
	// "forbidden", "unknown_project", "infrastructure").
	Outcome string

	// Code is the websocket close code for this refusal.
	Code int

	// Err carries the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("admission refused: %s: %v", e.Outcome, e.Err)
	}
	return fmt.Sprintf("admission refused: %s", e.Outcome)
}

// Unwrap exposes the underlying cause.
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// Gatekeeper decides whether a connection may join a room. Checks run
// in a fixed order so a caller with several defects always sees the
// same refusal: project id shape, then credential, then project
// existence, then membership. Oracle failures refuse the connection
// rather than admitting on unverified membership.
type Gatekeeper struct {
	verifier identity.Verifier
	oracle   MembershipOracle
	logger   *slog.Logger
}

// NewGatekeeper creates a gatekeeper.
func NewGatekeeper(verifier identity.Verifier, oracle MembershipOracle, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		verifier: verifier,
		oracle:   oracle,
		logger:   logger,
	}
}

// Admit validates the handshake and resolves the caller's identity.
// On refusal the returned error is an *AdmissionError.
func (g *Gatekeeper) Admit(ctx context.Context, projectID, credential string) (identity.Identity, error) {
	ctx, span := observability.StartSpan(ctx, "session.admit",
		attribute.String("project.id", projectID))
	defer span.End()

	start := time.Now()

	id, err := g.admit(ctx, projectID, credential)

	outcome := "admitted"
	var aerr *AdmissionError
	if errors.As(err, &aerr) {
		outcome = aerr.Outcome
	}
	observability.RecordAdmission(outcome, time.Since(start))

	if err != nil {
		g.logger.Info("admission refused", "project", projectID, "outcome", outcome)
		return identity.Identity{}, err
	}
	g.logger.Info("admission granted", "project", projectID, "user", id.ID)
	return id, nil
}

func (g *Gatekeeper) admit(ctx context.Context, projectID, credential string) (identity.Identity, error) {
	if uuid.Validate(projectID) != nil {
		return identity.Identity{}, &AdmissionError{
			Outcome: "invalid_project",
			Code:    protocol.CloseInvalidProject,
		}
	}

	if credential == "" {
		return identity.Identity{}, &AdmissionError{
			Outcome: "unauthenticated",
			Code:    protocol.CloseUnauthenticated,
		}
	}
	id, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthenticated) {
			return identity.Identity{}, &AdmissionError{
				Outcome: "unauthenticated",
				Code:    protocol.CloseUnauthenticated,
				Err:     err,
			}
		}
		return identity.Identity{}, &AdmissionError{
			Outcome: "infrastructure",
			Code:    protocol.CloseInfrastructure,
			Err:     err,
		}
	}

	exists, err := g.oracle.ProjectExists(ctx, projectID)
	if err != nil {
		return identity.Identity{}, &AdmissionError{
			Outcome: "infrastructure",
			Code:    protocol.CloseInfrastructure,
			Err:     err,
		}
	}
	if !exists {
		return identity.Identity{}, &AdmissionError{
			Outcome: "unknown_project",
			Code:    protocol.CloseUnknownProject,
		}
	}

	member, err := g.oracle.IsMember(ctx, projectID, id.ID)
	if err != nil {
		return identity.Identity{}, &AdmissionError{
			Outcome: "infrastructure",
			Code:    protocol.CloseInfrastructure,
			Err:     err,
		}
	}
	if !member {
		return identity.Identity{}, &AdmissionError{
			Outcome: "forbidden",
			Code:    protocol.CloseForbidden,
		}
	}

	return id, nil
}
