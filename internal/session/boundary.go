package session

import (
	"context"

	"github.com/albertsyd/collabengine/internal/operations"
)

// Transport ships local operations to the other participants. It is an
// external collaborator: the coordinator only requires that a returned nil
// error means the operation was handed off. Acknowledgements arrive
// separately through Coordinator.Acknowledge.
type Transport interface {
	Send(ctx context.Context, sessionID string, op *operations.Operation) error
}

// ContentStore persists note content after each accepted mutation and
// serves it back when a session reloads. Save failures are logged, not
// retried by the coordinator.
type ContentStore interface {
	Load(ctx context.Context, noteID string) (string, error)
	Save(ctx context.Context, noteID, content string, version int) error
}
