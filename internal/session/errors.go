package session

import "errors"

var (
	// ErrSessionBlocked rejects forward edits while a conflict resolution
	// is outstanding on the document.
	ErrSessionBlocked = errors.New("session blocked on unresolved conflict")

	// ErrSessionClosed rejects any use of a coordinator after teardown.
	ErrSessionClosed = errors.New("session closed")

	// ErrTransportFailure wraps a send failure reported by the transport.
	// The unacknowledged operation stays in the pending queue for re-send;
	// local editing is never blocked by it.
	ErrTransportFailure = errors.New("transport failure")

	// ErrNoConflict rejects a resolution call when nothing is pending
	// resolution.
	ErrNoConflict = errors.New("no conflict awaiting resolution")

	// ErrUnknownOperation rejects an acknowledgement for an operation
	// that is not in the pending queue.
	ErrUnknownOperation = errors.New("operation not pending")

	// ErrPendingOperations rejects a stored-snapshot reload while
	// unacknowledged local edits would be overwritten by it.
	ErrPendingOperations = errors.New("unacknowledged operations pending")

	// ErrNoStore rejects store-backed calls on a session configured
	// without a content store.
	ErrNoStore = errors.New("no content store configured")
)
