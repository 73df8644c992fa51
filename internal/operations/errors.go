package operations

import "errors"

// ErrInvalidOperation marks an operation whose declared position or length
// cannot be reconciled with the target text even after clamping, or whose
// shape is structurally corrupt (e.g. a replayed or truncated message).
// Callers drop such operations without advancing the document version.
var ErrInvalidOperation = errors.New("invalid operation")
