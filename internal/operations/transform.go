package operations

import "fmt"

// Priority selects the deterministic tie-break used when two concurrent
// inserts land on the same position. All peers of a session must use the
// same strategy or convergence is not guaranteed.
type Priority string

const (
	PriorityLeftWins  Priority = "left_wins"  // first argument keeps its position
	PriorityRightWins Priority = "right_wins" // second argument keeps its position
	PriorityTimestamp Priority = "timestamp"  // earlier timestamp wins
	PriorityUserID    Priority = "user_id"    // lexicographically smaller author wins
)

// Transform adjusts two concurrent operations created against the same
// document version so they can be applied sequentially without conflict.
//
// Given operations a and b issued against the same text, Transform returns
// (a', b') such that:
//
//	apply(apply(text, a), b') == apply(apply(text, b), a')
//
// This is the core convergence property of Operational Transformation. The
// function is pure: the inputs are never mutated and the same arguments
// always produce the same transformed pair.
func Transform(a, b *Operation, priority Priority) (*Operation, *Operation, error) {
	if a == nil || b == nil {
		return nil, nil, fmt.Errorf("%w: operations cannot be nil", ErrInvalidOperation)
	}

	aPrime := a.Clone()
	bPrime := b.Clone()

	// Transformation residue passes through untouched.
	if a.IsNoop() || b.IsNoop() {
		return aPrime, bPrime, nil
	}

	switch {
	case a.Type == OpInsert && b.Type == OpInsert:
		transformInsertInsert(aPrime, bPrime, leftWins(a, b, priority))
	case a.Type == OpInsert && b.Type == OpDelete:
		transformInsertDelete(aPrime, bPrime)
	case a.Type == OpDelete && b.Type == OpInsert:
		transformInsertDelete(bPrime, aPrime)
	case a.Type == OpDelete && b.Type == OpDelete:
		transformDeleteDelete(aPrime, bPrime)
	case a.Type == OpRetain || a.Type == OpFormat || b.Type == OpRetain || b.Type == OpFormat:
		// Retain and format carry no positional weight against other
		// operations; attribute merging is out of scope.
	default:
		return nil, nil, fmt.Errorf("%w: unsupported operation type combination %s vs %s",
			ErrInvalidOperation, a.Type, b.Type)
	}

	return aPrime, bPrime, nil
}

// leftWins resolves an equal-position insert tie in favor of a (true) or
// b (false) according to the configured priority strategy.
func leftWins(a, b *Operation, priority Priority) bool {
	switch priority {
	case PriorityRightWins:
		return false
	case PriorityTimestamp:
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		// Identical timestamps fall back to author order so the
		// outcome stays deterministic across peers.
		return a.Author <= b.Author
	case PriorityUserID:
		return a.Author <= b.Author
	default:
		return true
	}
}

// transformInsertInsert adjusts two concurrent insert operations. The insert
// at the lower position is unaffected; the other shifts right by the
// inserted length. aWins breaks the equal-position tie.
func transformInsertInsert(a, b *Operation, aWins bool) {
	switch {
	case a.Position < b.Position:
		b.Position += len(a.Content)
	case a.Position > b.Position:
		a.Position += len(b.Content)
	case aWins:
		b.Position += len(a.Content)
	default:
		a.Position += len(b.Content)
	}
}

// transformInsertDelete adjusts a concurrent insert and delete. An insert
// landing inside the deleted range is swallowed: the delete grows by the
// inserted length and the insert becomes a no-op relocated to the delete's
// start. This conservative policy favors the deletion intent.
func transformInsertDelete(ins, del *Operation) {
	delStart := del.Position
	delEnd := del.Position + del.Length

	switch {
	case ins.Position <= delStart:
		del.Position += len(ins.Content)
	case ins.Position >= delEnd:
		ins.Position -= del.Length
	default:
		del.Length += len(ins.Content)
		ins.Position = delStart
		ins.Content = ""
	}
}

// transformDeleteDelete reduces two concurrent deletes to their residuals.
// Each delete keeps only the part of its range the other did not already
// remove, shifted left past the other's preceding span. A fully subsumed
// delete becomes a zero-length no-op; together the residuals still remove
// the union of both ranges.
func transformDeleteDelete(a, b *Operation) {
	aStart, aEnd := a.Position, a.Position+a.Length
	bStart, bEnd := b.Position, b.Position+b.Length

	overlap := intMin(aEnd, bEnd) - intMax(aStart, bStart)
	if overlap < 0 {
		overlap = 0
	}

	// Span of the other delete that lies strictly before this one's start.
	aShift := intMax(0, intMin(bEnd, aStart)-bStart)
	bShift := intMax(0, intMin(aEnd, bStart)-aStart)

	a.Position = aStart - aShift
	a.Length -= overlap
	b.Position = bStart - bShift
	b.Length -= overlap
}

func intMin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func intMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}
