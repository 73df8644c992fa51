package operations

import (
	"fmt"
	"sort"
)

// Apply executes an operation on a text buffer and returns the result.
//
// Out-of-range positions are clamped rather than rejected: an insert position
// is clamped to [0, len(text)] and a delete range is clamped to the text
// bounds, with a clamped-to-zero delete applied as a no-op. Retain and format
// never change the text payload. Apply only fails when the operation is
// structurally corrupt, such as a delete whose declared length exceeds the
// whole text.
func Apply(text string, op *Operation) (string, error) {
	if op == nil {
		return "", fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}

	switch op.Type {
	case OpInsert:
		return applyInsert(text, op), nil

	case OpDelete:
		return applyDelete(text, op)

	case OpRetain, OpFormat:
		// Style and span bookkeeping only, plain text is untouched.
		return text, nil

	default:
		return "", fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
}

// applyInsert splices the content at the clamped position.
func applyInsert(text string, op *Operation) string {
	if op.Content == "" {
		return text
	}

	pos := clamp(op.Position, 0, len(text))
	return text[:pos] + op.Content + text[pos:]
}

// applyDelete removes the clamped range [position, position+length).
func applyDelete(text string, op *Operation) (string, error) {
	if op.Length <= 0 {
		return text, nil
	}
	if op.Length > len(text) {
		return "", fmt.Errorf("%w: delete length %d exceeds text length %d",
			ErrInvalidOperation, op.Length, len(text))
	}

	start := clamp(op.Position, 0, len(text))
	end := clamp(op.Position+op.Length, start, len(text))
	if start == end {
		// Entire range clamped away, nothing left to remove.
		return text, nil
	}

	return text[:start] + text[end:], nil
}

// ApplyAll applies a sequence of operations in ascending timestamp order.
func ApplyAll(text string, ops []*Operation) (string, error) {
	ordered := make([]*Operation, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	result := text
	for i, op := range ordered {
		next, err := Apply(result, op)
		if err != nil {
			return "", fmt.Errorf("failed to apply operation %d: %w", i, err)
		}
		result = next
	}
	return result, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
