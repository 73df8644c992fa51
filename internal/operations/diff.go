package operations

import "time"

// Diff converts a before/after text snapshot into a minimal operation
// sequence: the longest common prefix and suffix are trimmed and the
// remaining middle becomes, in order, a delete (if the old middle is
// non-empty) followed by an insert (if the new middle is non-empty) at the
// prefix boundary.
//
// This is intentionally a two-edit diff, not a general LCS diff. It is exact
// for the common case of one contiguous edit per keystroke burst, which is
// the unit the transform engine reconciles.
func Diff(oldText, newText, author string, version int, ts time.Time) []*Operation {
	if oldText == newText {
		return nil
	}

	prefix, suffix := CommonAffixes(oldText, newText)

	var ops []*Operation
	if removed := len(oldText) - prefix - suffix; removed > 0 {
		ops = append(ops, NewDelete(author, version, prefix, removed, ts))
	}
	if inserted := newText[prefix : len(newText)-suffix]; inserted != "" {
		ops = append(ops, NewInsert(author, version, prefix, inserted, ts))
	}
	return ops
}

// CommonAffixes returns the lengths of the longest common prefix and suffix
// of a and b. The two never overlap: the suffix is bounded so that
// prefix+suffix does not exceed the shorter string.
func CommonAffixes(a, b string) (prefix, suffix int) {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}

	for prefix < limit && a[prefix] == b[prefix] {
		prefix++
	}

	for suffix < limit-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	return prefix, suffix
}

// ChangedRegion returns the edited span of old, in old's coordinates, after
// trimming the common prefix and suffix against new. A pure insertion yields
// an empty region (start == end) at the insertion point.
func ChangedRegion(oldText, newText string) (start, end int) {
	prefix, suffix := CommonAffixes(oldText, newText)
	return prefix, len(oldText) - suffix
}
