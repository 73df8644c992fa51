package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/albertsyd/collabengine/internal/operations"
)

// ErrMergeInfeasible reports that the local and remote change regions
// overlap, so an automatic merge was not attempted. It always downgrades to
// a manual Resolution, never to a terminal failure.
var ErrMergeInfeasible = errors.New("change regions overlap, automatic merge infeasible")

// HasConflict reports whether a remote operation is concurrent with local
// state: a conflict exists whenever the remote operation was generated
// against a version the local side has already advanced past.
func HasConflict(remote *operations.Operation, localVersion int) bool {
	return remote.Version <= localVersion
}

// Outcome is the result of running conflict detection against a remote
// operation. Exactly one of the two shapes is produced: an auto-merged
// content/version pair, or a Resolution that the caller must decide.
type Outcome struct {
	Content    string
	Version    int
	AutoMerged bool

	// Resolution is non-nil when the divergence could not be merged
	// automatically. The session stays blocked until it is resolved.
	Resolution *Resolution
}

// Detect reconciles a conflicting remote operation against diverged local
// content. base is the last text both sides agreed on, local is the current
// local text written by localAuthor, and localVersion the current local
// version counter.
//
// The change regions of base→local and base→remote are computed with the
// same prefix/suffix trim the diff generator uses. Disjoint regions merge
// automatically by transforming the remote edit past the local one; the
// merged result carries version max(local, remote)+1. Overlapping regions
// produce a Resolution instead.
func Detect(base, local, localAuthor string, remote *operations.Operation, localVersion int, priority operations.Priority) (*Outcome, error) {
	remoteContent, err := operations.Apply(base, remote)
	if err != nil {
		return nil, fmt.Errorf("cannot apply remote operation to base snapshot: %w", err)
	}

	merged, err := autoMerge(base, local, localAuthor, remoteContent, remote.Author, priority)
	if err != nil {
		if errors.Is(err, ErrMergeInfeasible) {
			return &Outcome{
				Resolution: &Resolution{
					BaseContent:   base,
					LocalContent:  local,
					RemoteContent: remoteContent,
					RemoteOp:      remote,
					RemoteAuthor:  remote.Author,
					DetectedAt:    time.Now(),
				},
			}, nil
		}
		return nil, err
	}

	return &Outcome{
		Content:    merged,
		Version:    maxInt(localVersion, remote.Version) + 1,
		AutoMerged: true,
	}, nil
}

// autoMerge folds the remote edit into the local content when the two change
// regions (in base coordinates) do not overlap. The remote edit is expressed
// as diff operations against base and transformed past the local diff so it
// lands at its shifted location. The diff operations carry the real author
// identities so the user_id tie-break orders same-point insertions the same
// way on every peer.
func autoMerge(base, local, localAuthor, remoteContent, remoteAuthor string, priority operations.Priority) (string, error) {
	localStart, localEnd := operations.ChangedRegion(base, local)
	remoteStart, remoteEnd := operations.ChangedRegion(base, remoteContent)

	if regionsOverlap(localStart, localEnd, remoteStart, remoteEnd) {
		return "", ErrMergeInfeasible
	}

	now := time.Now()
	localOps := operations.Diff(base, local, localAuthor, 0, now)
	remoteOps := operations.Diff(base, remoteContent, remoteAuthor, 0, now)

	merged := local
	for _, rop := range remoteOps {
		shifted := rop
		for _, lop := range localOps {
			var err error
			shifted, _, err = operations.Transform(shifted, lop, priority)
			if err != nil {
				return "", fmt.Errorf("transforming remote edit past local edit: %w", err)
			}
		}

		var err error
		merged, err = operations.Apply(merged, shifted)
		if err != nil {
			return "", fmt.Errorf("applying merged remote edit: %w", err)
		}
	}
	return merged, nil
}

// regionsOverlap reports whether two half-open change regions intersect.
// Regions touching at an edge do not conflict, and zero-width regions (pure
// insertions) at the same point are left to the transform tie-break rather
// than treated as a conflict.
func regionsOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
