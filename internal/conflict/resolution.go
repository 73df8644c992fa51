package conflict

import (
	"fmt"
	"time"

	"github.com/albertsyd/collabengine/internal/operations"
)

// Choice is a caller-supplied conflict resolution decision.
type Choice string

const (
	// ChoiceAcceptLocal keeps the local content; the remote edit is
	// discarded and only the version counter advances past it.
	ChoiceAcceptLocal Choice = "accept_local"

	// ChoiceAcceptRemote replaces the local divergence with the remote
	// author's content.
	ChoiceAcceptRemote Choice = "accept_remote"

	// ChoiceMerge accepts an already-reconciled string verbatim, supplied
	// by the caller or an assisting process.
	ChoiceMerge Choice = "merge"
)

// Resolution is the ephemeral record of an unresolved conflict. It holds
// both divergent snapshots, the base they diverged from, and the remote
// operation that triggered detection. The owning session is blocked until
// exactly one resolution choice fires, after which the record is discarded.
type Resolution struct {
	BaseContent   string
	LocalContent  string
	RemoteContent string
	RemoteOp      *operations.Operation
	RemoteAuthor  string
	DetectedAt    time.Time
}

// Resolve produces the post-resolution content and version for the given
// choice. mergedContent is only consulted for ChoiceMerge. Every choice
// advances the version to max(localVersion, remote version)+1 so the
// counter stays strictly monotonic on both sides of the divergence.
func (r *Resolution) Resolve(choice Choice, mergedContent string, localVersion int) (string, int, error) {
	version := maxInt(localVersion, r.RemoteOp.Version) + 1

	switch choice {
	case ChoiceAcceptLocal:
		return r.LocalContent, version, nil
	case ChoiceAcceptRemote:
		return r.RemoteContent, version, nil
	case ChoiceMerge:
		return mergedContent, version, nil
	default:
		return "", 0, fmt.Errorf("unknown resolution choice %q", choice)
	}
}
