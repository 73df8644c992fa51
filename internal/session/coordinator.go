package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/albertsyd/collabengine/internal/conflict"
	"github.com/albertsyd/collabengine/internal/operations"
)

const defaultHistoryDepth = 50

// Options configures a Coordinator. Zero values fall back to sensible
// defaults; Transport and Store may be nil for purely local sessions.
type Options struct {
	Priority     operations.Priority
	HistoryDepth int
	Transport    Transport
	Store        ContentStore
	Logger       *slog.Logger

	// SendTimeout bounds the backoff retries around a single transport
	// send. After it elapses the operation stays pending for a later
	// Flush.
	SendTimeout time.Duration
}

// Coordinator owns the mutable collaboration state of one open document:
// the monotonic version counter, the queue of locally pending
// (sent-but-unacknowledged) operations, and the bounded version history.
//
// All mutations go through the coordinator's own serialized entry points;
// interleaving a local submit with a remote receive without that
// serialization would break the version invariant. The transform, apply and
// conflict layers underneath are pure and need no locking of their own.
type Coordinator struct {
	mu sync.Mutex

	sessionID string
	noteID    string
	author    string
	priority  operations.Priority

	content string
	version int
	// base is the last snapshot both sides agreed on; conflict detection
	// trims change regions against it.
	base    string
	pending []*operations.Operation
	blocked *conflict.Resolution
	closed  bool

	history     *History
	transport   Transport
	store       ContentStore
	log         *slog.Logger
	sendTimeout time.Duration
}

// NewCoordinator opens a collaborative editing session over a note.
func NewCoordinator(noteID, author, initialContent string, opts Options) (*Coordinator, error) {
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = defaultHistoryDepth
	}
	if opts.Priority == "" {
		opts.Priority = operations.PriorityUserID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	history, err := NewHistory(opts.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to create version history: %w", err)
	}

	return &Coordinator{
		sessionID:   uuid.NewString(),
		noteID:      noteID,
		author:      author,
		priority:    opts.Priority,
		content:     initialContent,
		base:        initialContent,
		history:     history,
		transport:   opts.Transport,
		store:       opts.Store,
		log:         opts.Logger.With("session", noteID, "author", author),
		sendTimeout: opts.SendTimeout,
	}, nil
}

// SessionID returns the unique identifier of this editing session.
func (c *Coordinator) SessionID() string { return c.sessionID }

// Content returns the current local text.
func (c *Coordinator) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Version returns the current version counter.
func (c *Coordinator) Version() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// PendingCount returns the number of sent-but-unacknowledged operations.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Blocked returns the outstanding conflict resolution state, or nil.
func (c *Coordinator) Blocked() *conflict.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// History returns the retained versioned content entries, oldest first.
func (c *Coordinator) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Entries()
}

// SubmitLocal accepts a locally issued operation: it is fold-transformed
// against every currently pending operation (left to right), appended to the
// pending queue, applied to the local text, persisted, and handed to the
// transport. The transformed operation is returned.
//
// A transport failure keeps the operation pending for re-send and is
// reported wrapped in ErrTransportFailure; the local edit itself has already
// taken effect and is never silently dropped.
func (c *Coordinator) SubmitLocal(ctx context.Context, op *operations.Operation) (*operations.Operation, error) {
	c.mu.Lock()
	transformed, err := c.enqueueLocked(ctx, op, true)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if sendErr := c.send(ctx, transformed); sendErr != nil {
		return transformed, fmt.Errorf("%w: %v", ErrTransportFailure, sendErr)
	}
	return transformed, nil
}

// SubmitEdit diffs the current content against newText and submits the
// resulting operations. This is the per-keystroke entry point: the two-edit
// diff produces at most one delete and one insert.
//
// The diff is taken against the current text, pending edits included, so its
// operations are already positioned; they bypass the pending-queue fold that
// SubmitLocal performs on operations expressed against the base text.
func (c *Coordinator) SubmitEdit(ctx context.Context, newText string) ([]*operations.Operation, error) {
	c.mu.Lock()
	if err := c.accepting(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ops := operations.Diff(c.content, newText, c.author, c.version, time.Now())

	submitted := make([]*operations.Operation, 0, len(ops))
	for _, op := range ops {
		out, err := c.enqueueLocked(ctx, op, false)
		if err != nil {
			c.mu.Unlock()
			return submitted, err
		}
		submitted = append(submitted, out)
	}
	c.mu.Unlock()

	for _, op := range submitted {
		if sendErr := c.send(ctx, op); sendErr != nil {
			return submitted, fmt.Errorf("%w: %v", ErrTransportFailure, sendErr)
		}
	}
	return submitted, nil
}

// enqueueLocked accepts one local operation under the held lock: optionally
// fold-transformed against the pending queue, applied, queued, recorded and
// persisted. Every pending entry is kept in the coordinates of the content
// at the moment it was appended; callers whose operations already satisfy
// that (SubmitEdit's diff output) pass foldPending=false.
func (c *Coordinator) enqueueLocked(ctx context.Context, op *operations.Operation, foldPending bool) (*operations.Operation, error) {
	if err := c.accepting(); err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	transformed := op.Clone()
	if foldPending {
		for _, p := range c.pending {
			var err error
			transformed, _, err = operations.Transform(transformed, p, c.priority)
			if err != nil {
				return nil, fmt.Errorf("transforming against pending queue: %w", err)
			}
		}
	}

	applied, err := operations.Apply(c.content, transformed)
	if err != nil {
		return nil, err
	}

	c.pending = append(c.pending, transformed)
	c.content = applied
	c.recordHistoryAs(c.author, false)
	c.persist(ctx)

	c.log.Debug("local operation submitted",
		"op", transformed.String(), "pending", len(c.pending), "version", c.version)
	return transformed, nil
}

// Acknowledge removes a pending operation on transport confirmation and
// advances the version counter.
func (c *Coordinator) Acknowledge(opID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}

	for i, p := range c.pending {
		if p.ID == opID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.version++
			if len(c.pending) == 0 {
				c.base = c.content
			}
			c.log.Debug("operation acknowledged", "op_id", opID, "version", c.version)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownOperation, opID)
}

// ReceiveRemote processes one remote operation to completion: conflict
// detection, optional auto-merge, transformation against the pending queue,
// application, and version advance. When the conflict cannot be merged
// automatically the returned Resolution is non-nil and the session blocks
// until Resolve is called.
//
// Invalid or corrupt remote operations are logged and dropped without
// advancing the version.
func (c *Coordinator) ReceiveRemote(ctx context.Context, op *operations.Operation) (*conflict.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accepting(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil remote operation", operations.ErrInvalidOperation)
	}
	if err := op.Validate(); err != nil {
		c.log.Warn("dropping invalid remote operation", "error", err)
		return nil, err
	}

	if conflict.HasConflict(op, c.version) {
		return c.receiveConflicting(ctx, op)
	}

	// Clean path: position the remote edit past every pending local
	// operation, and reposition each pending operation past the remote
	// edit so later acknowledgements still line up.
	remote := op.Clone()
	for i, p := range c.pending {
		var err error
		remote, c.pending[i], err = operations.Transform(remote, p, c.priority)
		if err != nil {
			return nil, fmt.Errorf("transforming remote against pending queue: %w", err)
		}
	}

	applied, err := operations.Apply(c.content, remote)
	if err != nil {
		c.log.Warn("dropping unappliable remote operation", "op", op.String(), "error", err)
		return nil, err
	}

	c.content = applied
	c.version++
	if len(c.pending) == 0 {
		c.base = c.content
	}
	c.recordHistoryAs(op.Author, false)
	c.persist(ctx)

	c.log.Debug("remote operation applied", "op", remote.String(), "version", c.version)
	return nil, nil
}

// receiveConflicting runs conflict detection under the held lock.
func (c *Coordinator) receiveConflicting(ctx context.Context, op *operations.Operation) (*conflict.Resolution, error) {
	outcome, err := conflict.Detect(c.base, c.content, c.author, op, c.version, c.priority)
	if err != nil {
		c.log.Warn("dropping conflicting remote operation", "op", op.String(), "error", err)
		return nil, err
	}

	if outcome.AutoMerged {
		c.content = outcome.Content
		c.version = outcome.Version
		c.base = c.content
		// The merged snapshot supersedes the unacknowledged local edits;
		// it is persisted wholesale rather than replayed operation by
		// operation.
		c.pending = c.pending[:0]
		c.recordHistoryAs(op.Author, true)
		c.persist(ctx)
		c.log.Info("conflict auto-merged", "remote_author", op.Author, "version", c.version)
		return nil, nil
	}

	c.blocked = outcome.Resolution
	c.log.Info("conflict requires resolution", "remote_author", op.Author, "version", c.version)
	return c.blocked, nil
}

// Resolve supplies the decision for an outstanding conflict. Exactly one
// resolution path fires: the resulting content and version are installed, a
// history entry is appended, and the blocked state is cleared.
func (c *Coordinator) Resolve(ctx context.Context, choice conflict.Choice, mergedContent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if c.blocked == nil {
		return ErrNoConflict
	}

	content, version, err := c.blocked.Resolve(choice, mergedContent, c.version)
	if err != nil {
		return err
	}

	author := c.author
	if choice == conflict.ChoiceAcceptRemote {
		author = c.blocked.RemoteAuthor
	}

	c.content = content
	c.version = version
	c.base = content
	if choice != conflict.ChoiceAcceptLocal {
		// Local divergence was replaced wholesale; the pending queue no
		// longer describes valid edits.
		c.pending = c.pending[:0]
	}
	c.recordHistoryAs(author, true)
	c.blocked = nil
	c.persist(ctx)

	c.log.Info("conflict resolved", "choice", string(choice), "version", c.version)
	return nil
}

// Reload replaces the local text with the snapshot held by the content
// store, re-anchoring the agreed base to it. It is rejected while
// unacknowledged local edits exist, since they would be silently
// overwritten.
func (c *Coordinator) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accepting(); err != nil {
		return err
	}
	if c.store == nil {
		return ErrNoStore
	}
	if len(c.pending) > 0 {
		return fmt.Errorf("%w: %d", ErrPendingOperations, len(c.pending))
	}

	loaded, err := c.store.Load(ctx, c.noteID)
	if err != nil {
		return fmt.Errorf("loading stored content: %w", err)
	}

	changed := loaded != c.content
	c.content = loaded
	c.base = loaded
	if changed {
		c.recordHistoryAs(c.author, false)
	}
	c.log.Debug("content reloaded from store", "note", c.noteID, "version", c.version)
	return nil
}

// Flush re-sends every pending operation, oldest first. Used after a
// transport failure; operations stay pending until acknowledged.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	queue := make([]*operations.Operation, len(c.pending))
	copy(queue, c.pending)
	c.mu.Unlock()

	for _, op := range queue {
		if err := c.send(ctx, op); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
	}
	return nil
}

// Close tears the session down. Pending operations are discarded without
// being sent; further calls are rejected with ErrSessionClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	discarded := len(c.pending)
	c.pending = nil
	c.blocked = nil
	c.log.Info("session closed", "discarded_pending", discarded, "version", c.version)
}

// accepting reports whether the session takes forward edits, as an error.
func (c *Coordinator) accepting() error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.blocked != nil {
		return ErrSessionBlocked
	}
	return nil
}

// send ships one operation with exponential backoff. Called without the
// lock held.
func (c *Coordinator) send(ctx context.Context, op *operations.Operation) error {
	if c.transport == nil {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.sendTimeout

	return backoff.Retry(func() error {
		return c.transport.Send(ctx, c.sessionID, op)
	}, backoff.WithContext(policy, ctx))
}

// recordHistoryAs appends a snapshot of the current content.
func (c *Coordinator) recordHistoryAs(author string, conflictResolution bool) {
	c.history.Append(Entry{
		Content:              c.content,
		Version:              c.version,
		Author:               author,
		Timestamp:            time.Now(),
		IsConflictResolution: conflictResolution,
	})
}

// persist saves the current content. Persistence failures are reported via
// the log and otherwise ignored; they never block local editing.
func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.noteID, c.content, c.version); err != nil {
		c.log.Warn("content save failed", "note", c.noteID, "error", err)
	}
}
