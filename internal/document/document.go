package document

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/albertsyd/collabengine/internal/operations"
)

const defaultOpLogDepth = 256

// Document represents thread-safe shared document state on the relay side.
// It tracks content, the monotonic version number, last modification time,
// and a bounded log of accepted operations keyed by the version they
// produced. The log lets stale incoming operations be transformed forward
// against everything they have not seen.
type Document struct {
	content      string
	version      int
	lastModified time.Time
	ops          *lru.Cache[int, *operations.Operation]
	priority     operations.Priority
	mu           sync.RWMutex
}

// NewDocument creates a new empty document.
func NewDocument(priority operations.Priority) *Document {
	// Depth is fixed; lru.New only fails for a non-positive size.
	ops, _ := lru.New[int, *operations.Operation](defaultOpLogDepth)
	return &Document{
		lastModified: time.Now(),
		ops:          ops,
		priority:     priority,
	}
}

// GetContent returns the current document content.
func (d *Document) GetContent() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// SetContent replaces the document content and increments the version.
func (d *Document) SetContent(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.content = content
	d.version++
	d.lastModified = time.Now()
}

// SetResolvedContent installs conflict-resolution output at an explicit
// version. The version must move forward; the counter never decreases.
func (d *Document) SetResolvedContent(content string, version int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if version <= d.version {
		return fmt.Errorf("resolved version %d does not advance current version %d", version, d.version)
	}
	d.content = content
	d.version = version
	d.lastModified = time.Now()
	return nil
}

// GetVersion returns the current version number.
func (d *Document) GetVersion() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// GetStats returns document version, last modified time, and content length.
func (d *Document) GetStats() (version int, lastModified time.Time, length int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, d.lastModified, len(d.content)
}

// ApplyOperation transforms an incoming operation forward against every
// accepted operation it has not seen, applies it, and returns the
// transformed operation with the new content and version.
//
// An operation issued at the current version applies untouched; one issued
// against an older version is folded through the operation log first. Stale
// operations older than the log window are rejected.
func (d *Document) ApplyOperation(op *operations.Operation) (*operations.Operation, string, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if op == nil {
		return nil, "", d.version, fmt.Errorf("%w: nil operation", operations.ErrInvalidOperation)
	}
	if err := op.Validate(); err != nil {
		return nil, "", d.version, err
	}

	transformed := op.Clone()
	for v := op.Version + 1; v <= d.version; v++ {
		prior, ok := d.ops.Peek(v)
		if !ok {
			return nil, "", d.version, fmt.Errorf("%w: operation at version %d predates the transform window",
				operations.ErrInvalidOperation, op.Version)
		}
		var err error
		transformed, _, err = operations.Transform(transformed, prior, d.priority)
		if err != nil {
			return nil, "", d.version, fmt.Errorf("transforming against version %d: %w", v, err)
		}
	}

	newContent, err := operations.Apply(d.content, transformed)
	if err != nil {
		return nil, "", d.version, err
	}

	d.content = newContent
	d.version++
	d.lastModified = time.Now()
	d.ops.Add(d.version, transformed)

	return transformed, newContent, d.version, nil
}

// GetContentAndVersion atomically returns both content and version.
func (d *Document) GetContentAndVersion() (string, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content, d.version
}
