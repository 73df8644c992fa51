package session

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is an immutable content snapshot recorded whenever a note's content
// changes, used to display or revert history.
type Entry struct {
	Content              string    `json:"content"`
	Version              int       `json:"version"`
	Author               string    `json:"author"`
	Timestamp            time.Time `json:"timestamp"`
	IsConflictResolution bool      `json:"is_conflict_resolution"`
}

// History is a bounded log of content snapshots. Entries are keyed by a
// monotonic sequence number, so several snapshots recorded at the same
// version (local edits awaiting acknowledgement) are all retained. The most
// recent N entries are kept; the oldest is evicted when the bound is
// exceeded.
type History struct {
	entries *lru.Cache[int, Entry]
	seq     int
}

// NewHistory creates a history bounded to depth entries.
func NewHistory(depth int) (*History, error) {
	cache, err := lru.New[int, Entry](depth)
	if err != nil {
		return nil, err
	}
	return &History{entries: cache}, nil
}

// Append records a snapshot.
func (h *History) Append(e Entry) {
	h.entries.Add(h.seq, e)
	h.seq++
}

// Lookup returns the most recent entry recorded for a version, if still
// retained. Peek is used so that display access does not disturb eviction
// order.
func (h *History) Lookup(version int) (Entry, bool) {
	var found Entry
	ok := false
	for _, k := range h.entries.Keys() {
		if e, hit := h.entries.Peek(k); hit && e.Version == version {
			found, ok = e, true
		}
	}
	return found, ok
}

// Entries returns the retained snapshots, oldest first.
func (h *History) Entries() []Entry {
	keys := h.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := h.entries.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained snapshots.
func (h *History) Len() int {
	return h.entries.Len()
}
