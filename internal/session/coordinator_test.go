package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertsyd/collabengine/internal/conflict"
	"github.com/albertsyd/collabengine/internal/operations"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport records sent operations and can be made to fail.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []*operations.Operation
	failing bool
}

func (f *fakeTransport) Send(_ context.Context, _ string, op *operations.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("network down")
	}
	f.sent = append(f.sent, op)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeStore records the last persisted content per note.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]string
	version map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]string), version: make(map[string]int)}
}

func (f *fakeStore) Load(_ context.Context, noteID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[noteID], nil
}

func (f *fakeStore) Save(_ context.Context, noteID, content string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[noteID] = content
	f.version[noteID] = version
	return nil
}

func newTestCoordinator(t *testing.T, content string, transport Transport) *Coordinator {
	t.Helper()
	c, err := NewCoordinator("note-1", "alice", content, Options{
		Priority:    operations.PriorityUserID,
		Transport:   transport,
		Store:       newFakeStore(),
		SendTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestSubmitLocal(t *testing.T) {
	t.Run("applies the edit and queues it for acknowledgement", func(t *testing.T) {
		transport := &fakeTransport{}
		c := newTestCoordinator(t, "hello", transport)

		op := operations.NewInsert("alice", c.Version(), 5, "!", testTime)
		sent, err := c.SubmitLocal(context.Background(), op)
		require.NoError(t, err)

		assert.Equal(t, "hello!", c.Content())
		assert.Equal(t, 1, c.PendingCount())
		assert.Equal(t, 0, c.Version(), "version advances on acknowledgement, not submission")
		assert.Equal(t, 1, transport.sentCount())
		assert.Equal(t, op.ID, sent.ID)
	})

	t.Run("rejects an invalid operation", func(t *testing.T) {
		c := newTestCoordinator(t, "hello", &fakeTransport{})

		op := operations.NewInsert("alice", 0, -1, "x", testTime)
		_, err := c.SubmitLocal(context.Background(), op)
		assert.ErrorIs(t, err, operations.ErrInvalidOperation)
		assert.Equal(t, 0, c.PendingCount())
	})
}

func TestAcknowledge(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestCoordinator(t, "hello", transport)

	op := operations.NewInsert("alice", 0, 5, "!", testTime)
	_, err := c.SubmitLocal(context.Background(), op)
	require.NoError(t, err)

	t.Run("unknown id is rejected", func(t *testing.T) {
		err := c.Acknowledge("nope")
		assert.ErrorIs(t, err, ErrUnknownOperation)
		assert.Equal(t, 0, c.Version())
	})

	t.Run("removes pending and advances version", func(t *testing.T) {
		require.NoError(t, c.Acknowledge(op.ID))
		assert.Equal(t, 0, c.PendingCount())
		assert.Equal(t, 1, c.Version())
	})
}

// TestReceiveRemoteRepositionsPending covers the canonical concurrent-edit
// scenario: a pending local append stays correctly positioned after a
// remote prepend lands.
func TestReceiveRemoteRepositionsPending(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestCoordinator(t, "hello", transport)

	local := operations.NewInsert("alice", 0, 5, "!", testTime)
	_, err := c.SubmitLocal(context.Background(), local)
	require.NoError(t, err)
	require.Equal(t, "hello!", c.Content())

	remote := operations.NewInsert("bob", 1, 0, "Hi ", testTime)
	res, err := c.ReceiveRemote(context.Background(), remote)
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Equal(t, "Hi hello!", c.Content())
	assert.Equal(t, 1, c.Version())
	assert.Equal(t, 1, c.PendingCount(), "local edit still awaiting acknowledgement")
}

func TestReceiveRemoteVersionMonotonic(t *testing.T) {
	c := newTestCoordinator(t, "", &fakeTransport{})

	lastVersion := c.Version()
	for i := 0; i < 5; i++ {
		remote := operations.NewInsert("bob", lastVersion+1, 0, "x", testTime.Add(time.Duration(i)*time.Second))
		_, err := c.ReceiveRemote(context.Background(), remote)
		require.NoError(t, err)

		assert.Greater(t, c.Version(), lastVersion, "version must strictly increase")
		lastVersion = c.Version()
	}
}

func TestReceiveRemoteInvalid(t *testing.T) {
	t.Run("structurally corrupt operation is dropped", func(t *testing.T) {
		c := newTestCoordinator(t, "hello", &fakeTransport{})

		bad := &operations.Operation{Type: operations.OpType("move"), Version: 1}
		_, err := c.ReceiveRemote(context.Background(), bad)
		assert.ErrorIs(t, err, operations.ErrInvalidOperation)
		assert.Equal(t, 0, c.Version(), "version must not advance for a dropped operation")
		assert.Equal(t, "hello", c.Content())
	})

	t.Run("delete exceeding the whole text is dropped", func(t *testing.T) {
		c := newTestCoordinator(t, "hi", &fakeTransport{})

		bad := operations.NewDelete("bob", 1, 0, 99, testTime)
		_, err := c.ReceiveRemote(context.Background(), bad)
		assert.ErrorIs(t, err, operations.ErrInvalidOperation)
		assert.Equal(t, 0, c.Version())
		assert.Equal(t, "hi", c.Content())
	})
}

func TestConflictAutoMerge(t *testing.T) {
	c := newTestCoordinator(t, "hello world", &fakeTransport{})

	// Local divergence: append at the end.
	_, err := c.SubmitEdit(context.Background(), "hello world!")
	require.NoError(t, err)

	// Remote edits the start, issued against the same base version.
	remote := operations.NewDelete("bob", 0, 0, 6, testTime)
	res, err := c.ReceiveRemote(context.Background(), remote)
	require.NoError(t, err)

	assert.Nil(t, res, "non-overlapping regions must merge without surfacing a resolution")
	assert.Nil(t, c.Blocked())
	assert.Equal(t, "world!", c.Content())
	assert.Equal(t, 1, c.Version())

	entries := c.History()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.True(t, last.IsConflictResolution)
}

func TestConflictManualResolution(t *testing.T) {
	c := newTestCoordinator(t, "abcdef", &fakeTransport{})

	// Local divergence replacing position 2.
	_, err := c.SubmitEdit(context.Background(), "abXdef")
	require.NoError(t, err)

	// Remote also edits position 2 against the same base.
	remote := operations.NewDelete("bob", 0, 2, 1, testTime)
	res, err := c.ReceiveRemote(context.Background(), remote)
	require.NoError(t, err)
	require.NotNil(t, res, "overlapping regions must surface exactly one resolution")
	assert.Equal(t, "bob", res.RemoteAuthor)

	t.Run("session is blocked until resolved", func(t *testing.T) {
		_, err := c.SubmitLocal(context.Background(), operations.NewInsert("alice", 0, 0, "z", testTime))
		assert.ErrorIs(t, err, ErrSessionBlocked)

		_, err = c.ReceiveRemote(context.Background(), operations.NewInsert("bob", 5, 0, "z", testTime))
		assert.ErrorIs(t, err, ErrSessionBlocked)
	})

	t.Run("resolving without a conflict is rejected later", func(t *testing.T) {
		require.NoError(t, c.Resolve(context.Background(), conflict.ChoiceAcceptRemote, ""))

		assert.Nil(t, c.Blocked())
		assert.Equal(t, "abdef", c.Content(), "accept remote reproduces the remote author's content")
		assert.Equal(t, 1, c.Version())

		entries := c.History()
		require.NotEmpty(t, entries)
		assert.True(t, entries[len(entries)-1].IsConflictResolution)

		err := c.Resolve(context.Background(), conflict.ChoiceAcceptLocal, "")
		assert.ErrorIs(t, err, ErrNoConflict)
	})
}

func TestConflictResolveAcceptLocal(t *testing.T) {
	c := newTestCoordinator(t, "abcdef", &fakeTransport{})

	_, err := c.SubmitEdit(context.Background(), "abXdef")
	require.NoError(t, err)

	remote := operations.NewDelete("bob", 0, 2, 1, testTime)
	res, err := c.ReceiveRemote(context.Background(), remote)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NoError(t, c.Resolve(context.Background(), conflict.ChoiceAcceptLocal, ""))

	assert.Equal(t, "abXdef", c.Content(), "local content kept, remote edit discarded")
	assert.Equal(t, 1, c.Version(), "version still advances past the remote operation")
	assert.Equal(t, 2, c.PendingCount(), "local edits remain queued for acknowledgement")
}

func TestConflictResolveMerge(t *testing.T) {
	c := newTestCoordinator(t, "abcdef", &fakeTransport{})

	_, err := c.SubmitEdit(context.Background(), "abXdef")
	require.NoError(t, err)

	res, err := c.ReceiveRemote(context.Background(), operations.NewDelete("bob", 0, 2, 1, testTime))
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NoError(t, c.Resolve(context.Background(), conflict.ChoiceMerge, "abYdef"))
	assert.Equal(t, "abYdef", c.Content(), "merged content accepted verbatim")
}

func TestTransportFailure(t *testing.T) {
	transport := &fakeTransport{failing: true}
	c := newTestCoordinator(t, "hello", transport)

	op := operations.NewInsert("alice", 0, 5, "!", testTime)
	_, err := c.SubmitLocal(context.Background(), op)
	assert.ErrorIs(t, err, ErrTransportFailure)

	// The edit took effect locally and stays pending for re-send.
	assert.Equal(t, "hello!", c.Content())
	assert.Equal(t, 1, c.PendingCount())

	// Once the transport recovers, Flush re-sends the queue.
	transport.mu.Lock()
	transport.failing = false
	transport.mu.Unlock()

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, transport.sentCount())

	require.NoError(t, c.Acknowledge(op.ID))
	assert.Equal(t, 0, c.PendingCount())
}

func TestSubmitEdit(t *testing.T) {
	c := newTestCoordinator(t, "abc", &fakeTransport{})

	ops, err := c.SubmitEdit(context.Background(), "abXc")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, operations.OpInsert, ops[0].Type)
	assert.Equal(t, "abXc", c.Content())

	t.Run("no-op edit submits nothing", func(t *testing.T) {
		ops, err := c.SubmitEdit(context.Background(), "abXc")
		require.NoError(t, err)
		assert.Empty(t, ops)
	})
}

// TestSubmitEditWhilePending covers successive keystroke edits before any
// acknowledgement: the second diff is taken against text that already
// contains the first pending insert, so its position must be used as-is
// rather than shifted past the queue again.
func TestSubmitEditWhilePending(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestCoordinator(t, "abc", transport)

	first, err := c.SubmitEdit(context.Background(), "XYabc")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "XYabc", c.Content())

	second, err := c.SubmitEdit(context.Background(), "XYZabc")
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, "XYZabc", c.Content())
	assert.Equal(t, 2, second[0].Position, "diff position kept, not re-shifted past the pending queue")
	assert.Equal(t, 2, c.PendingCount())
	assert.Equal(t, 2, transport.sentCount())

	// Acknowledgements line up with the queued positions.
	require.NoError(t, c.Acknowledge(first[0].ID))
	require.NoError(t, c.Acknowledge(second[0].ID))
	assert.Equal(t, 2, c.Version())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, "XYZabc", c.Content())
}

func TestReload(t *testing.T) {
	store := newFakeStore()
	c, err := NewCoordinator("note-1", "alice", "stale", Options{
		Store:       store,
		SendTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "note-1", "fresh", 7))
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, "fresh", c.Content())

	t.Run("rejected while edits are pending", func(t *testing.T) {
		_, err := c.SubmitEdit(context.Background(), "fresher")
		require.NoError(t, err)

		err = c.Reload(context.Background())
		assert.ErrorIs(t, err, ErrPendingOperations)
		assert.Equal(t, "fresher", c.Content(), "pending local edits are never overwritten")
	})

	t.Run("rejected without a store", func(t *testing.T) {
		bare, err := NewCoordinator("note-2", "alice", "", Options{})
		require.NoError(t, err)
		assert.ErrorIs(t, bare.Reload(context.Background()), ErrNoStore)
	})
}

func TestClose(t *testing.T) {
	c := newTestCoordinator(t, "hello", &fakeTransport{})

	_, err := c.SubmitLocal(context.Background(), operations.NewInsert("alice", 0, 5, "!", testTime))
	require.NoError(t, err)
	require.Equal(t, 1, c.PendingCount())

	c.Close()

	assert.Equal(t, 0, c.PendingCount(), "pending operations are discarded on teardown")

	_, err = c.SubmitLocal(context.Background(), operations.NewInsert("alice", 0, 0, "x", testTime))
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = c.ReceiveRemote(context.Background(), operations.NewInsert("bob", 1, 0, "x", testTime))
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.ErrorIs(t, c.Acknowledge("any"), ErrSessionClosed)
	assert.ErrorIs(t, c.Flush(context.Background()), ErrSessionClosed)

	// Closing twice is harmless.
	c.Close()
}

func TestConcurrentSubmitAndReceive(t *testing.T) {
	c := newTestCoordinator(t, "", &fakeTransport{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			op := operations.NewInsert("alice", c.Version(), 0, "a", testTime)
			c.SubmitLocal(context.Background(), op) //nolint:errcheck
		}(i)
		go func(i int) {
			defer wg.Done()
			op := operations.NewInsert("bob", c.Version()+1, 0, "b", testTime)
			c.ReceiveRemote(context.Background(), op) //nolint:errcheck
		}(i)
	}
	wg.Wait()

	// The serialized entry points must survive concurrent use without
	// panicking or deadlocking, and the counter never goes negative.
	assert.GreaterOrEqual(t, c.Version(), 0)
}
