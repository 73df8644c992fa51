package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertsyd/collabengine/internal/operations"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestHasConflict(t *testing.T) {
	t.Run("remote at local version conflicts", func(t *testing.T) {
		op := operations.NewInsert("bob", 5, 0, "x", testTime)
		assert.True(t, HasConflict(op, 5))
	})

	t.Run("remote behind local version conflicts", func(t *testing.T) {
		op := operations.NewInsert("bob", 3, 0, "x", testTime)
		assert.True(t, HasConflict(op, 5))
	})

	t.Run("remote one ahead is clean", func(t *testing.T) {
		op := operations.NewInsert("bob", 6, 0, "x", testTime)
		assert.False(t, HasConflict(op, 5))
	})
}

func TestDetectAutoMerge(t *testing.T) {
	t.Run("local append and remote edit at start merge automatically", func(t *testing.T) {
		base := "hello world"
		local := "hello world!"                                         // appended at end
		remote := operations.NewDelete("bob", 2, 0, 6, testTime)        // drops "hello "

		outcome, err := Detect(base, local, "alice", remote, 4, operations.PriorityUserID)
		require.NoError(t, err)

		assert.True(t, outcome.AutoMerged)
		assert.Nil(t, outcome.Resolution)
		assert.Equal(t, "world!", outcome.Content)
	})

	t.Run("merged version is max of both sides plus one", func(t *testing.T) {
		base := "abc"
		local := "abcX"
		remote := operations.NewInsert("bob", 9, 0, "Y", testTime)

		outcome, err := Detect(base, local, "alice", remote, 4, operations.PriorityUserID)
		require.NoError(t, err)

		assert.True(t, outcome.AutoMerged)
		assert.Equal(t, 10, outcome.Version)
		assert.Equal(t, "YabcX", outcome.Content)
	})

	t.Run("remote edit after local edit shifts correctly", func(t *testing.T) {
		base := "abcdef"
		local := "aXbcdef"                                        // inserted at 1
		remote := operations.NewDelete("bob", 2, 4, 2, testTime)  // removes "ef"

		outcome, err := Detect(base, local, "alice", remote, 3, operations.PriorityUserID)
		require.NoError(t, err)

		assert.True(t, outcome.AutoMerged)
		assert.Equal(t, "aXbcd", outcome.Content)
	})

	t.Run("same-point insertions merge identically on both peers", func(t *testing.T) {
		// Alice and Bob both insert at position 1 of "ab". Each peer runs
		// detection with the other side as remote; the user_id tie-break
		// must order the insertions the same way in both merges.
		base := "ab"
		aliceOp := operations.NewInsert("alice", 2, 1, "X", testTime)
		bobOp := operations.NewInsert("bob", 2, 1, "Y", testTime)

		onAlice, err := Detect(base, "aXb", "alice", bobOp, 3, operations.PriorityUserID)
		require.NoError(t, err)
		require.True(t, onAlice.AutoMerged)

		onBob, err := Detect(base, "aYb", "bob", aliceOp, 3, operations.PriorityUserID)
		require.NoError(t, err)
		require.True(t, onBob.AutoMerged)

		assert.Equal(t, "aXYb", onAlice.Content)
		assert.Equal(t, onAlice.Content, onBob.Content, "peers diverged on the merged order")
	})
}

func TestDetectOverlap(t *testing.T) {
	t.Run("overlapping edits surface a resolution", func(t *testing.T) {
		base := "abcdef"
		local := "abXdef"                                         // replaced position 2
		remote := operations.NewDelete("bob", 2, 2, 1, testTime)  // also edits position 2

		outcome, err := Detect(base, local, "alice", remote, 3, operations.PriorityUserID)
		require.NoError(t, err)

		assert.False(t, outcome.AutoMerged)
		require.NotNil(t, outcome.Resolution)
		assert.Equal(t, "abXdef", outcome.Resolution.LocalContent)
		assert.Equal(t, "abdef", outcome.Resolution.RemoteContent)
		assert.Equal(t, "bob", outcome.Resolution.RemoteAuthor)
	})

	t.Run("corrupt remote operation is an error, not a resolution", func(t *testing.T) {
		base := "ab"
		remote := operations.NewDelete("bob", 2, 0, 99, testTime)

		_, err := Detect(base, "abX", "alice", remote, 3, operations.PriorityUserID)
		assert.ErrorIs(t, err, operations.ErrInvalidOperation)
	})
}

func TestResolve(t *testing.T) {
	res := &Resolution{
		BaseContent:   "base",
		LocalContent:  "local text",
		RemoteContent: "remote text",
		RemoteOp:      operations.NewInsert("bob", 7, 0, "remote ", testTime),
		RemoteAuthor:  "bob",
		DetectedAt:    testTime,
	}

	t.Run("accept local keeps local content and advances version", func(t *testing.T) {
		content, version, err := res.Resolve(ChoiceAcceptLocal, "", 5)
		require.NoError(t, err)
		assert.Equal(t, "local text", content)
		assert.Equal(t, 8, version)
	})

	t.Run("accept remote reproduces the remote author's content exactly", func(t *testing.T) {
		content, version, err := res.Resolve(ChoiceAcceptRemote, "", 9)
		require.NoError(t, err)
		assert.Equal(t, "remote text", content)
		assert.Equal(t, 10, version)
	})

	t.Run("merge accepts the supplied content verbatim", func(t *testing.T) {
		content, _, err := res.Resolve(ChoiceMerge, "hand merged", 5)
		require.NoError(t, err)
		assert.Equal(t, "hand merged", content)
	})

	t.Run("unknown choice is rejected", func(t *testing.T) {
		_, _, err := res.Resolve(Choice("coin_flip"), "", 5)
		assert.Error(t, err)
	})
}
