package commit

import (
	"context"
	"testing"
	"time"

	"gitent/internal/change"
	"gitent/internal/config"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/safe"
	"gitent/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupSession(t *testing.T) *session.Handle {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.InMemory = true
	m := session.NewManager(cfg, nil, session.WithNow(func() time.Time { return fixedTime }))
	t.Cleanup(func() { m.Close() })

	h, _, err := m.InitOrConnect(context.Background(), t.TempDir(), "")
	require.NoError(t, err)
	return h
}

func track(t *testing.T, h *session.Handle, req change.Request) {
	t.Helper()
	_, err := h.Tracker.Track(req)
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	changes := []history.CommitChange{{Path: "a.txt", Kind: change.KindCreate, AfterHash: safe.Hash([]byte("a"))}}
	local := fixedTime.In(time.FixedZone("X", 3600))

	a, err := Build("", "first", "agent", "", local, changes)
	require.NoError(t, err)
	b, err := Build("", "first", "agent", "", fixedTime, changes)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())

	c, err := Build("", "second", "agent", "", fixedTime, changes)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestCreate(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()

	track(t, h, change.Request{Path: "a.txt", Kind: change.KindCreate, Content: []byte("one\n")})
	track(t, h, change.Request{Path: "b.txt", Kind: change.KindCreate, Content: []byte("two\n")})

	first, err := Create(ctx, h, Request{Message: "add files", Author: "dev"})
	require.NoError(t, err)
	assert.Empty(t, first.Parent)
	assert.Equal(t, "gitent", first.AgentID)
	assert.Equal(t, "dev", first.Author)
	assert.Equal(t, first.ID, h.History.Head())
	assert.Equal(t, 0, h.Tracker.Len())
	require.Len(t, first.Changes, 2)
	assert.Equal(t, safe.Hash([]byte("one\n")), first.Changes[0].AfterHash)
	meta, err := h.Blobs.Meta(first.Changes[0].AfterHash)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), meta.RefCount)

	track(t, h, change.Request{Path: "a.txt", Kind: change.KindModify, Content: []byte("uno\n")})
	track(t, h, change.Request{Path: "c.txt", Kind: change.KindRename, OldPath: "b.txt"})
	track(t, h, change.Request{Path: "c.txt", Kind: change.KindDelete})

	second, err := Create(ctx, h, Request{Message: "edit", AgentID: "bot", ExpectedParent: first.ID[:8]})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.Parent)
	assert.Equal(t, "bot", second.AgentID)
	require.Len(t, second.Changes, 3)

	modify, rename, del := second.Changes[0], second.Changes[1], second.Changes[2]
	assert.Equal(t, safe.Hash([]byte("one\n")), modify.BeforeHash)
	assert.Equal(t, safe.Hash([]byte("uno\n")), modify.AfterHash)
	assert.Equal(t, "b.txt", rename.PriorPath)
	assert.Equal(t, rename.BeforeHash, rename.AfterHash)
	assert.Equal(t, rename.AfterHash, del.BeforeHash)

	tree, err := h.History.TreeAt(second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, tree.SortedPaths())

	stored, err := h.Blobs.Get(modify.AfterHash)
	require.NoError(t, err)
	assert.Equal(t, "uno\n", string(stored))
}

func TestCreateSelectedChanges(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()

	track(t, h, change.Request{Path: "a.txt", Kind: change.KindCreate, Content: []byte("a\n")})
	track(t, h, change.Request{Path: "b.txt", Kind: change.KindCreate, Content: []byte("b\n")})
	track(t, h, change.Request{Path: "c.txt", Kind: change.KindCreate, Content: []byte("c\n")})

	_, err := Create(ctx, h, Request{Message: "bad", ChangeIDs: []uint64{2, 9}})
	assert.Equal(t, gerrors.ErrorTypeInvalidParams, gerrors.TypeOf(err))
	assert.Equal(t, 3, h.Tracker.Len())

	c, err := Create(ctx, h, Request{Message: "some", ChangeIDs: []uint64{3, 1}})
	require.NoError(t, err)
	require.Len(t, c.Changes, 2)
	assert.Equal(t, "a.txt", c.Changes[0].Path)
	assert.Equal(t, "c.txt", c.Changes[1].Path)

	left := h.Tracker.Pending()
	require.Len(t, left, 1)
	assert.Equal(t, "b.txt", left[0].Path)
	assert.Equal(t, uint64(2), left[0].Seq)

	rest, err := Create(ctx, h, Request{Message: "rest"})
	require.NoError(t, err)
	require.Len(t, rest.Changes, 1)
	assert.Equal(t, 0, h.Tracker.Len())

	tree, err := h.History.TreeAt(rest.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, tree.SortedPaths())
}

func TestCreateRenameOntoTrackedPath(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()

	track(t, h, change.Request{Path: "a.txt", Kind: change.KindCreate, Content: []byte("a\n")})
	track(t, h, change.Request{Path: "b.txt", Kind: change.KindCreate, Content: []byte("b\n")})
	_, err := Create(ctx, h, Request{Message: "add"})
	require.NoError(t, err)

	track(t, h, change.Request{Path: "b.txt", Kind: change.KindRename, OldPath: "a.txt"})
	c, err := Create(ctx, h, Request{Message: "replace b"})
	require.NoError(t, err)
	require.Len(t, c.Changes, 2)

	del, rename := c.Changes[0], c.Changes[1]
	assert.Equal(t, change.KindDelete, del.Kind)
	assert.Equal(t, "b.txt", del.Path)
	assert.Equal(t, safe.Hash([]byte("b\n")), del.BeforeHash)
	assert.Equal(t, change.KindRename, rename.Kind)
	assert.Equal(t, safe.Hash([]byte("a\n")), rename.AfterHash)

	tree, err := h.History.TreeAt(c.ID)
	require.NoError(t, err)
	assert.Equal(t, history.Tree{"b.txt": safe.Hash([]byte("a\n"))}, tree)
}

func TestCreateErrors(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()

	_, err := Create(ctx, h, Request{Message: "  "})
	assert.Equal(t, gerrors.ErrorTypeInvalidParams, gerrors.TypeOf(err))

	_, err = Create(ctx, h, Request{Message: "nothing"})
	assert.Equal(t, gerrors.ErrorTypeEmptyCommit, gerrors.TypeOf(err))

	track(t, h, change.Request{Path: "a.txt", Kind: change.KindCreate, Content: []byte("a")})
	_, err = Create(ctx, h, Request{Message: "stale", ExpectedParent: "deadbeef"})
	assert.Equal(t, gerrors.ErrorTypeStaleParent, gerrors.TypeOf(err))
	assert.Equal(t, 1, h.Tracker.Len())
	assert.Empty(t, h.History.Head())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Create(cancelled, h, Request{Message: "late"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.Tracker.Len())
}
