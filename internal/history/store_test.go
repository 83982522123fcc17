package history

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"gitent/internal/change"
	gerrors "gitent/internal/errors"
	"gitent/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*Store, *badger.DB) {
	t.Helper()
	db, err := storage.OpenDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, "s1", 8, nil)
	require.NoError(t, err)
	return s, db
}

func newCommit(t *testing.T, parent, message string, at time.Time, changes ...CommitChange) Commit {
	t.Helper()
	c := Commit{
		Parent:    parent,
		Message:   message,
		AgentID:   "agent",
		Timestamp: at,
		Changes:   changes,
	}
	id, err := ComputeID(c)
	require.NoError(t, err)
	c.ID = id
	return c
}

func create(path, hash string) CommitChange {
	return CommitChange{Path: path, Kind: change.KindCreate, AfterHash: hash}
}

func TestComputeID(t *testing.T) {
	base := Commit{
		Parent:    "p",
		Message:   "msg",
		AgentID:   "a1",
		Author:    "alice",
		Timestamp: t0,
		Changes:   []CommitChange{create("a.txt", "h1"), create("b.txt", "h2")},
	}
	baseID, err := ComputeID(base)
	require.NoError(t, err)
	assert.Len(t, baseID, 64)

	tests := []struct {
		name   string
		mutate func(c *Commit)
		same   bool
	}{
		{"identical", func(c *Commit) {}, true},
		{"agent id ignored", func(c *Commit) { c.AgentID = "a2" }, true},
		{"same instant other zone", func(c *Commit) { c.Timestamp = t0.In(time.FixedZone("X", 3600)) }, true},
		{"parent", func(c *Commit) { c.Parent = "q" }, false},
		{"message", func(c *Commit) { c.Message = "other" }, false},
		{"author", func(c *Commit) { c.Author = "bob" }, false},
		{"timestamp", func(c *Commit) { c.Timestamp = t0.Add(time.Nanosecond) }, false},
		{"change order", func(c *Commit) {
			c.Changes = []CommitChange{c.Changes[1], c.Changes[0]}
		}, false},
		{"after hash", func(c *Commit) {
			c.Changes = []CommitChange{create("a.txt", "h9"), c.Changes[1]}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Changes = append([]CommitChange(nil), base.Changes...)
			tt.mutate(&c)
			id, err := ComputeID(c)
			require.NoError(t, err)
			if tt.same {
				assert.Equal(t, baseID, id)
			} else {
				assert.NotEqual(t, baseID, id)
			}
		})
	}
}

func TestAppend(t *testing.T) {
	s, db := setupStore(t)
	assert.Equal(t, "", s.Head())

	err := s.Append(Commit{Message: "empty", Timestamp: t0})
	assert.Equal(t, gerrors.ErrorTypeEmptyCommit, gerrors.TypeOf(err))

	c1 := newCommit(t, "", "first", t0, create("a.txt", "h1"))
	require.NoError(t, s.Append(c1))
	assert.Equal(t, c1.ID, s.Head())

	stale := newCommit(t, "", "stale", t0.Add(time.Second), create("b.txt", "h2"))
	err = s.Append(stale)
	require.Error(t, err)
	assert.Equal(t, gerrors.ErrorTypeStaleParent, gerrors.TypeOf(err))
	assert.Equal(t, c1.ID, s.Head())

	forged := c1
	forged.Message = "forged"
	assert.Error(t, s.Append(forged))

	t.Run("within failure rolls back", func(t *testing.T) {
		c2 := newCommit(t, c1.ID, "second", t0.Add(time.Minute), create("c.txt", "h3"))
		boom := errors.New("boom")
		err := s.Append(c2, func(txn *badger.Txn) error { return boom })
		assert.Equal(t, gerrors.ErrorTypePersistence, gerrors.TypeOf(err))
		assert.Equal(t, c1.ID, s.Head())
		_, err = s.Get(c2.ID)
		assert.Equal(t, gerrors.ErrorTypeUnknownCommit, gerrors.TypeOf(err))
	})

	t.Run("within writes land with the commit", func(t *testing.T) {
		c2 := newCommit(t, c1.ID, "second", t0.Add(time.Minute), create("c.txt", "h3"))
		require.NoError(t, s.Append(c2, func(txn *badger.Txn) error {
			return txn.Set([]byte("marker"), []byte("x"))
		}))
		err := db.View(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte("marker"))
			return err
		})
		assert.NoError(t, err)
	})

	reopened, err := NewStore(db, "s1", 8, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Head(), reopened.Head())
	got, err := reopened.Get(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Message)
	assert.True(t, t0.Equal(got.Timestamp))
}

func buildChain(t *testing.T, s *Store, n int) []Commit {
	t.Helper()
	var commits []Commit
	parent := ""
	for i := 0; i < n; i++ {
		c := newCommit(t, parent, fmt.Sprintf("commit %d", i), t0.Add(time.Duration(i)*time.Minute),
			create(fmt.Sprintf("f%d.txt", i), fmt.Sprintf("h%d", i)))
		require.NoError(t, s.Append(c))
		commits = append(commits, c)
		parent = c.ID
	}
	return commits
}

func TestLog(t *testing.T) {
	s, _ := setupStore(t)

	var none int
	for range s.Log(0) {
		none++
	}
	assert.Equal(t, 0, none)

	commits := buildChain(t, s, 5)

	tests := []struct {
		limit int
		want  int
	}{
		{0, 5}, {-1, 5}, {1, 1}, {3, 3}, {5, 5}, {10, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			var got []Commit
			for c, err := range s.Log(tt.limit) {
				require.NoError(t, err)
				got = append(got, c)
			}
			require.Len(t, got, tt.want)
			for i, c := range got {
				assert.Equal(t, commits[len(commits)-1-i].ID, c.ID, "most recent first")
			}
		})
	}

	seq := s.Log(2)
	var first, second []string
	for c := range seq {
		first = append(first, c.ID)
	}
	for c := range seq {
		second = append(second, c.ID)
	}
	assert.Equal(t, first, second, "log can be iterated again")
}

func TestAncestry(t *testing.T) {
	s, _ := setupStore(t)
	commits := buildChain(t, s, 4)
	head := commits[3].ID

	ok, err := s.IsAncestor(commits[1].ID, head)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsAncestor(head, head)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsAncestor(head, commits[1].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	chain, err := s.Range(commits[0].ID, head)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, commits[1].ID, chain[0].ID)
	assert.Equal(t, head, chain[2].ID)

	chain, err = s.Range("", commits[1].ID)
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	chain, err = s.Range(head, head)
	require.NoError(t, err)
	assert.Empty(t, chain)

	_, err = s.Range(head, commits[0].ID)
	assert.Equal(t, gerrors.ErrorTypeNotAnAncestor, gerrors.TypeOf(err))
}

func TestTreeAt(t *testing.T) {
	s, _ := setupStore(t)

	c1 := newCommit(t, "", "one", t0, create("a.txt", "ha"), create("b.txt", "hb"))
	require.NoError(t, s.Append(c1))
	c2 := newCommit(t, c1.ID, "two", t0.Add(time.Minute),
		CommitChange{Path: "c.txt", Kind: change.KindRename, PriorPath: "a.txt", BeforeHash: "ha", AfterHash: "ha"},
		CommitChange{Path: "b.txt", Kind: change.KindDelete, BeforeHash: "hb"},
	)
	require.NoError(t, s.Append(c2))
	c3 := newCommit(t, c2.ID, "three", t0.Add(2*time.Minute),
		CommitChange{Path: "c.txt", Kind: change.KindModify, BeforeHash: "ha", AfterHash: "hc"})
	require.NoError(t, s.Append(c3))

	tree, err := s.TreeAt(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, Tree{"a.txt": "ha", "b.txt": "hb"}, tree)

	tree, err = s.TreeAt(c3.ID)
	require.NoError(t, err)
	assert.Equal(t, Tree{"c.txt": "hc"}, tree)

	tree["mutated"] = "x"
	again, err := s.TreeAt(c3.ID)
	require.NoError(t, err)
	assert.Equal(t, Tree{"c.txt": "hc"}, again, "cached trees are not shared with callers")

	tree, err = s.TreeAt("")
	require.NoError(t, err)
	assert.Empty(t, tree)

	_, err = s.TreeAt("ffffffff")
	assert.Equal(t, gerrors.ErrorTypeUnknownCommit, gerrors.TypeOf(err))
}

func TestResolve(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Resolve("head")
	assert.Equal(t, gerrors.ErrorTypeUnknownCommit, gerrors.TypeOf(err))

	commits := buildChain(t, s, 3)
	head := commits[2].ID

	tests := []struct {
		name    string
		ref     string
		want    string
		errType gerrors.ErrorType
	}{
		{"head", "HEAD", head, ""},
		{"full", commits[0].ID, commits[0].ID, ""},
		{"prefix", commits[1].ID[:12], commits[1].ID, ""},
		{"too short", commits[1].ID[:3], "", gerrors.ErrorTypeUnknownCommit},
		{"not hex", "zzzzzz", "", gerrors.ErrorTypeUnknownCommit},
		{"unknown", "0000000000", "", gerrors.ErrorTypeUnknownCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Resolve(tt.ref)
			if tt.errType != "" {
				assert.Equal(t, tt.errType, gerrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
