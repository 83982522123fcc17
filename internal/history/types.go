// internal/history/types.go
package history

import (
	"fmt"
	"sort"
	"time"

	"gitent/internal/change"
)

// CommitChange is the recorded effect of one change inside a commit.
// An empty hash means the path did not exist on that side, or existed
// with content that was never recorded.
type CommitChange struct {
	Path       string      `json:"path"`
	Kind       change.Kind `json:"kind"`
	PriorPath  string      `json:"prior_path,omitempty"`
	BeforeHash string      `json:"before_hash,omitempty"`
	AfterHash  string      `json:"after_hash,omitempty"`
}

// Commit is an immutable, hash-identified set of changes linked to its
// parent. Parent is empty for the first commit of a session.
type Commit struct {
	ID        string         `json:"id"`
	Parent    string         `json:"parent,omitempty"`
	Message   string         `json:"message"`
	AgentID   string         `json:"agent_id"`
	Author    string         `json:"author,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Changes   []CommitChange `json:"changes"`
}

func (c Commit) GetID() string { return c.ID }

// Short returns the abbreviated id used in messages.
func (c Commit) Short() string {
	return ShortID(c.ID)
}

func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Paths returns every path the commit touches, prior paths included.
func (c Commit) Paths() []string {
	var paths []string
	for _, ch := range c.Changes {
		if ch.PriorPath != "" {
			paths = append(paths, ch.PriorPath)
		}
		paths = append(paths, ch.Path)
	}
	return paths
}

// Tree maps every present path to its blob hash. A present path with an
// empty hash exists but its content was never recorded.
type Tree map[string]string

func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for p, h := range t {
		out[p] = h
	}
	return out
}

// Apply replays one commit change onto t.
func (t Tree) Apply(ch CommitChange) {
	switch ch.Kind {
	case change.KindCreate, change.KindModify:
		t[ch.Path] = ch.AfterHash
	case change.KindDelete:
		delete(t, ch.Path)
	case change.KindRename:
		delete(t, ch.PriorPath)
		t[ch.Path] = ch.AfterHash
	default:
		panic(fmt.Sprintf("history: unhandled kind %q", string(ch.Kind)))
	}
}

// SortedPaths returns the paths of t in order.
func (t Tree) SortedPaths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// LogEntry is one line of history as returned by log. The verbose
// fields are only filled on request.
type LogEntry struct {
	ID        string         `json:"commit_id"`
	Message   string         `json:"message"`
	Author    string         `json:"author,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Parent    string         `json:"parent,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Changes   []CommitChange `json:"changes,omitempty"`
}

func NewLogEntry(c Commit, verbose bool) LogEntry {
	e := LogEntry{
		ID:        c.ID,
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp,
	}
	if verbose {
		e.Parent = c.Parent
		e.AgentID = c.AgentID
		e.Changes = c.Changes
	}
	return e
}
