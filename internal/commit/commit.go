// internal/commit/commit.go
package commit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitent/internal/change"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/session"

	"go.uber.org/zap"
)

// Request carries the caller-supplied commit metadata.
type Request struct {
	Message string
	AgentID string
	Author  string
	// ExpectedParent, when set, must name the current head (full id or
	// unique prefix); otherwise the commit fails with StaleParent.
	ExpectedParent string
	// ChangeIDs limits the commit to the pending entries with these
	// sequence numbers. The rest stay pending. Empty means all.
	ChangeIDs []uint64
}

// Build assembles a commit and derives its id.
func Build(parent, message, agentID, author string, at time.Time, changes []history.CommitChange) (history.Commit, error) {
	c := history.Commit{
		Parent:    parent,
		Message:   message,
		AgentID:   agentID,
		Author:    author,
		Timestamp: at.UTC(),
		Changes:   changes,
	}
	id, err := history.ComputeID(c)
	if err != nil {
		return history.Commit{}, gerrors.Internal("computing commit id", err)
	}
	c.ID = id
	return c, nil
}

// Create turns the session's pending list into a commit on top of the
// current head. Entries tracked while the commit is being built stay
// pending for the next one.
func Create(ctx context.Context, h *session.Handle, req Request) (history.Commit, error) {
	if strings.TrimSpace(req.Message) == "" {
		return history.Commit{}, gerrors.InvalidParams("message is required")
	}

	h.CommitMu.Lock()
	defer h.CommitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return history.Commit{}, err
	}

	pending, err := selectPending(h.Tracker.Pending(), req.ChangeIDs)
	if err != nil {
		return history.Commit{}, err
	}
	if len(pending) == 0 {
		return history.Commit{}, gerrors.EmptyCommit()
	}

	head := h.History.Head()
	if req.ExpectedParent != "" && !sameCommit(req.ExpectedParent, head) {
		return history.Commit{}, gerrors.StaleParent(req.ExpectedParent, head)
	}

	tree, err := h.History.TreeAt(head)
	if err != nil {
		return history.Commit{}, err
	}

	changes := make([]history.CommitChange, 0, len(pending))
	var refs []string
	for _, tc := range pending {
		resolved, err := resolve(h, tree, tc)
		if err != nil {
			return history.Commit{}, err
		}
		for _, ch := range resolved {
			tree.Apply(ch)
			if tc.HasContent && ch.Kind != change.KindDelete {
				refs = append(refs, ch.AfterHash)
			}
		}
		changes = append(changes, resolved...)
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = h.Tracker.DefaultAgentID()
	}

	c, err := Build(head, req.Message, agentID, req.Author, h.Now(), changes)
	if err != nil {
		return history.Commit{}, err
	}

	if err := h.History.Append(c, h.Blobs.RefTxn(refs...), h.Tracker.ClearTxn(pending)); err != nil {
		return history.Commit{}, err
	}
	h.Tracker.Forget(pending)

	h.Logger.Info("commit created",
		zap.String("commit_id", c.ID),
		zap.String("parent", c.Parent),
		zap.Int("changes", len(c.Changes)),
		zap.String("agent_id", c.AgentID))

	return c, nil
}

// selectPending keeps the entries named by ids, in tracking order.
func selectPending(pending []change.TrackedChange, ids []uint64) ([]change.TrackedChange, error) {
	if len(ids) == 0 {
		return pending, nil
	}
	known := make(map[uint64]bool, len(pending))
	for _, tc := range pending {
		known[tc.Seq] = true
	}
	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return nil, gerrors.InvalidParams(fmt.Sprintf("change %d is not pending", id))
		}
		want[id] = true
	}
	var out []change.TrackedChange
	for _, tc := range pending {
		if want[tc.Seq] {
			out = append(out, tc)
		}
	}
	return out, nil
}

// resolve records one pending entry against the running tree, writing
// its content. References are taken when the commit lands. A rename
// onto a tracked path is preceded by a delete of that path so its prior
// content stays in the commit.
func resolve(h *session.Handle, tree history.Tree, tc change.TrackedChange) ([]history.CommitChange, error) {
	ch := history.CommitChange{Path: tc.Path, Kind: tc.Kind}

	store := func() (string, error) {
		hash, err := h.Blobs.Write(tc.Path, tc.Content)
		if err != nil {
			return "", gerrors.Persistence(fmt.Sprintf("storing content of %s", tc.Path), err)
		}
		return hash, nil
	}

	var (
		err      error
		replaced []history.CommitChange
	)
	switch tc.Kind {
	case change.KindCreate, change.KindModify:
		ch.BeforeHash = tree[tc.Path]
		ch.AfterHash, err = store()
	case change.KindDelete:
		ch.BeforeHash = tree[tc.Path]
	case change.KindRename:
		if prior, ok := tree[tc.Path]; ok && tc.Path != tc.OldPath {
			replaced = append(replaced, history.CommitChange{Path: tc.Path, Kind: change.KindDelete, BeforeHash: prior})
		}
		ch.PriorPath = tc.OldPath
		ch.BeforeHash = tree[tc.OldPath]
		ch.AfterHash = ch.BeforeHash
		if tc.HasContent {
			ch.AfterHash, err = store()
		}
	default:
		panic(fmt.Sprintf("commit: unhandled kind %q", string(tc.Kind)))
	}
	if err != nil {
		return nil, err
	}
	return append(replaced, ch), nil
}

func sameCommit(ref, head string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == head {
		return true
	}
	return head != "" && len(ref) >= history.MinPrefixLen && strings.HasPrefix(head, ref)
}
