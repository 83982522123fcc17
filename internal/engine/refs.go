// internal/engine/refs.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"gitent/internal/change"
	"gitent/internal/diff"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/safe"
	"gitent/internal/session"
	"gitent/internal/workspace"

	"github.com/gobwas/glob"
)

// Symbolic diff refs.
const (
	RefHead    = "head"
	RefPending = "pending"
	RefWorking = "working"
)

const (
	FormatUnified    = "unified"
	FormatStructured = "structured"
)

type refKind int

const (
	refCommit refKind = iota
	refPending
	refWorking
)

// ref is a resolved diff side. id is the commit id for refCommit and
// may be empty for the state before the first commit.
type ref struct {
	kind refKind
	id   string
}

func (r ref) String() string {
	switch r.kind {
	case refPending:
		return RefPending
	case refWorking:
		return RefWorking
	default:
		if r.id == "" {
			return "(empty)"
		}
		return r.id
	}
}

func resolveRef(h *session.Handle, raw string) (ref, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RefWorking:
		return ref{kind: refWorking}, nil
	case RefPending:
		return ref{kind: refPending}, nil
	case RefHead:
		return ref{kind: refCommit, id: h.History.Head()}, nil
	}
	id, err := h.History.Resolve(raw)
	if err != nil {
		return ref{}, err
	}
	return ref{kind: refCommit, id: id}, nil
}

// DiffRequest selects two states to compare. With From and To empty,
// CommitID shows that commit against its parent, and otherwise the
// pending changes are shown against the head. Working holds caller
// supplied contents layered over the files on disk.
type DiffRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	From      string            `json:"from_ref,omitempty"`
	To        string            `json:"to_ref,omitempty"`
	CommitID  string            `json:"commit_id,omitempty"`
	Format    string            `json:"format,omitempty"`
	Path      string            `json:"path,omitempty"`
	Working   map[string]string `json:"working,omitempty"`
}

type DiffResult struct {
	Format    string                `json:"format"`
	From      string                `json:"from"`
	To        string                `json:"to"`
	FileCount int                   `json:"file_count"`
	Files     []diff.StructuredFile `json:"files,omitempty"`
	Unified   string                `json:"unified,omitempty"`
}

func (e *Engine) Diff(ctx context.Context, req DiffRequest) (DiffResult, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return DiffResult{}, err
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	switch format {
	case "":
		format = FormatUnified
	case FormatUnified, FormatStructured:
	default:
		return DiffResult{}, gerrors.InvalidParams(fmt.Sprintf("unknown diff format %q (want unified or structured)", req.Format))
	}
	filter, err := pathFilter(req.Path)
	if err != nil {
		return DiffResult{}, err
	}

	from, to, err := e.diffRefs(h, req)
	if err != nil {
		return DiffResult{}, err
	}

	res := DiffResult{Format: format, From: from.String(), To: to.String()}
	var files []diff.FileDiff
	if from != to {
		files, err = e.compare(h, from, to, req.Working, filter)
		if err != nil {
			return DiffResult{}, err
		}
	}

	res.FileCount = len(files)
	switch format {
	case FormatStructured:
		res.Files = diff.Structured(files)
	case FormatUnified:
		res.Unified = diff.Unified(files)
	}
	return res, nil
}

func (e *Engine) diffRefs(h *session.Handle, req DiffRequest) (ref, ref, error) {
	if req.From == "" && req.To == "" && req.CommitID != "" {
		id, err := h.History.Resolve(req.CommitID)
		if err != nil {
			return ref{}, ref{}, err
		}
		c, err := h.History.Get(id)
		if err != nil {
			return ref{}, ref{}, err
		}
		return ref{kind: refCommit, id: c.Parent}, ref{kind: refCommit, id: c.ID}, nil
	}

	fromRaw, toRaw := req.From, req.To
	if fromRaw == "" {
		fromRaw = RefHead
	}
	if toRaw == "" {
		toRaw = RefPending
		if len(req.Working) > 0 {
			toRaw = RefWorking
		}
	}

	from, err := resolveRef(h, fromRaw)
	if err != nil {
		return ref{}, ref{}, err
	}
	to, err := resolveRef(h, toRaw)
	if err != nil {
		return ref{}, ref{}, err
	}
	return from, to, nil
}

func (e *Engine) compare(h *session.Handle, from, to ref, working map[string]string, filter string) ([]diff.FileDiff, error) {
	older, newer, reversed, err := order(h, from, to)
	if err != nil {
		return nil, err
	}

	opts := diff.CompareOptions{Filter: filter}
	if older.kind == refCommit {
		renames, touched, err := span(h, older, newer)
		if err != nil {
			return nil, err
		}
		if newer.kind == refCommit {
			opts.Paths = touched
			if opts.Paths == nil {
				opts.Paths = []string{}
			}
		}
		if reversed {
			renames = invert(renames)
		}
		opts.Renames = renames
	}

	// The working side reads every path either side could know about.
	var extra []string
	for _, r := range []ref{from, to} {
		if r.kind == refCommit {
			t, err := h.History.TreeAt(r.id)
			if err != nil {
				return nil, err
			}
			extra = append(extra, t.SortedPaths()...)
		}
	}

	fromState, err := e.state(h, from, working, extra)
	if err != nil {
		return nil, err
	}
	toState, err := e.state(h, to, working, extra)
	if err != nil {
		return nil, err
	}

	files, err := e.differ.Compare(fromState, toState, opts)
	if err != nil {
		return nil, gerrors.Persistence("computing diff", err)
	}
	return files, nil
}

// order sorts two refs by age. Commits follow ancestry; the pending
// state comes after the head and the working state after that.
func order(h *session.Handle, a, b ref) (older, newer ref, reversed bool, err error) {
	switch {
	case a.kind == refCommit && b.kind == refCommit:
		ok, err := h.History.IsAncestor(a.id, b.id)
		if err != nil {
			return ref{}, ref{}, false, err
		}
		if ok {
			return a, b, false, nil
		}
		return b, a, true, nil
	case a.kind < b.kind:
		return a, b, false, nil
	default:
		return b, a, true, nil
	}
}

// span collects the renames recorded after older up to newer, chained
// so that each maps a final path to its path at older, plus every path
// the range touches.
func span(h *session.Handle, older, newer ref) (map[string]string, []string, error) {
	end := newer.id
	if newer.kind != refCommit {
		end = h.History.Head()
	}
	commits, err := h.History.Range(older.id, end)
	if err != nil {
		return nil, nil, err
	}

	var changes []history.CommitChange
	for _, c := range commits {
		changes = append(changes, c.Changes...)
	}
	if newer.kind != refCommit {
		for _, tc := range h.Tracker.Pending() {
			changes = append(changes, history.CommitChange{Path: tc.Path, Kind: tc.Kind, PriorPath: tc.OldPath})
		}
	}

	var touched []string
	origin := make(map[string]string)
	for _, ch := range changes {
		touched = append(touched, ch.Path)
		switch ch.Kind {
		case change.KindRename:
			touched = append(touched, ch.PriorPath)
			src := ch.PriorPath
			if o, ok := origin[src]; ok {
				src = o
				delete(origin, ch.PriorPath)
			}
			if src != ch.Path {
				origin[ch.Path] = src
			} else {
				delete(origin, ch.Path)
			}
		case change.KindCreate, change.KindDelete:
			delete(origin, ch.Path)
		case change.KindModify:
		default:
			panic(fmt.Sprintf("engine: unhandled kind %q", string(ch.Kind)))
		}
	}
	return origin, touched, nil
}

func invert(renames map[string]string) map[string]string {
	out := make(map[string]string, len(renames))
	for newPath, oldPath := range renames {
		out[oldPath] = newPath
	}
	return out
}

// state materializes one side of a diff. extra lists paths the working
// side must probe in addition to the head and pending paths.
func (e *Engine) state(h *session.Handle, r ref, working map[string]string, extra []string) (diff.State, error) {
	switch r.kind {
	case refCommit:
		tree, err := h.History.TreeAt(r.id)
		if err != nil {
			return diff.State{}, err
		}
		return diff.State{Tree: tree, Load: blobLoader(h, nil)}, nil
	case refPending:
		return pendingState(h)
	case refWorking:
		return workingState(h, working, extra)
	default:
		panic(fmt.Sprintf("engine: unhandled ref kind %d", r.kind))
	}
}

func blobLoader(h *session.Handle, local map[string][]byte) func(path, hash string) ([]byte, error) {
	return func(_, hash string) ([]byte, error) {
		if c, ok := local[hash]; ok {
			return c, nil
		}
		return h.Blobs.Get(hash)
	}
}

// pendingState is the head tree with every pending entry applied in
// order. Pending content is hashed but not stored.
func pendingState(h *session.Handle) (diff.State, error) {
	tree, err := h.History.TreeAt(h.History.Head())
	if err != nil {
		return diff.State{}, err
	}

	local := make(map[string][]byte)
	hashOf := func(content []byte) string {
		hash := safe.Hash(content)
		local[hash] = content
		return hash
	}

	for _, tc := range h.Tracker.Pending() {
		switch tc.Kind {
		case change.KindCreate, change.KindModify:
			tree[tc.Path] = hashOf(tc.Content)
		case change.KindDelete:
			delete(tree, tc.Path)
		case change.KindRename:
			hash := tree[tc.OldPath]
			if tc.HasContent {
				hash = hashOf(tc.Content)
			}
			delete(tree, tc.OldPath)
			tree[tc.Path] = hash
		default:
			panic(fmt.Sprintf("engine: unhandled kind %q", string(tc.Kind)))
		}
	}
	return diff.State{Tree: tree, Load: blobLoader(h, local)}, nil
}

// workingState reads the current contents of every candidate path.
// Supplied contents win over the filesystem; a path missing from both
// is absent.
func workingState(h *session.Handle, working map[string]string, extra []string) (diff.State, error) {
	supplied := make(map[string][]byte, len(working))
	for p, content := range working {
		rel, err := workspace.Relativize(h.Root, p)
		if err != nil {
			return diff.State{}, err
		}
		supplied[rel] = []byte(content)
	}

	headTree, err := h.History.TreeAt(h.History.Head())
	if err != nil {
		return diff.State{}, err
	}
	candidates := append(headTree.SortedPaths(), extra...)
	candidates = append(candidates, h.Tracker.Paths()...)
	for p := range supplied {
		candidates = append(candidates, p)
	}

	tree := make(history.Tree)
	local := make(map[string][]byte)
	for _, p := range candidates {
		if _, done := tree[p]; done {
			continue
		}
		content, ok := supplied[p]
		if !ok {
			content, err = h.FS.Read(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return diff.State{}, gerrors.Filesystem(p, err, nil)
			}
		}
		hash := safe.Hash(content)
		local[hash] = content
		tree[p] = hash
	}
	return diff.State{Tree: tree, Load: blobLoader(h, local)}, nil
}

// pathFilter turns the caller's path argument into a glob. A plain path
// matches itself and everything below it.
func pathFilter(p string) (string, error) {
	p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
	if p == "" {
		return "", nil
	}
	p = strings.TrimSuffix(p, "/")
	if !strings.ContainsAny(p, `*?[]{},\!`) {
		p = "{" + p + "," + p + "/**}"
	}
	if _, err := glob.Compile(p, '/'); err != nil {
		return "", gerrors.InvalidParams(fmt.Sprintf("invalid path filter %q: %v", p, err))
	}
	return p, nil
}
