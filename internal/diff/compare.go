package diff

import (
	"fmt"
	"sort"

	"github.com/gobwas/glob"
)

// Status classifies one path between two states.
type Status string

const (
	StatusAdded    Status = "added"
	StatusRemoved  Status = "removed"
	StatusModified Status = "modified"
	StatusRenamed  Status = "renamed"
)

// State is one side of a comparison: the present paths with their blob
// hashes, and a way to load content by hash. An empty hash marks a path
// whose content was never recorded.
type State struct {
	Tree map[string]string
	Load func(path, hash string) ([]byte, error)
}

func (s State) load(path, hash string) ([]byte, error) {
	if hash == "" || s.Load == nil {
		return nil, nil
	}
	return s.Load(path, hash)
}

// CompareOptions narrows a comparison.
type CompareOptions struct {
	// Paths lists the candidate paths. Nil means every path of either side.
	Paths []string
	// Renames maps a new path to the path it was renamed from.
	Renames map[string]string
	// Filter is a glob over slash paths; empty matches everything.
	Filter string
}

// FileDiff is the difference of one path.
type FileDiff struct {
	Path       string
	OldPath    string // renamed only
	Status     Status
	OldHash    string
	NewHash    string
	Binary     bool
	Unrecorded bool // one side's content was never recorded
	Result     *DiffResult
	Structured *DiffResult
}

// Compare classifies every candidate path and computes line diffs where
// content differs. Unchanged paths are omitted; the result is sorted by
// path.
func (e *Engine) Compare(from, to State, opts CompareOptions) ([]FileDiff, error) {
	var filter glob.Glob
	if opts.Filter != "" {
		g, err := glob.Compile(opts.Filter, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling path filter %q: %w", opts.Filter, err)
		}
		filter = g
	}

	candidates := opts.Paths
	if candidates == nil {
		for p := range from.Tree {
			candidates = append(candidates, p)
		}
		for p := range to.Tree {
			candidates = append(candidates, p)
		}
	}
	seen := make(map[string]bool, len(candidates))
	paths := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	// Pair up renames whose source vanished and whose target appeared.
	consumed := make(map[string]bool)
	renamedFrom := make(map[string]string)
	for newPath, oldPath := range opts.Renames {
		_, oldBefore := from.Tree[oldPath]
		_, oldAfter := to.Tree[oldPath]
		_, newBefore := from.Tree[newPath]
		_, newAfter := to.Tree[newPath]
		if oldBefore && !oldAfter && !newBefore && newAfter {
			renamedFrom[newPath] = oldPath
			consumed[oldPath] = true
		}
	}

	var files []FileDiff
	for _, p := range paths {
		if consumed[p] {
			continue
		}

		fd := FileDiff{Path: p}
		oldHash, inFrom := from.Tree[p]
		newHash, inTo := to.Tree[p]
		oldPath := p

		switch {
		case renamedFrom[p] != "":
			oldPath = renamedFrom[p]
			oldHash = from.Tree[oldPath]
			fd.Status, fd.OldPath = StatusRenamed, oldPath
		case !inFrom && inTo:
			fd.Status = StatusAdded
		case inFrom && !inTo:
			fd.Status = StatusRemoved
		case inFrom && inTo && oldHash != newHash:
			fd.Status = StatusModified
		default:
			continue
		}

		if filter != nil && !filter.Match(p) && (fd.OldPath == "" || !filter.Match(fd.OldPath)) {
			continue
		}
		fd.OldHash, fd.NewHash = oldHash, newHash

		if oldHash != newHash {
			if err := e.fillContent(&fd, from, to, oldPath); err != nil {
				return nil, err
			}
		}
		files = append(files, fd)
	}

	return files, nil
}

func (e *Engine) fillContent(fd *FileDiff, from, to State, oldPath string) error {
	if (fd.Status != StatusAdded && fd.OldHash == "") || (fd.Status != StatusRemoved && fd.NewHash == "") {
		fd.Unrecorded = true
		return nil
	}

	oldContent, err := from.load(oldPath, fd.OldHash)
	if err != nil {
		return fmt.Errorf("loading %s: %w", oldPath, err)
	}
	newContent, err := to.load(fd.Path, fd.NewHash)
	if err != nil {
		return fmt.Errorf("loading %s: %w", fd.Path, err)
	}

	if IsBinary(oldContent) || IsBinary(newContent) {
		fd.Binary = true
		return nil
	}

	fd.Result = e.Diff(oldContent, newContent)
	fd.Structured = e.DiffNoContext(oldContent, newContent)
	return nil
}
