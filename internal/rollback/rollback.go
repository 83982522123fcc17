// internal/rollback/rollback.go
package rollback

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"gitent/internal/change"
	"gitent/internal/diff"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/workspace"
)

// OpKind is the kind of a filesystem operation.
type OpKind string

const (
	OpWrite  OpKind = "write"
	OpDelete OpKind = "delete"
	OpRename OpKind = "rename"
)

// Op is one filesystem operation of a ChangeSet. BeforeHash and
// AfterHash describe the path's tracked state around the operation.
// Write operations carry their content, encoded in JSON as text or, for
// binary payloads, as base64 with encoding "base64".
type Op struct {
	Kind       OpKind `json:"op"`
	Path       string `json:"path"`
	OldPath    string `json:"old_path,omitempty"`
	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`
	Size       int    `json:"size,omitempty"`
	Action     string `json:"action"`
	Content    []byte `json:"-"`
}

// ChangeSet is the ordered list of operations that moves the files
// tracked at Head back to their state at Target.
type ChangeSet struct {
	Target string `json:"target"`
	Head   string `json:"head"`
	Ops    []Op   `json:"operations"`
}

// EncodingBase64 marks an operation whose JSON content is base64.
const EncodingBase64 = "base64"

type opJSON struct {
	Content  *string `json:"content,omitempty"`
	Encoding string  `json:"encoding,omitempty"`
}

func (op Op) MarshalJSON() ([]byte, error) {
	type plain Op
	out := struct {
		plain
		opJSON
	}{plain: plain(op)}

	if op.Kind == OpWrite {
		text := string(op.Content)
		if diff.IsBinary(op.Content) || !utf8.Valid(op.Content) {
			text = base64.StdEncoding.EncodeToString(op.Content)
			out.opJSON.Encoding = EncodingBase64
		}
		out.opJSON.Content = &text
	}
	return json.Marshal(out)
}

func (op *Op) UnmarshalJSON(data []byte) error {
	type plain Op
	var in struct {
		plain
		opJSON
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*op = Op(in.plain)

	text := in.opJSON.Content
	if text == nil {
		return nil
	}
	switch in.opJSON.Encoding {
	case "":
		op.Content = []byte(*text)
	case EncodingBase64:
		content, err := base64.StdEncoding.DecodeString(*text)
		if err != nil {
			return fmt.Errorf("decoding content of %s: %w", op.Path, err)
		}
		op.Content = content
	default:
		return fmt.Errorf("unknown content encoding %q", in.opJSON.Encoding)
	}
	return nil
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Ops) == 0
}

// LoadFunc returns the content of a blob.
type LoadFunc func(hash string) ([]byte, error)

// Plan computes the net inverse of commits, the range after target up
// to head in oldest-first order. Each touched path ends up as it was in
// targetTree. Renames whose source and destination allow it are undone
// as renames; everything else becomes writes and deletes.
func Plan(target, head string, commits []history.Commit, targetTree, headTree history.Tree, load LoadFunc) (ChangeSet, error) {
	cs := ChangeSet{Target: target, Head: head}

	touched := make(map[string]bool)
	origin := make(map[string]string) // current path -> path it was renamed from
	for _, c := range commits {
		for _, ch := range c.Changes {
			touched[ch.Path] = true
			switch ch.Kind {
			case change.KindRename:
				touched[ch.PriorPath] = true
				from := ch.PriorPath
				if o, ok := origin[ch.PriorPath]; ok {
					from = o
					delete(origin, ch.PriorPath)
				}
				if from != ch.Path {
					origin[ch.Path] = from
				} else {
					delete(origin, ch.Path)
				}
			case change.KindCreate, change.KindDelete:
				delete(origin, ch.Path)
			case change.KindModify:
			default:
				panic(fmt.Sprintf("rollback: unhandled kind %q", string(ch.Kind)))
			}
		}
	}

	state := headTree.Clone()

	// Renames first, in path order.
	current := make([]string, 0, len(origin))
	for p := range origin {
		current = append(current, p)
	}
	sort.Strings(current)
	for _, cur := range current {
		orig := origin[cur]
		hash, inHead := state[cur]
		_, origTaken := state[orig]
		_, origWanted := targetTree[orig]
		_, curWanted := targetTree[cur]
		if !inHead || origTaken || curWanted {
			continue
		}
		// An untracked file renamed into tracking has no recorded
		// content; moving it back is the only way to keep it.
		untracked := !origWanted && hash == ""
		if !origWanted && !untracked {
			continue
		}
		cs.Ops = append(cs.Ops, Op{
			Kind:       OpRename,
			Path:       orig,
			OldPath:    cur,
			BeforeHash: hash,
			AfterHash:  hash,
			Action:     fmt.Sprintf("rename %s back to %s", cur, orig),
		})
		delete(state, cur)
		if !untracked {
			state[orig] = hash
		}
	}

	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var deletes []Op
	for _, p := range paths {
		want, wanted := targetTree[p]
		have, present := state[p]

		switch {
		case wanted && (!present || have != want):
			if want == "" {
				// Content at the target was never recorded.
				continue
			}
			content, err := load(want)
			if err != nil {
				return ChangeSet{}, gerrors.Persistence(fmt.Sprintf("loading content of %s", p), err)
			}
			action := fmt.Sprintf("restore %s", p)
			if !present {
				action = fmt.Sprintf("recreate %s", p)
			}
			cs.Ops = append(cs.Ops, Op{
				Kind:       OpWrite,
				Path:       p,
				BeforeHash: have,
				AfterHash:  want,
				Size:       len(content),
				Action:     action,
				Content:    content,
			})
			state[p] = want
		case !wanted && present:
			deletes = append(deletes, Op{
				Kind:       OpDelete,
				Path:       p,
				BeforeHash: have,
				Action:     fmt.Sprintf("delete %s", p),
			})
			delete(state, p)
		}
	}
	cs.Ops = append(cs.Ops, deletes...)

	return cs, nil
}

// Changes returns the commit changes recording cs, in operation order.
func (cs ChangeSet) Changes(headTree history.Tree) []history.CommitChange {
	state := headTree.Clone()
	changes := make([]history.CommitChange, 0, len(cs.Ops))
	for _, op := range cs.Ops {
		var ch history.CommitChange
		switch op.Kind {
		case OpRename:
			ch = history.CommitChange{Path: op.Path, Kind: change.KindRename, PriorPath: op.OldPath, BeforeHash: op.BeforeHash, AfterHash: op.AfterHash}
		case OpWrite:
			kind := change.KindModify
			if _, ok := state[op.Path]; !ok {
				kind = change.KindCreate
			}
			ch = history.CommitChange{Path: op.Path, Kind: kind, BeforeHash: op.BeforeHash, AfterHash: op.AfterHash}
		case OpDelete:
			ch = history.CommitChange{Path: op.Path, Kind: change.KindDelete, BeforeHash: op.BeforeHash}
		default:
			panic(fmt.Sprintf("rollback: unhandled op %q", string(op.Kind)))
		}
		state.Apply(ch)
		changes = append(changes, ch)
	}
	return changes
}

// Result statuses.
const (
	StatusApplied = "applied"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Result reports what happened to one operation.
type Result struct {
	Op     Op     `json:"operation"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Apply runs the operations of cs in order through fsys and stops at
// the first failure. The remaining operations are reported as skipped
// and the error is a FilesystemOperationFailure carrying all results.
// Operations applied before the failure are not undone.
func Apply(fsys workspace.FS, cs ChangeSet) ([]Result, error) {
	results := make([]Result, len(cs.Ops))
	for i, op := range cs.Ops {
		results[i] = Result{Op: op, Status: StatusSkipped}
	}

	for i, op := range cs.Ops {
		var err error
		switch op.Kind {
		case OpWrite:
			err = fsys.Write(op.Path, op.Content)
		case OpDelete:
			err = fsys.Delete(op.Path)
		case OpRename:
			err = fsys.Rename(op.OldPath, op.Path)
		default:
			panic(fmt.Sprintf("rollback: unhandled op %q", string(op.Kind)))
		}

		if err != nil {
			results[i].Status = StatusFailed
			results[i].Error = err.Error()
			return results, gerrors.Filesystem(op.Path, err, results)
		}
		results[i].Status = StatusApplied
	}
	return results, nil
}
