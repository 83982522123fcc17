// internal/change/tracker.go
package change

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	gerrors "gitent/internal/errors"
	"gitent/internal/storage"
	"gitent/internal/workspace"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Tracker records pending changes for one session. Entries are kept in
// call order and never merged; each gets the next sequence number.
type Tracker struct {
	sessionID    string
	root         string
	defaultAgent string
	db           *badger.DB
	store        *storage.BadgerStore
	seqKey       []byte
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.RWMutex
	pending []TrackedChange
	lastSeq uint64
}

// Options configures a Tracker.
type Options struct {
	DefaultAgentID string
	Now            func() time.Time
	Logger         *zap.Logger
}

// NewTracker loads the pending list of sessionID from db.
func NewTracker(db *badger.DB, sessionID, root string, opts Options) (*Tracker, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultAgentID == "" {
		opts.DefaultAgentID = "gitent"
	}

	t := &Tracker{
		sessionID:    sessionID,
		root:         root,
		defaultAgent: opts.DefaultAgentID,
		db:           db,
		store:        storage.NewBadgerStore(db, "pending:"+sessionID),
		seqKey:       []byte("seq:" + sessionID),
		now:          opts.Now,
		logger:       opts.Logger,
	}

	pending, err := storage.List[TrackedChange](t.store, "")
	if err != nil {
		return nil, gerrors.Persistence("loading pending changes", err)
	}
	t.pending = pending

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.seqKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				t.lastSeq = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	if err != nil {
		return nil, gerrors.Persistence("loading sequence counter", err)
	}
	for _, c := range t.pending {
		if c.Seq > t.lastSeq {
			t.lastSeq = c.Seq
		}
	}

	return t, nil
}

// Track validates req and appends it to the pending list.
func (t *Tracker) Track(req Request) (TrackedChange, error) {
	if !req.Kind.Valid() {
		return TrackedChange{}, gerrors.InvalidParams(fmt.Sprintf("unknown change type %q", string(req.Kind)))
	}

	path, err := workspace.Relativize(t.root, req.Path)
	if err != nil {
		return TrackedChange{}, err
	}

	c := TrackedChange{
		Path:    path,
		Kind:    req.Kind,
		AgentID: req.AgentID,
	}
	if c.AgentID == "" {
		c.AgentID = t.defaultAgent
	}

	switch req.Kind {
	case KindCreate, KindModify:
		if req.Content == nil {
			return TrackedChange{}, gerrors.MissingContent(path, string(req.Kind))
		}
		c.Content, c.HasContent = req.Content, true
	case KindDelete:
		// content is meaningless for a delete
	case KindRename:
		if req.OldPath == "" {
			return TrackedChange{}, gerrors.MissingOldPath(path)
		}
		if c.OldPath, err = workspace.Relativize(t.root, req.OldPath); err != nil {
			return TrackedChange{}, err
		}
		if req.Content != nil {
			c.Content, c.HasContent = req.Content, true
		}
	default:
		panic(fmt.Sprintf("change: unhandled kind %q", string(req.Kind)))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c.Seq = t.lastSeq + 1
	c.Timestamp = t.now().UTC()

	err = t.db.Update(func(txn *badger.Txn) error {
		if err := t.store.CreateTxn(txn, c); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], c.Seq)
		return txn.Set(t.seqKey, buf[:])
	})
	if err != nil {
		return TrackedChange{}, gerrors.Persistence("recording change", err)
	}

	t.lastSeq = c.Seq
	t.pending = append(t.pending, c)

	t.logger.Debug("change tracked",
		zap.String("session_id", t.sessionID),
		zap.Uint64("seq", c.Seq),
		zap.String("kind", string(c.Kind)),
		zap.String("path", c.Path))

	return c, nil
}

// Pending returns a snapshot of the pending list in sequence order.
func (t *Tracker) Pending() []TrackedChange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedChange, len(t.pending))
	copy(out, t.pending)
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// Paths returns the distinct pending paths in first-seen order. A
// rename contributes both its old and new path.
func (t *Tracker) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, c := range t.pending {
		add(c.OldPath)
		add(c.Path)
	}
	return paths
}

// ClearTxn returns a TxnFunc deleting the given entries, for use inside
// the transaction that commits them.
func (t *Tracker) ClearTxn(changes []TrackedChange) storage.TxnFunc {
	return func(txn *badger.Txn) error {
		for _, c := range changes {
			if err := t.store.DeleteTxn(txn, c.GetID()); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		return nil
	}
}

// Forget drops committed entries from memory once their ClearTxn has
// been committed. Entries tracked after the snapshot stay pending.
func (t *Tracker) Forget(changes []TrackedChange) {
	done := make(map[uint64]bool, len(changes))
	for _, c := range changes {
		done[c.Seq] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.pending[:0]
	for _, c := range t.pending {
		if !done[c.Seq] {
			kept = append(kept, c)
		}
	}
	t.pending = kept
}

// DefaultAgentID is the agent recorded when a request names none.
func (t *Tracker) DefaultAgentID() string {
	return t.defaultAgent
}
