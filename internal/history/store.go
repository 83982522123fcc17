// internal/history/store.go
package history

import (
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	gerrors "gitent/internal/errors"
	"gitent/internal/storage"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// MinPrefixLen is the shortest accepted abbreviated commit id.
const MinPrefixLen = 4

// Store is the append-only, linear commit history of one session.
type Store struct {
	sessionID string
	db        *badger.DB
	commits   *storage.BadgerStore
	headKey   []byte
	logger    *zap.Logger

	cache *lru.Cache[string, Commit]
	trees *lru.Cache[string, Tree]

	mu   sync.RWMutex
	head string
}

func NewStore(db *badger.DB, sessionID string, cacheSize int, logger *zap.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, Commit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating commit cache: %w", err)
	}
	trees, err := lru.New[string, Tree](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tree cache: %w", err)
	}

	s := &Store{
		sessionID: sessionID,
		db:        db,
		commits:   storage.NewBadgerStore(db, "commit:"+sessionID),
		headKey:   []byte("head:" + sessionID),
		logger:    logger,
		cache:     cache,
		trees:     trees,
	}

	err = db.View(func(txn *badger.Txn) error {
		head, err := s.headTxn(txn)
		s.head = head
		return err
	})
	if err != nil {
		return nil, gerrors.Persistence("loading head", err)
	}
	return s, nil
}

func (s *Store) headTxn(txn *badger.Txn) (string, error) {
	item, err := txn.Get(s.headKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

// Head returns the current head commit id, empty before the first commit.
func (s *Store) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// Append makes c the new head. The declared parent must be the current
// head. The within funcs run in the same transaction, so their writes
// land together with the commit or not at all.
func (s *Store) Append(c Commit, within ...storage.TxnFunc) error {
	if len(c.Changes) == 0 {
		return gerrors.EmptyCommit()
	}
	id, err := ComputeID(c)
	if err != nil {
		return gerrors.Internal("computing commit id", err)
	}
	if c.ID != id {
		return gerrors.Internal(fmt.Sprintf("commit id %s does not match its content", c.ID), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		head, err := s.headTxn(txn)
		if err != nil {
			return err
		}
		if head != c.Parent {
			return gerrors.StaleParent(c.Parent, head)
		}
		if err := s.commits.CreateTxn(txn, c); err != nil {
			return err
		}
		if err := txn.Set(s.headKey, []byte(c.ID)); err != nil {
			return err
		}
		for _, fn := range within {
			if err := fn(txn); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
	case gerrors.Is(err, gerrors.ErrorTypeStaleParent):
		return err
	case errors.Is(err, badger.ErrConflict):
		// Another writer moved the head between our read and commit.
		return gerrors.StaleParent(c.Parent, s.head)
	default:
		return gerrors.Persistence("appending commit", err)
	}

	s.head = c.ID
	s.cache.Add(c.ID, c)

	s.logger.Debug("commit appended",
		zap.String("session_id", s.sessionID),
		zap.String("commit_id", c.ID),
		zap.String("parent", c.Parent),
		zap.Int("changes", len(c.Changes)))
	return nil
}

// Get returns the commit with the given full id.
func (s *Store) Get(id string) (Commit, error) {
	if c, ok := s.cache.Get(id); ok {
		return c, nil
	}

	var c Commit
	err := s.commits.Get(id, &c)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && c.ID != id) {
		return Commit{}, gerrors.UnknownCommit(id)
	}
	if err != nil {
		return Commit{}, gerrors.Persistence("reading commit", err)
	}

	s.cache.Add(id, c)
	return c, nil
}

// Resolve maps "head", a full id or a unique prefix of at least
// MinPrefixLen hex characters to a full commit id.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.EqualFold(ref, "head") {
		head := s.Head()
		if head == "" {
			return "", gerrors.UnknownCommit(ref)
		}
		return head, nil
	}

	ref = strings.ToLower(ref)
	if len(ref) < MinPrefixLen {
		return "", gerrors.UnknownCommit(ref)
	}
	if _, err := hex.DecodeString(ref + strings.Repeat("0", len(ref)%2)); err != nil {
		return "", gerrors.UnknownCommit(ref)
	}

	if _, err := s.Get(ref); err == nil {
		return ref, nil
	}

	var matches []string
	err := s.db.View(func(txn *badger.Txn) error {
		matches = s.commits.KeysTxn(txn, ref)
		return nil
	})
	if err != nil {
		return "", gerrors.Persistence("resolving commit", err)
	}

	switch len(matches) {
	case 0:
		return "", gerrors.UnknownCommit(ref)
	case 1:
		return matches[0], nil
	default:
		return "", gerrors.InvalidParams(fmt.Sprintf("ambiguous commit prefix %q matches %d commits", ref, len(matches)))
	}
}

// Log walks history backward from the head as of the first step.
// limit <= 0 means no limit. The sequence may be ranged over again.
func (s *Store) Log(limit int) iter.Seq2[Commit, error] {
	return func(yield func(Commit, error) bool) {
		id := s.Head()
		for n := 0; id != "" && (limit <= 0 || n < limit); n++ {
			c, err := s.Get(id)
			if err != nil {
				yield(Commit{}, err)
				return
			}
			if !yield(c, nil) {
				return
			}
			id = c.Parent
		}
	}
}

// IsAncestor reports whether candidate is of or one of its ancestors.
// The empty id, the state before the first commit, precedes everything.
func (s *Store) IsAncestor(candidate, of string) (bool, error) {
	if candidate == "" {
		return true, nil
	}
	for id := of; id != ""; {
		if id == candidate {
			return true, nil
		}
		c, err := s.Get(id)
		if err != nil {
			return false, err
		}
		id = c.Parent
	}
	return false, nil
}

// Range returns the commits after from up to and including to, oldest
// first. from must be an ancestor of to.
func (s *Store) Range(from, to string) ([]Commit, error) {
	var chain []Commit
	for id := to; id != from; {
		if id == "" {
			return nil, gerrors.NotAnAncestor(from, to)
		}
		c, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		id = c.Parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// TreeAt returns the tracked state after commit id. The empty id yields
// the empty tree. Callers own the returned map.
func (s *Store) TreeAt(id string) (Tree, error) {
	if id == "" {
		return Tree{}, nil
	}
	if t, ok := s.trees.Get(id); ok {
		return t.Clone(), nil
	}

	// Walk back to the nearest cached tree, then replay forward.
	var chain []Commit
	base := Tree{}
	for cur := id; cur != ""; {
		if t, ok := s.trees.Get(cur); ok {
			base = t.Clone()
			break
		}
		c, err := s.Get(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		cur = c.Parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		for _, ch := range chain[i].Changes {
			base.Apply(ch)
		}
	}

	s.trees.Add(id, base.Clone())
	return base, nil
}
