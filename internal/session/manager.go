// internal/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gitent/internal/change"
	"gitent/internal/config"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/safe"
	"gitent/internal/storage"
	"gitent/internal/workspace"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// database is one open badger instance, possibly shared by several
// roots when the database path is overridden.
type database struct {
	db       *badger.DB
	blobs    *safe.Safe
	sessions *storage.BadgerStore
	roots    *storage.BadgerStore
}

// Manager is the process-scoped registry of live sessions. A session is
// created on the first init of its root, loaded from its database on
// the first init in a process, and kept until Close.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	dbs     map[string]*database // keyed by db path, "" for in-memory
	byRoot  map[string]*Handle
	byID    map[string]*Handle
	current string
	newFS   func(root string) (workspace.FS, error)
}

type Option func(*Manager)

// WithNow replaces the clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithFS replaces the filesystem provider factory.
func WithFS(newFS func(root string) (workspace.FS, error)) Option {
	return func(m *Manager) { m.newFS = newFS }
}

func NewManager(cfg *config.Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		dbs:    make(map[string]*database),
		byRoot: make(map[string]*Handle),
		byID:   make(map[string]*Handle),
		newFS: func(root string) (workspace.FS, error) {
			return workspace.NewLocalFS(root)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitOrConnect returns the session bound to root, creating it if none
// exists. dbPath overrides the configured database location. The bool
// reports whether a new session was created.
func (m *Manager) InitOrConnect(ctx context.Context, root, dbPath string) (*Handle, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if root == "" {
		return nil, false, gerrors.InvalidParams("path is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false, gerrors.InvalidParams(fmt.Sprintf("resolving %q: %v", root, err))
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, false, gerrors.InvalidParams(fmt.Sprintf("%s is not a directory", abs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.byRoot[abs]; ok {
		m.current = h.ID
		return h, false, nil
	}

	d, path, err := m.openDatabase(abs, dbPath)
	if err != nil {
		return nil, false, err
	}

	sess, created, err := m.loadOrCreate(d, abs)
	if err != nil {
		return nil, false, err
	}

	h, err := m.newHandle(d, sess, path)
	if err != nil {
		return nil, false, err
	}

	m.byRoot[abs] = h
	m.byID[h.ID] = h
	m.current = h.ID

	m.logger.Info("session ready",
		zap.String("session_id", h.ID),
		zap.String("root", abs),
		zap.Bool("created", created),
		zap.String("head", h.History.Head()),
		zap.Int("pending", h.Tracker.Len()))

	return h, created, nil
}

func (m *Manager) openDatabase(root, override string) (*database, string, error) {
	inMemory := m.cfg.Storage.InMemory
	path := override
	if path == "" {
		path = m.cfg.Storage.DBPath
	}
	if path == "" && !inMemory {
		path = filepath.Join(root, m.cfg.Storage.Dir, "db")
	}
	if inMemory && override == "" {
		path = ""
	}

	if d, ok := m.dbs[path]; ok {
		return d, path, nil
	}

	objects := ""
	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, "", gerrors.Persistence("creating database directory", err)
		}
		objects = filepath.Join(filepath.Dir(path), "objects")
	}

	db, err := storage.OpenDB(path, path == "")
	if err != nil {
		return nil, "", gerrors.Persistence("opening database", err)
	}

	blobs, err := safe.New(db, safe.Options{
		Root:        objects,
		CacheSize:   m.cfg.Storage.CacheSize,
		Compression: safe.CompressionOptions{MinSize: m.cfg.Storage.CompressMinSize},
	})
	if err != nil {
		db.Close()
		return nil, "", gerrors.Persistence("opening blob store", err)
	}

	d := &database{
		db:       db,
		blobs:    blobs,
		sessions: storage.NewBadgerStore(db, "session"),
		roots:    storage.NewBadgerStore(db, "root"),
	}
	m.dbs[path] = d
	return d, path, nil
}

func (m *Manager) loadOrCreate(d *database, root string) (Session, bool, error) {
	var rec rootRecord
	err := d.roots.Get(root, &rec)
	switch {
	case err == nil:
		var sess Session
		if err := d.sessions.Get(rec.SessionID, &sess); err != nil {
			return Session{}, false, gerrors.Persistence("loading session", err)
		}
		return sess, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Session{}, false, gerrors.Persistence("looking up session", err)
	}

	sess := Session{
		ID:        uuid.New().String(),
		Root:      root,
		CreatedAt: m.now().UTC(),
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		if err := d.sessions.CreateTxn(txn, sess); err != nil {
			return err
		}
		return d.roots.CreateTxn(txn, rootRecord{Root: root, SessionID: sess.ID})
	})
	if err != nil {
		return Session{}, false, gerrors.Persistence("creating session", err)
	}
	return sess, true, nil
}

func (m *Manager) newHandle(d *database, sess Session, dbPath string) (*Handle, error) {
	logger := m.logger.With(zap.String("session_id", sess.ID))

	hist, err := history.NewStore(d.db, sess.ID, m.cfg.Storage.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := change.NewTracker(d.db, sess.ID, sess.Root, change.Options{
		DefaultAgentID: m.cfg.DefaultAgentID,
		Now:            m.now,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	fs, err := m.newFS(sess.Root)
	if err != nil {
		return nil, gerrors.Filesystem(sess.Root, err, nil)
	}

	return &Handle{
		Session: sess,
		Blobs:   d.blobs,
		History: hist,
		Tracker: tracker,
		FS:      fs,
		Now:     m.now,
		Logger:  logger,
		dbPath:  dbPath,
	}, nil
}

// Get returns the live session with the given id. An empty id selects
// the most recently initialized session.
func (m *Manager) Get(id string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.current
		if id == "" {
			return nil, gerrors.NoSession("")
		}
	}
	h, ok := m.byID[id]
	if !ok {
		return nil, gerrors.NoSession(id)
	}
	return h, nil
}

// Sessions lists the live sessions.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.byID))
	for _, h := range m.byID {
		out = append(out, h.Session)
	}
	return out
}

// Close closes every database. Handles must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for path, d := range m.dbs {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
	}
	m.dbs = make(map[string]*database)
	m.byRoot = make(map[string]*Handle)
	m.byID = make(map[string]*Handle)
	m.current = ""
	return errors.Join(errs...)
}
