// internal/change/watcher.go
package change

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gitent/internal/workspace"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// TrackFunc records one observed change.
type TrackFunc func(ctx context.Context, req Request) error

// Watcher turns filesystem events under a root into track calls.
type Watcher struct {
	root    string
	agentID string
	track   TrackFunc
	ignore  []glob.Glob
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewWatcher compiles the ignore globs and registers every directory
// under root that is not ignored.
func NewWatcher(root string, ignore []string, agentID string, track TrackFunc, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	globs := make([]glob.Glob, 0, len(ignore))
	for _, pattern := range ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling ignore pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		agentID: agentID,
		track:   track,
		ignore:  globs,
		watcher: fw,
		logger:  logger,
		known:   make(map[string]bool),
	}

	if err := w.initialize(); err != nil {
		fw.Close()
		return nil, fmt.Errorf("initializing watcher: %w", err)
	}
	return w, nil
}

func (w *Watcher) initialize() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("adding directory to watcher: %w", err)
			}
			return nil
		}

		if !w.ShouldIgnore(rel) {
			w.known[rel] = true
		}
		return nil
	})
}

// ShouldIgnore reports whether a root-relative slash path is skipped.
func (w *Watcher) ShouldIgnore(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	if rel == workspace.StateDir || strings.HasPrefix(rel, workspace.StateDir+"/") {
		return true
	}
	for _, g := range w.ignore {
		// "**/x/**" should also match x at the top level.
		if g.Match(rel) || g.Match("/"+rel) {
			return true
		}
	}
	return false
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// Close stops Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		w.logger.Error("getting relative path", zap.Error(err))
		return
	}
	rel = filepath.ToSlash(rel)

	if w.ShouldIgnore(rel) {
		return
	}

	var req *Request
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
			return
		}
		req = w.contentRequest(event.Name, rel)

	case event.Has(fsnotify.Write):
		req = w.contentRequest(event.Name, rel)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// fsnotify reports the old name of a rename on its own; the new
		// name arrives as a Create.
		w.mu.Lock()
		wasKnown := w.known[rel]
		delete(w.known, rel)
		w.mu.Unlock()
		if wasKnown {
			req = &Request{Path: rel, Kind: KindDelete}
		}
	}

	if req == nil {
		return
	}
	req.AgentID = w.agentID

	if err := w.track(ctx, *req); err != nil {
		w.logger.Error("tracking change",
			zap.String("path", rel),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		return
	}
	w.logger.Debug("change observed", zap.String("path", rel), zap.String("kind", string(req.Kind)))
}

func (w *Watcher) contentRequest(abs, rel string) *Request {
	content, err := os.ReadFile(abs)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("reading changed file", zap.String("path", rel), zap.Error(err))
		}
		return nil
	}
	if content == nil {
		content = []byte{}
	}

	w.mu.Lock()
	kind := KindModify
	if !w.known[rel] {
		kind = KindCreate
		w.known[rel] = true
	}
	w.mu.Unlock()

	return &Request{Path: rel, Kind: kind, Content: content}
}
