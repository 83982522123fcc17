// internal/workspace/local.go
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gerrors "gitent/internal/errors"
)

// StateDir is the hidden directory holding session state under a root.
const StateDir = ".gitent"

// ErrRootNotFound is returned by FindRoot when no ancestor holds a StateDir.
var ErrRootNotFound = errors.New("gitent root not found")

// FS is the filesystem provider the engine applies changes through.
// Paths are slash-separated and relative to the provider's root.
type FS interface {
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	Delete(path string) error
	Rename(oldPath, newPath string) error
}

// FindRoot searches for the session root by looking for the StateDir directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, StateDir)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ErrRootNotFound
}

// Relativize maps path onto root and returns it in slash form relative to
// root. Absolute paths must lie under root; relative ones may not climb
// out of it. The root itself and anything under StateDir are out of scope.
func Relativize(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", gerrors.InvalidParams("path is required")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, filepath.FromSlash(path))
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil {
		return "", gerrors.PathOutOfScope(path, root)
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", gerrors.PathOutOfScope(path, root)
	}
	if rel == StateDir || strings.HasPrefix(rel, StateDir+"/") {
		return "", gerrors.PathOutOfScope(path, root)
	}
	return rel, nil
}

// LocalFS is an FS rooted at a directory on disk. Every path is
// scope-checked with Relativize before it is touched.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) (*LocalFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &LocalFS{root: abs}, nil
}

func (l *LocalFS) Root() string {
	return l.root
}

func (l *LocalFS) resolve(path string) (string, error) {
	rel, err := Relativize(l.root, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

func (l *LocalFS) Read(path string) ([]byte, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (l *LocalFS) Write(path string, content []byte) error {
	abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	return os.WriteFile(abs, content, 0644)
}

// Delete removes path. A path that is already gone counts as deleted.
func (l *LocalFS) Delete(path string) error {
	abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *LocalFS) Rename(oldPath, newPath string) error {
	oldAbs, err := l.resolve(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := l.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	return os.Rename(oldAbs, newAbs)
}
