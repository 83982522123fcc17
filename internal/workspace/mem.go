package workspace

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// MemFS is an in-memory FS. Failures can be injected per operation and
// path to exercise partial application.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
}

func NewMemFS(files map[string][]byte) *MemFS {
	m := &MemFS{
		files: make(map[string][]byte, len(files)),
		fail:  make(map[string]error),
	}
	for p, c := range files {
		m.files[p] = append([]byte(nil), c...)
	}
	return m
}

// FailOn makes the next and every later op ("read", "write", "delete",
// "rename") on path return err. For rename, path is the old path.
func (m *MemFS) FailOn(op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op+":"+path] = err
}

func (m *MemFS) injected(op, path string) error {
	if err, ok := m.fail[op+":"+path]; ok {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return nil
}

func (m *MemFS) Read(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("read", path); err != nil {
		return nil, err
	}
	c, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), c...), nil
}

func (m *MemFS) Write(path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("write", path); err != nil {
		return err
	}
	m.files[path] = append([]byte(nil), content...)
	return nil
}

func (m *MemFS) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("delete", path); err != nil {
		return err
	}
	delete(m.files, path)
	return nil
}

func (m *MemFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("rename", oldPath); err != nil {
		return err
	}
	c, ok := m.files[oldPath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: fs.ErrNotExist}
	}
	delete(m.files, oldPath)
	m.files[newPath] = c
	return nil
}

// Files returns a copy of the current contents.
func (m *MemFS) Files() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.files))
	for p, c := range m.files {
		out[p] = append([]byte(nil), c...)
	}
	return out
}

// Paths returns the stored paths in order.
func (m *MemFS) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
