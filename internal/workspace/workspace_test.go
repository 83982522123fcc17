package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	gerrors "gitent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelativize(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")

	tests := []struct {
		name    string
		path    string
		want    string
		errType gerrors.ErrorType
	}{
		{"relative", "src/main.go", "src/main.go", ""},
		{"cleaned", "./src/../README.md", "README.md", ""},
		{"absolute inside", filepath.Join(root, "a", "b.txt"), "a/b.txt", ""},
		{"escape", "../outside.txt", "", gerrors.ErrorTypePathOutOfScope},
		{"nested escape", "a/../../outside.txt", "", gerrors.ErrorTypePathOutOfScope},
		{"absolute outside", filepath.Join(filepath.Dir(root), "other.txt"), "", gerrors.ErrorTypePathOutOfScope},
		{"root itself", ".", "", gerrors.ErrorTypePathOutOfScope},
		{"state dir", ".gitent/db/000001.vlog", "", gerrors.ErrorTypePathOutOfScope},
		{"state dir lookalike", ".gitentrc", ".gitentrc", ""},
		{"empty", "  ", "", gerrors.ErrorTypeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Relativize(root, tt.path)
			if tt.errType != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errType, gerrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalFS(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocalFS(root)
	require.NoError(t, err)

	require.NoError(t, l.Write("dir/a.txt", []byte("alpha")))
	got, err := l.Read("dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	require.NoError(t, l.Rename("dir/a.txt", "moved/b.txt"))
	_, err = os.Stat(filepath.Join(root, "dir", "a.txt"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	got, err = l.Read("moved/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	require.NoError(t, l.Delete("moved/b.txt"))
	require.NoError(t, l.Delete("moved/b.txt"), "deleting a missing file is not an error")

	err = l.Write("../escape.txt", []byte("x"))
	assert.Equal(t, gerrors.ErrorTypePathOutOfScope, gerrors.TypeOf(err))
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDir), 0755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := FindRoot(nested)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(root)
	gotEval, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, want, gotEval)
}

func TestMemFSFailures(t *testing.T) {
	m := NewMemFS(map[string][]byte{"a.txt": []byte("1")})
	boom := errors.New("boom")
	m.FailOn("write", "b.txt", boom)

	assert.NoError(t, m.Write("c.txt", []byte("3")))
	assert.ErrorIs(t, m.Write("b.txt", []byte("2")), boom)
	assert.Equal(t, []string{"a.txt", "c.txt"}, m.Paths())

	_, err := m.Read("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, m.Rename("missing", "x"), fs.ErrNotExist)
}
