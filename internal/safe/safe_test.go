package safe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gitent/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSafe(t *testing.T, root string) *Safe {
	t.Helper()
	db, err := storage.OpenDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, Options{Root: root, CacheSize: 16, Compression: CompressionOptions{MinSize: 64}})
	require.NoError(t, err)
	return s
}

func TestStoreAndGet(t *testing.T) {
	large := bytes.Repeat([]byte("line of very repetitive text\n"), 200)

	tests := []struct {
		name    string
		path    string
		content []byte
	}{
		{"small", "a.txt", []byte("hello\n")},
		{"empty", "empty.txt", nil},
		{"large compressible", "big.txt", large},
		{"large skipped extension", "big.zip", large},
	}

	for _, mode := range []string{"files", "inline"} {
		root := ""
		if mode == "files" {
			root = filepath.Join(t.TempDir(), "objects")
		}
		s := setupSafe(t, root)

		for _, tt := range tests {
			t.Run(mode+"/"+tt.name, func(t *testing.T) {
				hash, err := s.Store(tt.path, tt.content)
				require.NoError(t, err)
				assert.Equal(t, Hash(tt.content), hash)

				s.cache.Purge()
				got, err := s.Get(hash)
				require.NoError(t, err)
				assert.Equal(t, len(tt.content), len(got))
				assert.True(t, bytes.Equal(tt.content, got) || (len(tt.content) == 0 && len(got) == 0))

				exists, err := s.Exists(hash)
				require.NoError(t, err)
				assert.True(t, exists)
			})
		}
	}
}

func TestCompression(t *testing.T) {
	s := setupSafe(t, filepath.Join(t.TempDir(), "objects"))
	large := bytes.Repeat([]byte("abcdefgh"), 1024)

	hash, err := s.Store("big.txt", large)
	require.NoError(t, err)
	meta, err := s.Meta(hash)
	require.NoError(t, err)
	assert.True(t, meta.Compressed)
	assert.Less(t, meta.StoredSize, meta.Size)

	hash, err = s.Store("big.png", append(large, 'x'))
	require.NoError(t, err)
	meta, err = s.Meta(hash)
	require.NoError(t, err)
	assert.False(t, meta.Compressed)
}

func TestDeduplication(t *testing.T) {
	s := setupSafe(t, filepath.Join(t.TempDir(), "objects"))

	h1, err := s.Store("a.txt", []byte("same"))
	require.NoError(t, err)
	h2, err := s.Store("b.txt", []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	meta, err := s.Meta(h1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), meta.RefCount)
}

func TestWriteAndRefTxn(t *testing.T) {
	s := setupSafe(t, "")

	hash, err := s.Write("a.txt", []byte("staged"))
	require.NoError(t, err)
	meta, err := s.Meta(hash)
	require.NoError(t, err)
	assert.Zero(t, meta.RefCount)

	failed := errors.New("abort")
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := s.RefTxn(hash)(txn); err != nil {
			return err
		}
		return failed
	})
	require.ErrorIs(t, err, failed)
	meta, err = s.Meta(hash)
	require.NoError(t, err)
	assert.Zero(t, meta.RefCount, "an aborted transaction takes no reference")

	require.NoError(t, s.db.Update(s.RefTxn(hash, hash)))
	meta, err = s.Meta(hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), meta.RefCount)

	err = s.db.Update(s.RefTxn(Hash([]byte("missing"))))
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestGetErrors(t *testing.T) {
	root := filepath.Join(t.TempDir(), "objects")
	s := setupSafe(t, root)

	_, err := s.Get("not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = s.Get(Hash([]byte("never stored")))
	assert.ErrorIs(t, err, ErrContentNotFound)

	hash, err := s.Store("a.txt", []byte("original"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, hash[:2], hash[2:]), []byte("tampered"), 0644))
	s.cache.Purge()

	_, err = s.Get(hash)
	assert.ErrorIs(t, err, ErrCorrupt)
}
