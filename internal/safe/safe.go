// internal/safe/safe.go
package safe

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gitent/internal/storage"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidHash     = errors.New("invalid content hash")
	ErrCorrupt         = errors.New("content hash mismatch")
)

const (
	metaPrefix = "blob"
	dataPrefix = "blobdata:"
)

// ContentMeta stores metadata about stored content
type ContentMeta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"stored_size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m ContentMeta) GetID() string { return m.Hash }

// Safe is a content-addressed, deduplicated blob store. Blobs are
// immutable once written.
type Safe struct {
	root  string // objects directory, empty for inline storage
	db    *badger.DB
	meta  *storage.BadgerStore
	cache *lru.Cache[string, []byte]
	codec *codec
	mu    sync.Mutex
}

// Options configures Safe behavior
type Options struct {
	// Root is the objects directory. When empty, blob bytes are kept in
	// the database next to their metadata.
	Root        string
	CacheSize   int
	Compression CompressionOptions
}

// New creates a new Safe instance
func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root != "" {
		if err := os.MkdirAll(opts.Root, 0755); err != nil {
			return nil, fmt.Errorf("creating root directory: %w", err)
		}
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	if opts.Compression.Level == 0 {
		minSize := opts.Compression.MinSize
		opts.Compression = DefaultCompressionOptions()
		if minSize > 0 {
			opts.Compression.MinSize = minSize
		}
	}
	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{
		root:  opts.Root,
		db:    db,
		meta:  storage.NewBadgerStore(db, metaPrefix),
		cache: cache,
		codec: c,
	}, nil
}

// Hash returns the content hash Store would assign to content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store saves content, takes a reference to it and returns its hash.
// path only guides the compression decision and may be empty.
func (s *Safe) Store(path string, content []byte) (string, error) {
	hash, err := s.Write(path, content)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Update(s.RefTxn(hash)); err != nil {
		return "", fmt.Errorf("incrementing ref count: %w", err)
	}
	return hash, nil
}

// Write persists content without referencing it. Unreferenced blobs
// keep a zero ref count until RefTxn lands in a committed transaction.
func (s *Safe) Write(path string, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	hash := Hash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch _, err := s.getMeta(hash); {
	case err == nil:
		return hash, nil
	case !errors.Is(err, ErrContentNotFound):
		return "", fmt.Errorf("checking existence: %w", err)
	}

	payload, compressed := s.codec.encode(path, content)
	meta := ContentMeta{
		Hash:       hash,
		Size:       int64(len(content)),
		StoredSize: int64(len(payload)),
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}

	if s.root == "" {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(dataPrefix+hash), payload); err != nil {
				return err
			}
			return s.meta.PutTxn(txn, meta)
		})
		if err != nil {
			return "", fmt.Errorf("storing content: %w", err)
		}
	} else {
		contentPath := s.contentPath(hash)
		if err := os.MkdirAll(filepath.Dir(contentPath), 0755); err != nil {
			return "", fmt.Errorf("creating content directory: %w", err)
		}
		// Objects only appear under their final name once fully written.
		tmp := contentPath + ".tmp"
		if err := os.WriteFile(tmp, payload, 0644); err != nil {
			return "", fmt.Errorf("writing content file: %w", err)
		}
		if err := os.Rename(tmp, contentPath); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("writing content file: %w", err)
		}
		if err := s.meta.Put(meta); err != nil {
			os.Remove(contentPath)
			return "", fmt.Errorf("storing metadata: %w", err)
		}
	}

	s.cache.Add(hash, content)
	return hash, nil
}

// RefTxn increments the ref count of each hash inside the caller's
// transaction, once per occurrence.
func (s *Safe) RefTxn(hashes ...string) storage.TxnFunc {
	return func(txn *badger.Txn) error {
		for _, hash := range hashes {
			var meta ContentMeta
			if err := s.meta.GetTxn(txn, hash, &meta); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrContentNotFound, hash)
				}
				return err
			}
			meta.RefCount++
			if err := s.meta.PutTxn(txn, meta); err != nil {
				return err
			}
		}
		return nil
	}
}

// Get retrieves content by hash, verifying it against the hash.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if s.root == "" {
		err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(dataPrefix + hash))
			if err != nil {
				return err
			}
			payload, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrContentNotFound
		}
	} else {
		payload, err = os.ReadFile(s.contentPath(hash))
		if os.IsNotExist(err) {
			return nil, ErrContentNotFound
		}
	}
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}

	content := payload
	if meta.Compressed {
		content, err = s.codec.decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, hash, err)
		}
	}

	if Hash(content) != hash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, hash)
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Exists checks if content exists
func (s *Safe) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, ErrInvalidHash
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	return s.meta.Exists(hash)
}

// Meta returns the stored metadata of hash.
func (s *Safe) Meta(hash string) (ContentMeta, error) {
	if !isValidHash(hash) {
		return ContentMeta{}, ErrInvalidHash
	}
	return s.getMeta(hash)
}

func (s *Safe) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func (s *Safe) getMeta(hash string) (ContentMeta, error) {
	var meta ContentMeta
	err := s.meta.Get(hash, &meta)
	if errors.Is(err, storage.ErrNotFound) {
		return meta, ErrContentNotFound
	}
	return meta, err
}

func isValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
