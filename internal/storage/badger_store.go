package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
)

// Entity is anything stored under its own id.
type Entity interface {
	GetID() string
}

// TxnFunc runs inside a caller-owned read-write transaction, letting
// several stores commit their writes atomically.
type TxnFunc func(txn *badger.Txn) error

// BadgerStore keeps JSON-encoded entities under "<prefix>:<id>" keys.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte(prefix + ":")}
}

func (s *BadgerStore) key(id string) []byte {
	return append(append([]byte{}, s.prefix...), id...)
}

func encode(entity Entity) ([]byte, error) {
	if entity.GetID() == "" {
		return nil, errors.New("entity ID cannot be empty")
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshaling entity: %w", err)
	}
	return data, nil
}

// CreateTxn stores entity within txn, failing if its key is taken.
func (s *BadgerStore) CreateTxn(txn *badger.Txn, entity Entity) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}

	key := s.key(entity.GetID())
	switch _, err := txn.Get(key); {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, entity.GetID())
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return txn.Set(key, data)
}

func (s *BadgerStore) Get(id string, entity Entity) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.GetTxn(txn, id, entity)
	})
}

// GetTxn loads id into entity. Missing keys yield ErrNotFound.
func (s *BadgerStore) GetTxn(txn *badger.Txn, id string, entity Entity) error {
	item, err := txn.Get(s.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, entity)
	})
}

// Put writes entity whether or not it already exists.
func (s *BadgerStore) Put(entity Entity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.PutTxn(txn, entity)
	})
}

func (s *BadgerStore) PutTxn(txn *badger.Txn, entity Entity) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	return txn.Set(s.key(entity.GetID()), data)
}

// DeleteTxn removes id, returning ErrNotFound when it is absent.
func (s *BadgerStore) DeleteTxn(txn *badger.Txn, id string) error {
	key := s.key(id)
	if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return err
	}
	return txn.Delete(key)
}

func (s *BadgerStore) Exists(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// KeysTxn returns the ids stored under sub, in key order.
func (s *BadgerStore) KeysTxn(txn *badger.Txn, sub string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	prefix := s.key(sub)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(s.prefix):]))
	}
	return ids
}

// List decodes every entity of s whose id starts with sub, in key order.
func List[T any](s *BadgerStore, sub string) ([]T, error) {
	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := s.key(sub)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return out, nil
}
