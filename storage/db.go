package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when no value is stored for a key. It is a
// sentinel so callers can distinguish "absent" from a lower-level storage
// failure, which must bubble up rather than be swallowed.
var ErrNotFound = errors.New("storage: key not found")

// Direction controls the order an Iterator walks a key range in.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Iterator walks a contiguous key range. Callers must call Release when
// done; Next returns false once exhausted or on error (check Error).
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Database is the generic key-value store contract every engine in this
// module is built against. Namespacing and typed (de)serialization are
// layered on top by Collection; Database itself only knows about bytes.
type Database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// NewIterator walks keys with the given prefix, starting at (and
	// including) start if non-nil, in the requested direction.
	NewIterator(prefix, start []byte, dir Direction) Iterator
	Close() error
}

// --- In-memory store, for tests and the single-node quick-start path ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) NewIterator(prefix, start []byte, dir Direction) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if len(prefix) > 0 && (len(k) < len(prefix) || k[:len(prefix)] != string(prefix)) {
			continue
		}
		if len(start) > 0 {
			if dir == Ascending && k < string(start) {
				continue
			}
			if dir == Descending && k > string(start) {
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if dir == Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), db.data[k]...)
	}
	return &memIterator{keys: keys, values: values, pos: -1}
}

func (db *MemDB) Close() error { return nil }

type memIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte { return it.values[it.pos] }
func (it *memIterator) Error() error  { return nil }
func (it *memIterator) Release()      {}

// --- LevelDB-backed store, for production nodes ---

// LevelDB is a persistent key-value store built on goleveldb, an
// embedded store driver.
type LevelDB struct {
	db *leveldb.DB
}

func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Put(key, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) NewIterator(prefix, start []byte, dir Direction) Iterator {
	rng := util.BytesPrefix(prefix)
	if len(start) > 0 {
		if dir == Descending {
			rng.Limit = append(append([]byte(nil), start...), 0)
		} else {
			rng.Start = start
		}
	}
	it := ldb.db.NewIterator(rng, nil)
	return &levelIterator{it: it, dir: dir, started: false}
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelIterator struct {
	it      iterator
	dir     Direction
	started bool
}

// iterator is the subset of goleveldb's Iterator this package depends on;
// declared locally so levelIterator can be tested against a fake.
type iterator interface {
	Next() bool
	Prev() bool
	Last() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (it *levelIterator) Next() bool {
	if it.dir == Ascending {
		return it.it.Next()
	}
	if !it.started {
		it.started = true
		return it.it.Last()
	}
	return it.it.Prev()
}

func (it *levelIterator) Key() []byte   { return append([]byte(nil), it.it.Key()...) }
func (it *levelIterator) Value() []byte { return append([]byte(nil), it.it.Value()...) }
func (it *levelIterator) Error() error  { return it.it.Error() }
func (it *levelIterator) Release()      { it.it.Release() }
