package storage

import (
	"encoding/json"
	"fmt"
)

// namespaceSeparator is the UTF-8 encoding of U+10FFFF, a composite-key
// separator chosen so a namespace tag can never collide with a key that
// happens to start with another namespace's name.
const namespaceSeparator = "\xf4\x8f\xbf\xbf"

// Collection namespaces a Database under a fixed tag and (de)serializes
// values through the canonical JSON codec: a reusable, typed helper
// instead of one ad hoc byte-prefixed key variable per feature.
type Collection[V any] struct {
	db        Database
	namespace string
}

// NewCollection binds namespace to db. namespace should be a stable tag
// such as "subject", "event", "witness_signatures".
func NewCollection[V any](db Database, namespace string) *Collection[V] {
	return &Collection[V]{db: db, namespace: namespace}
}

func (c *Collection[V]) key(key string) []byte {
	return []byte(c.namespace + namespaceSeparator + key)
}

// Put encodes value as canonical JSON and stores it under key.
func (c *Collection[V]) Put(key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", c.namespace, key, err)
	}
	return c.db.Put(c.key(key), raw)
}

// Get decodes the value stored under key. Returns ErrNotFound if absent.
func (c *Collection[V]) Get(key string) (V, error) {
	var out V
	raw, err := c.db.Get(c.key(key))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("storage: decode %s/%s: %w", c.namespace, key, err)
	}
	return out, nil
}

// Has reports whether a value is stored under key, swallowing ErrNotFound.
func (c *Collection[V]) Has(key string) (bool, error) {
	_, err := c.Get(key)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

// Delete removes the value stored under key, if any.
func (c *Collection[V]) Delete(key string) error {
	return c.db.Delete(c.key(key))
}

// Entry is one (suffix, value) pair returned by Range, where suffix is the
// portion of the stored key after the namespace separator (it still begins
// with the Range prefix).
type Entry[V any] struct {
	Suffix string
	Value  V
}

// Range walks every key in the collection whose suffix starts with prefix,
// in the given direction, decoding each value. Errors decoding a single
// entry abort the walk and are returned to the caller — a torn or corrupt
// record is an infrastructure failure, not something to skip silently.
func (c *Collection[V]) Range(prefix string, dir Direction) ([]Entry[V], error) {
	fullPrefix := c.key(prefix)
	it := c.db.NewIterator(fullPrefix, nil, dir)
	defer it.Release()

	var out []Entry[V]
	nsPrefixLen := len(c.namespace) + len(namespaceSeparator)
	for it.Next() {
		k := string(it.Key())
		if len(k) < nsPrefixLen {
			continue
		}
		var v V
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("storage: decode %s/%s: %w", c.namespace, k[nsPrefixLen:], err)
		}
		out = append(out, Entry[V]{Suffix: k[nsPrefixLen:], Value: v})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
