package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	N int `json:"n"`
}

func TestCollectionRoundTrip(t *testing.T) {
	db := NewMemDB()
	c := NewCollection[record](db, "subject")

	_, err := c.Get("a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Put("a", record{N: 1}))
	got, err := c.Get("a")
	require.NoError(t, err)
	require.Equal(t, 1, got.N)

	has, err := c.Has("a")
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, c.Delete("a"))
	has, err = c.Has("a")
	require.NoError(t, err)
	require.False(t, has)
}

func TestCollectionRangeIsNamespaced(t *testing.T) {
	db := NewMemDB()
	events := NewCollection[record](db, "event")
	signatures := NewCollection[record](db, "signatures")

	require.NoError(t, events.Put("subj1/0", record{N: 0}))
	require.NoError(t, events.Put("subj1/1", record{N: 1}))
	require.NoError(t, events.Put("subj2/0", record{N: 100}))
	require.NoError(t, signatures.Put("subj1/0", record{N: 999}))

	entries, err := events.Range("subj1/", Ascending)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "subj1/0", entries[0].Suffix)
	require.Equal(t, 0, entries[0].Value.N)
	require.Equal(t, "subj1/1", entries[1].Suffix)
}

func TestMemDBIteratorDirection(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k1"), []byte("1")))
	require.NoError(t, db.Put([]byte("k2"), []byte("2")))
	require.NoError(t, db.Put([]byte("k3"), []byte("3")))

	it := db.NewIterator([]byte("k"), nil, Descending)
	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	it.Release()
	require.Equal(t, []string{"3", "2", "1"}, got)
}
