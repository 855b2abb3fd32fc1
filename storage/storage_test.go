package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/storage"
	"xdao.co/channels/storage/testkit"
)

func TestMemoryConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS { return storage.NewMemory() })
}

func TestTieredConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.Tiered{storage.NewMemory(), storage.NewMemory()}
	})
}

func TestReplicaSetConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.ReplicaSet{
			{Name: "a", CAS: storage.NewMemory()},
			{Name: "b", CAS: storage.NewMemory()},
		}
	})
}

func TestTieredFallsBack(t *testing.T) {
	front, back := storage.NewMemory(), storage.NewMemory()
	id, err := back.Put([]byte("only in back"))
	require.NoError(t, err)

	tiers := storage.Tiered{front, back}
	got, err := tiers.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "only in back", string(got))
	assert.False(t, front.Has(id), "Get must not write through")

	_, err = tiers.Put([]byte("front only"))
	require.NoError(t, err)
	assert.Equal(t, 1, front.Len())
	assert.Equal(t, 1, back.Len())
}

func TestTieredEmpty(t *testing.T) {
	_, err := storage.Tiered(nil).Put([]byte("x"))
	require.ErrorIs(t, err, storage.ErrNoBackends)
}

func TestReplicaSetDurability(t *testing.T) {
	a, b := storage.NewMemory(), storage.NewMemory()
	rs := storage.ReplicaSet{{Name: "a", CAS: a}, {Name: "b", CAS: b}}

	data := []byte("replicate me")
	id, err := cidutil.Sum(data)
	require.NoError(t, err)

	_, err = a.Put(data)
	require.NoError(t, err)
	assert.False(t, rs.Durable(id))
	assert.Equal(t, []string{"b"}, rs.Missing(id))

	_, written, err := rs.PutAll(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, written)
	assert.True(t, rs.Durable(id))
	assert.Empty(t, rs.Missing(id))

	assert.False(t, storage.ReplicaSet(nil).Durable(id))
}

func TestMemoryCopiesInput(t *testing.T) {
	m := storage.NewMemory()
	data := []byte("same")
	_, err := m.Put(data)
	require.NoError(t, err)
	data[0] = 'S'
	id, err := cidutil.Sum([]byte("same"))
	require.NoError(t, err)
	got, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "same", string(got), "stored bytes must not alias the caller's slice")
}
