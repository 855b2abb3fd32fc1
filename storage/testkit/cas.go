// Package testkit holds a conformance suite every storage.CAS must pass.
package testkit

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/storage"
)

// NewCAS returns an empty store isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance checks the storage.CAS contract shard storage relies
// on: addressing by cidutil.Sum, idempotent puts, not-found reporting and
// isolation from caller buffers.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("AddressedBySum", func(t *testing.T) {
		cas := newCAS(t)
		sealed := []byte("nonce||ciphertext||tag")
		id, err := cas.Put(sealed)
		require.NoError(t, err)
		want, err := cidutil.Sum(sealed)
		require.NoError(t, err)
		assert.True(t, id.Equals(want), "got %s want %s", id, want)

		got, err := cas.Get(id)
		require.NoError(t, err)
		assert.Equal(t, sealed, got)
		assert.True(t, cidutil.Matches(id, got))
	})

	t.Run("RepeatPut", func(t *testing.T) {
		cas := newCAS(t)
		first, err := cas.Put([]byte("replicated twice"))
		require.NoError(t, err)
		second, err := cas.Put([]byte("replicated twice"))
		require.NoError(t, err)
		assert.True(t, first.Equals(second))
	})

	t.Run("Absent", func(t *testing.T) {
		cas := newCAS(t)
		id, err := cidutil.Sum([]byte("never written"))
		require.NoError(t, err)
		assert.False(t, cas.Has(id))
		_, err = cas.Get(id)
		assert.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("UndefinedCID", func(t *testing.T) {
		cas := newCAS(t)
		assert.False(t, cas.Has(cid.Undef))
		_, err := cas.Get(cid.Undef)
		assert.Error(t, err)
	})

	t.Run("CallerBufferIsolation", func(t *testing.T) {
		cas := newCAS(t)
		buf := []byte("mutable buffer")
		id, err := cas.Put(buf)
		require.NoError(t, err)
		buf[0] = 'X'
		got, err := cas.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "mutable buffer", string(got))
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		cas := newCAS(t)
		var wg sync.WaitGroup
		ids := make([]cid.Cid, 16)
		errs := make([]error, 16)
		for i := range ids {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				// half the writers race on the same object
				ids[i], errs[i] = cas.Put([]byte(fmt.Sprintf("shard-%d", i%8)))
			}()
		}
		wg.Wait()
		for i := range ids {
			require.NoError(t, errs[i])
			got, err := cas.Get(ids[i])
			require.NoError(t, err)
			assert.True(t, bytes.Equal(got, []byte(fmt.Sprintf("shard-%d", i%8))))
		}
	})
}
