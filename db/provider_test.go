package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openProviders(t *testing.T) map[string]IterableProvider {
	t.Helper()
	ldb, err := NewLevelDBProvider(t.TempDir(), nil)
	require.NoError(t, err)
	bdb, err := NewBoltProvider(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		ldb.Close()
		bdb.Close()
	})
	return map[string]IterableProvider{
		"leveldb": ldb,
		"bolt":    bdb,
	}
}

func TestProviderPutGetDelete(t *testing.T) {
	for name, p := range openProviders(t) {
		t.Run(name, func(t *testing.T) {
			key := []byte("k1")

			v, err := p.Get(key)
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, p.Put(key, []byte("v1")))

			v, err = p.Get(key)
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), v)

			has, err := p.Has(key)
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, p.Delete(key))
			has, err = p.Has(key)
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestProviderBatchWrite(t *testing.T) {
	for name, p := range openProviders(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put([]byte("stale"), []byte("x")))

			batch := p.Batch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("stale"))

			// nothing visible before Write
			has, err := p.Has([]byte("a"))
			require.NoError(t, err)
			assert.False(t, has)

			require.NoError(t, batch.Write())

			for key, want := range map[string]string{"a": "1", "b": "2"} {
				v, err := p.Get([]byte(key))
				require.NoError(t, err)
				assert.Equal(t, []byte(want), v)
			}
			has, err = p.Has([]byte("stale"))
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestProviderBatchReset(t *testing.T) {
	for name, p := range openProviders(t) {
		t.Run(name, func(t *testing.T) {
			batch := p.Batch()
			batch.Put([]byte("dropped"), []byte("x"))
			batch.Reset()
			require.NoError(t, batch.Write())

			has, err := p.Has([]byte("dropped"))
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestProviderIteratePrefix(t *testing.T) {
	for name, p := range openProviders(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, p.Put([]byte(fmt.Sprintf("pfx:%d", i)), []byte{byte(i)}))
			}
			require.NoError(t, p.Put([]byte("other:0"), []byte("x")))

			var keys []string
			err := p.IteratePrefix([]byte("pfx:"), func(key, value []byte) bool {
				keys = append(keys, string(key))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"pfx:0", "pfx:1", "pfx:2", "pfx:3", "pfx:4"}, keys)

			// early stop
			count := 0
			err = p.IteratePrefix([]byte("pfx:"), func(key, value []byte) bool {
				count++
				return count < 2
			})
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestLevelDBDoubleClose(t *testing.T) {
	p, err := NewLevelDBProvider(t.TempDir(), &LevelDBOptions{WriteBufferMB: 4, OpenFilesCache: 64})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
