package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
)

func TestMKeyPoolGetBulkAtomicFailure(t *testing.T) {
	sim := nic.NewSimDevice("mlx5_sim_mkeypool_test", nic.Capabilities{})
	pool, err := NewMKeyPool(sim, nic.MKeyFlavorCrypto, 3)
	require.NoError(t, err)
	require.Equal(t, 3, pool.FreeCount())

	_, ok := pool.GetBulk(4)
	require.False(t, ok, "a request larger than the free list must fail atomically")
	require.Equal(t, 3, pool.FreeCount(), "a failed GetBulk must not partially drain the pool")

	keys, ok := pool.GetBulk(2)
	require.True(t, ok)
	require.Len(t, keys, 2)
	require.Equal(t, 1, pool.FreeCount())

	pool.PutBulk(keys)
	require.Equal(t, 3, pool.FreeCount())
}

func TestMKeyPoolSigErrLatchIsPerMKeyAndConsumedOnce(t *testing.T) {
	sim := nic.NewSimDevice("mlx5_sim_mkeypool_test2", nic.Capabilities{})
	pool, err := NewMKeyPool(sim, nic.MKeyFlavorSignature, 2)
	require.NoError(t, err)

	ids := pool.sortedIDs()
	require.Len(t, ids, 2)

	require.True(t, pool.MarkSigErr(ids[0]))
	require.False(t, pool.MarkSigErr(9999), "unknown mkey id should report false")

	require.True(t, pool.ConsumeSigErr(ids[0]))
	require.False(t, pool.ConsumeSigErr(ids[0]), "latch should be cleared after the first consume")
	require.False(t, pool.ConsumeSigErr(ids[1]), "mkey never marked should never report an error")
}
