package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

func newTestWRBuilder(t *testing.T, capacity int) (*wrBuilder, *QP) {
	t.Helper()
	sim := nic.NewSimDevice("mlx5_sim_wrbuilder_test", nic.Capabilities{})
	dev, err := NewDevice(sim, DefaultDeviceConfig())
	require.NoError(t, err)
	qp, err := newQP(dev, capacity, nil)
	require.NoError(t, err)
	return qp.wr, qp
}

// newQP must hand every QP a ready wrBuilder sized to its own depth, so
// ReleaseWRs (and every opcode file's qp.wr.Post*) has something to call
// into without a nil check at every call site.
func TestNewQPWiresWRBuilder(t *testing.T) {
	_, qp := newTestWRBuilder(t, 4)
	require.NotNil(t, qp.wr)
	require.Same(t, qp, qp.wr.qp)
}

// reserve advances the ring's producer index and defers the doorbell; a
// fresh ring accepts WRs up to (and rejects beyond) its rounded-up
// power-of-two capacity.
func TestWRBuilderReserveAndWrap(t *testing.T) {
	b, qp := newTestWRBuilder(t, 3) // rounds up to 4 slots
	qp.ChargeWRs(3)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.reserve(uint64(i+1), false))
	}
	require.False(t, b.needRingDB == false, "Flush should have something pending after reserve")

	// Ring is full: a 5th reservation before any release is exhausted.
	require.ErrorIs(t, b.reserve(5, false), ErrResourceExhausted)

	// Releasing retires from the head, making room for wraparound reuse.
	b.release(2)
	require.NoError(t, b.reserve(5, false))
	require.NoError(t, b.reserve(6, false))
	require.ErrorIs(t, b.reserve(7, false), ErrResourceExhausted)
}

// reserve also refuses to admit a WR once the QP's own WR-credit budget
// (ChargeWRs/TxAvailable) has gone negative, even if the ring itself still
// has room — the ring must never outrun the round-level credit accounting.
func TestWRBuilderReserveGatedByTxAvailable(t *testing.T) {
	b, qp := newTestWRBuilder(t, 8)
	qp.ChargeWRs(9) // over-charge past MaxWrs, simulating a bookkeeping bug
	require.Less(t, qp.TxAvailable, 0)

	require.ErrorIs(t, b.reserve(1, false), ErrResourceExhausted)
}

// Flush only rings the doorbell once per batch of reservations, and is a
// no-op when nothing new was posted since the last Flush.
func TestWRBuilderFlushIsDeferredAndIdempotent(t *testing.T) {
	b, qp := newTestWRBuilder(t, 4)
	qp.ChargeWRs(2)

	require.False(t, b.needRingDB)
	require.NoError(t, b.reserve(1, false))
	require.NoError(t, b.reserve(2, true))
	require.True(t, b.needRingDB)

	require.NoError(t, b.Flush())
	require.False(t, b.needRingDB)

	// A second Flush with nothing new queued is a harmless no-op.
	require.NoError(t, b.Flush())
}

// translationLines is wire.CeilTranslationSize's one real caller; verify
// the wrapper doesn't change the arithmetic it wraps.
func TestTranslationLinesMatchesCeilTranslationSize(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 6, 10} {
		require.Equal(t, wire.CeilTranslationSize(n), translationLines(n))
	}
}

// PostUMR goes through reserve and the underlying nic.Device call in one
// step, the building-block shape copy.go/crypto.go/crc.go/fused.go all use.
func TestWRBuilderPostUMRReservesAndPosts(t *testing.T) {
	b, qp := newTestWRBuilder(t, 4)
	qp.ChargeWRs(1)

	wrid := qp.NextWRID()
	err := b.PostUMR(nic.UMRRequest{
		MKey: nic.MKey{},
		KLMs: []wire.KLM{{Addr: 0, ByteCount: 4096}},
	}, wrid, true)
	require.NoError(t, err)
	require.True(t, b.needRingDB)
	require.NoError(t, b.Flush())
}
