package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// stubDomain is a minimal MemoryDomain used only as a distinct map key for
// QPRouter's per-domain routing; it is never asked to translate anything.
type stubDomain struct{}

func (*stubDomain) Translate(addr uint64, length uint32) (wire.DataSeg, error) {
	return wire.DataSeg{}, nil
}

func TestQPWRAccounting(t *testing.T) {
	qp := &QP{MaxWrs: 10, TxAvailable: 10}
	require.Equal(t, 10, qp.FreeSlots())

	qp.ChargeWRs(4)
	require.Equal(t, 4, qp.WrsSubmitted)
	require.Equal(t, 6, qp.TxAvailable)
	require.Equal(t, 6, qp.FreeSlots())

	qp.ReleaseWRs(4)
	require.Equal(t, 0, qp.WrsSubmitted)
	require.Equal(t, 10, qp.TxAvailable)
}

func TestQPNextWRIDMonotonic(t *testing.T) {
	qp := &QP{}
	require.Equal(t, uint64(1), qp.NextWRID())
	require.Equal(t, uint64(2), qp.NextWRID())
	require.Equal(t, uint64(3), qp.NextWRID())
}

// PopInHWUpTo must pop the FIFO head through (and including) the task whose
// WriteWRID matches, leaving the rest in place — the strict-FIFO completion
// order the poller relies on (spec §4.2 "CQ Poller").
func TestQPPopInHWUpToIsFIFOPrefix(t *testing.T) {
	qp := &QP{}
	t1 := &Task{WriteWRID: 1}
	t2 := &Task{WriteWRID: 2}
	t3 := &Task{WriteWRID: 3}
	qp.PushInHW(t1)
	qp.PushInHW(t2)
	qp.PushInHW(t3)

	popped := qp.PopInHWUpTo(2)
	require.Equal(t, []*Task{t1, t2}, popped)
	require.Equal(t, []*Task{t3}, qp.InHW)

	require.Nil(t, qp.PopInHWUpTo(99))
	require.Equal(t, []*Task{t3}, qp.InHW)
}

func TestQPRouterDefaultQPIsLazyAndShared(t *testing.T) {
	sim := nic.NewSimDevice("mlx5_sim_router_test", nic.Capabilities{})
	dev, err := NewDevice(sim, DefaultDeviceConfig())
	require.NoError(t, err)

	router := newQPRouter(dev, 64, false)
	qpA, err := router.Route(nil)
	require.NoError(t, err)
	qpB, err := router.Route(nil)
	require.NoError(t, err)
	require.Same(t, qpA, qpB, "default QP should be created once and reused")
	require.Len(t, router.AllQPs(), 1)
}

func TestQPRouterPerDomainRoutesIndependently(t *testing.T) {
	sim := nic.NewSimDevice("mlx5_sim_router_test2", nic.Capabilities{})
	dev, err := NewDevice(sim, DefaultDeviceConfig())
	require.NoError(t, err)

	router := newQPRouter(dev, 64, true)
	domA := &stubDomain{}
	domB := &stubDomain{}

	qpA, err := router.Route(domA)
	require.NoError(t, err)
	qpA2, err := router.Route(domA)
	require.NoError(t, err)
	require.Same(t, qpA, qpA2)

	qpB, err := router.Route(domB)
	require.NoError(t, err)
	require.NotSame(t, qpA, qpB)
	require.Len(t, router.AllQPs(), 2)

	router.RemoveDomain(domA)
	require.Len(t, router.AllQPs(), 1)
}
