package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
)

func TestRecoveryTriggerRecreatesIdleDefaultQP(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	qp, err := dev.router.Route(nil)
	require.NoError(t, err)
	oldHandle := qp.Handle

	rec := newRecovery(dev)
	require.True(t, rec.Trigger(qp, nil))
	require.False(t, qp.Recovering)
	require.Equal(t, 0, qp.WrsSubmitted)
	require.Nil(t, qp.InHW)
	require.NotEqual(t, oldHandle, qp.Handle)
}

func TestRecoveryTriggerDefersWhileQPBusy(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	qp, err := dev.router.Route(nil)
	require.NoError(t, err)
	qp.ChargeWRs(2)

	rec := newRecovery(dev)
	require.False(t, rec.Trigger(qp, nil))
	require.False(t, qp.Recovering, "Trigger should not even start recovery while WRs are outstanding")
}

func TestRecoveryTriggerRetiresDomainQP(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	dev.router.qpPerDomain = true
	dom := &stubDomain{}
	qp, err := dev.router.Route(dom)
	require.NoError(t, err)

	rec := newRecovery(dev)
	require.True(t, rec.Trigger(qp, nil))
	require.False(t, qp.Recovering)
	require.Len(t, dev.router.AllQPs(), 0, "domain qp should be removed from the router, recreated lazily on next Route")
}

func TestRecoveryHandleDomainDeletedDestroysIdleAndFlushesBusy(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	dev.router.qpPerDomain = true

	idleDom := &stubDomain{}
	idleQP, err := dev.router.Route(idleDom)
	require.NoError(t, err)

	busyDom := &stubDomain{}
	busyQP, err := dev.router.Route(busyDom)
	require.NoError(t, err)
	busyQP.ChargeWRs(1)

	rec := newRecovery(dev)
	rec.HandleDomainDeleted(idleDom)
	rec.HandleDomainDeleted(busyDom)

	remaining := dev.router.AllQPs()
	require.Len(t, remaining, 1)
	require.Same(t, busyQP, remaining[0])
	_ = idleQP
}
