package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

func okCQE(wrid uint64) wire.CQE {
	return wire.CQE{WRID: wrid, Status: wire.CQEStatusOK}
}

// A COPY task completes the same way whether the device runs signal-last
// (only the round's last WR carries a CQE) or strict FIFO (each task's
// round must produce its own CQE) — the two poller dispatch flavors must agree on
// the happy path even though they classify completions differently.
func TestPollerDispatchFlavorsBothCompleteCopy(t *testing.T) {
	for _, siglast := range []bool{true, false} {
		cfg := DefaultDeviceConfig()
		cfg.Siglast = siglast
		dev, ch := newTestDevice(t, nic.Capabilities{}, cfg)
		require.Equal(t, siglast, dev.siglast)

		src := []byte("strict fifo vs signal-last")
		dst := make([]byte, len(src))

		var done bool
		var taskErr error
		task := NewTask(OpCopy, func(_ *Task, err error) {
			done = true
			taskErr = err
		})
		task.Src = []IOV{iovOf(src)}
		task.Dst = []IOV{iovOf(dst)}

		require.NoError(t, ch.SubmitTask(task))
		require.True(t, drain(ch, &done, 100))
		require.NoError(t, taskErr)
		require.Equal(t, src, dst)
	}
}

// dispatchStrictFIFO fails (rather than silently advances) any task popped
// alongside the terminal one, since strict mode has no CQE of its own to
// vouch for it.
func TestPollerStrictFIFOFailsNonTerminalPoppedTasks(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	p := &Poller{dev: dev}
	qp := &QP{}

	t1 := &Task{WriteWRID: 1, Opcode: OpCopy, roundWrs: 2, roundReqs: 1, NumReqs: 1}
	t2 := &Task{WriteWRID: 2, Opcode: OpCopy, roundWrs: 2, roundReqs: 1, NumReqs: 1}
	var t1Err, t2Err error
	t1.onComplete = func(_ *Task, err error) { t1Err = err }
	t2.onComplete = func(_ *Task, err error) { t2Err = err }

	hadErr := p.dispatchStrictFIFO(qp, okCQE(2), []*Task{t1, t2})

	require.True(t, hadErr)
	require.Error(t, t1Err, "non-terminal task in a strict-fifo batch should fail, not succeed silently")
	require.NoError(t, t2Err)
}

// dispatchSiglast, by contrast, advances every non-terminal popped task on
// faith and only inspects the terminal CQE's status.
func TestPollerSiglastAdvancesNonTerminalPoppedTasks(t *testing.T) {
	dev, _ := newTestDevice(t, nic.Capabilities{}, DefaultDeviceConfig())
	p := &Poller{dev: dev}
	qp := &QP{}

	t1 := &Task{WriteWRID: 1, Opcode: OpCopy, roundWrs: 2, roundReqs: 1, NumReqs: 1}
	t2 := &Task{WriteWRID: 2, Opcode: OpCopy, roundWrs: 2, roundReqs: 1, NumReqs: 1}
	var t1Err, t2Err error
	t1.onComplete = func(_ *Task, err error) { t1Err = err }
	t2.onComplete = func(_ *Task, err error) { t2Err = err }

	hadErr := p.dispatchSiglast(qp, okCQE(2), []*Task{t1, t2})

	require.False(t, hadErr)
	require.NoError(t, t1Err)
	require.NoError(t, t2Err)
}
