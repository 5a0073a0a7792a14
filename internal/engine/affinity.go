package engine

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-mlx5accel/internal/logging"
)

// PinToCPU locks the calling goroutine to its current OS thread and pins
// that thread to cpu, the same two-step a Channel's owning thread must take
// before driving SubmitTask/Poll in a tight loop: the NIC vendor library
// assumes one fixed OS thread per channel (UMR/RDMA posting and CQ polling
// are not safe to migrate mid-batch), the same constraint
// go-ublk's ioLoop documents for ublk_drv's per-queue thread affinity
// requirement. Callers that don't care about affinity may skip this and
// call runtime.LockOSThread themselves, or not pin at all: PinToCPU is an
// optional hardening step, not a correctness requirement of this package.
func PinToCPU(cpu int) error {
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		logging.Default().Warnf("failed to set cpu affinity to cpu %d: %v", cpu, err)
		return err
	}
	logging.Default().Debug("pinned channel thread", "cpu", cpu)
	return nil
}
