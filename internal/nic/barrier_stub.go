//go:build !(linux && cgo)

package nic

import "sync/atomic"

// barrierFallback is touched by Sfence on platforms without the cgo asm
// fence, giving the compiler a reason not to reorder across the call.
var barrierFallback atomic.Uint64

// Sfence is a software fallback for the doorbell store fence, used when
// building without cgo (e.g. cross-compiling the simulated device for
// tests). It does not provide real hardware ordering guarantees; only the
// cgo-backed implementation in barrier.go does.
func Sfence() {
	barrierFallback.Add(1)
}
