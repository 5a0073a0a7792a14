//go:build linux && cgo

package nic

/*
#include <stdint.h>

// x86-64 store fence: ensures all prior stores are globally visible before
// any subsequent store. Required before writing the doorbell record and
// again before ringing the BlueFlame/UAR.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE instruction), matching the
// doorbell ordering requirement: WQE writes must be visible before the
// doorbell record update, and the doorbell record write must be visible
// before the UAR write.
func Sfence() {
	C.sfence_impl()
}
