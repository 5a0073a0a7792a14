package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// domainOrDefault returns d if the task carries an explicit memory domain,
// else dev's own translator — the "memory-domain translator if present,
// else the device map" rule from the submission algorithm.
func domainOrDefault(d MemoryDomain, dev *deviceContext) MemoryDomain {
	if d != nil {
		return d
	}
	return dev.translator
}

// klmsFromSGEs converts a local SGE list into the KLM list a UMR uses to
// (re)bind an indirect MKey's translation table: same (addr, len) pairs,
// read as absolute ranges rather than lkey-qualified local memory.
func klmsFromSGEs(sges []wire.DataSeg) []wire.KLM {
	out := make([]wire.KLM, len(sges))
	for i, s := range sges {
		out[i] = wire.KLM{Addr: s.Addr, ByteCount: s.ByteCount}
	}
	return out
}

// sgeListLen sums the byte count of an SGE list.
func sgeListLen(sges []wire.DataSeg) uint32 {
	var n uint32
	for _, s := range sges {
		n += s.ByteCount
	}
	return n
}

// roundRemaining returns how many sub-requests should be posted in the next
// batch: whatever remains, capped by the MKey/PSV budget num_ops reserved
// for this task.
func roundRemaining(t *Task) int {
	remaining := t.NumReqs - t.NumSubmittedReqs
	if remaining > t.NumOps {
		remaining = t.NumOps
	}
	return remaining
}
