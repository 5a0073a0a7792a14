package engine

// sameRange reports whether two iov arrays describe the same virtual byte
// range: same segment count and identical (addr, len) per segment. Fusion
// eligibility is judged on this, mirroring accel_mlx5_compare_iovs.
func sameRange(a, b []IOV) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Addr != b[i].Addr || a[i].Len != b[i].Len {
			return false
		}
	}
	return true
}

// TryFuse inspects t against the next task in its submitter's sequence and,
// if the pair matches one of the two fusable patterns (spec §4.4 "Common
// preprocessing"), upgrades t's opcode in place and marks next as a merged
// sibling that will be completed alongside t rather than submitted on its
// own. Returns true if fusion occurred.
func TryFuse(t, next *Task) bool {
	if next == nil {
		return false
	}

	switch {
	case t.Opcode == OpEncrypt && next.Opcode == OpChecksumCRC32C && sameRange(t.Dst, next.Src):
		t.Opcode = OpEncryptAndCRC32C
		t.CRCSeed = next.CRCSeed
		t.CRCDst = next.CRCDst
		linkMerged(t, next)
		return true

	case t.Opcode == OpCheckCRC32C && next.Opcode == OpDecrypt && sameRange(t.Src, next.Src):
		t.Opcode = OpCRC32CAndDecrypt
		t.BlockSize = next.BlockSize
		t.IVBase = next.IVBase
		t.DekObjID = next.DekObjID
		t.Dst = next.Dst
		t.EncOrder = EncryptionOrderRawInMemory
		linkMerged(t, next)
		return true

	default:
		return false
	}
}

func linkMerged(parent, child *Task) {
	parent.MergedSibling = child
	child.MergedSibling = parent
	child.Merged = true
	child.State = TaskResourcesReady
}

// UnfuseOnFailure clears a merged sibling's Merged flag and detaches it
// from its (failed) fusion parent so the channel can resubmit it as a
// standalone task, per spec §8 invariant 5: "if P fails, C's merged flag is
// cleared and C is re-submitted."
func UnfuseOnFailure(parent *Task) *Task {
	child := parent.MergedSibling
	if child == nil {
		return nil
	}
	child.Merged = false
	child.MergedSibling = nil
	child.State = TaskNew
	parent.MergedSibling = nil
	return child
}
