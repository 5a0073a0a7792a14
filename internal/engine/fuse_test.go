package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryFuseEncryptThenCRC(t *testing.T) {
	crc := uint32(0)
	parent := &Task{Opcode: OpEncrypt, Dst: []IOV{{Addr: 0x1000, Len: 512}}}
	child := &Task{Opcode: OpChecksumCRC32C, Src: []IOV{{Addr: 0x1000, Len: 512}}, CRCSeed: 7, CRCDst: &crc}

	require.True(t, TryFuse(parent, child))
	require.Equal(t, OpEncryptAndCRC32C, parent.Opcode)
	require.Equal(t, uint32(7), parent.CRCSeed)
	require.Same(t, &crc, parent.CRCDst)
	require.True(t, child.Merged)
	require.Same(t, child, parent.MergedSibling)
	require.Same(t, parent, child.MergedSibling)
	require.Equal(t, TaskResourcesReady, child.State)
}

func TestTryFuseCheckCRCThenDecrypt(t *testing.T) {
	parent := &Task{Opcode: OpCheckCRC32C, Src: []IOV{{Addr: 0x2000, Len: 4096}}}
	child := &Task{
		Opcode:    OpDecrypt,
		Src:       []IOV{{Addr: 0x2000, Len: 4096}},
		Dst:       []IOV{{Addr: 0x3000, Len: 4096}},
		BlockSize: 4096,
		IVBase:    [16]byte{99},
		DekObjID:  3,
	}

	require.True(t, TryFuse(parent, child))
	require.Equal(t, OpCRC32CAndDecrypt, parent.Opcode)
	require.Equal(t, uint32(4096), parent.BlockSize)
	require.Equal(t, [16]byte{99}, parent.IVBase)
	require.Equal(t, uint32(3), parent.DekObjID)
	require.Equal(t, child.Dst, parent.Dst)
	require.Equal(t, EncryptionOrderRawInMemory, parent.EncOrder)
}

func TestTryFuseRejectsMismatchedRangeOrOpcode(t *testing.T) {
	parent := &Task{Opcode: OpEncrypt, Dst: []IOV{{Addr: 0x1000, Len: 512}}}
	child := &Task{Opcode: OpChecksumCRC32C, Src: []IOV{{Addr: 0x9000, Len: 512}}}
	require.False(t, TryFuse(parent, child))
	require.Equal(t, OpEncrypt, parent.Opcode)

	require.False(t, TryFuse(parent, nil))

	unrelated := &Task{Opcode: OpCopy}
	require.False(t, TryFuse(parent, unrelated))
}

func TestUnfuseOnFailureDetachesAndResetsChild(t *testing.T) {
	parent := &Task{Opcode: OpEncryptAndCRC32C}
	child := &Task{Opcode: OpChecksumCRC32C, Merged: true, State: TaskResourcesReady}
	parent.MergedSibling = child
	child.MergedSibling = parent

	got := UnfuseOnFailure(parent)
	require.Same(t, child, got)
	require.False(t, child.Merged)
	require.Nil(t, child.MergedSibling)
	require.Equal(t, TaskNew, child.State)
	require.Nil(t, parent.MergedSibling)

	require.Nil(t, UnfuseOnFailure(parent))
}
