package nic

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/behrlich/go-mlx5accel/internal/wire"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// checkOrGenerateCRC implements a signature MKey's CRC32C transform over
// payload: it always computes the CRC32C, continuing from bsf.Seed XOR
// 0xFFFFFFFF (undoing the complement the engine applies before programming
// the BSF, per spec §4.4 "seed task.seed XOR 0xFFFFFFFF") so that a zero
// task seed reduces to the plain software CRC32-C of payload, matching
// crc32.Checksum's own zero-seed convention. In SigModeCheck it additionally
// compares the result against refCRC (the expected value supplied at
// UMR-configure time); in SigModeGenerate there is nothing to compare
// against and ok is always true.
func checkOrGenerateCRC(bsf wire.SigBSF, mode SigOpMode, refCRC uint32, payload []byte) (computed uint32, ok bool) {
	computed = crc32.Update(bsf.Seed^0xFFFFFFFF, castagnoliTable, payload)

	if mode == SigModeCheck {
		return computed, computed == refCRC
	}
	return computed, true
}

// writeCRCScratch deposits a generated CRC value into the PSV's DMA-mapped
// scratch word, the simulated equivalent of the NIC writing its signature
// result to the address carried by a WR's CRCScratch segment.
func writeCRCScratch(scratch wire.DataSeg, value uint32) {
	buf := addrToBytes(scratch.Addr, scratch.ByteCount)
	if len(buf) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(buf, value)
}
