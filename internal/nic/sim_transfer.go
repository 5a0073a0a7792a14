package nic

import (
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// executeTransfer moves bytes between the local SGE list and the remote
// MKey's translation table, applying whatever crypto/signature BSF the MKey
// was last configured with. isWrite selects local->remote (RDMA write) vs
// remote->local (RDMA read); the destination side's real memory is always
// updated via scatter, never just an intermediate buffer.
// executeTransfer returns the WR's own completion status plus, on a
// signature mismatch, the offending MKey's id. A signature failure does not
// itself make the RDMA WR's completion carry an error status: real mlx5
// hardware reports SIGERR via a distinct completion tied to the MKey, while
// the WR that moved the bytes still completes normally. The poller (§4.2)
// only surfaces the error at task-completion time via the MKey's latched
// shadow state.
func (d *SimDevice) executeTransfer(mk *simMKey, local []wire.DataSeg, isWrite bool, crcScratch *wire.DataSeg) (status uint8, sigErrMKey uint32) {
	var src []byte
	if isWrite {
		src = gatherSGEs(local)
	} else {
		src = gatherKLMs(mk.klms)
	}

	payload := src
	if mk.cryptoBSF != nil {
		var err error
		payload, err = applyCrypto(*mk.cryptoBSF, payload)
		if err != nil {
			return wire.CQEStatusLocalProtErr, 0
		}
	}

	var sigErr uint32
	if mk.sigBSF != nil {
		computed, ok := checkOrGenerateCRC(*mk.sigBSF, mk.sigMode, mk.sigRefCRC, payload)
		if !ok {
			mk.sigErr.Store(true)
			sigErr = mk.id
		}
		if mk.sigMode == SigModeGenerate && crcScratch != nil {
			// The NIC's signature engine reports its result pre-complement
			// (the same ones'-complement convention crc32.Update consumes on
			// input); the poller undoes it when copying into task.crc_dst
			// (spec §4.4 "CRC32C.complete": "*crc_dst = *psv.crc XOR
			// 0xFFFFFFFF").
			writeCRCScratch(*crcScratch, computed^0xFFFFFFFF)
		}
	}

	if isWrite {
		scatterKLMs(mk.klms, payload)
	} else {
		scatterSGEs(local, payload)
	}

	return wire.CQEStatusOK, sigErr
}

func gatherSGEs(sges []wire.DataSeg) []byte {
	total := 0
	for _, s := range sges {
		total += int(s.ByteCount)
	}
	buf := make([]byte, total)
	off := 0
	for _, s := range sges {
		copy(buf[off:off+int(s.ByteCount)], addrToBytes(s.Addr, s.ByteCount))
		off += int(s.ByteCount)
	}
	return buf
}

func scatterSGEs(sges []wire.DataSeg, data []byte) {
	off := 0
	for _, s := range sges {
		n := int(s.ByteCount)
		if off+n > len(data) {
			n = len(data) - off
		}
		if n <= 0 {
			break
		}
		copy(addrToBytes(s.Addr, s.ByteCount), data[off:off+n])
		off += n
	}
}

func gatherKLMs(klms []wire.KLM) []byte {
	total := 0
	for _, k := range klms {
		total += int(k.ByteCount)
	}
	buf := make([]byte, total)
	off := 0
	for _, k := range klms {
		copy(buf[off:off+int(k.ByteCount)], addrToBytes(k.Addr, k.ByteCount))
		off += int(k.ByteCount)
	}
	return buf
}

func scatterKLMs(klms []wire.KLM, data []byte) {
	off := 0
	for _, k := range klms {
		n := int(k.ByteCount)
		if off+n > len(data) {
			n = len(data) - off
		}
		if n <= 0 {
			break
		}
		copy(addrToBytes(k.Addr, k.ByteCount), data[off:off+n])
		off += n
	}
}
