package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// crcInit sizes a standalone CRC32C (generate or check) task: one request
// when in-place and the source fits with room for the tail SGE, else a
// COPY-style walk (spec §4.4 "Resource sizing", CRC32C). Always reserves
// one signature MKey per request plus one PSV.
func crcInit(dev *deviceContext, qp *QP, t *Task) error {
	if len(t.Dst) == 0 {
		t.Dst = t.Src
		t.InPlace = true
	}
	if err := sizeCRC(t, qp.FreeSlots()); err != nil {
		return err
	}
	t.NumWrs = 0
	return nil
}

func checksumProcess(dev *deviceContext, qp *QP, t *Task) error { return crcProcess(dev, qp, t, false) }
func checkCRCProcess(dev *deviceContext, qp *QP, t *Task) error { return crcProcess(dev, qp, t, true) }
func checksumCont(dev *deviceContext, qp *QP, t *Task) error    { return crcCont(dev, qp, t, false) }
func checkCRCCont(dev *deviceContext, qp *QP, t *Task) error    { return crcCont(dev, qp, t, true) }

// crcCont releases the signature MKeys reserved for the just-completed round
// and posts the next one.
func crcCont(dev *deviceContext, qp *QP, t *Task, check bool) error {
	if len(t.MKeys) > 0 {
		dev.sigMKeys.PutBulk(t.MKeys)
		t.MKeys = nil
	}
	return crcProcess(dev, qp, t, check)
}

// crcProcess posts one batch of (UMR-sig, RDMA) pairs for a standalone
// CRC32C task, preceding them with a SET_PSV reset if the PSV's error latch
// is set (spec §4.3 "PSV").
func crcProcess(dev *deviceContext, qp *QP, t *Task, check bool) error {
	n := roundRemaining(t)
	if n <= 0 {
		return nil
	}
	if t.PSV == nil {
		if err := acquirePSV(dev.psvs, t); err != nil {
			return err
		}
	}
	if len(t.MKeys) == 0 {
		if err := acquireMKeys(dev.sigMKeys, t, n); err != nil {
			return err
		}
	}

	resetPSV := t.PSV.Error
	wrsThisRound := n * 2
	if resetPSV {
		wrsThisRound++
	}
	qp.ChargeWRs(wrsThisRound)

	if resetPSV {
		wrid := qp.NextWRID()
		if err := qp.wr.ResetPSV(t.PSV.Handle, wrid, false); err != nil {
			return err
		}
		t.PSV.Error = false
	}

	for i := 0; i < n; i++ {
		idx := t.NumSubmittedReqs + i
		first := idx == 0
		last := idx == t.NumReqs-1
		if err := crcPostOne(dev, qp, t, i, check, first, last); err != nil {
			return err
		}
		t.NumSubmittedReqs++
	}
	t.NumWrs += wrsThisRound
	t.roundWrs = wrsThisRound
	t.roundReqs = n

	if err := qp.wr.Flush(); err != nil {
		return err
	}
	qp.PushInHW(t)
	return nil
}

// crcChunk gathers the SGE lists for one CRC sub-request: the whole payload
// in one shot for the common single-request case, or one COPY-style
// segment-overlap per sub-request when the walk spans more than one
// request (spec §4.4 "Resource sizing", CRC32C: "a walk identical to COPY").
func crcChunk(dev *deviceContext, t *Task) ([]wire.DataSeg, []wire.DataSeg, error) {
	if t.NumReqs == 1 {
		srcSGEs, srcCur, _, err := translateIOVs(t.Src, t.srcCursor, totalLen(t.Src), constants.MaxSGE, t.SrcDomain, dev.translator)
		if err != nil {
			return nil, nil, err
		}
		t.srcCursor = srcCur
		dstSGEs, dstCur, _, err := translateIOVs(t.Dst, t.dstCursor, totalLen(t.Dst), constants.MaxSGE-1, t.DstDomain, dev.translator)
		if err != nil {
			return nil, nil, err
		}
		t.dstCursor = dstCur
		return srcSGEs, dstSGEs, nil
	}

	srcSeg, dstSeg, err := copyNextChunk(dev, t)
	if err != nil {
		return nil, nil, err
	}
	return []wire.DataSeg{srcSeg}, []wire.DataSeg{dstSeg}, nil
}

func crcPostOne(dev *deviceContext, qp *QP, t *Task, mkeyIdx int, check, first, last bool) error {
	srcSGEs, dstSGEs, err := crcChunk(dev, t)
	if err != nil {
		return err
	}

	mk := t.MKeys[mkeyIdx]
	domain := wire.SigDomainMemory
	if t.EncOrder == EncryptionOrderRawOnWire {
		domain = wire.SigDomainWire
	}
	bsf := wire.SigBSF{
		Seed:     t.CRCSeed ^ 0xFFFFFFFF,
		PSVIndex: t.PSV.Handle.ID,
		Domain:   domain,
		Init:     first,
		CheckGen: last,
	}

	mode := nic.SigModeGenerate
	var refCRC uint32
	if check {
		mode = nic.SigModeCheck
		if t.CRCDst != nil {
			refCRC = *t.CRCDst
		}
	}

	umrWRID := qp.NextWRID()
	if err := qp.wr.PostUMRSig(nic.UMRSigRequest{
		MKey:   mk,
		KLMs:   klmsFromSGEs(srcSGEs),
		BSF:    bsf,
		Mode:   mode,
		RefCRC: refCRC,
	}, umrWRID, false); err != nil {
		return err
	}
	dev.observer.ObserveUMR()

	rdmaWRID := qp.NextWRID()
	if last {
		t.WriteWRID = rdmaWRID
	}

	if check {
		// RDMA_WRITE (check in place): writes src back through the MKey so
		// the signature pipeline recomputes and compares against refCRC.
		if err := qp.wr.PostRDMAWrite(nic.RDMARequest{
			QP:         qp.Handle,
			LocalSGEs:  srcSGEs,
			RemoteKey:  mk.ID,
			RemoteLen:  sgeListLen64(srcSGEs),
			Signaled:   last,
			WRID:       rdmaWRID,
			SmallFence: first,
		}); err != nil {
			return err
		}
		dev.observer.ObserveRDMA()
		return nil
	}

	req := nic.RDMARequest{
		QP:         qp.Handle,
		LocalSGEs:  dstSGEs,
		RemoteKey:  mk.ID,
		RemoteLen:  sgeListLen64(srcSGEs),
		Signaled:   last,
		WRID:       rdmaWRID,
		SmallFence: first,
	}
	if last {
		scratch := t.PSV.ScratchSeg()
		req.CRCScratch = &scratch
	}
	if err := qp.wr.PostRDMARead(req); err != nil {
		return err
	}
	dev.observer.ObserveRDMA()
	return nil
}

func sgeListLen64(sges []wire.DataSeg) uint64 {
	return uint64(sgeListLen(sges))
}

// crcComplete is the CRC32C.complete handler (spec §4.4 "CRC32C.complete"):
// on generate, XORs the PSV's scratch word with 0xFFFFFFFF into *crc_dst; on
// check, inspects the signature MKey shadow for a latched sigerr and
// surfaces IO if set.
func crcComplete(dev *deviceContext, t *Task, check bool) {
	var err error
	if check {
		for _, mk := range t.MKeys {
			if dev.sigMKeys.ConsumeSigErr(mk.ID) {
				err = ErrIO
			}
		}
		if err != nil && t.PSV != nil {
			t.PSV.Error = true
		}
	} else if t.CRCDst != nil {
		*t.CRCDst = t.PSV.ScratchValue() ^ 0xFFFFFFFF
	}
	releaseResources(dev, t)
	dev.observer.ObserveTask(taskLatencyNs(t), err == nil)
	t.complete(err)
}

func checksumComplete(dev *deviceContext, t *Task) { crcComplete(dev, t, false) }
func checkCRCComplete(dev *deviceContext, t *Task) { crcComplete(dev, t, true) }
