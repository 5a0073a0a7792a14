package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// fusedInit sizes a fused task exactly like a CRYPTO task (same block-split
// walk over the same range, spec §4.4 "Common preprocessing"/TryFuse) plus
// the one PSV the paired signature transform needs.
func fusedInit(dev *deviceContext, qp *QP, t *Task) error {
	caps := dev.nic.Capabilities()
	if err := sizeCrypto(t, caps.CryptoMultiBlock, dev.splitMBBlocks, qp.FreeSlots()); err != nil {
		return err
	}
	t.NumWrs = 0
	return nil
}

func encryptAndCRC32CProcess(dev *deviceContext, qp *QP, t *Task) error {
	return fusedProcess(dev, qp, t)
}

func crc32cAndDecryptProcess(dev *deviceContext, qp *QP, t *Task) error {
	return fusedProcess(dev, qp, t)
}

func encryptAndCRC32CCont(dev *deviceContext, qp *QP, t *Task) error { return fusedCont(dev, qp, t) }
func crc32cAndDecryptCont(dev *deviceContext, qp *QP, t *Task) error { return fusedCont(dev, qp, t) }

func fusedCont(dev *deviceContext, qp *QP, t *Task) error {
	if len(t.MKeys) > 0 {
		dev.sigMKeys.PutBulk(t.MKeys)
		t.MKeys = nil
	}
	return fusedProcess(dev, qp, t)
}

// fusedProcess posts one round of (UMR-sig-crypto, RDMA_READ) pairs for a
// fused opcode, drawing MKeys from the sig-crypto flavor pool configured by
// newDeviceContext when merge is enabled (spec §4.3 "MKey pool").
func fusedProcess(dev *deviceContext, qp *QP, t *Task) error {
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
		if err := fusedPostOne(dev, qp, t, i, idx, first, last); err != nil {
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

func fusedPostOne(dev *deviceContext, qp *QP, t *Task, mkeyIdx, idx int, first, last bool) error {
	blocks := t.splitPlan[idx]
	length := uint32(blocks) * t.BlockSize

	srcSGEs, srcCur, _, err := translateIOVs(t.Src, t.srcCursor, length, constants.MaxSGE, t.SrcDomain, dev.translator)
	if err != nil {
		return err
	}
	t.srcCursor = srcCur

	dstSGEs, dstCur, _, err := translateIOVs(t.Dst, t.dstCursor, length, constants.MaxSGE, t.DstDomain, dev.translator)
	if err != nil {
		return err
	}
	t.dstCursor = dstCur

	encrypt := t.Opcode == OpEncryptAndCRC32C
	mk := t.MKeys[mkeyIdx]

	cryptoBSF := wire.CryptoBSF{
		DekObjID:  t.DekObjID,
		BlockSize: t.BlockSize,
		Tweak:     wire.TweakMode(t.Tweak),
		Encrypt:   encrypt,
		IV:        addIVBlocks(t.IVBase, blocksProcessedBefore(t, idx)),
	}

	domain := wire.SigDomainMemory
	if t.EncOrder == EncryptionOrderRawOnWire {
		domain = wire.SigDomainWire
	}
	sigBSF := wire.SigBSF{
		Seed:     t.CRCSeed ^ 0xFFFFFFFF,
		PSVIndex: t.PSV.Handle.ID,
		Domain:   domain,
		Init:     first,
		CheckGen: last,
	}

	mode := nic.SigModeGenerate
	var refCRC uint32
	if t.Opcode == OpCRC32CAndDecrypt {
		mode = nic.SigModeCheck
		if t.CRCDst != nil {
			refCRC = *t.CRCDst
		}
	}

	umrWRID := qp.NextWRID()
	if err := qp.wr.PostUMRSigCrypto(nic.UMRSigCryptoRequest{
		MKey:      mk,
		KLMs:      klmsFromSGEs(srcSGEs),
		CryptoBSF: cryptoBSF,
		SigBSF:    sigBSF,
		Mode:      mode,
		RefCRC:    refCRC,
	}, umrWRID, false); err != nil {
		return err
	}
	dev.observer.ObserveUMR()

	rdmaWRID := qp.NextWRID()
	if last {
		t.WriteWRID = rdmaWRID
	}
	req := nic.RDMARequest{
		QP:         qp.Handle,
		LocalSGEs:  dstSGEs,
		RemoteKey:  mk.ID,
		RemoteLen:  uint64(sgeListLen(srcSGEs)),
		Signaled:   last,
		WRID:       rdmaWRID,
		SmallFence: first,
	}
	if last && mode == nic.SigModeGenerate {
		scratch := t.PSV.ScratchSeg()
		req.CRCScratch = &scratch
	}
	if err := qp.wr.PostRDMARead(req); err != nil {
		return err
	}
	dev.observer.ObserveRDMA()
	return nil
}

// fusedComplete is the completion handler shared by both fused opcodes: it
// resolves the paired CRC outcome, releases resources, and fires both the
// parent's and the merged sibling's completion callbacks in lockstep (spec
// §4.4 "Common preprocessing", TryFuse/UnfuseOnFailure note 5).
func fusedComplete(dev *deviceContext, t *Task) {
	var err error
	switch t.Opcode {
	case OpEncryptAndCRC32C:
		if t.CRCDst != nil {
			*t.CRCDst = t.PSV.ScratchValue() ^ 0xFFFFFFFF
		}
	case OpCRC32CAndDecrypt:
		for _, mk := range t.MKeys {
			if dev.sigMKeys.ConsumeSigErr(mk.ID) {
				err = ErrIO
			}
		}
		if err != nil && t.PSV != nil {
			t.PSV.Error = true
		}
	}

	sibling := t.MergedSibling
	t.MergedSibling = nil
	if sibling != nil {
		sibling.MergedSibling = nil
	}

	releaseResources(dev, t)
	dev.observer.ObserveTask(taskLatencyNs(t), err == nil)
	t.complete(err)

	if sibling != nil {
		sibling.complete(err)
	}
}
