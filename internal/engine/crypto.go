package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// cryptoInit sizes an ENCRYPT or DECRYPT task: block-size/multi-block split
// per the device's crypto_multi_block capability (spec §4.4 "Resource
// sizing", CRYPTO).
func cryptoInit(dev *deviceContext, qp *QP, t *Task) error {
	if len(t.Dst) == 0 {
		t.Dst = t.Src
		t.InPlace = true
	}
	caps := dev.nic.Capabilities()
	if err := sizeCrypto(t, caps.CryptoMultiBlock, dev.splitMBBlocks, qp.FreeSlots()); err != nil {
		return err
	}
	t.NumWrs = 0
	return nil
}

func encryptProcess(dev *deviceContext, qp *QP, t *Task) error {
	return cryptoProcess(dev, qp, t, true)
}

func decryptProcess(dev *deviceContext, qp *QP, t *Task) error {
	return cryptoProcess(dev, qp, t, false)
}

func encryptCont(dev *deviceContext, qp *QP, t *Task) error {
	return cryptoCont(dev, qp, t, true)
}

func decryptCont(dev *deviceContext, qp *QP, t *Task) error {
	return cryptoCont(dev, qp, t, false)
}

func cryptoCont(dev *deviceContext, qp *QP, t *Task, encrypt bool) error {
	if len(t.MKeys) > 0 {
		dev.cryptoMKeys.PutBulk(t.MKeys)
		t.MKeys = nil
	}
	return cryptoProcess(dev, qp, t, encrypt)
}

// cryptoProcess posts one round of (UMR-crypto, RDMA_READ) pairs, one per
// block-split sub-request, per spec §4.4 "Submission algorithm".
func cryptoProcess(dev *deviceContext, qp *QP, t *Task, encrypt bool) error {
	n := roundRemaining(t)
	if n <= 0 {
		return nil
	}
	if len(t.MKeys) == 0 {
		if err := acquireMKeys(dev.cryptoMKeys, t, n); err != nil {
			return err
		}
	}

	qp.ChargeWRs(n * 2)
	for i := 0; i < n; i++ {
		idx := t.NumSubmittedReqs + i
		first := idx == 0
		last := idx == t.NumReqs-1
		if err := cryptoPostOne(dev, qp, t, i, idx, encrypt, first, last); err != nil {
			return err
		}
		t.NumSubmittedReqs++
	}
	t.NumWrs += n * 2
	t.roundWrs = n * 2
	t.roundReqs = n

	if err := qp.wr.Flush(); err != nil {
		return err
	}
	qp.PushInHW(t)
	return nil
}

func cryptoPostOne(dev *deviceContext, qp *QP, t *Task, mkeyIdx, idx int, encrypt, first, last bool) error {
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

	mk := t.MKeys[mkeyIdx]
	bsf := wire.CryptoBSF{
		DekObjID:  t.DekObjID,
		BlockSize: t.BlockSize,
		Tweak:     wire.TweakMode(t.Tweak),
		Encrypt:   encrypt,
		IV:        addIVBlocks(t.IVBase, blocksProcessedBefore(t, idx)),
	}

	umrWRID := qp.NextWRID()
	if err := qp.wr.PostUMRCrypto(nic.UMRCryptoRequest{
		MKey: mk,
		KLMs: klmsFromSGEs(srcSGEs),
		BSF:  bsf,
	}, umrWRID, false); err != nil {
		return err
	}
	dev.observer.ObserveUMR()

	rdmaWRID := qp.NextWRID()
	if last {
		t.WriteWRID = rdmaWRID
	}
	if err := qp.wr.PostRDMARead(nic.RDMARequest{
		QP:         qp.Handle,
		LocalSGEs:  dstSGEs,
		RemoteKey:  mk.ID,
		RemoteLen:  uint64(sgeListLen(srcSGEs)),
		Signaled:   last,
		WRID:       rdmaWRID,
		SmallFence: first,
	}); err != nil {
		return err
	}
	dev.observer.ObserveRDMA()
	return nil
}

// blocksProcessedBefore sums the block counts of every sub-request before
// idx in the task's split plan, the running total used to derive each
// sub-request's XTS tweak ("task.iv + blocks_processed").
func blocksProcessedBefore(t *Task, idx int) int {
	total := 0
	for i := 0; i < idx && i < len(t.splitPlan); i++ {
		total += t.splitPlan[i]
	}
	return total
}

// addIVBlocks treats the first 8 bytes of iv as a little-endian block
// counter and adds blocks to it, the simple per-block tweak advance both
// TweakModeSimpleLBA and TweakModeIncr64 reduce to at sub-request boundaries.
func addIVBlocks(iv [16]byte, blocks int) [16]byte {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(iv[i]) << (8 * i)
	}
	v += uint64(blocks)
	out := iv
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// cryptoComplete returns the task's MKeys to the crypto pool and reports
// success (spec §4.5 "CRYPTO.complete").
func cryptoComplete(dev *deviceContext, t *Task) {
	releaseResources(dev, t)
	dev.observer.ObserveTask(taskLatencyNs(t), true)
	t.complete(nil)
}
