package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// copyInit sizes a COPY task: a deterministic src/dst cursor walk, num_ops
// clamped by free QP slots (spec §4.4 "Resource sizing", COPY).
func copyInit(dev *deviceContext, qp *QP, t *Task) error {
	if err := sizeCopy(t, qp.FreeSlots()); err != nil {
		return err
	}
	t.NumWrs = 0
	return nil
}

// copyProcess posts one batch of (UMR, RDMA_WRITE) pairs for a COPY task,
// one pair per coalesced src/dst chunk, and re-enters the QP's in_hw FIFO.
func copyProcess(dev *deviceContext, qp *QP, t *Task) error {
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
		last := i == n-1
		if err := copyPostOne(dev, qp, t, i, last); err != nil {
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

// copyCont releases the MKeys reserved for the just-completed round and
// posts the next one, called when a COPY task is only partially drained
// (num_ops < num_reqs).
func copyCont(dev *deviceContext, qp *QP, t *Task) error {
	if len(t.MKeys) > 0 {
		dev.cryptoMKeys.PutBulk(t.MKeys)
		t.MKeys = nil
	}
	return copyProcess(dev, qp, t)
}

// copyNextChunk advances both cursors by the deterministic walk from
// sizeCopy, translating exactly the overlapping range on both sides.
func copyNextChunk(dev *deviceContext, t *Task) (wire.DataSeg, wire.DataSeg, error) {
	src := t.Src[t.srcCursor.Index]
	dst := t.Dst[t.dstCursor.Index]
	srcRemain := src.Len - t.srcCursor.Offset
	dstRemain := dst.Len - t.dstCursor.Offset
	take := srcRemain
	if dstRemain < take {
		take = dstRemain
	}

	srcDomain := domainOrDefault(t.SrcDomain, dev)
	dstDomain := domainOrDefault(t.DstDomain, dev)

	srcSeg, err := srcDomain.Translate(src.Addr+uint64(t.srcCursor.Offset), take)
	if err != nil {
		return wire.DataSeg{}, wire.DataSeg{}, ErrTranslationFailure
	}
	dstSeg, err := dstDomain.Translate(dst.Addr+uint64(t.dstCursor.Offset), take)
	if err != nil {
		return wire.DataSeg{}, wire.DataSeg{}, ErrTranslationFailure
	}

	t.srcCursor.Offset += take
	t.dstCursor.Offset += take
	if t.srcCursor.Offset >= src.Len {
		t.srcCursor.Index++
		t.srcCursor.Offset = 0
	}
	if t.dstCursor.Offset >= dst.Len {
		t.dstCursor.Index++
		t.dstCursor.Offset = 0
	}

	return srcSeg, dstSeg, nil
}

func copyPostOne(dev *deviceContext, qp *QP, t *Task, mkeyIdx int, last bool) error {
	srcSeg, dstSeg, err := copyNextChunk(dev, t)
	if err != nil {
		return err
	}

	mk := t.MKeys[mkeyIdx]
	umrWRID := qp.NextWRID()
	if err := qp.wr.PostUMR(nic.UMRRequest{
		MKey: mk,
		KLMs: []wire.KLM{{Addr: dstSeg.Addr, ByteCount: dstSeg.ByteCount}},
	}, umrWRID, false); err != nil {
		return err
	}
	dev.observer.ObserveUMR()

	rdmaWRID := qp.NextWRID()
	if last {
		t.WriteWRID = rdmaWRID
	}
	if err := qp.wr.PostRDMAWrite(nic.RDMARequest{
		QP:         qp.Handle,
		LocalSGEs:  []wire.DataSeg{srcSeg},
		RemoteKey:  mk.ID,
		RemoteLen:  uint64(dstSeg.ByteCount),
		Signaled:   last,
		WRID:       rdmaWRID,
		SmallFence: true,
	}); err != nil {
		return err
	}
	dev.observer.ObserveRDMA()
	return nil
}

// copyComplete returns the COPY task's MKeys and reports success to the
// caller (spec §4.5 "COPY.complete").
func copyComplete(dev *deviceContext, t *Task) {
	releaseResources(dev, t)
	dev.observer.ObserveTask(taskLatencyNs(t), true)
	t.complete(nil)
}
