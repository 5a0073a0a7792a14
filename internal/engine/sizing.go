package engine

import "github.com/behrlich/go-mlx5accel/internal/constants"

func totalLen(iovs []IOV) uint32 {
	var total uint32
	for _, v := range iovs {
		total += v.Len
	}
	return total
}

func iovCount(iovs []IOV) int { return len(iovs) }

// sizeCopy computes num_reqs for a COPY task: a deterministic walk that
// advances both cursors and starts a new request each time either side
// exhausts a segment or the SGE cap is hit on source.
func sizeCopy(t *Task, freeQPSlots int) error {
	srcN, dstN := iovCount(t.Src), iovCount(t.Dst)
	if srcN > constants.MaxSGE || dstN > constants.MaxSGE {
		return ErrInvalidArgument
	}

	numReqs := 0
	srcIdx, srcOff := 0, uint32(0)
	dstIdx, dstOff := 0, uint32(0)
	for srcIdx < srcN && dstIdx < dstN {
		srcRemain := t.Src[srcIdx].Len - srcOff
		dstRemain := t.Dst[dstIdx].Len - dstOff
		take := srcRemain
		if dstRemain < take {
			take = dstRemain
		}
		srcOff += take
		dstOff += take
		if srcOff >= t.Src[srcIdx].Len {
			srcIdx++
			srcOff = 0
		}
		if dstOff >= t.Dst[dstIdx].Len {
			dstIdx++
			dstOff = 0
		}
		numReqs++
	}

	t.NumReqs = numReqs
	t.NumOps = numReqs
	if t.NumOps > freeQPSlots {
		t.NumOps = freeQPSlots
	}
	if t.NumOps == 0 {
		return ErrResourceExhausted
	}
	return nil
}

// sizeCrypto computes num_reqs/num_ops and the per-sub-request block split
// for a CRYPTO (or fused) task.
func sizeCrypto(t *Task, cryptoMultiBlock bool, splitMBBlocks int, qpSlots int) error {
	total := totalLen(t.Src)
	if t.BlockSize == 0 || total%t.BlockSize != 0 {
		return ErrInvalidArgument
	}
	numBlocks := int(total / t.BlockSize)

	var numReqs int
	var plan []int
	switch {
	case cryptoMultiBlock && splitMBBlocks > 0:
		numReqs = (numBlocks + splitMBBlocks - 1) / splitMBBlocks
		remaining := numBlocks
		for i := 0; i < numReqs; i++ {
			blocks := splitMBBlocks
			if remaining < blocks {
				blocks = remaining
			}
			plan = append(plan, blocks)
			remaining -= blocks
		}
	case cryptoMultiBlock && splitMBBlocks == 0:
		numReqs = 1
		plan = []int{numBlocks}
	default:
		numReqs = numBlocks
		for i := 0; i < numReqs; i++ {
			plan = append(plan, 1)
		}
	}

	t.NumReqs = numReqs
	t.splitPlan = plan

	numOps := constants.MaxMKeysPerTask(numReqs, qpSlots)
	t.NumOps = numOps
	if numOps == 0 {
		return ErrResourceExhausted
	}
	return nil
}

// sizeCRC computes num_reqs for a standalone CRC32C task: one request if
// in-place and the source fits with room for the CRC tail SGE, else a COPY-
// style walk reserving one destination SGE for the tail. Always reserves
// exactly one signature MKey per request plus one PSV for the task.
func sizeCRC(t *Task, freeQPSlots int) error {
	srcN := iovCount(t.Src)
	if t.InPlace && srcN+1 <= constants.MaxSGE {
		t.NumReqs = 1
		t.NumOps = 1
		if freeQPSlots < 1 {
			return ErrResourceExhausted
		}
		return nil
	}

	if err := sizeCopy(t, freeQPSlots); err != nil {
		return err
	}
	return nil
}

// ErrInvalidArgument / ErrResourceExhausted are the sizing-stage failures
// from the taxonomy in §7; the submitter maps ErrResourceExhausted to a
// nomem re-queue rather than surfacing it.
var (
	ErrInvalidArgument   = sizingError("invalid argument")
	ErrResourceExhausted = sizingError("resource exhausted")
)

type sizingError string

func (e sizingError) Error() string { return string(e) }
