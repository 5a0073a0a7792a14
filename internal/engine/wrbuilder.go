package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// sqSlot is one entry in a QP's completion-slot array: the wrid a posted
// WQE was given and whether it was posted signaled, the Go-level stand-in
// for minimalRing's CQE32 ring slot.
type sqSlot struct {
	wrid     uint64
	signaled bool
}

// wrBuilder owns one QP's send-queue ring state and the low-level
// PostUMR*/PostRDMA*/ResetPSV building blocks copy.go/crypto.go/crc.go/
// fused.go call into, plus the doorbell-deferral this spec's per-round
// batching needs: every Post call during a round only advances the ring
// and marks needRingDB; Flush is the single point that actually rings the
// doorbell, mirroring go-ublk's PrepareIOCmd-many/FlushSubmissions-once
// split (internal/queue/runner.go).
type wrBuilder struct {
	qp  *QP
	dev *deviceContext

	mask uint32 // capacity-1; capacity is always a power of two
	tail uint32 // producer index, never reset, indexed mod capacity
	head uint32 // consumer index, advanced as completions are reaped

	slots []sqSlot

	needRingDB bool
}

// newWRBuilder sizes the ring to the next power of two at or above
// capacity, the same "entries must be a power of two" constraint
// minimalRing's io_uring_params carries.
func newWRBuilder(dev *deviceContext, qp *QP, capacity int) *wrBuilder {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &wrBuilder{dev: dev, qp: qp, mask: uint32(n - 1), slots: make([]sqSlot, n)}
}

// reserve advances the ring's producer index for one WQE, the wrap check
// minimalRing spells "(*sqTail - *sqHead) >= entries" before indexing
// sqTail & sqMask. It also reads (never writes) the QP's TxAvailable
// credit, the WR-count budget ChargeWRs reserved for this round before any
// individual WR was built, refusing to grow the ring past what that budget
// allows.
func (b *wrBuilder) reserve(wrid uint64, signaled bool) error {
	if b.tail-b.head >= uint32(len(b.slots)) {
		return ErrResourceExhausted
	}
	if b.qp.TxAvailable < 0 {
		return ErrResourceExhausted
	}
	idx := b.tail & b.mask
	b.slots[idx] = sqSlot{wrid: wrid, signaled: signaled}
	b.tail++
	b.needRingDB = true
	return nil
}

// release retires n slots from the head of the ring, called by
// QP.ReleaseWRs as the poller reaps each round's completions.
func (b *wrBuilder) release(n int) {
	b.head += uint32(n)
}

// translationLines reports how many 64-byte MKey translation-table lines a
// KLM list of klmCount entries will occupy once built into a UMR WQE,
// wire.CeilTranslationSize's one real caller (§4.1 "building-block size
// arithmetic... the WR Builder and its tests can both call").
func translationLines(klmCount int) int {
	return wire.CeilTranslationSize(klmCount)
}

// PostUMR builds the translation-only UMR building block: sizes its
// translation table via translationLines (unused by the simulated device,
// which needs no real line count, but a real mlx5 WQE builder would use it
// to size the inline translation segment), reserves a ring slot, and
// defers the doorbell.
func (b *wrBuilder) PostUMR(req nic.UMRRequest, wrid uint64, signaled bool) error {
	_ = translationLines(len(req.KLMs))
	if err := b.reserve(wrid, signaled); err != nil {
		return err
	}
	return b.dev.nic.PostUMR(b.qp.Handle, req, wrid, signaled)
}

// PostUMRCrypto is PostUMR's crypto-BSF-carrying counterpart.
func (b *wrBuilder) PostUMRCrypto(req nic.UMRCryptoRequest, wrid uint64, signaled bool) error {
	_ = translationLines(len(req.KLMs))
	if err := b.reserve(wrid, signaled); err != nil {
		return err
	}
	return b.dev.nic.PostUMRCrypto(b.qp.Handle, req, wrid, signaled)
}

// PostUMRSig is PostUMR's signature-BSF-carrying counterpart.
func (b *wrBuilder) PostUMRSig(req nic.UMRSigRequest, wrid uint64, signaled bool) error {
	_ = translationLines(len(req.KLMs))
	if err := b.reserve(wrid, signaled); err != nil {
		return err
	}
	return b.dev.nic.PostUMRSig(b.qp.Handle, req, wrid, signaled)
}

// PostUMRSigCrypto is PostUMR's fused crypto+signature-BSF counterpart.
func (b *wrBuilder) PostUMRSigCrypto(req nic.UMRSigCryptoRequest, wrid uint64, signaled bool) error {
	_ = translationLines(len(req.KLMs))
	if err := b.reserve(wrid, signaled); err != nil {
		return err
	}
	return b.dev.nic.PostUMRSigCrypto(b.qp.Handle, req, wrid, signaled)
}

// PostRDMARead reserves a ring slot for req and defers the doorbell.
func (b *wrBuilder) PostRDMARead(req nic.RDMARequest) error {
	if err := b.reserve(req.WRID, req.Signaled); err != nil {
		return err
	}
	return b.dev.nic.PostRDMARead(req)
}

// PostRDMAWrite reserves a ring slot for req and defers the doorbell.
func (b *wrBuilder) PostRDMAWrite(req nic.RDMARequest) error {
	if err := b.reserve(req.WRID, req.Signaled); err != nil {
		return err
	}
	return b.dev.nic.PostRDMAWrite(req)
}

// ResetPSV reserves a ring slot for the SET_PSV reset WR crcProcess/
// fusedProcess issue ahead of a round when a PSV's error latch is set.
func (b *wrBuilder) ResetPSV(p nic.PSV, wrid uint64, signaled bool) error {
	if err := b.reserve(wrid, signaled); err != nil {
		return err
	}
	return b.dev.nic.ResetPSV(b.qp.Handle, p, wrid, signaled)
}

// Flush rings the doorbell exactly once for everything reserved since the
// last Flush, a no-op if nothing was posted.
func (b *wrBuilder) Flush() error {
	if !b.needRingDB {
		return nil
	}
	b.needRingDB = false
	return b.dev.nic.RingDoorbell(b.qp.Handle)
}
