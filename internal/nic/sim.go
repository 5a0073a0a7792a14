package nic

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// addrToBytes reinterprets a (virtual-address, length) pair produced by the
// local memory-domain translator as a Go byte slice. This is the software
// model's stand-in for the NIC's DMA engine actually touching host memory;
// callers only ever pass addresses obtained from a real Go slice's
// underlying array (see internal/engine's local translator), so this is
// safe in the same sense unsafe.Pointer round-tripping through cgo buffers
// is in the teacher's runner.
func addrToBytes(addr uint64, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(length))
}

type simMKey struct {
	id        uint32
	flavor    MKeyFlavor
	klms      []wire.KLM
	cryptoBSF *wire.CryptoBSF
	sigBSF    *wire.SigBSF
	sigMode   SigOpMode
	sigRefCRC uint32
	sigErr    atomic.Bool
}

type simQP struct {
	handle    QPHandle
	maxWR     int
	posted    int
	inError   atomic.Bool
	pending   []pendingWR
	mu        sync.Mutex
}

type pendingWR struct {
	wrid     uint64
	signaled bool
	execute  func() (status uint8, sigErrMKey uint32)
}

type completion struct {
	cqe wire.CQE
}

// SimDevice is a deterministic, in-process software model of an mlx5-style
// NIC. It performs real AES-XTS and CRC32C transforms so that the task
// state machine, fusion, and recovery logic in internal/engine can be
// exercised end to end without real hardware, the same role
// go-ublk's stub runner and mock backend play for that project's tests.
type SimDevice struct {
	name string
	caps Capabilities

	mu       sync.Mutex
	nextID   uint32
	mkeys    map[uint32]*simMKey
	psvs     map[uint32]*simPSV
	qps      map[uint32]*simQP

	cqMu sync.Mutex
	cq   []completion
}

type simPSV struct {
	id    uint32
	error atomic.Bool
}

// NewSimDevice creates a simulated NIC with the given capability set.
func NewSimDevice(name string, caps Capabilities) *SimDevice {
	return &SimDevice{
		name:  name,
		caps:  caps,
		mkeys: make(map[uint32]*simMKey),
		psvs:  make(map[uint32]*simPSV),
		qps:   make(map[uint32]*simQP),
	}
}

func (d *SimDevice) Name() string { return d.name }

func (d *SimDevice) Capabilities() Capabilities { return d.caps }

func (d *SimDevice) allocID() uint32 {
	d.nextID++
	return d.nextID
}

func (d *SimDevice) CreateQP(maxWR int) (QPHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.allocID()
	qp := &simQP{handle: QPHandle{ID: id}, maxWR: maxWR}
	d.qps[id] = qp
	return qp.handle, nil
}

func (d *SimDevice) DestroyQP(qp QPHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.qps, qp.ID)
	return nil
}

func (d *SimDevice) SetQPErrorState(qp QPHandle) error {
	d.mu.Lock()
	q, ok := d.qps[qp.ID]
	d.mu.Unlock()
	if !ok {
		return ErrDeviceOffline
	}
	q.inError.Store(true)
	return nil
}

func (d *SimDevice) CreateMKey(flavor MKeyFlavor) (MKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.allocID()
	d.mkeys[id] = &simMKey{id: id, flavor: flavor}
	return MKey{ID: id, Flavor: flavor}, nil
}

func (d *SimDevice) DestroyMKey(mk MKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mkeys, mk.ID)
	return nil
}

func (d *SimDevice) CreatePSV() (PSV, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.allocID()
	d.psvs[id] = &simPSV{id: id}
	return PSV{ID: id}, nil
}

func (d *SimDevice) DestroyPSV(p PSV) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.psvs, p.ID)
	return nil
}

func (d *SimDevice) getQP(h QPHandle) (*simQP, error) {
	d.mu.Lock()
	qp, ok := d.qps[h.ID]
	d.mu.Unlock()
	if !ok {
		return nil, ErrDeviceOffline
	}
	if qp.inError.Load() {
		return nil, ErrDeviceOffline
	}
	return qp, nil
}

func (d *SimDevice) enqueue(qp *simQP, wrid uint64, signaled bool, fn func() (uint8, uint32)) error {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if qp.posted >= qp.maxWR {
		return ErrQueueFull
	}
	qp.posted++
	qp.pending = append(qp.pending, pendingWR{wrid: wrid, signaled: signaled, execute: fn})
	return nil
}

func (d *SimDevice) ResetPSV(qp QPHandle, p PSV, wrid uint64, signaled bool) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	psv := d.psvs[p.ID]
	d.mu.Unlock()
	return d.enqueue(q, wrid, signaled, func() (uint8, uint32) {
		if psv != nil {
			psv.error.Store(false)
		}
		return wire.CQEStatusOK, 0
	})
}

func (d *SimDevice) PostUMR(qp QPHandle, req UMRRequest, wrid uint64, signaled bool) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mk := d.mkeys[req.MKey.ID]
	d.mu.Unlock()
	klms := req.KLMs
	return d.enqueue(q, wrid, signaled, func() (uint8, uint32) {
		if mk != nil {
			mk.klms = klms
			mk.cryptoBSF = nil
			mk.sigBSF = nil
		}
		return wire.CQEStatusOK, 0
	})
}

func (d *SimDevice) PostUMRCrypto(qp QPHandle, req UMRCryptoRequest, wrid uint64, signaled bool) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mk := d.mkeys[req.MKey.ID]
	d.mu.Unlock()
	bsf := req.BSF
	klms := req.KLMs
	return d.enqueue(q, wrid, signaled, func() (uint8, uint32) {
		if mk != nil {
			mk.klms = klms
			mk.cryptoBSF = &bsf
		}
		return wire.CQEStatusOK, 0
	})
}

func (d *SimDevice) PostUMRSig(qp QPHandle, req UMRSigRequest, wrid uint64, signaled bool) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mk := d.mkeys[req.MKey.ID]
	d.mu.Unlock()
	bsf := req.BSF
	klms := req.KLMs
	return d.enqueue(q, wrid, signaled, func() (uint8, uint32) {
		if mk != nil {
			mk.klms = klms
			mk.sigBSF = &bsf
			mk.cryptoBSF = nil
			mk.sigMode = req.Mode
			mk.sigRefCRC = req.RefCRC
		}
		return wire.CQEStatusOK, 0
	})
}

func (d *SimDevice) PostUMRSigCrypto(qp QPHandle, req UMRSigCryptoRequest, wrid uint64, signaled bool) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mk := d.mkeys[req.MKey.ID]
	d.mu.Unlock()
	cbsf := req.CryptoBSF
	sbsf := req.SigBSF
	klms := req.KLMs
	return d.enqueue(q, wrid, signaled, func() (uint8, uint32) {
		if mk != nil {
			mk.klms = klms
			mk.cryptoBSF = &cbsf
			mk.sigBSF = &sbsf
			mk.sigMode = req.Mode
			mk.sigRefCRC = req.RefCRC
		}
		return wire.CQEStatusOK, 0
	})
}

func (d *SimDevice) PostRDMAWrite(req RDMARequest) error {
	return d.postRDMA(req, true)
}

func (d *SimDevice) PostRDMARead(req RDMARequest) error {
	return d.postRDMA(req, false)
}

func (d *SimDevice) postRDMA(req RDMARequest, isWrite bool) error {
	q, err := d.getQP(req.QP)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mk := d.mkeys[req.RemoteKey]
	d.mu.Unlock()
	local := req.LocalSGEs
	crcScratch := req.CRCScratch
	return d.enqueue(q, req.WRID, req.Signaled, func() (uint8, uint32) {
		if mk == nil {
			return wire.CQEStatusLocalProtErr, 0
		}
		return d.executeTransfer(mk, local, isWrite, crcScratch)
	})
}

func (d *SimDevice) RingDoorbell(qp QPHandle) error {
	q, err := d.getQP(qp)
	if err != nil {
		return err
	}
	Sfence()

	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, wr := range pending {
		status, sigErrMKey := wr.execute()
		q.mu.Lock()
		q.posted--
		q.mu.Unlock()
		if sigErrMKey != 0 {
			// A signature mismatch is reported as its own completion tied to
			// the MKey, ahead of (and independent from) the WR's own
			// completion, matching spec's "paired WR CQE will follow".
			d.complete(wire.CQE{WRID: wr.wrid, MKeyID: sigErrMKey, Status: wire.CQEStatusSigErr, Syndrome: 1})
		}
		if wr.signaled {
			d.complete(wire.CQE{WRID: wr.wrid, Status: status})
		}
	}
	return nil
}

func (d *SimDevice) complete(cqe wire.CQE) {
	d.cqMu.Lock()
	defer d.cqMu.Unlock()
	d.cq = append(d.cq, completion{cqe: cqe})
}

func (d *SimDevice) PollCQ(out []wire.CQE) (int, error) {
	d.cqMu.Lock()
	defer d.cqMu.Unlock()
	n := 0
	for n < len(out) && n < len(d.cq) {
		out[n] = d.cq[n].cqe
		n++
	}
	d.cq = d.cq[n:]
	return n, nil
}
