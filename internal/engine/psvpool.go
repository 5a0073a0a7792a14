package engine

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// PSV wraps an NIC PSV handle with its DMA-mapped 4-byte CRC scratch and an
// error latch meaning "resubmit a SET_PSV reset before reuse."
type PSV struct {
	Handle nic.PSV
	Error  bool

	// scratch stands in for the PSV's DMA-mapped 4-byte CRC word: a real
	// addressable location the simulated NIC can read from / write to as
	// part of a WR's SGE list, the same way the other sub-request buffers
	// are addressed.
	scratch [4]byte
}

// ScratchSeg returns a DataSeg addressing the PSV's CRC scratch word, used
// as the trailing SGE in a CRC WR's local/KLM list.
func (p *PSV) ScratchSeg() wire.DataSeg {
	return wire.DataSeg{Addr: uint64(uintptr(unsafe.Pointer(&p.scratch[0]))), ByteCount: 4}
}

// ScratchValue reads the current raw scratch word.
func (p *PSV) ScratchValue() uint32 {
	return binary.LittleEndian.Uint32(p.scratch[:])
}

// SetScratch writes v into the scratch word. The CRC and fused opcode
// paths do not call it; the device writes the word as a round completes.
func (p *PSV) SetScratch(v uint32) {
	binary.LittleEndian.PutUint32(p.scratch[:], v)
}

// PSVPool is a pre-sized pool of PSV objects, one per concurrent signature
// task.
type PSVPool struct {
	mu   sync.Mutex
	free []*PSV
}

// NewPSVPool allocates size PSVs up front from dev.
func NewPSVPool(dev nic.Device, size int) (*PSVPool, error) {
	p := &PSVPool{}
	for i := 0; i < size; i++ {
		h, err := dev.CreatePSV()
		if err != nil {
			return nil, err
		}
		p.free = append(p.free, &PSV{Handle: h})
	}
	return p, nil
}

// Get checks out one PSV, or returns false if the pool is empty.
func (p *PSVPool) Get() (*PSV, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	psv := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return psv, true
}

// Put returns a PSV to the pool.
func (p *PSVPool) Put(psv *PSV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, psv)
}

// FreeCount returns the number of PSVs currently available.
func (p *PSVPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
