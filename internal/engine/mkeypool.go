package engine

import (
	"sort"
	"sync"

	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// MKeyPool is a pre-sized bulk allocator of indirect MKeys in one flavor
// (crypto-only or signature). get_bulk succeeds atomically or fails with
// ErrResourceExhausted; put_bulk is infallible.
type MKeyPool struct {
	mu     sync.Mutex
	flavor nic.MKeyFlavor
	free   []nic.MKey

	// byID supports O(log n) resolution from a SIGERR CQE's MKey id to its
	// pool entry, the Go equivalent of the original's red-black tree of
	// signature MKeys (spec §9 design notes).
	byID map[uint32]*mkeyShadow
}

// mkeyShadow is a signature MKey's local shadow state: sigerr_count bumped
// on every signature-error CQE, sigerr latched until task completion.
type mkeyShadow struct {
	key        nic.MKey
	sigerrCount uint64
	sigerr      bool
}

// NewMKeyPool allocates size MKeys of the given flavor up front from dev.
func NewMKeyPool(dev nic.Device, flavor nic.MKeyFlavor, size int) (*MKeyPool, error) {
	p := &MKeyPool{flavor: flavor, byID: make(map[uint32]*mkeyShadow)}
	for i := 0; i < size; i++ {
		mk, err := dev.CreateMKey(flavor)
		if err != nil {
			return nil, err
		}
		p.free = append(p.free, mk)
		if flavor == nic.MKeyFlavorSignature || flavor == nic.MKeyFlavorSigCrypto {
			p.byID[mk.ID] = &mkeyShadow{key: mk}
		}
	}
	return p, nil
}

// GetBulk checks out n MKeys atomically, or fails with false if fewer than
// n are free.
func (p *MKeyPool) GetBulk(n int) ([]nic.MKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < n {
		return nil, false
	}
	out := make([]nic.MKey, n)
	copy(out, p.free[len(p.free)-n:])
	p.free = p.free[:len(p.free)-n]
	return out, true
}

// PutBulk returns MKeys to the pool. Infallible.
func (p *MKeyPool) PutBulk(keys []nic.MKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, keys...)
}

// FreeCount returns the number of MKeys currently available, used by the
// pool-conservation invariant check in tests.
func (p *MKeyPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// MarkSigErr records a signature-error CQE against the MKey with the given
// NIC id, bumping sigerr_count and latching sigerr. Returns false if the id
// is not a known signature MKey.
func (p *MKeyPool) MarkSigErr(mkeyID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	shadow, ok := p.byID[mkeyID]
	if !ok {
		return false
	}
	shadow.sigerrCount++
	shadow.sigerr = true
	return true
}

// ConsumeSigErr reads and clears the sigerr latch for mkeyID, called at task
// completion.
func (p *MKeyPool) ConsumeSigErr(mkeyID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	shadow, ok := p.byID[mkeyID]
	if !ok {
		return false
	}
	latched := shadow.sigerr
	shadow.sigerr = false
	return latched
}

// sortedIDs returns the pool's signature MKey ids in order, useful for
// deterministic test iteration over the shadow tree.
func (p *MKeyPool) sortedIDs() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint32, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
