package mlx5accel

import (
	"sync"
	"unsafe"

	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// MockMemoryDomain is a test double for the MemoryDomain interface (the
// RDMA memory-domain registry's per-domain translator, an external
// collaborator per spec §6). It translates any virtual range it is asked
// about and tracks call counts for assertions, mirroring
// go-ublk's MockBackend's call-counting style.
type MockMemoryDomain struct {
	mu          sync.RWMutex
	lkey        uint32
	failOn      map[uint64]bool
	translateCalls int
}

// NewMockMemoryDomain creates a domain that translates every virtual
// address to an SGE carrying lkey, succeeding unless the address was
// marked to fail via FailTranslate.
func NewMockMemoryDomain(lkey uint32) *MockMemoryDomain {
	return &MockMemoryDomain{lkey: lkey, failOn: make(map[uint64]bool)}
}

// FailTranslate marks addr so every later Translate call against it returns
// ErrTranslationFailureSentinel, simulating spec §7's "memory domain refused to
// translate" case.
func (m *MockMemoryDomain) FailTranslate(addr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[addr] = true
}

// Translate implements engine.MemoryDomain.
func (m *MockMemoryDomain) Translate(addr uint64, length uint32) (wire.DataSeg, error) {
	m.mu.Lock()
	m.translateCalls++
	fail := m.failOn[addr]
	lkey := m.lkey
	m.mu.Unlock()

	if fail {
		return wire.DataSeg{}, ErrTranslationFailureSentinel
	}
	return wire.DataSeg{Addr: addr, ByteCount: length, LKey: lkey}, nil
}

// TranslateCalls returns how many times Translate has been invoked.
func (m *MockMemoryDomain) TranslateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.translateCalls
}

var _ MemoryDomain = (*MockMemoryDomain)(nil)

// ErrTranslationFailureSentinel is the error MockMemoryDomain returns for
// an address marked via FailTranslate; tests assert against it directly
// rather than through the internal engine package's ErrTranslationFailure.
type translationFailureError string

func (e translationFailureError) Error() string { return string(e) }

var ErrTranslationFailureSentinel = translationFailureError("mock: translation refused")

// IOVFromBytes builds a single-segment IOV addressing buf's backing array,
// the common case for test scenarios (spec §8 S1-S6) that describe their
// inputs as plain byte slices rather than pre-split scatter lists.
func IOVFromBytes(buf []byte) IOV {
	if len(buf) == 0 {
		return IOV{}
	}
	return IOV{Addr: uint64(uintptr(unsafe.Pointer(&buf[0]))), Len: uint32(len(buf))}
}

// IOVsFromChunks splits buf into len(sizes) consecutive IOVs of the given
// sizes, used to build the scatter/gather layouts spec §8's S1 scenario
// describes literally (e.g. src iov [{a,5},{b,7}]).
func IOVsFromChunks(buf []byte, sizes []int) []IOV {
	out := make([]IOV, 0, len(sizes))
	off := 0
	for _, sz := range sizes {
		out = append(out, IOVFromBytes(buf[off:off+sz]))
		off += sz
	}
	return out
}

// AwaitCompletion calls poll until *done is set (by the task's completion
// callback, on success or failure), up to maxPolls iterations. Returns false
// if *done never became true,
// letting a test fail with a clear "task never completed" message instead
// of hanging (this package enforces no timeouts of its own per spec §5
// "Cancellation: timeouts are not enforced by this subsystem").
func AwaitCompletion(poll func(), maxPolls int, done *bool) bool {
	for i := 0; i < maxPolls; i++ {
		if *done {
			return true
		}
		poll()
	}
	return *done
}
