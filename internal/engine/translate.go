package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// MemoryDomain translates a virtual (addr, len) range into a local SGE
// keyed by an lkey the device understands. A nil domain falls back to the
// device's own map (DeviceTranslator below). Real callers wire an RDMA
// memory-domain registry; this module only consumes the interface (§6).
type MemoryDomain interface {
	Translate(addr uint64, length uint32) (wire.DataSeg, error)
}

// DeviceTranslator is the default translator used when a task carries no
// explicit memory domain: it trusts the caller's virtual address directly,
// the same way a process-local registration with no external domain would.
type DeviceTranslator struct {
	DefaultLKey uint32
}

// Translate implements MemoryDomain.
func (d DeviceTranslator) Translate(addr uint64, length uint32) (wire.DataSeg, error) {
	return wire.DataSeg{Addr: addr, ByteCount: length, LKey: d.DefaultLKey}, nil
}

// iovCursor tracks a live position within an iov array (segment index plus
// byte offset within that segment), mirroring the task's iov_offset/iovcnt
// cursor pair.
type iovCursor struct {
	Index  int
	Offset uint32
}

// translateIOVs walks iovs starting at cur up to maxBytes total, translating
// each range via domain (or dev if domain is nil), and returns the resulting
// SGE list, the advanced cursor, and bytes consumed. It stops early if
// sgeCap SGEs have been produced.
func translateIOVs(iovs []IOV, cur iovCursor, maxBytes uint32, sgeCap int, domain MemoryDomain, dev MemoryDomain) ([]wire.DataSeg, iovCursor, uint32, error) {
	var out []wire.DataSeg
	var consumed uint32

	translator := domain
	if translator == nil {
		translator = dev
	}

	for cur.Index < len(iovs) && consumed < maxBytes && len(out) < sgeCap {
		iov := iovs[cur.Index]
		remainInSeg := iov.Len - cur.Offset
		want := maxBytes - consumed
		take := remainInSeg
		if want < take {
			take = want
		}
		if take == 0 {
			cur.Index++
			cur.Offset = 0
			continue
		}

		seg, err := translator.Translate(iov.Addr+uint64(cur.Offset), take)
		if err != nil {
			return nil, cur, consumed, ErrTranslationFailure
		}
		out = append(out, seg)
		consumed += take
		cur.Offset += take

		if cur.Offset >= iov.Len {
			cur.Index++
			cur.Offset = 0
		}
	}

	return out, cur, consumed, nil
}

// ErrTranslationFailure is returned when a memory domain refuses to
// translate a virtual range.
var ErrTranslationFailure = translationError("translation failure")

type translationError string

func (e translationError) Error() string { return string(e) }
