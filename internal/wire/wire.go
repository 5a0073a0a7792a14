// Package wire defines the fixed-layout structures a work request is built
// from: data segments (SGEs), UMR control/MKey-context segments, and the
// crypto/signature BSFs attached to them. Each layout carries a compile-time
// size assertion the way uapi's ublk structs do, since these bytes are
// written directly into WQE memory and must match the wire format bit for
// bit.
package wire

import "unsafe"

// DataSeg is a single scatter/gather entry (SGE): a remote-addressable
// memory range keyed by an MKey's lkey/rkey.
type DataSeg struct {
	ByteCount uint32
	LKey      uint32
	Addr      uint64
}

var _ [16]byte = [unsafe.Sizeof(DataSeg{})]byte{}

// KLM (Klm List Member) describes one MKey-relative memory range used when
// building an indirect MKey's translation table via UMR.
type KLM struct {
	ByteCount uint32
	MKey      uint32
	Addr      uint64
}

var _ [16]byte = [unsafe.Sizeof(KLM{})]byte{}

// UMRCtrlSeg is the UMR control segment: selects which sub-segments of the
// MKey context (translation table, crypto BSF, signature BSF) this UMR WQE
// is updating.
type UMRCtrlSeg struct {
	MKeyMask    uint64 // bitmask of MKey fields being modified
	KLMCount    uint16
	BSFMode     uint8 // 0 = none, 1 = crypto, 2 = signature, 3 = both
	_           uint8
	TranslationOffset uint16
	_                 [2]byte
}

var _ [16]byte = [unsafe.Sizeof(UMRCtrlSeg{})]byte{}

// MKeyConfigSeg carries the MKey-id and access-mode bits that travel with a
// UMR WQE, separate from the translation table itself.
type MKeyConfigSeg struct {
	Len         uint64
	MKey        uint32
	AccessFlags uint32
}

var _ [16]byte = [unsafe.Sizeof(MKeyConfigSeg{})]byte{}

// TweakMode selects how the per-block AES-XTS tweak is derived/incremented.
type TweakMode uint8

const (
	TweakModeSimpleLBA TweakMode = iota // tweak = base IV, incremented by 1 per block
	TweakModeIncr64                     // tweak = base IV, incremented per 64-bit block counter
)

// CryptoBSF is the crypto block-stream-format segment attached to a UMR WQE
// when configuring a crypto-capable MKey: block size, DEK object id, tweak
// mode, direction, and the per-block IV for this sub-request's first block.
type CryptoBSF struct {
	DekObjID  uint32
	BlockSize uint32
	Tweak     TweakMode
	Encrypt   bool
	_         [2]byte
	IV        [16]byte // initial XTS tweak value for this sub-request
}

var _ [28]byte = [unsafe.Sizeof(CryptoBSF{})]byte{}

// SigDomain selects which side of the signature pipeline a SigBSF covers.
type SigDomain uint8

const (
	SigDomainWire SigDomain = iota
	SigDomainMemory
)

// SigBSF is the signature block-stream-format segment attached to a UMR WQE
// when configuring a signature-capable MKey.
type SigBSF struct {
	Seed      uint32 // task.seed XOR 0xFFFFFFFF
	PSVIndex  uint32
	Domain    SigDomain
	Init      bool // set on the first sub-request of a task
	CheckGen  bool // set on the last sub-request of a task (verify+generate)
	_         byte
}

var _ [12]byte = [unsafe.Sizeof(SigBSF{})]byte{}

// CQE is a completion queue entry: opaque work-request id, byte length
// transferred, and a status/syndrome pair. Syndrome is non-zero only on
// error and, for signature MKeys, additionally encodes which check failed.
// MKeyID is populated only on a CQEStatusSigErr completion, standing in for
// the vendor-specific completion fields a real mlx5 error CQE carries that
// let the poller resolve straight to the offending MKey without a second
// round trip to the device.
type CQE struct {
	WRID      uint64
	ByteLen   uint32
	MKeyID    uint32
	Status    uint8
	Syndrome  uint8
	VendorErr uint16
}

var _ [24]byte = [unsafe.Sizeof(CQE{})]byte{}

// CQE status codes.
const (
	CQEStatusOK = iota
	CQEStatusLocalLengthErr
	CQEStatusLocalProtErr
	CQEStatusWRFlushErr
	CQEStatusMemWindowBindErr
	CQEStatusRemoteAccessErr
	CQEStatusTransportRetryExceeded
	CQEStatusSigErr
)

// MaxSGEPerKLMList bounds how many KLM entries a single UMR translation
// table update can carry, matching internal/constants.MaxSGE.
const MaxSGEPerKLMList = 16

// CeilTranslationSize returns the number of 64-byte translation-table lines
// a KLM list of kLMCount entries occupies, mirroring the real device's
// "(sge_count-2)/4 + 1" rounding for KLM lists longer than the inline
// region.
func CeilTranslationSize(klmCount int) int {
	if klmCount <= 2 {
		return 1
	}
	return (klmCount-2+3)/4 + 1
}
