// Package nic defines the vendor NIC interface the engine posts work
// requests through, and a deterministic software simulation of it used by
// tests. A real mlx5dv/ibverbs-backed implementation is out of scope for
// this module (see the root package doc); callers wire their own.
package nic

import (
	"errors"

	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// ErrQueueFull is returned when a QP's send queue has no free slots.
var ErrQueueFull = errors.New("nic: send queue full")

// ErrDeviceOffline is returned when an operation is attempted against a
// device/QP that has been torn down or is in the error state.
var ErrDeviceOffline = errors.New("nic: device offline")

// MKeyFlavor selects what an MKey is configured to do.
type MKeyFlavor int

const (
	MKeyFlavorCrypto MKeyFlavor = iota
	MKeyFlavorSignature
	MKeyFlavorSigCrypto
)

// MKey identifies an indirect memory key the device owns.
type MKey struct {
	ID     uint32
	Flavor MKeyFlavor
}

// PSV identifies a Protection Signature Validity object the device owns.
type PSV struct {
	ID uint32
}

// QPHandle identifies a queue pair the device owns.
type QPHandle struct {
	ID uint32
}

// UMRRequest configures only an indirect MKey's translation table, with no
// crypto or signature BSF attached. COPY tasks use this to bind a
// destination scatter list to an MKey before the RDMA_WRITE that lands the
// bytes, the same way a CRYPTO or CRC task binds one but with the BSF
// fields left zero.
type UMRRequest struct {
	MKey MKey
	KLMs []wire.KLM
}

// UMRCryptoRequest configures an indirect MKey's translation table plus a
// crypto BSF in one UMR WQE.
type UMRCryptoRequest struct {
	MKey  MKey
	KLMs  []wire.KLM
	BSF   wire.CryptoBSF
}

// SigOpMode tells the simulated device which half of the signature
// pipeline a generate/check task cares about. Real mlx5 hardware derives
// this from the BSF's domain/init/check_gen bits together with the trailing
// protection-information bytes it streams off the wire; the simulated
// device takes it explicitly instead of modeling that wire format, since
// internal/engine only ever talks to this Go-level request struct, not a
// literal byte layout (see DESIGN.md).
type SigOpMode int

const (
	SigModeGenerate SigOpMode = iota
	SigModeCheck
)

// UMRSigRequest configures an indirect MKey's translation table plus a
// signature BSF in one UMR WQE. Mode/RefCRC select generate-vs-check and
// (for check) the expected value, per the SigOpMode doc comment.
type UMRSigRequest struct {
	MKey   MKey
	KLMs   []wire.KLM
	BSF    wire.SigBSF
	Mode   SigOpMode
	RefCRC uint32
}

// UMRSigCryptoRequest configures an indirect MKey with both a crypto and a
// signature BSF (the fused ENCRYPT_AND_CRC32C / CRC32C_AND_DECRYPT path).
type UMRSigCryptoRequest struct {
	MKey      MKey
	KLMs      []wire.KLM
	CryptoBSF wire.CryptoBSF
	SigBSF    wire.SigBSF
	Mode      SigOpMode
	RefCRC    uint32
}

// RDMARequest posts a one-sided RDMA read or write using an MKey's
// translation as the remote side and a local SGE list as the other side.
// SmallFence and StrongOrder request the WQE-level ordering directives of
// spec §4.4 step 6: SmallFence pins this WR behind the UMR that just bound
// its MKey, StrongOrder additionally prevents the NIC from reordering this
// WR relative to the previous one in a fused signature+crypto chain. The
// simulated device executes WRs synchronously in post order so it honors
// both without needing real fence semantics; a real ibverbs-backed Device
// would translate them into WQE control-segment flags.
type RDMARequest struct {
	QP          QPHandle
	LocalSGEs   []wire.DataSeg
	RemoteKey   uint32
	RemoteLen   uint64
	Signaled    bool
	WRID        uint64
	SmallFence  bool
	StrongOrder bool

	// CRCScratch, when set, is the PSV's DMA-mapped CRC word this WR's
	// signature MKey deposits its generated value into (or, for the fused
	// encrypt+CRC opcode, the trailing CRC-tail SGE described in spec §4.4
	// step 6). Nil for WRs that don't carry a signature transform.
	CRCScratch *wire.DataSeg
}

// Capabilities describes what a device supports, mirroring the original
// module's per-device capability bits.
type Capabilities struct {
	CryptoMultiBlock bool
	TweakModeIncr64  bool
	CryptoSupported  bool
	SignatureSupported bool
}

// Device is the vendor NIC interface the engine drives. A real
// implementation posts these operations to an RDMA send queue via
// mlx5dv/ibverbs; the simulated implementation in sim.go executes them
// in-process for deterministic tests.
type Device interface {
	Name() string
	Capabilities() Capabilities

	CreateQP(maxWR int) (QPHandle, error)
	DestroyQP(qp QPHandle) error
	SetQPErrorState(qp QPHandle) error

	CreateMKey(flavor MKeyFlavor) (MKey, error)
	DestroyMKey(mk MKey) error

	CreatePSV() (PSV, error)
	DestroyPSV(p PSV) error
	ResetPSV(qp QPHandle, p PSV, wrid uint64, signaled bool) error

	PostUMR(qp QPHandle, req UMRRequest, wrid uint64, signaled bool) error
	PostUMRCrypto(qp QPHandle, req UMRCryptoRequest, wrid uint64, signaled bool) error
	PostUMRSig(qp QPHandle, req UMRSigRequest, wrid uint64, signaled bool) error
	PostUMRSigCrypto(qp QPHandle, req UMRSigCryptoRequest, wrid uint64, signaled bool) error

	PostRDMARead(req RDMARequest) error
	PostRDMAWrite(req RDMARequest) error

	// RingDoorbell flushes all WRs posted on qp since the last ring,
	// performing the store-fence/doorbell/UAR sequence.
	RingDoorbell(qp QPHandle) error

	// PollCQ drains up to len(out) completions into out and returns the
	// number written. A signature error is reported as its own completion
	// with Status == CQEStatusSigErr and MKeyID set to the offending MKey,
	// ahead of (and independent from) the data WR's own completion.
	PollCQ(out []wire.CQE) (int, error)
}
