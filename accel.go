// Package mlx5accel drives a per-thread hardware-offload engine that
// executes composable data-plane acceleration tasks — memory copy, AES-XTS
// block-cipher encrypt/decrypt, CRC-32C generation/verification, and fused
// encrypt+CRC / CRC-then-decrypt — by building RDMA work requests against
// Mellanox-class NICs through indirect MKeys (UMR) and RDMA READ/WRITE.
//
// The exported surface here is the §6 "accel module contract": the generic
// accelerator framework's task queue, JSON-RPC configuration surface, and
// the NIC vendor library itself are external collaborators this package
// consumes, not reimplements.
package mlx5accel

import (
	"sync"

	"github.com/behrlich/go-mlx5accel/internal/engine"
	"github.com/behrlich/go-mlx5accel/internal/nic"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// Re-exported engine types: the task state machine, WR builder, CQ poller,
// and pools all live in internal/engine (spec §1's CORE), but a caller
// outside this module tree only ever needs to spell these few names.
type (
	Device          = engine.Device
	Channel         = engine.Channel
	Task            = engine.Task
	Opcode          = engine.Opcode
	TaskState       = engine.TaskState
	IOV             = engine.IOV
	EncryptionOrder = engine.EncryptionOrder
	CompletionFunc  = engine.CompletionFunc
	MemoryDomain    = engine.MemoryDomain
	DeviceConfig    = engine.DeviceConfig
)

const (
	OpCopy             = engine.OpCopy
	OpEncrypt          = engine.OpEncrypt
	OpDecrypt          = engine.OpDecrypt
	OpChecksumCRC32C   = engine.OpChecksumCRC32C
	OpCheckCRC32C      = engine.OpCheckCRC32C
	OpEncryptAndCRC32C = engine.OpEncryptAndCRC32C
	OpCRC32CAndDecrypt = engine.OpCRC32CAndDecrypt
)

const (
	EncryptionOrderRawOnWire   = engine.EncryptionOrderRawOnWire
	EncryptionOrderRawInMemory = engine.EncryptionOrderRawInMemory
)

// NewTask builds a task in the NEW state, ready to be sized by a Channel's
// SubmitTask/SubmitFused.
var NewTask = engine.NewTask

// TweakMode selects how the per-block AES-XTS tweak advances, spec §6's
// "crypto_supports_tweak_mode" argument.
type TweakMode = wire.TweakMode

const (
	TweakModeSimpleLBA   = wire.TweakModeSimpleLBA // SIMPLE_LBA
	TweakModeIncr64Upper = wire.TweakModeIncr64    // INCR_512_UPPER_LBA
)

// Module is the top-level registry the surrounding accel framework's
// bootstrap sequence (out of scope per spec §1/§6) drives: it owns every
// device this process has initialized, the shared Config, and the set of
// memory domains the RDMA memory-domain registry (also out of scope) has
// published. It corresponds to no single component in spec §2 — it is the
// thin wiring layer module init/fini and get_memory_domains/
// crypto_key_init live on, one per process.
type Module struct {
	Config *Config

	mu      sync.Mutex
	devices []*Device
	domains []MemoryDomain
}

// NewModule creates a Module with the given configuration (DefaultConfig()
// if cfg is nil).
func NewModule(cfg *Config) *Module {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Module{Config: cfg}
}

// AddDevice initializes a device context (MKey/PSV pools, QP router) over
// nicDev and registers it with the module, honoring the Config's
// crypto-device allow-list (spec §6 "allowed_crypto_devs"): a device not on
// the list still gets a device context (COPY/CRC still work), but its
// SupportsOpcode will report ENCRYPT/DECRYPT/fused opcodes as unavailable.
func (m *Module) AddDevice(nicDev nic.Device, observer Observer) (*Device, error) {
	cfg := m.Config.DeviceConfig(observer, nicDev.Name())
	dev, err := engine.NewDevice(nicDev, cfg)
	if err != nil {
		return nil, WrapError("AddDevice", err)
	}
	m.mu.Lock()
	m.devices = append(m.devices, dev)
	m.mu.Unlock()
	return dev, nil
}

// Devices returns every device this module owns, in registration order.
func (m *Module) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// GetIOChannel builds a fresh Channel over every device currently
// registered (spec §6 "get_io_channel() -> channel handle"). Each call
// returns an independent Channel; the caller is expected to bind one per
// OS thread (spec §5 "Scheduling model").
func (m *Module) GetIOChannel() *Channel {
	return engine.NewChannel(m.Devices())
}

// GetCtxSize reports the extra bytes appended to each task allocation for
// private state (spec §6). Go's Task is heap-allocated per call and the
// engine keeps no out-of-band private region the way the original C task
// arena's trailing bytes do, so there is nothing to size here; callers
// needing per-task scratch space should embed it in their own wrapper
// struct around *Task instead.
func (m *Module) GetCtxSize() int { return 0 }

// SupportsOpcode reports whether at least one registered device can
// execute opc (spec §6 "supports_opcode(opc) -> bool").
func (m *Module) SupportsOpcode(opc Opcode) bool {
	for _, d := range m.Devices() {
		if d.SupportsOpcode(opc) {
			return true
		}
	}
	return false
}

// CryptoKeyInit derives a per-key NIC DEK wrapper from a primary key and an
// XTS tweak key, registering it under id for every device to use (spec §6
// "crypto_key_init(key): derive a per-key NIC DEK wrapper; init consumes a
// primary and XTS tweak key"). The combined buffer is zeroed before
// returning, mirroring original_source's crypto-key handling (SPEC_FULL
// §4.5 "Supplemented features").
func (m *Module) CryptoKeyInit(id uint32, primary, tweak []byte) error {
	combined := make([]byte, len(primary)+len(tweak))
	n := copy(combined, primary)
	copy(combined[n:], tweak)
	defer zeroBytes(combined)

	nic.RegisterDEK(id, combined)
	return nil
}

// CryptoKeyDeinit releases the DEK registered under id, zeroing the NIC's
// copy of the key material before dropping it (spec §6
// "crypto_key_deinit(key)").
func (m *Module) CryptoKeyDeinit(id uint32) {
	nic.UnregisterDEK(id)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RegisterMemoryDomain publishes a memory domain the RDMA memory-domain
// registry has handed this module (an external collaborator per spec §6);
// GetMemoryDomains returns these back to callers needing one for a task's
// SrcDomain/DstDomain.
func (m *Module) RegisterMemoryDomain(d MemoryDomain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = append(m.domains, d)
}

// GetMemoryDomains copies up to len(out) registered memory domains into
// out and returns the count copied (spec §6 "get_memory_domains(out, n) ->
// up to n device-level RDMA domains").
func (m *Module) GetMemoryDomains(out []MemoryDomain) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(out, m.domains)
	return n
}

// CryptoSupportsTweakMode reports whether every registered device can run
// the given tweak mode (spec §6 "returns true for SIMPLE_LBA
// unconditionally, for INCR_512_UPPER_LBA iff every device reports
// tweak_inc_64").
func (m *Module) CryptoSupportsTweakMode(mode TweakMode) bool {
	if mode == TweakModeSimpleLBA {
		return true
	}
	devices := m.Devices()
	if len(devices) == 0 {
		return false
	}
	for _, d := range devices {
		if !d.Capabilities().TweakModeIncr64 {
			return false
		}
	}
	return true
}

// HandleDomainDeleted fans a memory-domain deletion notification out to
// every channel passed in, per spec §4.7. The Module itself tracks no live
// channels (each is owned by its driving OS thread); callers collect the
// channels they created via GetIOChannel and pass them here.
func HandleDomainDeleted(channels []*Channel, domain MemoryDomain) {
	for _, c := range channels {
		c.HandleDomainDeleted(domain)
	}
}
