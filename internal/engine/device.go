package engine

import (
	"time"

	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// Observer mirrors the root package's Observer interface structurally so
// internal/engine can record metrics without importing the root package
// (which itself imports internal/engine). Any *mlx5accel.StatsObserver or
// mlx5accel.NoOpObserver the caller passes in via DeviceConfig.Observer
// satisfies this by Go's structural interface typing.
type Observer interface {
	ObserveTask(latencyNs uint64, success bool)
	ObserveUMR()
	ObserveRDMA()
	ObservePoll(reaped uint32)
	ObserveQueueDepth(depth uint32)
}

type noopObserver struct{}

func (noopObserver) ObserveTask(uint64, bool) {}
func (noopObserver) ObserveUMR()              {}
func (noopObserver) ObserveRDMA()             {}
func (noopObserver) ObservePoll(uint32)       {}
func (noopObserver) ObserveQueueDepth(uint32) {}

// deviceContext holds everything shared read-only by reference across
// channels once module init completes: the vendor device, both MKey pools,
// the PSV pool, the QP router, and the crypto-multi-block capability bit.
type deviceContext struct {
	nic  nic.Device
	name string

	cryptoMKeys *MKeyPool
	sigMKeys    *MKeyPool

	psvs *PSVPool

	router *QPRouter

	translator MemoryDomain
	observer   Observer

	splitMBBlocks int
	siglast       bool
	merge         bool
	cryptoAllowed bool
}

// Device is the exported handle to a deviceContext, the type external
// packages (the root mlx5accel package) hold and pass to NewChannel. It is
// a plain alias rather than a wrapper struct so every deviceContext method
// (SupportsOpcode, etc.) is usable through it with no forwarding boilerplate.
type Device = deviceContext

// NewDevice builds the per-device resource pools and QP router for dev,
// sized per cfg, and returns the handle external packages pass to
// NewChannel. This is the only exported constructor for a device context;
// module init per spec §3 "Device context: Lifecycle: module init / fini"
// goes through here once per NIC.
func NewDevice(dev nic.Device, cfg DeviceConfig) (*Device, error) {
	return newDeviceContext(dev, cfg)
}

// DeviceConfig configures a device context's resource sizing.
type DeviceConfig struct {
	QPSize        int
	NumRequests   int
	SplitMBBlocks int
	Siglast       bool
	Merge         bool
	QPPerDomain   bool
	Observer      Observer

	// CryptoAllowed gates whether SupportsOpcode reports ENCRYPT/DECRYPT and
	// the fused opcodes as available on this device, the per-device result
	// of the root package's allowed_crypto_devs allow-list check (spec §6).
	// COPY and standalone CRC32C are never gated by it.
	CryptoAllowed bool
}

// DefaultDeviceConfig returns the configuration contract's defaults.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		QPSize:        constants.DefaultQPSize,
		NumRequests:   constants.DefaultNumRequests,
		SplitMBBlocks: constants.DefaultSplitMBBlocks,
		Siglast:       constants.DefaultSiglast,
		Merge:         constants.DefaultMerge,
		QPPerDomain:   constants.DefaultQPPerDomain,
		CryptoAllowed: true,
	}
}

// newDeviceContext builds MKey/PSV pools and the QP router for dev, sized
// per cfg. The signature MKey pool is created with the crypto bit enabled
// whenever merge is set, per §6's configuration semantics.
func newDeviceContext(dev nic.Device, cfg DeviceConfig) (*deviceContext, error) {
	sigFlavor := nic.MKeyFlavorSignature
	if cfg.Merge {
		sigFlavor = nic.MKeyFlavorSigCrypto
	}

	cryptoMKeys, err := NewMKeyPool(dev, nic.MKeyFlavorCrypto, cfg.NumRequests)
	if err != nil {
		return nil, err
	}
	sigMKeys, err := NewMKeyPool(dev, sigFlavor, cfg.NumRequests)
	if err != nil {
		return nil, err
	}
	psvs, err := NewPSVPool(dev, cfg.NumRequests)
	if err != nil {
		return nil, err
	}

	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	dc := &deviceContext{
		nic:           dev,
		name:          dev.Name(),
		cryptoMKeys:   cryptoMKeys,
		sigMKeys:      sigMKeys,
		psvs:          psvs,
		translator:    DeviceTranslator{},
		observer:      observer,
		splitMBBlocks: cfg.SplitMBBlocks,
		siglast:       cfg.Siglast,
		merge:         cfg.Merge,
		cryptoAllowed: cfg.CryptoAllowed,
	}
	dc.router = newQPRouter(dc, cfg.QPSize, cfg.QPPerDomain)
	return dc, nil
}

// taskLatencyNs returns the elapsed time since t was submitted, 0 if
// SubmitTime was never set (e.g. in unit tests that build tasks directly).
func taskLatencyNs(t *Task) uint64 {
	if t.SubmitTime == 0 {
		return 0
	}
	d := time.Now().UnixNano() - t.SubmitTime
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// Name returns the underlying vendor device's name.
func (d *deviceContext) Name() string { return d.name }

// Capabilities returns the underlying vendor device's capability bits,
// used by the root package's CryptoSupportsTweakMode (spec §6) to check
// tweak_inc_64 across every device without exposing the nic.Device itself.
func (d *deviceContext) Capabilities() nic.Capabilities { return d.nic.Capabilities() }

// SetTranslator overrides the default (identity) memory-domain translator
// tasks fall back to when they carry no explicit SrcDomain/DstDomain, used
// to wire a caller's RDMA memory-domain registry (spec §6 "the RDMA memory
// domain registry" is a consumed, out-of-scope collaborator; this is the
// seam it plugs into).
func (d *deviceContext) SetTranslator(t MemoryDomain) {
	if t == nil {
		return
	}
	d.translator = t
}

// CryptoMKeyFreeCount and SigMKeyFreeCount expose pool occupancy for the
// stats/config surface (spec §4.9 counters, §8 invariant 4 "pool
// conservation").
func (d *deviceContext) CryptoMKeyFreeCount() int { return d.cryptoMKeys.FreeCount() }
func (d *deviceContext) SigMKeyFreeCount() int    { return d.sigMKeys.FreeCount() }
func (d *deviceContext) PSVFreeCount() int        { return d.psvs.FreeCount() }

// SupportsOpcode reports whether this device can execute opc, honoring the
// merge config's restriction that standalone CRC becomes unavailable once
// fusion is enabled, and the allowed_crypto_devs allow-list (cryptoAllowed)
// that withholds ENCRYPT/DECRYPT/fused opcodes from devices not on it while
// leaving COPY and standalone CRC32C unaffected.
func (d *deviceContext) SupportsOpcode(opc Opcode) bool {
	caps := d.nic.Capabilities()
	switch opc {
	case OpCopy:
		return true
	case OpEncrypt, OpDecrypt:
		return d.cryptoAllowed && caps.CryptoSupported
	case OpChecksumCRC32C, OpCheckCRC32C:
		return caps.SignatureSupported && !d.merge
	case OpEncryptAndCRC32C, OpCRC32CAndDecrypt:
		return d.cryptoAllowed && caps.CryptoSupported && caps.SignatureSupported && d.merge
	default:
		return false
	}
}
