package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// SupportsOpcode must withhold ENCRYPT/DECRYPT and the fused opcodes from
// a device whose CryptoAllowed is false, while leaving COPY and standalone
// CRC32C unaffected (spec §6 "allowed_crypto_devs").
func TestSupportsOpcodeHonorsCryptoAllowed(t *testing.T) {
	caps := nic.Capabilities{CryptoSupported: true, SignatureSupported: true}

	cfg := DefaultDeviceConfig()
	cfg.CryptoAllowed = false
	sim := nic.NewSimDevice("mlx5_sim_allowlist_test", caps)
	dev, err := NewDevice(sim, cfg)
	require.NoError(t, err)

	require.True(t, dev.SupportsOpcode(OpCopy))
	require.True(t, dev.SupportsOpcode(OpChecksumCRC32C))
	require.True(t, dev.SupportsOpcode(OpCheckCRC32C))
	require.False(t, dev.SupportsOpcode(OpEncrypt))
	require.False(t, dev.SupportsOpcode(OpDecrypt))

	cfgMerge := DefaultDeviceConfig()
	cfgMerge.CryptoAllowed = false
	cfgMerge.Merge = true
	simMerge := nic.NewSimDevice("mlx5_sim_allowlist_test_merge", caps)
	devMerge, err := NewDevice(simMerge, cfgMerge)
	require.NoError(t, err)
	require.False(t, devMerge.SupportsOpcode(OpEncryptAndCRC32C))
	require.False(t, devMerge.SupportsOpcode(OpCRC32CAndDecrypt))
}

// DefaultDeviceConfig leaves CryptoAllowed true, so a device built from it
// supports ENCRYPT/DECRYPT, the converse of the above.
func TestSupportsOpcodeAllowsCryptoByDefault(t *testing.T) {
	caps := nic.Capabilities{CryptoSupported: true, SignatureSupported: true}
	cfg := DefaultDeviceConfig()
	require.True(t, cfg.CryptoAllowed, "DefaultDeviceConfig should not gate crypto by default")

	sim := nic.NewSimDevice("mlx5_sim_allowlist_test_default", caps)
	dev, err := NewDevice(sim, cfg)
	require.NoError(t, err)
	require.True(t, dev.SupportsOpcode(OpEncrypt))
	require.True(t, dev.SupportsOpcode(OpDecrypt))
}
