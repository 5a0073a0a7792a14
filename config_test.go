package mlx5accel

import (
	"testing"

	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// AddDevice must resolve Config's allowed_crypto_devs allow-list against
// the NIC's own name, so a device left off the list registers successfully
// (COPY/CRC still work) but loses ENCRYPT/DECRYPT support.
func TestAddDeviceHonorsCryptoAllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetAllowedCryptoDevs("mlx5_0")

	m := NewModule(cfg)

	allowed := nic.NewSimDevice("mlx5_0", nic.Capabilities{CryptoSupported: true})
	dev, err := m.AddDevice(allowed, nil)
	if err != nil {
		t.Fatalf("AddDevice(allowed): %v", err)
	}
	if !dev.SupportsOpcode(OpEncrypt) {
		t.Error("device on the allow-list should support OpEncrypt")
	}

	denied := nic.NewSimDevice("mlx5_1", nic.Capabilities{CryptoSupported: true})
	dev2, err := m.AddDevice(denied, nil)
	if err != nil {
		t.Fatalf("AddDevice(denied): %v", err)
	}
	if dev2.SupportsOpcode(OpEncrypt) {
		t.Error("device off the allow-list should not support OpEncrypt")
	}
	if !dev2.SupportsOpcode(OpCopy) {
		t.Error("device off the allow-list should still support OpCopy")
	}
}

// With no allow-list configured, every device keeps full crypto support,
// CryptoAllowed's documented "no restriction" default.
func TestAddDeviceNoAllowListMeansCryptoEverywhere(t *testing.T) {
	m := NewModule(DefaultConfig())
	dev, err := m.AddDevice(nic.NewSimDevice("mlx5_any", nic.Capabilities{CryptoSupported: true}), nil)
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if !dev.SupportsOpcode(OpEncrypt) {
		t.Error("with no allow-list configured, every device should support OpEncrypt")
	}
}
