package mlx5accel

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/engine"
)

// Config holds the module-wide configuration surface spec.md §6 enumerates:
// per-device resource sizing plus the crypto-device allow-list, which is
// reconfigurable at runtime behind a lock (spec §5 "A global spinlock
// guards ... the allow-list of crypto devices during reconfiguration").
type Config struct {
	QPSize        int  // send-queue depth in WRs (default 256)
	CQSize        int  // completion-queue depth (default 256)
	NumRequests   int  // MKey pool size per device (default 2048)
	SplitMBBlocks int  // cap blocks per multi-block crypto sub-request; 0 = one sub-request per task
	Siglast       bool // enable signal-last CQE optimization in the poller
	Merge         bool // enable encrypt+CRC / CRC+decrypt fusion
	QPPerDomain   bool // create one QP per (device, memory-domain) pair

	mu                sync.RWMutex
	allowedCryptoDevs map[string]bool
}

// DefaultConfig returns the configuration contract's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		QPSize:        constants.DefaultQPSize,
		CQSize:        constants.DefaultCQSize,
		NumRequests:   constants.DefaultNumRequests,
		SplitMBBlocks: constants.DefaultSplitMBBlocks,
		Siglast:       constants.DefaultSiglast,
		Merge:         constants.DefaultMerge,
		QPPerDomain:   constants.DefaultQPPerDomain,
	}
}

// SetAllowedCryptoDevs parses a comma-separated list of NIC names the way
// original_source's accel_mlx5_allowed_crypto_devs_parse does, replacing
// any previously configured allow-list under the module's reconfiguration
// lock. An empty list means "no restriction": every device may do crypto.
func (c *Config) SetAllowedCryptoDevs(csv string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if csv == "" {
		c.allowedCryptoDevs = nil
		return
	}
	names := strings.Split(csv, ",")
	m := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			m[n] = true
		}
	}
	c.allowedCryptoDevs = m
}

// CryptoAllowed reports whether devName may perform crypto operations: true
// unconditionally if no allow-list has been configured, else membership.
func (c *Config) CryptoAllowed(devName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.allowedCryptoDevs) == 0 {
		return true
	}
	return c.allowedCryptoDevs[devName]
}

// allowedCryptoDevsList returns the configured allow-list as a sorted-free
// (insertion order not preserved; JSON array order is not semantically
// significant) slice for WriteConfigJSON.
func (c *Config) allowedCryptoDevsList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.allowedCryptoDevs) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.allowedCryptoDevs))
	for name := range c.allowedCryptoDevs {
		out = append(out, name)
	}
	return out
}

// configJSON is the wire shape WriteConfigJSON emits, matching spec §6's
// write_config_json contract and original_source's JSON field names.
type configJSON struct {
	QPSize            int      `json:"qp_size"`
	CQSize            int      `json:"cq_size"`
	NumRequests       int      `json:"num_requests"`
	Merge             bool     `json:"merge"`
	SplitMBBlocks     int      `json:"split_mb_blocks"`
	AllowedCryptoDevs []string `json:"allowed_crypto_devs,omitempty"`
	Siglast           bool     `json:"siglast"`
	QPPerDomain       bool     `json:"qp_per_domain"`
}

// WriteConfigJSON emits the module's current configuration as JSON to w,
// the §6 "write_config_json" contract's Go-native equivalent of the
// original's SPDK JSON-RPC config-dump callback.
func (c *Config) WriteConfigJSON(w io.Writer) error {
	doc := configJSON{
		QPSize:            c.QPSize,
		CQSize:            c.CQSize,
		NumRequests:       c.NumRequests,
		Merge:             c.Merge,
		SplitMBBlocks:     c.SplitMBBlocks,
		AllowedCryptoDevs: c.allowedCryptoDevsList(),
		Siglast:           c.Siglast,
		QPPerDomain:       c.QPPerDomain,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// DeviceConfig converts this Config into the internal engine's per-device
// sizing parameters, attaching observer as the device's metrics sink and
// resolving devName against the allow-list via CryptoAllowed so the
// resulting engine.DeviceConfig.CryptoAllowed reflects this device
// specifically, not the module as a whole.
func (c *Config) DeviceConfig(observer engine.Observer, devName string) engine.DeviceConfig {
	return engine.DeviceConfig{
		QPSize:        c.QPSize,
		NumRequests:   c.NumRequests,
		SplitMBBlocks: c.SplitMBBlocks,
		Siglast:       c.Siglast,
		Merge:         c.Merge,
		QPPerDomain:   c.QPPerDomain,
		Observer:      observer,
		CryptoAllowed: c.CryptoAllowed(devName),
	}
}
