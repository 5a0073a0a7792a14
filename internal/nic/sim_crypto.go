package nic

import (
	"crypto/aes"
	"sync"

	"golang.org/x/crypto/xts"

	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// keyStore maps a DEK object id to the raw AES-XTS key material, standing in
// for the NIC-resident DEK object a real device would hold after
// CryptoKeyInit. Tests populate this via RegisterDEK.
var (
	keyStoreMu sync.RWMutex
	keyStore   = map[uint32][]byte{}
)

// RegisterDEK installs the AES-XTS key material (two AES keys concatenated,
// 32 or 64 bytes) for a DEK object id, simulating CryptoKeyInit handing the
// wrapped key to the device.
func RegisterDEK(id uint32, key []byte) {
	keyStoreMu.Lock()
	defer keyStoreMu.Unlock()
	buf := make([]byte, len(key))
	copy(buf, key)
	keyStore[id] = buf
}

// UnregisterDEK removes a DEK, zeroing the copy held by the simulated
// device (mirrors CryptoKeyDeinit zeroing the combined key buffer before
// releasing the wrapper).
func UnregisterDEK(id uint32) {
	keyStoreMu.Lock()
	defer keyStoreMu.Unlock()
	if buf, ok := keyStore[id]; ok {
		for i := range buf {
			buf[i] = 0
		}
		delete(keyStore, id)
	}
}

func lookupDEK(id uint32) ([]byte, bool) {
	keyStoreMu.RLock()
	defer keyStoreMu.RUnlock()
	buf, ok := keyStore[id]
	return buf, ok
}

// applyCrypto runs AES-XTS over payload in blockSize-sized sectors, using
// the BSF's DEK id, per-sub-request IV, and direction (bsf.Encrypt) — the
// direction travels with the MKey's configuration, not with whether this
// sub-request's RDMA happened to be a read or a write.
func applyCrypto(bsf wire.CryptoBSF, payload []byte) ([]byte, error) {
	key, ok := lookupDEK(bsf.DekObjID)
	if !ok {
		return nil, errDEKNotFound
	}

	cipher, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(payload))
	blockSize := int(bsf.BlockSize)
	if blockSize == 0 {
		blockSize = len(payload)
	}

	sectorNum := tweakToSector(bsf.IV)
	for off := 0; off+blockSize <= len(payload); off += blockSize {
		if bsf.Encrypt {
			cipher.Encrypt(out[off:off+blockSize], payload[off:off+blockSize], sectorNum)
		} else {
			cipher.Decrypt(out[off:off+blockSize], payload[off:off+blockSize], sectorNum)
		}
		sectorNum = nextSector(sectorNum, bsf.Tweak)
	}

	return out, nil
}

func tweakToSector(iv [16]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(iv[i]) << (8 * i)
	}
	return v
}

func nextSector(sector uint64, mode wire.TweakMode) uint64 {
	switch mode {
	case wire.TweakModeIncr64:
		return sector + 1
	default:
		return sector + 1
	}
}

type cryptoErr string

func (e cryptoErr) Error() string { return string(e) }

const errDEKNotFound = cryptoErr("nic: dek object not found")
