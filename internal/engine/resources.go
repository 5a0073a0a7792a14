package engine

// acquireMKeys checks out n MKeys of the given flavor's pool for t, storing
// them on the task. Returns ErrResourceExhausted if the pool can't satisfy
// the request atomically; the task is left untouched in that case.
func acquireMKeys(pool *MKeyPool, t *Task, n int) error {
	keys, ok := pool.GetBulk(n)
	if !ok {
		return ErrResourceExhausted
	}
	t.MKeys = keys
	return nil
}

// acquirePSV checks out one PSV for t. If the PSV carries a stale "error"
// latch from a previous use, the caller must precede its signature WRs with
// a SET_PSV reset (spec §4.3).
func acquirePSV(pool *PSVPool, t *Task) error {
	psv, ok := pool.Get()
	if !ok {
		return ErrResourceExhausted
	}
	t.PSV = psv
	return nil
}

// releaseResources returns every MKey/PSV a task is holding back to its
// device's pools, called on both completion and failure (spec §4.4
// "Failure semantics").
func releaseResources(dev *deviceContext, t *Task) {
	if len(t.MKeys) > 0 {
		if t.Opcode.IsSignature() {
			dev.sigMKeys.PutBulk(t.MKeys)
		} else {
			dev.cryptoMKeys.PutBulk(t.MKeys)
		}
		t.MKeys = nil
	}
	if t.PSV != nil {
		dev.psvs.Put(t.PSV)
		t.PSV = nil
	}
}

// mkeyFlavorFor returns the pool a task's opcode draws MKeys from.
func mkeyFlavorFor(dev *deviceContext, opc Opcode) *MKeyPool {
	if opc.IsSignature() {
		return dev.sigMKeys
	}
	return dev.cryptoMKeys
}
