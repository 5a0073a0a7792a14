package engine

import "time"

// Channel is the per-thread owner of a fixed set of devices (spec §4.1/§4.7
// "Channel / Poller"): round-robin device selection for submission, a
// completion Poller and a Recovery per device, and the two per-device/
// per-channel queues the state diagram calls nomem and merged. A Channel is
// meant to be driven by exactly one OS thread calling SubmitTask/SubmitFused
// and Poll in a tight loop; it holds no locks.
type Channel struct {
	devices []*deviceContext
	rr      int

	pollers    []*Poller
	recoveries []*Recovery

	// nomem holds, per device index, tasks parked after a ResourceExhausted
	// return from init/process/cont, awaiting resubmitNomem on a later tick.
	nomem [][]*Task

	// merged holds fusion children awaiting their parent's completion
	// callback; purely bookkeeping; removed as soon as the child's own
	// onComplete fires (fusedComplete invokes it directly).
	merged []*Task

	// cpuAffinity mirrors the teacher's per-queue CPU affinity list: Pin
	// assigns queue/channel id N to cpuAffinity[N % len(cpuAffinity)]. Nil
	// means no pinning is configured.
	cpuAffinity []int
}

// SetCPUAffinity configures the CPU set Pin rotates through. Safe to call
// before the channel's owning goroutine starts its poll loop; not safe to
// change concurrently with Pin.
func (c *Channel) SetCPUAffinity(cpus []int) {
	c.cpuAffinity = cpus
}

// Pin locks the calling goroutine to its OS thread and pins it to the CPU
// assigned to channelID by round-robin over the configured affinity list
// (spec §5 "Scheduling model": one OS thread owns one channel). A no-op if
// no affinity list was configured.
func (c *Channel) Pin(channelID int) error {
	if len(c.cpuAffinity) == 0 {
		return nil
	}
	cpu := c.cpuAffinity[channelID%len(c.cpuAffinity)]
	return PinToCPU(cpu)
}

// ErrNoDevices is returned by SubmitTask when the channel owns no devices.
var ErrNoDevices = engineError("channel has no devices")

// NewChannel builds a Channel over devices, wiring one Poller and one
// Recovery per device with the nomem/failed callbacks the poller needs to
// stay decoupled from channel-level queue management.
func NewChannel(devices []*deviceContext) *Channel {
	c := &Channel{
		devices:    devices,
		nomem:      make([][]*Task, len(devices)),
		pollers:    make([]*Poller, len(devices)),
		recoveries: make([]*Recovery, len(devices)),
	}
	for i, dev := range devices {
		idx := i
		c.pollers[idx] = newPoller(dev,
			func(t *Task) { c.pushNomem(idx, t) },
			func(t *Task, err error) { c.handleFailed(idx, t, err) },
		)
		c.recoveries[idx] = newRecovery(dev)
	}
	return c
}

// nextDevice returns the next device in round-robin order and its index.
func (c *Channel) nextDevice() (*deviceContext, int) {
	idx := c.rr
	c.rr = (c.rr + 1) % len(c.devices)
	return c.devices[idx], idx
}

// SubmitTask assigns t to the next device in round-robin order and runs it
// through init/process, per spec §6's submit_tasks contract: it returns nil
// even when t lands on nomem, and only returns an error when the channel has
// no devices (ErrNoDevices) or for a hard QP-create failure on an idle device.
func (c *Channel) SubmitTask(t *Task) error {
	if len(c.devices) == 0 {
		return ErrNoDevices
	}
	dev, idx := c.nextDevice()
	return c.submitOn(idx, dev, t)
}

// SubmitFused attempts to fuse parent and child (spec §4.4 "Common
// preprocessing"/TryFuse) before submitting. On fusion, only parent is
// handed to a device; child is parked on the merged queue until fusedComplete
// fires its callback directly. On no fusion, both are submitted independently
// in the order given.
func (c *Channel) SubmitFused(parent, child *Task) error {
	if TryFuse(parent, child) {
		c.trackMerged(child)
		return c.SubmitTask(parent)
	}
	if err := c.SubmitTask(parent); err != nil {
		return err
	}
	return c.SubmitTask(child)
}

func (c *Channel) trackMerged(child *Task) {
	orig := child.onComplete
	c.merged = append(c.merged, child)
	child.onComplete = func(t *Task, err error) {
		c.removeMerged(child)
		if orig != nil {
			orig(t, err)
		}
	}
}

func (c *Channel) removeMerged(t *Task) {
	for i, m := range c.merged {
		if m == t {
			c.merged = append(c.merged[:i], c.merged[i+1:]...)
			return
		}
	}
}

// submitOn routes t to a QP on dev and runs it, queuing on nomem instead of
// posting if that QP is mid-recovery (spec §4.6 ordering guarantee: "no new
// WRs are posted on a recovering QP").
func (c *Channel) submitOn(idx int, dev *deviceContext, t *Task) error {
	domain := t.SrcDomain
	if domain == nil {
		domain = t.DstDomain
	}
	qp, err := dev.router.Route(domain)
	if err != nil {
		return err
	}
	t.QP = qp
	t.SubmitTime = time.Now().UnixNano()

	if qp.Recovering {
		c.pushNomem(idx, t)
		return nil
	}
	c.runTask(idx, dev, qp, t)
	return nil
}

// runTask drives t through init (if not yet sized) and process/cont,
// handling ResourceExhausted by parking on nomem and any other error by
// failing the task outright. Used both for a fresh submission and for
// draining the nomem queue.
func (c *Channel) runTask(idx int, dev *deviceContext, qp *QP, t *Task) {
	h, ok := handlersFor(t.Opcode)
	if !ok {
		t.fail(ErrUnsupportedOpcode)
		return
	}

	if t.NumReqs == 0 {
		if err := h.init(dev, qp, t); err != nil {
			if err == ErrResourceExhausted {
				c.pushNomem(idx, t)
				return
			}
			t.fail(err)
			return
		}
		t.State = TaskResourcesReady
	}

	if err := h.process(dev, qp, t); err != nil {
		if err == ErrResourceExhausted {
			c.pushNomem(idx, t)
			return
		}
		t.fail(err)
		return
	}
	t.State = TaskInHW
	dev.observer.ObserveQueueDepth(uint32(len(qp.InHW)))
}

func (c *Channel) pushNomem(idx int, t *Task) {
	t.State = TaskNomem
	c.nomem[idx] = append(c.nomem[idx], t)
}

// handleFailed is the Poller's onFailed callback: a fusion parent's failure
// unfuses its merged sibling and re-queues it standalone (spec §8 invariant
// 5: "if P fails, C's merged flag is cleared and C is re-submitted").
func (c *Channel) handleFailed(idx int, t *Task, _ error) {
	if t.MergedSibling == nil {
		return
	}
	child := UnfuseOnFailure(t)
	if child == nil {
		return
	}
	c.removeMerged(child)
	child.QP = t.QP
	c.pushNomem(idx, child)
}

// Poll drains one round of completions from every QP of every device this
// channel owns, triggers QP Recovery on QPs that drained to idle after an
// error, and resubmits whatever the nomem queue can now afford. Meant to be
// called in a tight loop by the channel's owning thread (spec §5
// "Suspension points: None; all operations are non-blocking polling").
func (c *Channel) Poll() {
	for i, dev := range c.devices {
		for _, qp := range dev.router.AllQPs() {
			if qp.Recovering {
				// Cooperative retry: spec §4.6 step 4's "re-arm a 10 ms retry
				// poller" becomes "try again on the channel's next tick",
				// matching the teacher's EOPNOTSUPP-retry loop in its
				// stub runner rather than introducing a timer goroutine that
				// would violate the single-threaded, lock-free fast path.
				c.recoveries[i].Trigger(qp, c.nomem[i])
				continue
			}

			_, hadError, err := c.pollers[i].Poll(qp)
			if err != nil {
				continue
			}
			if hadError {
				c.recoveries[i].Trigger(qp, c.nomem[i])
			}
		}
		c.resubmitNomem(i, dev)
	}
}

// resubmitNomem implements resubmit_nomem_tasks (spec §4.6/state diagram
// "NOMEM -> RESOURCES_READY when drained"): re-runs every parked task that
// isn't still pinned to a recovering QP.
func (c *Channel) resubmitNomem(idx int, dev *deviceContext) {
	pending := c.nomem[idx]
	if len(pending) == 0 {
		return
	}
	c.nomem[idx] = nil
	for _, t := range pending {
		if t.QP == nil || t.QP.Recovering {
			c.nomem[idx] = append(c.nomem[idx], t)
			continue
		}
		t.State = TaskResourcesReady
		c.runTask(idx, dev, t.QP, t)
	}
}

// HandleDomainDeleted fans out a memory-domain deletion notification to
// every device's Recovery (spec §4.7).
func (c *Channel) HandleDomainDeleted(domain interface{}) {
	for _, rec := range c.recoveries {
		rec.HandleDomainDeleted(domain)
	}
}
