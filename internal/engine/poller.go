package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/constants"
	"github.com/behrlich/go-mlx5accel/internal/logging"
	"github.com/behrlich/go-mlx5accel/internal/wire"
)

// Poller drains a device's CQ and dispatches each completion against the
// owning QP's in_hw FIFO, per spec §4.2 "CQ Poller". One Poller serves every
// QP a deviceContext's router hands out; Poll is called once per QP per
// channel tick.
type Poller struct {
	dev *deviceContext

	// onNomem is invoked whenever a partially-drained task's cont call
	// reports resource exhaustion, so the channel can park it on its nomem
	// queue for a later retry (spec §4.7 "merged"/"nomem" queues).
	onNomem func(t *Task)

	// onFailed is invoked after a task transitions to FAILED from within
	// the poller (WR error or unsupported opcode), so the channel can
	// detach and resubmit a fused sibling. QP Recovery is driven separately,
	// from Poll's hadError result.
	onFailed func(t *Task, err error)
}

// newPoller creates a Poller bound to dev, with onNomem/onFailed callbacks
// the owning channel supplies (either may be nil).
func newPoller(dev *deviceContext, onNomem func(*Task), onFailed func(*Task, error)) *Poller {
	return &Poller{dev: dev, onNomem: onNomem, onFailed: onFailed}
}

// Poll drains up to constants.MaxWC CQEs from qp's device and advances
// every task they resolve. It returns the number of CQEs reaped and whether
// any task was failed by a WR error, flush errors included (the signal the
// channel uses to trigger QP Recovery).
func (p *Poller) Poll(qp *QP) (reaped int, hadError bool, err error) {
	var buf [constants.MaxWC]wire.CQE
	n, err := p.dev.nic.PollCQ(buf[:])
	if err != nil {
		return 0, false, err
	}
	p.dev.observer.ObservePoll(uint32(n))

	for i := 0; i < n; i++ {
		cqe := buf[i]

		// Signature error: resolve the MKey id to its pool entry and latch
		// sigerr. Not a task failure by itself — the paired WR CQE follows
		// (spec §4.2 "classify").
		if cqe.Status == wire.CQEStatusSigErr {
			p.dev.sigMKeys.MarkSigErr(cqe.MKeyID)
			continue
		}

		// Every CQE the simulated device emits corresponds to a signaled
		// WR (it never queues completions for unsignaled WRs); a real
		// ibverbs-backed Device would instead filter by wr_id's high bit
		// here, per spec §4.2's "unsignaled error — ignore" classification.
		popped := qp.PopInHWUpTo(cqe.WRID)
		if len(popped) == 0 {
			continue
		}

		if p.dev.siglast {
			if p.dispatchSiglast(qp, cqe, popped) {
				hadError = true
			}
		} else {
			if p.dispatchStrictFIFO(qp, cqe, popped) {
				hadError = true
			}
		}
	}

	return n, hadError, nil
}

// dispatchSiglast implements accel_mlx5_process_cpls_siglast: only the
// round's final WR carries a CQE, so every task but the last in popped is
// taken on faith as successful (its WRs shared the same doorbell ring as
// the one CQE actually tells us about) and only the terminal task's status
// is inspected.
func (p *Poller) dispatchSiglast(qp *QP, cqe wire.CQE, popped []*Task) bool {
	hadError := false
	for j, t := range popped {
		qp.ReleaseWRs(t.roundWrs)
		isTerminal := j == len(popped)-1
		if isTerminal && cqe.Status != wire.CQEStatusOK {
			hadError = true
			p.failFromCQE(t, cqe)
			continue
		}
		p.advance(qp, t)
	}
	return hadError
}

// dispatchStrictFIFO implements accel_mlx5_process_cpls: every task's round
// ends in its own signaled WR, so each task is expected to own exactly the
// CQE that drained it. A batch larger than one here means an earlier round's WR never
// produced its own CQE, which strict mode treats as a lost completion
// rather than silently inferring success for it.
func (p *Poller) dispatchStrictFIFO(qp *QP, cqe wire.CQE, popped []*Task) bool {
	hadError := false
	if len(popped) > 1 {
		logging.Default().Warn("strict fifo: multiple tasks drained by one cqe, missing intermediate completions",
			"count", len(popped), "wrid", cqe.WRID)
	}
	for j, t := range popped {
		qp.ReleaseWRs(t.roundWrs)
		last := j == len(popped)-1
		if !last {
			// No CQE of its own ever arrived for this task; strict mode
			// cannot vouch for it and fails it rather than assume success.
			hadError = true
			p.failFromCQE(t, wire.CQE{WRID: t.WriteWRID, Status: wire.CQEStatusWRFlushErr})
			continue
		}
		if cqe.Status != wire.CQEStatusOK {
			hadError = true
			p.failFromCQE(t, cqe)
			continue
		}
		p.advance(qp, t)
	}
	return hadError
}

// failFromCQE logs and fails t per cqe's status, the error path shared by
// both dispatch flavors.
func (p *Poller) failFromCQE(t *Task, cqe wire.CQE) {
	if cqe.Status == wire.CQEStatusWRFlushErr {
		// Flush errors are expected during recovery; log at debug, no
		// warning (spec §4.4 "Failure semantics").
		logging.Default().Debug("wr flush error", "wrid", cqe.WRID)
	} else {
		logging.Default().Warn("wr post error", "wrid", cqe.WRID, "status", cqe.Status)
	}
	t.fail(ErrIO)
	if p.onFailed != nil {
		p.onFailed(t, ErrIO)
	}
}

// advance moves a task whose current round just drained to either
// COMPLETED (calling its opcode's complete handler) or back into
// submission (calling cont for the next round), per spec §4.4's
// "cont may re-invoke process after acquiring resources."
func (p *Poller) advance(qp *QP, t *Task) {
	t.NumCompletedReqs += t.roundReqs

	h, ok := handlersFor(t.Opcode)
	if !ok {
		t.fail(ErrUnsupportedOpcode)
		if p.onFailed != nil {
			p.onFailed(t, ErrUnsupportedOpcode)
		}
		return
	}

	if t.NumCompletedReqs >= t.NumReqs {
		h.complete(p.dev, t)
		return
	}

	t.State = TaskPartialDrained
	if err := h.cont(p.dev, qp, t); err != nil {
		if err == ErrResourceExhausted {
			t.State = TaskNomem
			if p.onNomem != nil {
				p.onNomem(t)
			}
			return
		}
		t.fail(err)
		if p.onFailed != nil {
			p.onFailed(t, err)
		}
		return
	}
	t.State = TaskInHW
}
