package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// QP is a send queue of fixed depth, tracking outstanding WRs and the FIFO
// of tasks with at least one signaled WR on the wire.
type QP struct {
	Handle nic.QPHandle

	dev *deviceContext

	MaxWrs       int
	WrsSubmitted int
	TxAvailable  int

	InHW []*Task

	Domain     interface{} // identity key for the domain->QP map; nil for default QP
	Recovering bool

	wridCounter uint64

	wr *wrBuilder
}

// FreeSlots returns the WR capacity not currently charged to an in-flight
// task, the "free QP slots" the sizing functions (sizeCopy, sizeCrypto)
// clamp num_ops against.
func (q *QP) FreeSlots() int {
	return q.MaxWrs - q.WrsSubmitted
}

// ChargeWRs reserves n WR slots against the QP for a task about to submit.
func (q *QP) ChargeWRs(n int) {
	q.WrsSubmitted += n
	q.TxAvailable -= n
}

// ReleaseWRs returns n previously charged WR slots, called as completions
// are reaped (spec invariant 2: wrs_submitted == sum of in-flight tasks'
// remaining WRs).
func (q *QP) ReleaseWRs(n int) {
	q.WrsSubmitted -= n
	q.TxAvailable += n
	if q.wr != nil {
		q.wr.release(n)
	}
}

// NextWRID returns a fresh, QP-scoped write-request id used as the stable
// marker on a task's final signaled WR (spec §4.4 step 7). Single-threaded
// per channel, so a plain counter is sufficient (§5: no locking on the fast
// path).
func (q *QP) NextWRID() uint64 {
	q.wridCounter++
	return q.wridCounter
}

// newQP creates a QP against dev via the nic.Device, with tx_available
// initialized to the full send-queue depth.
func newQP(dev *deviceContext, maxWrs int, domain interface{}) (*QP, error) {
	h, err := dev.nic.CreateQP(maxWrs)
	if err != nil {
		return nil, err
	}
	qp := &QP{Handle: h, dev: dev, MaxWrs: maxWrs, TxAvailable: maxWrs, Domain: domain}
	qp.wr = newWRBuilder(dev, qp, maxWrs)
	return qp, nil
}

// PushInHW appends a task to the QP's in_hw FIFO, its single point of
// submission-order tracking.
func (q *QP) PushInHW(t *Task) {
	q.InHW = append(q.InHW, t)
}

// PopInHWUpTo pops tasks from the head of in_hw up to and including the
// task matching wrid, returning the popped slice. Used by the CQ poller's
// strict-FIFO and signal-last dispatch.
func (q *QP) PopInHWUpTo(wrid uint64) []*Task {
	for i, t := range q.InHW {
		if t.WriteWRID == wrid {
			popped := q.InHW[:i+1]
			q.InHW = q.InHW[i+1:]
			return popped
		}
	}
	return nil
}

// QPRouter is a per-device map from memory-domain handle identity to a
// dedicated QP, plus a default QP used when no domain is bound.
type QPRouter struct {
	dev       *deviceContext
	qpSize    int
	qpPerDomain bool

	defaultQP *QP
	byDomain  map[interface{}]*QP
}

func newQPRouter(dev *deviceContext, qpSize int, qpPerDomain bool) *QPRouter {
	return &QPRouter{dev: dev, qpSize: qpSize, qpPerDomain: qpPerDomain, byDomain: make(map[interface{}]*QP)}
}

// Route returns the QP a task should bind to: the domain-specific QP
// (created lazily) if qp_per_domain is set and the task carries a domain,
// else the device's default QP (created lazily on first use).
func (r *QPRouter) Route(domain MemoryDomain) (*QP, error) {
	if r.qpPerDomain && domain != nil {
		if qp, ok := r.byDomain[domain]; ok {
			return qp, nil
		}
		qp, err := newQP(r.dev, r.qpSize, domain)
		if err != nil {
			return nil, err
		}
		r.byDomain[domain] = qp
		return qp, nil
	}

	if r.defaultQP == nil {
		qp, err := newQP(r.dev, r.qpSize, nil)
		if err != nil {
			return nil, err
		}
		r.defaultQP = qp
	}
	return r.defaultQP, nil
}

// RemoveDomain removes a domain-indexed QP from the router, called once
// its domain is invalidated or it is destroyed during recovery.
func (r *QPRouter) RemoveDomain(domain interface{}) {
	delete(r.byDomain, domain)
}

// AllQPs returns every QP the router currently owns (default plus
// domain-indexed), used by domain-deletion fan-out and stats collection.
func (r *QPRouter) AllQPs() []*QP {
	qps := make([]*QP, 0, len(r.byDomain)+1)
	if r.defaultQP != nil {
		qps = append(qps, r.defaultQP)
	}
	for _, qp := range r.byDomain {
		qps = append(qps, qp)
	}
	return qps
}
