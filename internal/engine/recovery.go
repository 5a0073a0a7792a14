package engine

import "github.com/behrlich/go-mlx5accel/internal/logging"

// Recovery implements QP Recovery (spec §4.6): destroy+recreate a QP that
// has drained to idle after a non-flush error CQE, invalidating any cached
// lkeys the failing QP's nomem-parked tasks were holding.
type Recovery struct {
	dev *deviceContext
	log *logging.Logger
}

func newRecovery(dev *deviceContext) *Recovery {
	return &Recovery{dev: dev, log: logging.Default()}
}

// Trigger runs the recovery steps for qp if its drain precondition
// (wrs_submitted == 0 and in_hw empty) is met, returning true once the QP
// is usable again. While Trigger returns false for a domain-less (default)
// QP, the caller should re-arm a short retry poller (spec §4.6 step 4's "10
// ms retry poller") and call Trigger again; qp.Recovering stays set across
// retries so no new WRs are posted on it in the meantime.
func (r *Recovery) Trigger(qp *QP, nomemTasks []*Task) bool {
	if qp.WrsSubmitted != 0 || len(qp.InHW) != 0 {
		return false
	}

	if !qp.Recovering {
		qp.Recovering = true
		r.log.Warn("recovering qp", "device", r.dev.name, "qp", qp.Handle.ID)
		_ = r.dev.nic.DestroyQP(qp.Handle)

		for _, t := range nomemTasks {
			if t.QP == qp {
				t.LkeyCache = nil
			}
		}
	}

	if qp.Domain != nil {
		r.dev.router.RemoveDomain(qp.Domain)
		qp.Recovering = false
		r.log.Debug("domain qp retired after recovery, will recreate lazily", "device", r.dev.name)
		return true
	}

	h, err := r.dev.nic.CreateQP(qp.MaxWrs)
	if err != nil {
		r.log.Warnf("failed to recreate default qp, will retry on next tick: %v", err)
		return false
	}
	qp.Handle = h
	qp.WrsSubmitted = 0
	qp.TxAvailable = qp.MaxWrs
	qp.InHW = nil
	qp.wr = newWRBuilder(r.dev, qp, qp.MaxWrs)
	qp.Recovering = false
	r.log.Info("default qp recovered", "device", r.dev.name, "qp", qp.Handle.ID)
	return true
}

// HandleDomainDeleted implements spec §4.7: for every QP bound to domain,
// destroy it immediately if idle, else flush it to the error state and let
// the normal CQ drain path (which will trigger Trigger above) destroy it
// once it settles.
func (r *Recovery) HandleDomainDeleted(domain interface{}) {
	for _, qp := range r.dev.router.AllQPs() {
		if qp.Domain != domain {
			continue
		}
		if qp.WrsSubmitted == 0 {
			r.log.Debug("domain deleted, destroying idle qp", "device", r.dev.name, "qp", qp.Handle.ID)
			_ = r.dev.nic.DestroyQP(qp.Handle)
			r.dev.router.RemoveDomain(domain)
			continue
		}
		r.log.Debug("domain deleted, flushing busy qp to error state", "device", r.dev.name, "qp", qp.Handle.ID)
		_ = r.dev.nic.SetQPErrorState(qp.Handle)
	}
}
