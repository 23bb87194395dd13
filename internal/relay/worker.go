package relay

import (
	"context"
	"fmt"

	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/state"
)

// auditJob is one queued append. A job with a non-nil flushed channel is a
// barrier: the worker closes it once every earlier job has been applied.
type auditJob struct {
	command string
	source  audit.Source
	md      audit.Metadata
	flushed chan struct{}
}

// Start launches the audit worker. It runs until ctx is cancelled or Close
// is called, then drains what is already queued. Calling Start twice is a no-op.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.drainAudit(workerCtx, r.done)
}

// Close stops the audit worker after draining the queue.
func (r *Router) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Flush blocks until every audit entry queued before the call is applied.
// It returns at once if the worker has already drained and exited.
func (r *Router) Flush(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return fmt.Errorf("flushing audit queue: worker not started")
	}

	barrier := make(chan struct{})
	r.qmu.Lock()
	r.pending = append(r.pending, auditJob{flushed: barrier})
	r.qmu.Unlock()
	r.signal()

	select {
	case <-barrier:
		return nil
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing audit queue: %w", ctx.Err())
	}
}

// propose runs the reconciler compare-and-set and, on a change, queues job
// in the same critical section, so queue order is reconciler order.
// The queue is unbounded; callers never block on enrichment.
func (r *Router) propose(v state.Value, job auditJob) (bool, state.Value) {
	r.qmu.Lock()
	changed, previous := r.state.Propose(v)
	backlog := 0
	if changed {
		job.command = v.String()
		r.pending = append(r.pending, job)
		if len(r.pending) >= r.backlogWarn && !r.warned {
			r.warned = true
			backlog = len(r.pending)
		}
	}
	r.qmu.Unlock()

	if changed {
		r.signal()
	}
	if backlog > 0 {
		r.logger.Warn("audit backlog growing", "pending", backlog, "threshold", r.backlogWarn)
	}
	return changed, previous
}

// signal wakes the worker without blocking.
func (r *Router) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drainAudit applies queued jobs serially until ctx is cancelled, then
// drains remaining entries before exiting.
func (r *Router) drainAudit(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-r.wake:
			r.applyPending()
		case <-ctx.Done():
			r.applyPending()
			return
		}
	}
}

// applyPending takes batches off the queue until it is empty.
func (r *Router) applyPending() {
	for {
		r.qmu.Lock()
		batch := r.pending
		r.pending = nil
		r.warned = false
		r.qmu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, job := range batch {
			r.apply(job)
		}
	}
}

// apply runs one job. Enrichment uses a fresh context because the caller's
// request has usually completed by now.
func (r *Router) apply(job auditJob) {
	if job.flushed != nil {
		close(job.flushed)
		return
	}
	ev := r.audit.Append(context.Background(), job.command, job.source, job.md)
	r.logger.Debug("audit event recorded", "id", ev.ID, "command", ev.Command, "source", string(ev.Source))
}
