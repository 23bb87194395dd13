package state

import (
	"sync"
	"time"
)

// Reconciler holds the authoritative current value.
//
// It starts as Unknown and is only mutated through Propose. The last accepted
// proposal wins regardless of source; there is no source priority.
type Reconciler struct {
	mu        sync.Mutex
	current   Value
	updatedAt time.Time
	now       func() time.Time
}

// NewReconciler creates a reconciler initialised to Unknown.
func NewReconciler() *Reconciler {
	return &Reconciler{
		current: Unknown,
		now:     time.Now,
	}
}

// Current returns the authoritative value.
func (r *Reconciler) Current() Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Snapshot returns the authoritative value and when it last changed.
// The time is zero until the first change.
func (r *Reconciler) Snapshot() (Value, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.updatedAt
}

// Propose atomically compares v against the stored value. If they differ, v
// becomes the new value and changed is true. If they are equal nothing is
// mutated and changed is false. previous is the value held before the call in
// both cases.
//
// Invalid values are stored like any other; validation belongs to the
// boundary (ParseValue, ParseCommand).
func (r *Reconciler) Propose(v Value) (changed bool, previous Value) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.current
	if v == previous {
		return false, previous
	}
	r.current = v
	r.updatedAt = r.now().UTC()
	return true, previous
}
