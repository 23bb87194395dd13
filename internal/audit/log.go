package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pi-relay/internal/geo"
)

// DefaultCapacity is the number of events retained by a Log.
const DefaultCapacity = 100

// Resolver turns a client address into a location. Implementations must not fail.
type Resolver interface {
	Resolve(ctx context.Context, address string) geo.Location
}

// Observer is called with every appended event.
type Observer func(Event)

// Log is the bounded in-memory audit trail.
//
// Thread Safety: all methods are safe for concurrent use. Insertion and
// eviction happen in one critical section, so the retained set is always
// the most recent Capacity events.
type Log struct {
	mu       sync.RWMutex
	events   []Event // oldest first
	capacity int
	resolver Resolver

	obsMu     sync.RWMutex
	observers []Observer

	now func() time.Time
}

// NewLog creates an audit log. capacity <= 0 selects DefaultCapacity.
// A nil resolver leaves dashboard events without a location.
func NewLog(capacity int, resolver Resolver) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		resolver: resolver,
		now:      time.Now,
	}
}

// AddObserver registers fn to be called after each append.
func (l *Log) AddObserver(fn Observer) {
	if fn == nil {
		return
	}
	l.obsMu.Lock()
	l.observers = append(l.observers, fn)
	l.obsMu.Unlock()
}

// Append records a state change and returns the stored event.
//
// Location is resolved only for dashboard events carrying an IP. That lookup
// may block up to the resolver's timeout and runs before the lock is taken.
func (l *Log) Append(ctx context.Context, command string, source Source, md Metadata) Event {
	ev := Event{
		ID:      uuid.NewString(),
		Command: command,
		Source:  source,
	}

	if source == SourceDashboard && md.IP != "" && l.resolver != nil {
		loc := l.resolver.Resolve(ctx, md.IP)
		ev.Location = &loc
	}

	if md.UserAgent != "" {
		client := ClassifyUserAgent(md.UserAgent)
		md.Browser = client.Browser
		mobile := client.Mobile
		md.IsMobile = &mobile
	}
	if !md.isEmpty() {
		stored := md
		ev.Metadata = &stored
	}

	l.mu.Lock()
	ev.Timestamp = l.now().UTC()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.capacity-1]
	}
	l.events = append(l.events, ev)
	l.mu.Unlock()

	l.obsMu.RLock()
	observers := l.observers
	l.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ev.clone())
	}

	return ev.clone()
}

// List returns the retained events most-recent-first and their count.
func (l *Log) List() ([]Event, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	for i, ev := range l.events {
		out[len(l.events)-1-i] = ev.clone()
	}
	return out, len(out)
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Capacity returns the maximum number of retained events.
func (l *Log) Capacity() int {
	return l.capacity
}
