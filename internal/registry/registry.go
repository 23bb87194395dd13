// Package registry tracks the live bidirectional channels connected to the
// relay and the device descriptor each one registered with.
//
// It is purely in-memory. Every read returns a snapshot copy so callers can
// fan out without holding the registry lock.
package registry

import (
	"maps"
	"sync"
)

// Sender delivers an encoded frame to one channel. Send must not block; it
// reports false when the frame was dropped (closed channel or full buffer).
type Sender interface {
	Send(frame []byte) bool
}

// Descriptor is free-form device metadata supplied at registration.
type Descriptor map[string]any

// Peer is a channel selected for fan-out.
type Peer struct {
	ChannelID string
	Sender    Sender
}

// channel is the registry's view of one live connection.
type channel struct {
	sender     Sender
	descriptor Descriptor // nil until the channel registers
	live       bool
}

// Registry owns every Channel. The zero value is not usable; call New.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		channels: make(map[string]*channel),
	}
}

// Attach records a newly established channel. It is live but has no
// descriptor until Register is called. Attaching an existing id replaces its
// sender and keeps its descriptor.
func (r *Registry) Attach(channelID string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[channelID]; ok {
		ch.sender = sender
		ch.live = true
		return
	}
	r.channels[channelID] = &channel{sender: sender, live: true}
}

// Register records or overwrites the descriptor for a channel and marks it
// live. The descriptor is copied. Registering an id that was never attached
// creates an entry without a sender; it is listed but receives no fan-out.
func (r *Registry) Register(channelID string, descriptor Descriptor) {
	copied := make(Descriptor, len(descriptor))
	maps.Copy(copied, descriptor)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[channelID]; ok {
		ch.descriptor = copied
		ch.live = true
		return
	}
	r.channels[channelID] = &channel{descriptor: copied, live: true}
}

// Remove deletes a channel. Unknown ids are a no-op.
func (r *Registry) Remove(channelID string) {
	r.mu.Lock()
	delete(r.channels, channelID)
	r.mu.Unlock()
}

// ListActive returns a snapshot of every live, registered descriptor. Each
// entry carries socketId and connected alongside what the device sent.
// Order is unspecified.
func (r *Registry) ListActive() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.channels))
	for id, ch := range r.channels {
		if !ch.live || ch.descriptor == nil {
			continue
		}
		d := make(Descriptor, len(ch.descriptor)+2)
		maps.Copy(d, ch.descriptor)
		d["socketId"] = id
		d["connected"] = true
		out = append(out, d)
	}
	return out
}

// Peers returns every live channel with a sender except excludeID. An empty
// excludeID selects all channels.
func (r *Registry) Peers(excludeID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.channels))
	for id, ch := range r.channels {
		if id == excludeID || !ch.live || ch.sender == nil {
			continue
		}
		out = append(out, Peer{ChannelID: id, Sender: ch.sender})
	}
	return out
}

// Descriptor returns a copy of the descriptor registered on channelID.
func (r *Registry) Descriptor(channelID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[channelID]
	if !ok || ch.descriptor == nil {
		return nil, false
	}
	d := make(Descriptor, len(ch.descriptor))
	maps.Copy(d, ch.descriptor)
	return d, true
}

// Has reports whether channelID is currently tracked.
func (r *Registry) Has(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelID]
	return ok
}

// Count returns the number of tracked channels, registered or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
