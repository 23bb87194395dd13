// Package capture holds the most recent photo reported by any device.
package capture

import (
	"encoding/json"
	"sync"
	"time"
)

// Photo is a captured image as reported by a device.
//
// Data and Timestamp are kept exactly as received; the relay never decodes
// the image or reinterprets the device's clock.
type Photo struct {
	Data       json.RawMessage
	Timestamp  json.RawMessage
	DeviceID   string
	ReceivedAt time.Time
}

// Store holds at most one Photo. The zero value is ready to use.
type Store struct {
	mu     sync.RWMutex
	latest *Photo
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set replaces the stored photo. ReceivedAt is stamped if unset.
func (s *Store) Set(p Photo) {
	if p.ReceivedAt.IsZero() {
		now := time.Now
		if s.now != nil {
			now = s.now
		}
		p.ReceivedAt = now().UTC()
	}
	p.Data = cloneRaw(p.Data)
	p.Timestamp = cloneRaw(p.Timestamp)

	s.mu.Lock()
	s.latest = &p
	s.mu.Unlock()
}

// Latest returns the stored photo and whether one exists.
func (s *Store) Latest() (Photo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Photo{}, false
	}
	return *s.latest, true
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
