package audit

import (
	"time"

	"github.com/nerrad567/pi-relay/internal/geo"
)

// Source identifies who caused a state change.
type Source string

// Known event sources.
const (
	SourceDevice    Source = "device"
	SourceDashboard Source = "dashboard"
	SourceSystem    Source = "system"
)

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	switch s {
	case SourceDevice, SourceDashboard, SourceSystem:
		return true
	}
	return false
}

// Metadata describes the client behind a change.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	IsMobile  *bool  `json:"isMobile,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
}

func (m Metadata) isEmpty() bool {
	return m.IP == "" && m.UserAgent == "" && m.Browser == "" && m.IsMobile == nil && m.DeviceID == ""
}

// Event is a single audit trail entry.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Command   string        `json:"command"`
	Source    Source        `json:"source"`
	Location  *geo.Location `json:"location,omitempty"`
	Metadata  *Metadata     `json:"metadata,omitempty"`
}

// clone returns a copy that shares no pointers with e.
func (e Event) clone() Event {
	out := e
	if e.Location != nil {
		loc := *e.Location
		out.Location = &loc
	}
	if e.Metadata != nil {
		md := *e.Metadata
		if e.Metadata.IsMobile != nil {
			mobile := *e.Metadata.IsMobile
			md.IsMobile = &mobile
		}
		out.Metadata = &md
	}
	return out
}
