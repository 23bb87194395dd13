package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pi-relay/internal/audit"
)

// Measurement names.
const (
	MeasurementState   = "led_state"
	MeasurementCommand = "relay_commands"
	MeasurementCapture = "captures"
)

// stateLevel maps a state name to a numeric field so changes graph as a step line.
func stateLevel(command string) int {
	switch command {
	case "on":
		return 1
	case "off":
		return 0
	}
	return -1
}

// WriteStateChange records an audit event as a led_state point stamped
// with the event's own time. It has the shape of an audit.Observer.
//
// Device identifiers may be per-connection ids, so they are stored as a
// field rather than a tag.
func (c *Client) WriteStateChange(ev audit.Event) {
	tags := map[string]string{
		"source": string(ev.Source),
	}
	fields := map[string]interface{}{
		"state":    ev.Command,
		"level":    stateLevel(ev.Command),
		"event_id": ev.ID,
	}
	if ev.Metadata != nil {
		if ev.Metadata.DeviceID != "" {
			fields["device_id"] = ev.Metadata.DeviceID
		}
		if ev.Metadata.Browser != "" {
			tags["browser"] = ev.Metadata.Browser
		}
	}
	if ev.Location != nil && ev.Location.CountryCode != "" {
		tags["country"] = ev.Location.CountryCode
	}

	c.WritePointWithTime(MeasurementState, tags, fields, ev.Timestamp)
}

// CommandIssued counts an accepted command, whether or not it changed state.
func (c *Client) CommandIssued(command string, source audit.Source) {
	c.WritePoint(MeasurementCommand,
		map[string]string{"command": command, "source": string(source)},
		map[string]interface{}{"count": 1},
	)
}

// CaptureReceived records the size of a stored photo.
func (c *Client) CaptureReceived(deviceID string, size int) {
	c.WritePoint(MeasurementCapture, nil, map[string]interface{}{
		"bytes":     size,
		"device_id": deviceID,
	})
}

// WritePoint writes a point stamped now. Keep tags low-cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. Writes on a
// closed client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
