package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried on the channel protocol.
const (
	EventRegister      = "register_pi"
	EventLEDStatus     = "led_status"
	EventPhotoData     = "photo_data"
	EventPhotoError    = "photo_error"
	EventPhotoUpdate   = "photo_update"
	EventLEDCommand    = "led_command"
	EventCameraCommand = "camera_command"
)

// Frame types.
const (
	FrameTypeEvent = "event"
	FrameTypePing  = "ping"
	FrameTypePong  = "pong"
	FrameTypeError = "error"
)

// CaptureCommand is the only camera instruction.
const CaptureCommand = "take_photo"

// Frame is the envelope of every message on a channel.
type Frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame builds a frame of the given type. payload may be a
// json.RawMessage, which is embedded as-is, or any marshalable value.
func EncodeFrame(frameType, id, eventType string, payload any) ([]byte, error) {
	f := Frame{
		Type:      frameType,
		ID:        id,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		f.Payload = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		f.Payload = raw
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", eventType, err)
	}
	return data, nil
}

// EncodeEvent builds an event frame.
func EncodeEvent(eventType string, payload any) ([]byte, error) {
	return EncodeFrame(FrameTypeEvent, "", eventType, payload)
}

// statusPayload is the part of a led_status body the relay inspects.
type statusPayload struct {
	Status   string `json:"status"`
	PiID     string `json:"piId"`
	DeviceID string `json:"deviceId"`
}

// photoPayload is a photo_data body.
type photoPayload struct {
	PiID      string          `json:"piId"`
	DeviceID  string          `json:"deviceId"`
	Timestamp json.RawMessage `json:"timestamp"`
	Photo     json.RawMessage `json:"photo"`
}

// photoUpdate announces a new capture without its image data.
type photoUpdate struct {
	PiID      string          `json:"piId"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ledCommand instructs devices to drive the LED.
type ledCommand struct {
	Command string `json:"command"`
}

// cameraCommand instructs devices to capture.
type cameraCommand struct {
	Command string `json:"command"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
