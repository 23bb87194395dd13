package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/capture"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/state"
)

// DefaultBacklogWarn is the pending audit count that triggers a warning
// when Deps.BacklogWarn is unset.
const DefaultBacklogWarn = 256

// Logger is the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Telemetry receives activity the audit log does not record.
// Implementations must not block.
type Telemetry interface {
	CommandIssued(command string, source audit.Source)
	CaptureReceived(deviceID string, size int)
}

// Deps holds the components the router orchestrates.
type Deps struct {
	Registry  *registry.Registry
	State     *state.Reconciler
	Audit     *audit.Log
	Captures  *capture.Store
	Telemetry Telemetry // optional
	Logger    Logger    // optional

	// BacklogWarn is the number of pending audit entries at which a
	// warning is logged. Entries are never dropped.
	BacklogWarn int
}

// CommandRequest is a state instruction from outside the device fleet.
type CommandRequest struct {
	Command   string
	DeviceID  string
	ClientIP  string
	UserAgent string
	Source    audit.Source // defaults to dashboard
}

// CommandResult reports the outcome of an accepted command.
type CommandResult struct {
	Command  state.Value
	Previous state.Value
	Changed  bool
}

// Router orchestrates events between channels and the in-memory components.
type Router struct {
	registry  *registry.Registry
	state     *state.Reconciler
	audit     *audit.Log
	captures  *capture.Store
	telemetry Telemetry
	logger    Logger

	// qmu orders reconciler changes with their audit entries.
	qmu         sync.Mutex
	pending     []auditJob
	wake        chan struct{}
	backlogWarn int
	warned      bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a router. The audit worker does not run until Start.
func New(deps Deps) (*Router, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state reconciler is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	if deps.Captures == nil {
		return nil, fmt.Errorf("capture store is required")
	}

	warn := deps.BacklogWarn
	if warn <= 0 {
		warn = DefaultBacklogWarn
	}

	r := &Router{
		registry:  deps.Registry,
		state:     deps.State,
		audit:     deps.Audit,
		captures:  deps.Captures,
		telemetry: deps.Telemetry,
		logger:    deps.Logger,

		wake:        make(chan struct{}, 1),
		backlogWarn: warn,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// ChannelOpened records a new channel as a fan-out target.
func (r *Router) ChannelOpened(channelID string, sender registry.Sender) {
	r.registry.Attach(channelID, sender)
	r.logger.Debug("channel opened", "channel_id", channelID, "channels", r.registry.Count())
}

// ChannelClosed forgets a channel. Closing an unknown channel is a no-op.
func (r *Router) ChannelClosed(channelID string) {
	if !r.registry.Has(channelID) {
		return
	}
	r.registry.Remove(channelID)
	r.logger.Debug("channel closed", "channel_id", channelID, "channels", r.registry.Count())
}

// HandleEvent routes one inbound event from channelID.
//
// Invalid payloads are dropped without side effects and reported through the
// returned error; the caller decides whether to tell the sender.
func (r *Router) HandleEvent(ctx context.Context, channelID, name string, payload json.RawMessage) error {
	switch name {
	case EventRegister:
		return r.handleRegister(channelID, payload)
	case EventLEDStatus:
		return r.handleStatus(ctx, channelID, payload)
	case EventPhotoData:
		return r.handlePhoto(channelID, payload)
	case EventPhotoError:
		r.logger.Warn("device reported capture failure", "channel_id", channelID)
		r.broadcast(channelID, EventPhotoError, payload)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func (r *Router) handleRegister(channelID string, payload json.RawMessage) error {
	var d registry.Descriptor
	if err := json.Unmarshal(payload, &d); err != nil || d == nil {
		return fmt.Errorf("%w: register body must be an object", ErrInvalidPayload)
	}
	r.registry.Register(channelID, d)
	r.logger.Info("device registered", "channel_id", channelID, "device_id", d["piId"])
	return nil
}

func (r *Router) handleStatus(_ context.Context, channelID string, payload json.RawMessage) error {
	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	v, err := state.ParseValue(p.Status)
	if err != nil {
		r.logger.Warn("dropping state notification", "channel_id", channelID, "status", p.Status)
		return err
	}

	deviceID := r.deviceID(channelID, p.PiID, p.DeviceID)
	changed, previous := r.propose(v, auditJob{
		source: audit.SourceDevice,
		md:     audit.Metadata{DeviceID: deviceID},
	})
	if changed {
		r.logger.Info("state changed by device",
			"device_id", deviceID,
			"previous", previous.String(),
			"current", v.String(),
		)
	}

	r.broadcast(channelID, EventLEDStatus, payload)
	return nil
}

func (r *Router) handlePhoto(channelID string, payload json.RawMessage) error {
	var p photoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(p.Photo) == 0 || string(p.Photo) == "null" {
		return fmt.Errorf("%w: photo is required", ErrInvalidPayload)
	}

	deviceID := r.deviceID(channelID, p.PiID, p.DeviceID)
	r.captures.Set(capture.Photo{
		Data:      p.Photo,
		Timestamp: p.Timestamp,
		DeviceID:  deviceID,
	})
	r.logger.Info("photo received", "device_id", deviceID, "bytes", len(p.Photo))
	if r.telemetry != nil {
		r.telemetry.CaptureReceived(deviceID, len(p.Photo))
	}

	r.broadcast(channelID, EventPhotoUpdate, photoUpdate{PiID: deviceID, Timestamp: p.Timestamp})
	return nil
}

// Command applies a state instruction. The command is broadcast to every
// channel before the reconciler is consulted; an audit entry is queued only
// if the authoritative value changed. Invalid commands have no side effects.
func (r *Router) Command(_ context.Context, req CommandRequest) (CommandResult, error) {
	v, err := state.ParseCommand(req.Command)
	if err != nil {
		return CommandResult{}, fmt.Errorf("%w: %q", ErrInvalidCommand, req.Command)
	}
	source := req.Source
	if source == "" {
		source = audit.SourceDashboard
	}
	if !source.IsValid() {
		return CommandResult{}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	r.broadcast("", EventLEDCommand, ledCommand{Command: v.String()})
	if r.telemetry != nil {
		r.telemetry.CommandIssued(v.String(), source)
	}

	changed, previous := r.propose(v, auditJob{
		source: source,
		md: audit.Metadata{
			DeviceID:  req.DeviceID,
			IP:        req.ClientIP,
			UserAgent: req.UserAgent,
		},
	})
	if changed {
		r.logger.Info("state changed by command",
			"source", string(source),
			"previous", previous.String(),
			"current", v.String(),
		)
	}

	return CommandResult{Command: v, Previous: previous, Changed: changed}, nil
}

// RequestCapture instructs every channel to take a photo.
func (r *Router) RequestCapture(_ context.Context, deviceID string) {
	r.logger.Info("capture requested", "device_id", deviceID)
	r.broadcast("", EventCameraCommand, cameraCommand{Command: CaptureCommand})
}

// broadcast encodes one frame and offers it to every peer except excludeID.
func (r *Router) broadcast(excludeID, event string, payload any) {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return
	}

	peers := r.registry.Peers(excludeID)
	dropped := 0
	for _, p := range peers {
		if !p.Sender.Send(frame) {
			dropped++
		}
	}
	if len(peers) > 0 {
		r.logger.Debug("broadcast sent", "event", event, "recipients", len(peers), "dropped", dropped)
	}
}

// deviceID picks the device identifier for an event: the payload's own
// identifier, then the one the channel registered with, then the channel id.
func (r *Router) deviceID(channelID string, fromPayload ...string) string {
	if id := firstNonEmpty(fromPayload...); id != "" {
		return id
	}
	if d, ok := r.registry.Descriptor(channelID); ok {
		for _, key := range []string{"piId", "deviceId"} {
			if s, ok := d[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return channelID
}

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrUnknownEvent) ||
		errors.Is(err, state.ErrInvalidValue)
}
