package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/pi-relay/internal/audit"
)

// commandTimeout bounds a single inbound system command.
const commandTimeout = 5 * time.Second

// Publisher is the part of Client the mirror needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StateMessage is the retained payload on the state topic.
type StateMessage struct {
	Status    string       `json:"status"`
	Source    audit.Source `json:"source"`
	EventID   string       `json:"eventId"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Mirror republishes audit events to the broker.
type Mirror struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger Logger
}

// NewMirror creates a mirror publishing through pub.
func NewMirror(pub Publisher, topics Topics, qos byte) *Mirror {
	return &Mirror{pub: pub, topics: topics, qos: qos}
}

// SetLogger sets the logger used for publish failures.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// Observe publishes ev to the audit topic and the new state, retained, to
// the state topic. It has the shape of an audit.Observer. Publish errors
// are logged; the broker is best effort.
func (m *Mirror) Observe(ev audit.Event) {
	state, err := json.Marshal(StateMessage{
		Status:    ev.Command,
		Source:    ev.Source,
		EventID:   ev.ID,
		UpdatedAt: ev.Timestamp,
	})
	if err == nil {
		err = m.pub.Publish(m.topics.State(), state, m.qos, true)
	}
	m.report(m.topics.State(), err)

	event, err := json.Marshal(ev)
	if err == nil {
		err = m.pub.Publish(m.topics.AuditEvents(), event, m.qos, false)
	}
	m.report(m.topics.AuditEvents(), err)
}

func (m *Mirror) report(topic string, err error) {
	if err != nil && m.logger != nil {
		m.logger.Warn("MQTT mirror publish failed", "topic", topic, "error", err)
	}
}

// CommandFunc applies a system command such as "on" or "off".
type CommandFunc func(ctx context.Context, command string) error

type commandMessage struct {
	Command string `json:"command"`
}

// CommandHandler decodes messages on the command topic and hands them to
// fn. Payloads may be JSON ({"command":"on"}) or a bare word.
func CommandHandler(fn CommandFunc) MessageHandler {
	return func(_ string, payload []byte) error {
		command, err := parseCommand(payload)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return fn(ctx, command)
	}
}

func parseCommand(payload []byte) (string, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if payload[0] != '{' {
		return strings.TrimSpace(string(payload)), nil
	}
	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.Command == "" {
		return "", fmt.Errorf("%w: missing command", ErrInvalidPayload)
	}
	return msg.Command, nil
}
