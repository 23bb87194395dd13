package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "pirelay"

// Topics builds the relay's MQTT topic names under a common prefix.
//
//	topics := mqtt.NewTopics("pirelay")
//	topics.State()        // "pirelay/state"
//	topics.AuditEvents()  // "pirelay/events/audit"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// State is the retained topic carrying the authoritative LED state.
func (t Topics) State() string {
	return t.join("state")
}

// AuditEvents carries every audit event as it is appended.
func (t Topics) AuditEvents() string {
	return t.join("events", "audit")
}

// Command is the inbound topic for system commands.
func (t Topics) Command() string {
	return t.join("command")
}

// SystemStatus carries the relay's online/offline status and its last will.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// All matches every relay topic.
func (t Topics) All() string {
	return t.join("#")
}
