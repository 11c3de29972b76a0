package conduit

import "errors"

// ErrTabClosed is returned by operations on a closed tab.
var ErrTabClosed = errors.New("conduit: tab closed")

// MessageType classifies a conduit payload.
type MessageType string

const (
	CodeFragment   MessageType = "CODE_FRAGMENT"
	ElementData    MessageType = "ELEMENT_DATA"
	RawInstruction MessageType = "RAW_INSTRUCTION"
	SystemReport   MessageType = "SYSTEM_REPORT"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case CodeFragment, ElementData, RawInstruction, SystemReport:
		return true
	}
	return false
}

// Color tags a message for display.
type Color string

const (
	Blue    Color = "Blue"
	Yellow  Color = "Yellow"
	Red     Color = "Red"
	Green   Color = "Green"
	Purple  Color = "Purple"
	Grey    Color = "Grey"
	Unknown Color = "Unknown"
	Orange  Color = "Orange"
)

// Metadata is the hyperbit annotation carried by every message.
type Metadata struct {
	Base    float64 `json:"BASE"`
	Energy  float64 `json:"ENERGY"`
	Color   Color   `json:"COLOR"`
	Context string  `json:"CONTEXT,omitempty"`
}

// DefaultContext annotates messages sent without an explicit context.
const DefaultContext = "automatic send by Nexus system"

// DefaultMetadata returns the metadata applied before overrides.
func DefaultMetadata() Metadata {
	return Metadata{Base: 0.5, Energy: 0.5, Color: Grey, Context: DefaultContext}
}

// Overrides replaces individual metadata fields. Nil or empty fields keep the
// default.
type Overrides struct {
	Base    *float64 `json:"BASE,omitempty"`
	Energy  *float64 `json:"ENERGY,omitempty"`
	Color   Color    `json:"COLOR,omitempty"`
	Context *string  `json:"CONTEXT,omitempty"`
}

// Apply merges o over m.
func (o *Overrides) Apply(m Metadata) Metadata {
	if o == nil {
		return m
	}
	if o.Base != nil {
		m.Base = *o.Base
	}
	if o.Energy != nil {
		m.Energy = *o.Energy
	}
	if o.Color != "" {
		m.Color = o.Color
	}
	if o.Context != nil {
		m.Context = *o.Context
	}
	return m
}

// Message is one conduit log entry. Payload holds the JSON encoding of the
// value that was sent.
type Message struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	SenderID  string      `json:"senderId"`
	Type      MessageType `json:"type"`
	Payload   string      `json:"payload"`
	Hyperbit  Metadata    `json:"hyperbit"`
	SourceURL string      `json:"sourceUrl"`
}

// Synthetic clear notification delivered to listeners when the log is wiped.
const (
	ClearMessageID = "clear"
	SystemSender   = "system"
	clearPayload   = `"cleared"`
)

// ClearMessage builds the notification delivered after a clear.
func ClearMessage(ts int64) Message {
	return Message{
		ID:        ClearMessageID,
		Timestamp: ts,
		SenderID:  SystemSender,
		Type:      RawInstruction,
		Payload:   clearPayload,
		Hyperbit:  DefaultMetadata(),
	}
}

// IsClear reports whether m is the synthetic clear notification.
func (m Message) IsClear() bool {
	return m.ID == ClearMessageID && m.SenderID == SystemSender
}

// MetricsSink receives conduit activity.
type MetricsSink interface {
	RecordConduitSend(msgType string)
	RecordConduitReconcile(delivered int)
}

type nopMetrics struct{}

func (nopMetrics) RecordConduitSend(string)   {}
func (nopMetrics) RecordConduitReconcile(int) {}
