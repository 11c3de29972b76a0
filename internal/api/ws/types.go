package ws

import (
	"encoding/json"
	"time"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
)

// Frame types. Health checks and element selections use the runtime's own
// message type names.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSystem         = "system"
	TypeError          = "error"
	TypeSupervisor     = "supervisor"
	TypeBoundary       = "boundary"
	TypeConduitSend    = "conduit_send"
	TypeConduitSync    = "conduit_sync"
	TypeConduitMessage = "conduit_message"
	TypeConduitClear   = "conduit_clear"
)

// Frame is the envelope of every outbound message.
type Frame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewFrame builds a frame stamped with the current time.
func NewFrame(typ, message string, data any) Frame {
	return Frame{Type: typ, Message: message, Data: data, Timestamp: time.Now().Unix()}
}

func errorFrame(msg string) Frame {
	return NewFrame(TypeError, msg, nil)
}

// Inbound is a frame sent by the shell. Which fields are set depends on Type.
type Inbound struct {
	Type string `json:"type"`

	// NEXUS_HEALTH_CHECK
	Status runtime.HealthStatus `json:"status,omitempty"`
	Error  string               `json:"error,omitempty"`
	Epoch  string               `json:"epoch,omitempty"`

	// ELEMENT_SELECTED and conduit_send
	Payload json.RawMessage `json:"payload,omitempty"`

	// conduit_send
	MessageType conduit.MessageType `json:"messageType,omitempty"`
	Hyperbit    *conduit.Overrides  `json:"hyperbit,omitempty"`
}

// Welcome is the data of the first system frame.
type Welcome struct {
	Tab        string              `json:"tab"`
	Epoch      string              `json:"epoch"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

// SyncResult answers conduit_sync.
type SyncResult struct {
	Delivered int `json:"delivered"`
}
