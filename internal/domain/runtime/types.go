package runtime

import "strings"

// HealthStatus is the status carried by a health signal.
type HealthStatus string

const (
	HealthOK    HealthStatus = "OK"
	HealthError HealthStatus = "ERROR"
)

// HealthCheckType is the message type posted by the health monitor.
const HealthCheckType = "NEXUS_HEALTH_CHECK"

// HealthSignal is one report from the running document. Epoch is empty for
// signals that cannot be attributed to a render.
type HealthSignal struct {
	Type   string       `json:"type"`
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
	Epoch  string       `json:"epoch,omitempty"`
}

// Valid reports whether s is a well-formed health check.
func (s HealthSignal) Valid() bool {
	if s.Type != "" && s.Type != HealthCheckType {
		return false
	}
	return s.Status == HealthOK || s.Status == HealthError
}

// HealthChannel delivers health signals to subscribers.
type HealthChannel interface {
	Subscribe(fn func(HealthSignal)) (unsubscribe func())
}

// ElementSelectedType is the message type posted by the inspector.
const ElementSelectedType = "ELEMENT_SELECTED"

// ElementSelection describes an element picked in inspect mode.
type ElementSelection struct {
	TagName  string `json:"tagName"`
	HTML     string `json:"html"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// Normalize trims the fields and upper-cases the tag name.
func (e ElementSelection) Normalize() ElementSelection {
	e.TagName = strings.ToUpper(strings.TrimSpace(e.TagName))
	e.Selector = strings.TrimSpace(e.Selector)
	return e
}
