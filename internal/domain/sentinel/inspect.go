package sentinel

import "strings"

// Inspect attaches the inspect-mode instrumentation to a sanitized document.
// Attaching twice leaves a single copy.
func Inspect(doc string) string {
	return insertBeforeBodyClose(Uninspect(doc), inspector)
}

// Uninspect removes the inspect-mode instrumentation. A document without it is
// returned unchanged.
func Uninspect(doc string) string {
	if !strings.Contains(doc, inspectorOpen) {
		return doc
	}
	return inspectorBlock.ReplaceAllString(doc, "")
}

// IsInspected reports whether doc carries the inspect-mode instrumentation.
func IsInspected(doc string) bool {
	return strings.Contains(doc, inspectorOpen)
}
