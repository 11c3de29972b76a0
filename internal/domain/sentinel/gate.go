package sentinel

import "strings"

// MinRunnableLength is the length a generated document must exceed to pass
// the runnability gate.
const MinRunnableLength = 50

// IsRunnable is the cheap pre-commit gate applied to generated code before it
// is staged: the document must be longer than MinRunnableLength and mention
// "react" somewhere. It is a weak heuristic that only rejects empty or wildly
// wrong generations. It does not parse or validate the document and must not
// be treated as a safety check.
func IsRunnable(code string) bool {
	return len(code) > MinRunnableLength && strings.Contains(code, "react")
}
