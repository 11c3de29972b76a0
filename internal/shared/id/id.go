// Package id provides identifier generation for Nexus Core.
//
// Identifiers are ULIDs, optionally prefixed with a short type tag:
//   - ver_*  code versions in the version store
//   - tab_*  conduit tab endpoints (one per browser tab session)
//   - ep_*   runtime render epochs
//   - req_*  API requests
//
// ULIDs sort by creation time, so prefixed ids of one type sort in creation
// order as well. The generator uses monotonic entropy: ids created in the same
// millisecond still sort in creation order.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// VersionID identifies a code version.
type VersionID string

// TabID identifies a conduit tab endpoint.
type TabID string

// EpochID identifies one rendering of the sandboxed runtime.
type EpochID string

// RequestID identifies an API request.
type RequestID string

const (
	VersionPrefix = "ver"
	TabPrefix     = "tab"
	EpochPrefix   = "ep"
	RequestPrefix = "req"
)

func (v VersionID) String() string { return string(v) }
func (t TabID) String() string     { return string(t) }
func (e EpochID) String() string   { return string(e) }
func (r RequestID) String() string { return string(r) }

// ============================================================================
// Generator
// ============================================================================

// Generator produces ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic entropy.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator reading from the given source.
// Tests pass a deterministic reader.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateString creates a new ULID string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates "prefix_ULID".
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewVersionID generates a version id.
func NewVersionID() VersionID {
	return VersionID(Default().GenerateWithPrefix(VersionPrefix))
}

// NewTabID generates a tab id.
func NewTabID() TabID {
	return TabID(Default().GenerateWithPrefix(TabPrefix))
}

// NewEpochID generates a render epoch id.
func NewEpochID() EpochID {
	return EpochID(Default().GenerateWithPrefix(EpochPrefix))
}

// NewRequestID generates a request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// ============================================================================
// Parsing
// ============================================================================

// Split separates a tagged id into its prefix and the rest. Prefixes never
// contain an underscore, so the first one ends the tag. Untagged ids return an
// empty prefix.
func Split(id string) (prefix, rest string) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// HasPrefix reports whether id is tagged with prefix. The rest may be a ULID
// or a caller-chosen name such as tab_runtime.
func HasPrefix(id, prefix string) bool {
	p, rest := Split(id)
	return p == prefix && rest != ""
}

// Parse returns the ULID part of a generated id.
func Parse(id string) (ulid.ULID, error) {
	_, raw := Split(id)
	return ulid.ParseStrict(raw)
}

// Timestamp extracts the creation time of a generated id.
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
