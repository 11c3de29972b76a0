// Package genai talks to the code generation model.
//
// Every provider shares the same prompts and the same response contract
// (ParseResult); providers only differ in how a prompt reaches the model.
package genai

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
)

var (
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrInvalidResponse is returned when the answer carries no usable code.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrAudioUnsupported is returned by text-only providers for spoken
	// instructions.
	ErrAudioUnsupported = errors.New("provider does not accept audio instructions")
)

// DefaultAudioMIME is assumed for recordings uploaded without a type.
const DefaultAudioMIME = "audio/webm"

// DefaultImproveInstruction is used when an element improvement has no
// instruction.
const DefaultImproveInstruction = "make it better"

// EmptyReport is returned when the model produces no report text.
const EmptyReport = "Report is empty."

// Instruction is a user command: a voice recording, typed text, or both.
// Experience carries recent failure messages for the learning context.
type Instruction struct {
	Audio      []byte
	MIMEType   string
	Text       string
	Experience []string
}

// Result is a generated document and its one-line summary.
type Result struct {
	Code    string `json:"code"`
	Summary string `json:"summary"`
}

// Generator is the generation collaborator consumed by the supervisor and
// the repair controller.
type Generator interface {
	Evolve(ctx context.Context, code string, in Instruction, s settings.AppSettings) (Result, error)
	ImproveElement(ctx context.Context, code string, el runtime.ElementSelection, instruction string, s settings.AppSettings) (Result, error)
	GenerateReport(ctx context.Context, code string, s settings.AppSettings) (string, error)
	Repair(ctx context.Context, code, errorMessage string) (Result, error)
}

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStatic    = "static"
)

// Config selects and configures a provider.
type Config struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RateLimit       float64
	MaxOutputTokens int64
}
