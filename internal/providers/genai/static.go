package genai

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync/atomic"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
)

// Static is an offline Generator. It never calls a model: each evolution
// appends a marker element describing the instruction to the current code.
type Static struct {
	n atomic.Int64
}

// NewStatic creates an offline generator.
func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Evolve(ctx context.Context, code string, in Instruction, _ settings.AppSettings) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	label := strings.TrimSpace(in.Text)
	if label == "" && len(in.Audio) > 0 {
		label = fmt.Sprintf("voice command (%d bytes)", len(in.Audio))
	}
	if label == "" {
		return Result{}, fmt.Errorf("evolve: %w", ErrEmptyResponse)
	}
	n := s.n.Add(1)
	return Result{
		Code:    appendMarker(code, n, label),
		Summary: "I applied: " + label,
	}, nil
}

func (s *Static) ImproveElement(ctx context.Context, code string, el runtime.ElementSelection, instruction string, _ settings.AppSettings) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultImproveInstruction
	}
	n := s.n.Add(1)
	return Result{
		Code:    appendMarker(code, n, el.Selector+": "+instruction),
		Summary: "I improved " + strings.ToLower(el.TagName),
	}, nil
}

func (s *Static) GenerateReport(ctx context.Context, code string, _ settings.AppSettings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("<h1>System report</h1><p>Document size: %d bytes.</p><p>React present: %t.</p>",
		len(code), strings.Contains(code, "react")), nil
}

func (s *Static) Repair(ctx context.Context, code, errorMessage string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Code: code, Summary: "I restored the last stable build after: " + errorMessage}, nil
}

func appendMarker(code string, n int64, label string) string {
	marker := fmt.Sprintf(`<div data-evolution="%d" class="fixed bottom-2 left-2 text-xs text-cyan-300">%s</div>`, n, html.EscapeString(label))
	if i := strings.LastIndex(strings.ToLower(code), "</body>"); i >= 0 {
		return code[:i] + marker + code[i:]
	}
	return code + marker
}
