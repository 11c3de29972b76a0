package genai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/resilience"
)

// request is one model call.
type request struct {
	System   string
	Text     string
	Audio    []byte
	MIMEType string
	// JSON asks the model for a JSON document.
	JSON bool
}

// completer sends a request to a model and returns its text answer.
type completer interface {
	complete(ctx context.Context, req request) (string, error)
	name() string
}

// generator implements Generator on top of a completer.
type generator struct {
	backend completer
	breaker *resilience.Breaker
	logger  *zap.Logger
}

func newGenerator(backend completer, breaker *resilience.Breaker, logger *zap.Logger) *generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &generator{backend: backend, breaker: breaker, logger: logger}
}

func (g *generator) call(ctx context.Context, op string, req request) (string, error) {
	start := time.Now()
	var (
		text string
		err  error
	)
	if g.breaker != nil {
		text, err = resilience.Call(ctx, g.breaker, func(ctx context.Context) (string, error) {
			return g.backend.complete(ctx, req)
		})
	} else {
		text, err = g.backend.complete(ctx, req)
	}

	fields := []zap.Field{
		zap.String("provider", g.backend.name()),
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		g.logger.Warn("generation failed", append(fields, zap.Error(err))...)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	g.logger.Debug("generation complete", append(fields, zap.Int("chars", len(text)))...)
	return text, nil
}

func (g *generator) Evolve(ctx context.Context, code string, in Instruction, s settings.AppSettings) (Result, error) {
	mime := in.MIMEType
	if mime == "" {
		mime = DefaultAudioMIME
	}
	text, err := g.call(ctx, "evolve", request{
		System:   evolveSystem(in),
		Text:     evolveText(code, in, s),
		Audio:    in.Audio,
		MIMEType: mime,
		JSON:     true,
	})
	if err != nil {
		return Result{}, err
	}
	return ParseResult(text)
}

func (g *generator) ImproveElement(ctx context.Context, code string, el runtime.ElementSelection, instruction string, s settings.AppSettings) (Result, error) {
	text, err := g.call(ctx, "improve", request{
		Text: improveText(code, el, instruction, s),
		JSON: true,
	})
	if err != nil {
		return Result{}, err
	}
	return ParseResult(text)
}

func (g *generator) GenerateReport(ctx context.Context, code string, s settings.AppSettings) (string, error) {
	text, err := g.call(ctx, "report", request{Text: reportText(code)})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return EmptyReport, nil
	}
	return text, nil
}

func (g *generator) Repair(ctx context.Context, code, errorMessage string) (Result, error) {
	text, err := g.call(ctx, "repair", request{
		Text: repairText(code, errorMessage),
		JSON: true,
	})
	if err != nil {
		return Result{}, err
	}
	return ParseResult(text)
}
