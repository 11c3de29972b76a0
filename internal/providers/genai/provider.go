package genai

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/resilience"
)

// New builds the Generator named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var backend completer
	var breaker *resilience.Breaker
	switch provider {
	case "", ProviderGemini:
		// The REST client carries its own breaker.
		backend = newGemini(cfg)
	case ProviderOpenAI:
		backend = newOpenAI(cfg)
		breaker = newBreaker(ProviderOpenAI, logger)
	case ProviderAnthropic:
		backend = newAnthropic(cfg)
		breaker = newBreaker(ProviderAnthropic, logger)
	case ProviderStatic:
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("genai: unknown provider %q", cfg.Provider)
	}

	if cfg.APIKey == "" {
		logger.Warn("genai api key not set", zap.String("provider", backend.name()))
	}
	logger.Info("genai provider ready", zap.String("provider", backend.name()))
	return newGenerator(backend, breaker, logger.Named("genai")), nil
}

func newBreaker(name string, logger *zap.Logger) *resilience.Breaker {
	return resilience.New("genai-"+name, resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}
