package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/browser/sandbox"
)

// ProbeMode selects which results the headless probe publishes.
type ProbeMode string

const (
	// ProbeOff disables the probe.
	ProbeOff ProbeMode = "off"
	// ProbeErrors publishes ERROR for a failing render and nothing otherwise.
	ProbeErrors ProbeMode = "errors"
	// ProbeFull publishes OK as well, acting as the sole health source.
	ProbeFull ProbeMode = "full"
)

// ParseProbeMode maps s to a mode, defaulting to ProbeErrors.
func ParseProbeMode(s string) ProbeMode {
	switch ProbeMode(strings.ToLower(strings.TrimSpace(s))) {
	case ProbeOff:
		return ProbeOff
	case ProbeFull:
		return ProbeFull
	default:
		return ProbeErrors
	}
}

// Runner executes scripts against a parsed document.
// *sandbox.Pool implements it.
type Runner interface {
	Run(ctx context.Context, scripts []string, doc *goquery.Document) (*sandbox.Result, error)
}

// Probe runs the classic inline scripts of every new render headlessly and
// reports the outcome as a health signal for that render's epoch.
type Probe struct {
	mode   ProbeMode
	runner Runner
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProbe creates a probe. A nil runner or ProbeOff yields a probe that
// never runs.
func NewProbe(mode ProbeMode, runner Runner, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		mode = ProbeOff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Probe{
		mode:   mode,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Mode returns the configured mode.
func (p *Probe) Mode() ProbeMode {
	return p.mode
}

// Schedule probes doc in the background and hands the outcome to publish.
func (p *Probe) Schedule(epoch, doc string, publish func(HealthSignal) bool) {
	if p.mode == ProbeOff || p.ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		signal, ok := p.Check(p.ctx, epoch, doc)
		if !ok {
			return
		}
		if p.mode == ProbeErrors && signal.Status == HealthOK {
			return
		}
		if !publish(signal) {
			p.logger.Debug("probe result discarded", zap.String("epoch", epoch))
		}
	}()
}

// Check runs doc once. The second result is false when the probe could not
// reach a verdict (cancelled, or the document failed to parse).
func (p *Probe) Check(ctx context.Context, epoch, doc string) (HealthSignal, bool) {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		p.logger.Warn("probe parse failed", zap.String("epoch", epoch), zap.Error(err))
		return HealthSignal{}, false
	}

	scripts := InlineScripts(root)
	result, err := p.runner.Run(ctx, scripts, goquery.NewDocumentFromNode(root))
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("probe run failed", zap.String("epoch", epoch), zap.Error(err))
		}
		return HealthSignal{}, false
	}

	signal := HealthSignal{Type: HealthCheckType, Status: HealthOK, Epoch: epoch}
	if result.Failed() {
		signal.Status = HealthError
		signal.Error = fmt.Sprintf("probe: %s", result.FirstError())
	}
	p.logger.Debug("probe finished",
		zap.String("epoch", epoch),
		zap.Int("scripts", len(scripts)),
		zap.String("status", string(signal.Status)),
		zap.Duration("duration", result.Duration))
	return signal, true
}

// Close cancels running probes and waits for them.
func (p *Probe) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// InlineScripts returns the bodies of the classic inline scripts in root, in
// document order. Host-injected scripts, module scripts and import maps are
// skipped.
func InlineScripts(root *html.Node) []string {
	var out []string
	for _, n := range htmlquery.Find(root, "//script[not(@src)]") {
		if htmlquery.SelectAttr(n, "data-nexus") != "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(n, "type"))) {
		case "", "text/javascript", "application/javascript":
		default:
			continue
		}
		if body := strings.TrimSpace(htmlquery.InnerText(n)); body != "" {
			out = append(out, body)
		}
	}
	return out
}
