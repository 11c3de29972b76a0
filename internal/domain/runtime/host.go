// Package runtime hosts the generated document.
//
// The host never changes the version history; it watches it. Every head
// change opens a new render epoch and discards the previous one: health
// signals stamped with an old epoch are dropped, so a document that is no
// longer shown can neither confirm nor fail a later version.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/sentinel"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/id"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// ErrNoMatch is returned by Locate when the selector matches nothing.
var ErrNoMatch = errors.New("selector matches no element")

// HeadSource is the read side of the version store.
type HeadSource interface {
	Current() version.Version
	Subscribe(fn func(version.Change)) (unsubscribe func())
}

// Relay receives selected elements. *conduit.Tab implements it.
type Relay interface {
	Send(ctx context.Context, typ conduit.MessageType, payload any, meta *conduit.Overrides) (conduit.Message, error)
}

// Host renders the head version and routes health signals.
type Host struct {
	head   HeadSource
	relay  Relay
	probe  *Probe
	logger *zap.Logger

	mu        sync.RWMutex
	epoch     string
	headID    string
	inspect   bool
	selection *ElementSelection

	subMu   sync.Mutex
	subs    map[int]func(HealthSignal)
	nextSub int

	unsubscribe func()
}

// Option configures a Host.
type Option func(*Host)

// WithRelay sets where selected elements are sent.
func WithRelay(r Relay) Option {
	return func(h *Host) { h.relay = r }
}

// WithProbe runs p against every new epoch.
func WithProbe(p *Probe) Option {
	return func(h *Host) { h.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHost starts observing head and opens the first epoch.
func NewHost(head HeadSource, opts ...Option) *Host {
	h := &Host{
		head:   head,
		logger: zap.NewNop(),
		subs:   make(map[int]func(HealthSignal)),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.unsubscribe = head.Subscribe(func(c version.Change) {
		h.advance(c.Head)
	})
	h.advance(head.Current())
	return h
}

// Close stops observing the head and waits for running probes.
func (h *Host) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	if h.probe != nil {
		h.probe.Close()
	}
}

// advance opens a new epoch for head.
func (h *Host) advance(head version.Version) {
	epoch := id.NewEpochID().String()

	h.mu.Lock()
	prev := h.epoch
	h.epoch = epoch
	h.headID = head.ID
	h.selection = nil
	h.mu.Unlock()

	h.logger.Debug("runtime epoch",
		zap.String("epoch", epoch),
		zap.String("previous", prev),
		zap.String("head", head.ID))

	if h.probe != nil {
		h.probe.Schedule(epoch, h.render(head.Code, epoch, false), h.Publish)
	}
}

// Epoch returns the current render epoch.
func (h *Host) Epoch() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Document returns the current epoch and the document to serve for it.
func (h *Host) Document() (epoch, doc string) {
	head := h.head.Current()

	h.mu.RLock()
	epoch, inspect := h.epoch, h.inspect
	h.mu.RUnlock()

	return epoch, h.render(head.Code, epoch, inspect)
}

func (h *Host) render(code, epoch string, inspect bool) string {
	// Imported histories may carry documents that never went through the
	// sanitizer.
	if !sentinel.HasPrologue(code) {
		code = sentinel.Sanitize(code)
	}
	doc := sentinel.Stamp(code, epoch)
	if inspect {
		doc = sentinel.Inspect(doc)
	}
	return doc
}

// Subscribe registers fn for accepted health signals.
func (h *Host) Subscribe(fn func(HealthSignal)) (unsubscribe func()) {
	h.subMu.Lock()
	key := h.nextSub
	h.nextSub++
	h.subs[key] = fn
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		delete(h.subs, key)
		h.subMu.Unlock()
	}
}

// Publish delivers s to subscribers unless it belongs to a discarded epoch.
// It reports whether the signal was delivered.
func (h *Host) Publish(s HealthSignal) bool {
	if !s.Valid() {
		return false
	}
	if s.Epoch != "" && s.Epoch != h.Epoch() {
		h.logger.Debug("stale health signal dropped",
			zap.String("epoch", s.Epoch),
			zap.String("status", string(s.Status)))
		return false
	}

	h.subMu.Lock()
	fns := make([]func(HealthSignal), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return true
}

// SetInspect switches inspect mode and reports whether it changed.
func (h *Host) SetInspect(on bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inspect == on {
		return false
	}
	h.inspect = on
	return true
}

// Inspecting reports whether inspect mode is on.
func (h *Host) Inspecting() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inspect
}

// SelectElement remembers sel as the current selection and relays it to
// the conduit as ELEMENT_DATA.
func (h *Host) SelectElement(ctx context.Context, sel ElementSelection) (conduit.Message, error) {
	sel = sel.Normalize()
	if err := validation.ValidateSelector(sel.Selector); err != nil {
		return conduit.Message{}, err
	}
	sel.Text = validation.Truncate(sel.Text, 50)

	h.mu.Lock()
	h.selection = &sel
	h.mu.Unlock()

	if h.relay == nil {
		return conduit.Message{}, nil
	}
	base, energy := 0.7, 0.6
	note := "selected element for analysis"
	msg, err := h.relay.Send(ctx, conduit.ElementData, sel, &conduit.Overrides{
		Base:    &base,
		Energy:  &energy,
		Color:   conduit.Yellow,
		Context: &note,
	})
	if err != nil {
		return conduit.Message{}, fmt.Errorf("relay selection: %w", err)
	}
	return msg, nil
}

// Selection returns the element selected in the current epoch.
func (h *Host) Selection() (ElementSelection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.selection == nil {
		return ElementSelection{}, false
	}
	return *h.selection, true
}

// Element looks selector up in the head document and describes the first
// match the way the inspector would.
func (h *Host) Element(selector string) (ElementSelection, error) {
	if err := validation.ValidateSelector(selector); err != nil {
		return ElementSelection{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(h.head.Current().Code))
	if err != nil {
		return ElementSelection{}, fmt.Errorf("parse head: %w", err)
	}

	var match *goquery.Selection
	func() {
		defer func() {
			if recover() != nil {
				match = nil
			}
		}()
		match = doc.Find(selector).First()
	}()
	if match == nil || match.Length() == 0 {
		return ElementSelection{}, fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}

	outer, err := goquery.OuterHtml(match)
	if err != nil {
		return ElementSelection{}, fmt.Errorf("render element: %w", err)
	}
	return ElementSelection{
		TagName:  goquery.NodeName(match),
		HTML:     outer,
		Selector: selector,
		Text:     validation.Truncate(strings.TrimSpace(match.Text()), 50),
	}.Normalize(), nil
}

// Locate returns the outer HTML of the first element in the head document
// matching selector.
func (h *Host) Locate(selector string) (string, error) {
	el, err := h.Element(selector)
	if err != nil {
		return "", err
	}
	return el.HTML, nil
}
