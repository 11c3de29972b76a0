package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("sandbox runtime is closed")

// Runtime executes scripts in a goja VM. A Runtime runs one document at a
// time; use a Pool for concurrency.
type Runtime struct {
	config Config
	mu     sync.Mutex
	vm     *goja.Runtime
	closed bool

	consoleMu sync.Mutex
	console   []LogEntry
}

// New creates a runtime.
func New(config Config) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxCallStack <= 0 {
		config.MaxCallStack = DefaultConfig().MaxCallStack
	}
	return &Runtime{config: config}, nil
}

// Run executes scripts in order against doc. Each script runs in the same
// global scope, like classic scripts in a page; a throwing script does not
// stop the ones after it. doc may be nil. The returned error is reserved for
// cancellation and closed runtimes.
func (r *Runtime) Run(ctx context.Context, scripts []string, doc *goquery.Document) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	r.reset()
	if err := r.setupGlobals(doc); err != nil {
		return nil, fmt.Errorf("sandbox setup: %w", err)
	}

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)
	vm := r.vm
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	result := &Result{}
	for i, script := range scripts {
		_, err := vm.RunString(script)
		if err == nil {
			continue
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.Errors = append(result.Errors, ScriptError{Index: i, Message: fmt.Sprint(interrupted.Value())})
			break
		}
		result.Errors = append(result.Errors, ScriptError{Index: i, Message: exceptionMessage(err)})
	}

	r.consoleMu.Lock()
	result.Console = append([]LogEntry(nil), r.console...)
	r.consoleMu.Unlock()
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runtime) reset() {
	r.vm = goja.New()
	r.vm.SetMaxCallStackSize(r.config.MaxCallStack)
	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()
}

// setupGlobals installs the browser stub.
func (r *Runtime) setupGlobals(doc *goquery.Document) error {
	vm := r.vm
	global := vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	zero := func(goja.FunctionCall) goja.Value { return vm.ToValue(0) }

	console := vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}

	storage := vm.NewObject()
	_ = storage.Set("getItem", func(goja.FunctionCall) goja.Value { return goja.Null() })
	_ = storage.Set("setItem", noop)
	_ = storage.Set("removeItem", noop)
	_ = storage.Set("clear", noop)

	location := vm.NewObject()
	_ = location.Set("href", "about:srcdoc")
	_ = location.Set("reload", noop)

	parent := vm.NewObject()
	_ = parent.Set("postMessage", noop)

	globals := map[string]any{
		"window":                global,
		"self":                  global,
		"globalThis":            global,
		"parent":                parent,
		"top":                   parent,
		"console":               console,
		"localStorage":          storage,
		"sessionStorage":        storage,
		"location":              location,
		"setTimeout":            zero,
		"setInterval":           zero,
		"clearTimeout":          noop,
		"clearInterval":         noop,
		"requestAnimationFrame": zero,
		"cancelAnimationFrame":  noop,
		"addEventListener":      noop,
		"removeEventListener":   noop,
		"postMessage":           noop,
		"alert":                 noop,
		"fetch": func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("fetch is not available"))
		},
		"matchMedia": func(goja.FunctionCall) goja.Value {
			mq := vm.NewObject()
			_ = mq.Set("matches", false)
			_ = mq.Set("addEventListener", noop)
			_ = mq.Set("addListener", noop)
			return mq
		},
		"document": newDOM(vm, doc).document(),
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()
		return goja.Undefined()
	}
}

func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return v.String()
		}
		return ex.Error()
	}
	return err.Error()
}

// Close releases the VM.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.vm = nil
	return nil
}
