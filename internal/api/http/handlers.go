package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/api/middleware"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/repair"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/sentinel"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/cloud"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/id"
)

// DefaultTab is the tab endpoint used by callers that do not name one.
const DefaultTab = "tab_http"

// DefaultGenerationTimeout bounds a generation once it is detached from the
// request.
const DefaultGenerationTimeout = 2 * time.Minute

// Deps lists what the handlers serve. Archiver may be nil when cloud backups
// are not configured.
type Deps struct {
	Supervisor  *supervisor.Supervisor
	Versions    *version.Store
	Host        *runtime.Host
	Conduit     *conduit.Conduit
	Settings    *settings.Store
	Boundary    *repair.Boundary
	Archiver    *cloud.Archiver
	Tracer      *tracing.Tracer
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
	ImportDelay time.Duration

	// GenerationTimeout bounds evolve, improve and repair calls. Zero uses
	// DefaultGenerationTimeout.
	GenerationTimeout time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	supervisor  *supervisor.Supervisor
	versions    *version.Store
	host        *runtime.Host
	conduit     *conduit.Conduit
	settings    *settings.Store
	boundary    *repair.Boundary
	archiver    *cloud.Archiver
	tracer      *tracing.Tracer
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	markdown    *converter.Converter
	importDelay time.Duration
	genTimeout  time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = tracing.New("nexus-core", logger)
	}
	genTimeout := d.GenerationTimeout
	if genTimeout <= 0 {
		genTimeout = DefaultGenerationTimeout
	}
	return &Handlers{
		supervisor:  d.Supervisor,
		versions:    d.Versions,
		host:        d.Host,
		conduit:     d.Conduit,
		settings:    d.Settings,
		boundary:    d.Boundary,
		archiver:    d.Archiver,
		tracer:      tracer,
		metrics:     metrics,
		logger:      logger,
		importDelay: d.ImportDelay,
		genTimeout:  genTimeout,
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Nexus Core",
		"version": "7.0.0",
	})
}

// Health handles liveness
func (h *Handlers) Health(c *gin.Context) {
	snap := h.supervisor.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"integrity": snap.Integrity,
		"state":     snap.Status,
		"versions":  snap.Versions,
		"boundary":  h.boundary.State().Kind,
	})
}

// Diagnostics reports the supervisor's failure log, the sanitizer's view of
// the head and request counters.
func (h *Handlers) Diagnostics(c *gin.Context) {
	prologues, monitors := sentinel.Counts(h.versions.Current().Code)
	epoch := h.host.Epoch()
	rendered := gin.H{"epoch": epoch}
	if at, err := id.Timestamp(epoch); err == nil {
		rendered["since"] = at.UnixMilli()
	}
	c.JSON(http.StatusOK, gin.H{
		"runtime":    rendered,
		"supervisor": h.supervisor.Diagnostics(),
		"sentinel": gin.H{
			"prologues": prologues,
			"monitors":  monitors,
			"runnable":  sentinel.IsRunnable(h.versions.Current().Code),
		},
		"requests": h.metrics.Snapshot(),
	})
}

// tab resolves the caller's tab endpoint from the X-Nexus-Tab header or the
// tab query parameter. A tab held open by a WebSocket is reused; otherwise the
// tab lives for the request only and release closes it. An id without the tab
// prefix is answered with 400 and ok is false.
func (h *Handlers) tab(c *gin.Context) (t *conduit.Tab, release func(), ok bool) {
	tabID := c.GetHeader(middleware.TabHeader)
	if tabID == "" {
		tabID = c.Query("tab")
	}
	if tabID == "" {
		tabID = DefaultTab
	}
	if !id.HasPrefix(tabID, id.TabPrefix) {
		h.badRequest(c, fmt.Errorf("invalid tab id %q", tabID))
		return nil, nil, false
	}
	t, release = h.conduit.Borrow(c.Request.Context(), tabID, c.Request.Referer())
	return t, release, true
}

// traced runs fn inside a span named name.
func (h *Handlers) traced(c *gin.Context, name string, fn func(ctx context.Context) error) error {
	span, ctx := h.tracer.StartSpan(c.Request.Context(), name)
	err := fn(ctx)
	h.tracer.End(span, err)
	return err
}

// generation is traced, but runs on a context detached from the request: a
// client that disconnects does not abort an update in flight. The call is
// bounded by the generation timeout instead.
func (h *Handlers) generation(c *gin.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.genTimeout)
	defer cancel()
	span, ctx := h.tracer.StartSpan(ctx, name)
	err := fn(ctx)
	h.tracer.End(span, err)
	return err
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrBusy),
		errors.Is(err, repair.ErrRepairInProgress),
		errors.Is(err, repair.ErrNotFailed):
		return http.StatusConflict
	case errors.Is(err, version.ErrInvalidArchive),
		errors.Is(err, cloud.ErrInvalidName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, version.ErrNotFound),
		errors.Is(err, cloud.ErrNotFound),
		errors.Is(err, runtime.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests),
		errors.Is(err, cloud.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, supervisor.ErrUnsafeCode),
		errors.Is(err, genai.ErrEmptyResponse),
		errors.Is(err, genai.ErrInvalidResponse),
		errors.Is(err, genai.ErrAudioUnsupported):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, conduit.ErrTabClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		}
		ctx := c.Request.Context()
		if traceID := tracing.GetTraceID(ctx); traceID != "" {
			fields = append(fields, zap.String("trace", tracing.FormatTrace(traceID, tracing.GetSpanID(ctx))))
		}
		h.logger.Error("request failed", fields...)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
