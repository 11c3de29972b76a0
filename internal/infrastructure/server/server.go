package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/NexusCore/backend/internal/api/http"
	"github.com/GriffinCanCode/NexusCore/backend/internal/api/middleware"
	"github.com/GriffinCanCode/NexusCore/backend/internal/api/ws"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/repair"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/bus"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/cloud"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
)

// RuntimeTab is the conduit endpoint the runtime host relays selections from.
const RuntimeTab = "tab_runtime"

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	http       *http.Server
	kv         storage.KV
	bus        bus.Bus
	conduit    *conduit.Conduit
	supervisor *supervisor.Supervisor
	host       *runtime.Host
	pool       *sandbox.Pool
	hub        *ws.Hub
	tracer     *tracing.Tracer
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := newLogger(cfg.Logging)

	logger.Info("Initializing Nexus Core",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("bus", cfg.Conduit.Bus),
		zap.String("genai", cfg.GenAI.Provider),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("nexus-core", logger.Logger)

	s := &Server{
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	if err := s.build(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// build wires the domain onto the router. On error the caller closes
// whatever was opened.
func (s *Server) build() error {
	cfg := s.config
	log := s.logger.Logger
	ctx := context.Background()

	kv, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	s.kv = kv

	b, err := bus.Open(bus.Config{Driver: cfg.Conduit.Bus, URL: cfg.Conduit.NATSURL, Name: "nexus-core"})
	if err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	s.bus = b

	condOpts := []conduit.Option{
		conduit.WithLogger(log.Named("conduit")),
		conduit.WithMetrics(s.metrics),
	}
	if _, ok := kv.(storage.Watcher); ok && cfg.Conduit.Watch {
		condOpts = append(condOpts, conduit.WithStorageWatch(storage.WatchOptions{
			Interval: cfg.Conduit.WatchInterval,
			Debounce: cfg.Conduit.WatchInterval / 2,
		}))
	}
	cond, err := conduit.New(kv, b, condOpts...)
	if err != nil {
		return fmt.Errorf("failed to start conduit: %w", err)
	}
	s.conduit = cond

	versions, err := version.NewStore(ctx, kv, version.WithLogger(log.Named("version")))
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	prefs, err := settings.NewStore(ctx, kv, log.Named("settings"))
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	gen, err := genai.New(genai.Config{
		Provider:        cfg.GenAI.Provider,
		Model:           cfg.GenAI.Model,
		APIKey:          cfg.GenAI.APIKey,
		BaseURL:         cfg.GenAI.BaseURL,
		Timeout:         cfg.GenAI.Timeout,
		MaxRetries:      cfg.GenAI.MaxRetries,
		RateLimit:       cfg.GenAI.RateLimit,
		MaxOutputTokens: cfg.GenAI.MaxOutputTokens,
	}, log.Named("genai"))
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	sup := supervisor.New(versions, gen,
		supervisor.WithConfig(supervisor.Config{
			RecoveryTimeout: cfg.Supervisor.RecoveryTimeout,
			RollbackDelay:   cfg.Supervisor.RollbackDelay,
			RestoreDelay:    cfg.Supervisor.RestoreDelay,
		}),
		supervisor.WithSettings(prefs),
		supervisor.WithLogger(log.Named("supervisor")),
		supervisor.WithMetrics(s.metrics),
	)
	s.supervisor = sup

	hostOpts := []runtime.Option{
		runtime.WithRelay(cond.Open(ctx, RuntimeTab, "")),
		runtime.WithLogger(log.Named("runtime")),
	}
	if mode := runtime.ParseProbeMode(cfg.Runtime.ProbeMode); mode != runtime.ProbeOff {
		sbCfg := sandbox.DefaultConfig()
		sbCfg.Timeout = cfg.Runtime.ProbeTimeout
		pool, err := sandbox.NewPool(sbCfg, cfg.Runtime.ProbePoolSize)
		if err != nil {
			return fmt.Errorf("failed to start probe pool: %w", err)
		}
		s.pool = pool
		hostOpts = append(hostOpts, runtime.WithProbe(runtime.NewProbe(mode, pool, log.Named("probe"))))
		log.Info("Headless probe enabled", zap.String("mode", string(mode)), zap.Int("pool", cfg.Runtime.ProbePoolSize))
	}
	host := runtime.NewHost(versions, hostOpts...)
	s.host = host
	host.Subscribe(func(sig runtime.HealthSignal) { sup.HandleHealth(sig) })

	ctrl := repair.NewController(versions, sup, gen, log.Named("repair"))
	boundary := repair.NewBoundary(ctrl, log.Named("boundary"),
		repair.ResetStep{Name: "versions", Run: versions.Reset},
		repair.ResetStep{Name: "conduit", Run: cond.Reset},
		repair.ResetStep{Name: "settings", Run: prefs.Reset},
		repair.ResetStep{Name: "supervisor", Run: func(context.Context) error {
			sup.Reset()
			return nil
		}},
	)

	var archiver *cloud.Archiver
	if cfg.Cloud.Endpoint != "" {
		bucket, err := cloud.NewMinio(ctx, cloud.Config{
			Endpoint:  cfg.Cloud.Endpoint,
			AccessKey: cfg.Cloud.AccessKey,
			SecretKey: cfg.Cloud.SecretKey,
			Bucket:    cfg.Cloud.Bucket,
			UseSSL:    cfg.Cloud.UseSSL,
		})
		if err != nil {
			log.Warn("Cloud backups unavailable", zap.Error(err))
		} else {
			archiver = cloud.NewArchiver(bucket, cfg.Cloud.Prefix, log.Named("cloud"))
			log.Info("Cloud backups enabled", zap.String("bucket", cfg.Cloud.Bucket))
		}
	}

	cors := middleware.CORSForOrigins(cfg.Server.AllowOrigins)
	hub := ws.NewHub(sup, host, cond,
		ws.WithLogger(log.Named("ws")),
		ws.WithMetrics(s.metrics),
		ws.WithCheckOrigin(originChecker(cors.AllowOrigins)),
	)
	s.hub = hub
	boundary.Observe(func(st repair.State) {
		hub.Broadcast(ws.NewFrame(ws.TypeBoundary, string(st.Kind), st.Render()))
	})

	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Boundary(boundary, log))
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(cors))
	if cfg.RateLimit.Enabled {
		log.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := httpapi.NewHandlers(httpapi.Deps{
		Supervisor:        sup,
		Versions:          versions,
		Host:              host,
		Conduit:           cond,
		Settings:          prefs,
		Boundary:          boundary,
		Archiver:          archiver,
		Tracer:            s.tracer,
		Metrics:           s.metrics,
		Logger:            log.Named("http"),
		ImportDelay:       cfg.Cloud.ImportDelay,
		GenerationTimeout: cfg.GenAI.Timeout,
	})
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/stream", hub.HandleConnection)

	s.router = router
	s.http = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Server initialized successfully",
		zap.Int("versions", versions.Len()),
		zap.String("head", versions.Current().ID),
	)
	return nil
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	lc.File = cfg.File
	lc.MaxSizeMB = cfg.MaxSizeMB
	lc.MaxBackups = cfg.MaxBackups
	lc.MaxAgeDays = cfg.MaxAgeDays

	logger, err := logging.New(lc)
	if err != nil {
		if cfg.Development {
			return logging.NewDevelopment()
		}
		return logging.NewDefault()
	}
	return logger
}

// originChecker accepts the upgrade when the Origin header is absent or one
// of origins. "*" accepts everything.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err != nil || u.Host == "" {
			return false
		}
		return slices.Contains(origins, origin)
	}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains connections for up to the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Draining connections", zap.Duration("timeout", s.config.Server.ShutdownTimeout))
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases every dependency. It is safe on a partially built server.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.host != nil {
		s.host.Close()
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("probe pool: %w", err))
		}
	}
	if s.supervisor != nil {
		s.supervisor.Close()
	}
	if s.conduit != nil {
		if err := s.conduit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conduit: %w", err))
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus: %w", err))
		}
	}
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	s.tracer.Close()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Shutdown incomplete", zap.Error(err))
	}
	_ = s.logger.Close()
	return err
}
