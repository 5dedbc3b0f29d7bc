package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TradePulse/pkg/http/middleware"
	"TradePulse/pkg/logger"
)

// Handler defines HTTP route registration interface.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SlowThreshold   time.Duration
	CORS            bool
	MetricsPath     string
	Logger          *logger.Logger
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *logger.Logger
}

// NewServer creates a new HTTP server with Echo.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		SlowThreshold:   500 * time.Millisecond,
		CORS:            true,
		MetricsPath:     "/metrics",
	}

	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestLogging(log))
	e.Use(middleware.Metrics(log, cfg.SlowThreshold))
	if cfg.CORS {
		e.Use(middleware.CORS([]string{"*"}))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}

	if cfg.MetricsPath != "" {
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	return &Server{
		echo:   e,
		config: cfg,
		log:    log,
	}
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	go func() {
		s.log.Info("http server: listening", logger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server: stopped unexpectedly", logger.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("http server: stopped gracefully")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) {
		c.Port = port
	}
}

// WithTimeouts sets read/write/shutdown timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
		c.ShutdownTimeout = shutdown
	}
}

// WithSlowThreshold sets the latency above which requests are logged as slow.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.SlowThreshold = d
	}
}

// WithMetricsPath sets the Prometheus scrape path; empty disables it.
func WithMetricsPath(path string) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath = path
	}
}

// WithLogger sets the server logger.
func WithLogger(l *logger.Logger) ServerOption {
	return func(c *ServerConfig) {
		c.Logger = l
	}
}
