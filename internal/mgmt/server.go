// Package mgmt serves the local command API used by the options page and
// operators: archive-now, sync toggling, settings editing and probes.
package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/zentab/internal/health"
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/requestid"
	"github.com/p-blackswan/zentab/internal/settings"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Commands runs the user-triggered actions.
type Commands interface {
	ArchiveNow(ctx context.Context) (int, error)
	ToggleSync(ctx context.Context, enabled bool) error
}

// SettingsStore reads and writes the settings record.
type SettingsStore interface {
	Get(ctx context.Context) (settings.Settings, error)
	Put(ctx context.Context, s settings.Settings) error
	Reset(ctx context.Context) error
}

// Deps are the components the API drives.
type Deps struct {
	Commands   Commands
	Settings   SettingsStore
	Containers host.Containers
	Checker    *health.Checker
	Metrics    *metrics.Metrics
}

// Server is the management API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
	done   chan struct{}
}

// NewServer creates and configures a new management API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "mgmt_server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		logger: logger,
		config: cfg,
		done:   make(chan struct{}),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(newHandlers(deps, logger), deps.Metrics)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + requestid.Header,
			AllowMethods: "GET, POST, PUT, OPTIONS",
		}))
	}

	s.app.Use(NewRateLimitMiddleware(cfg.RateLimit, s.done))

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	// Audit log
	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		err := c.Next()
		role, _ := c.Locals("role").(Role)
		log := requestid.Logger(c.UserContext(), s.logger)
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("role", string(role)).
			Int("status", c.Response().StatusCode()).
			Msg("mgmt api request")
		return err
	})
}

func (s *Server) setupRoutes(h *handlers, m *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/commands", requireRole(RoleOperator), h.Command)

	v1.Get("/settings", requireRole(RoleReadOnly), h.GetSettings)
	v1.Put("/settings", requireRole(RoleOperator), h.PutSettings)
	v1.Post("/settings/reset", requireRole(RoleOperator), h.ResetSettings)

	v1.Get("/containers", requireRole(RoleReadOnly), h.ListContainers)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:8766"
	}

	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("management API server shutting down")
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		errType := "internal_error"
		switch {
		case code == fiber.StatusNotFound:
			errType = "not_found"
		case code == fiber.StatusMethodNotAllowed:
			errType = "method_not_allowed"
		case code < fiber.StatusInternalServerError:
			errType = "bad_request"
		}
		return problemResponse(c, code, errType, statusTitle(code), detail)
	}
}

func statusTitle(code int) string {
	if msg := http.StatusText(code); msg != "" {
		return msg
	}
	return "Error"
}
