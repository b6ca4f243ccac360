// Package api serves the management API: fleet and single-account sweep
// triggers, task inspection, account administration and probes.
package api

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/health"
	"github.com/p-blackswan/sweeper/internal/metrics"
	"github.com/p-blackswan/sweeper/internal/requestid"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins []string
}

// Deps are the services behind the API. Schedule and Metrics may be nil.
type Deps struct {
	Accounts AccountService
	Runs     RunHistory
	Tasks    TaskDispatcher
	Fleet    FleetTrigger
	Schedule Schedule
	Checker  *health.Checker
	Metrics  *metrics.Metrics
}

// Server is the management API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new management API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger,
		config: cfg,
	}

	s.setupMiddleware(cfg, deps.Metrics)
	s.setupRoutes(NewHandlers(deps, logger), deps.Metrics)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.Middleware())

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + requestid.Header,
			AllowMethods: "GET, POST, PUT, PATCH, OPTIONS",
		}))
	}

	if m != nil {
		s.app.Use(metricsMiddleware(m))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	// Access log; probes are too noisy.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}
		reqLogger := requestid.Logger(c.UserContext(), s.logger)
		reqLogger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Interface("actor", c.Locals("actor")).
			Msg("api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, m *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/fleet/sweeps", requireRole(RoleOperator), h.TriggerFleet)
	v1.Get("/fleet/sweeps/latest", h.LatestFleet)
	v1.Get("/fleet/sweeps/:run_id", h.GetFleetRun)

	v1.Get("/tasks", h.ListTasks)
	v1.Get("/tasks/:id", h.GetTask)

	v1.Get("/accounts", h.ListAccounts)
	v1.Get("/accounts/:id", h.GetAccount)
	v1.Put("/accounts/:id", requireRole(RoleAdmin), h.LinkAccount)
	v1.Patch("/accounts/:id/retention", requireRole(RoleOperator), h.SetRetention)
	v1.Post("/accounts/:id/sweep", requireRole(RoleOperator), h.SweepAccount)
	v1.Get("/accounts/:id/runs", h.ListRuns)

	v1.Get("/health", h.HealthDetail)
}

// metricsMiddleware counts requests by route template so ids don't blow up
// label cardinality.
func metricsMiddleware(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		m.RecordAPIRequest(c.Method(), c.Route().Path, status)
		return err
	}
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
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

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			reqLogger := requestid.Logger(c.UserContext(), logger)
			reqLogger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
			// Don't leak internal details.
			detail = "An internal error occurred"
		}

		errType := "http_error"
		if code == fiber.StatusInternalServerError {
			errType = "internal_error"
		}
		return problemResponse(c, code, errType, utils.StatusMessage(code), detail)
	}
}
