// Package api carries the HTTP transport: route registration, the
// auth and logging middleware, and the error mapping onto status codes.
package api

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/config"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// Server wraps the fiber app with its lifecycle.
type Server struct {
	app  *fiber.App
	cfg  *config.Config
	logr *zap.Logger
}

func NewServer(cfg *config.Config, handlers *Handlers, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "notification-service",
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New())
	if cfg.Tracing.Enabled {
		app.Use(otelfiber.Middleware())
	}
	app.Use(AccessLog(logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := app.Group("/v1")
	if cfg.Auth.Enabled {
		v1.Use(JWTAuth(cfg.Auth.JWTSecret))
	}
	handlers.RegisterRoutes(v1)

	return &Server{app: app, cfg: cfg, logr: logger}
}

// App exposes the fiber instance for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	s.logr.Info("http server listening", zap.String("addr", s.cfg.Server.Addr()))
	return s.app.Listen(s.cfg.Server.Addr())
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler is the safety net for errors that escape the handlers:
// fiber routing errors keep their status, domain sentinels map to 400
// and 404, anything else is a 500 with a generic body.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			code = fe.Code
		case errors.Is(err, notification.ErrValidation):
			code = fiber.StatusBadRequest
		case errors.Is(err, notification.ErrNotFound):
			code = fiber.StatusNotFound
		}
		msg := err.Error()
		if code >= fiber.StatusInternalServerError {
			logger.Error("unhandled request error",
				zap.String("path", c.Path()), zap.Error(err))
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
	}
}
