// Package api assembles the HTTP surface: middleware, REST routes and the
// websocket endpoint.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/studypilot/backend/internal/api/handlers"
	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/internal/middleware/ratelimit"
	"github.com/studypilot/backend/internal/middleware/security"
	"github.com/studypilot/backend/internal/middleware/validation"
	"github.com/studypilot/backend/internal/stats"
)

type Deps struct {
	Service      *chat.Service
	Store        *knowledge.Store
	Recorder     *stats.Recorder
	Validator    *validation.Validator
	RateLimiter  *ratelimit.RateLimiter
	CloudEnabled bool

	AllowedOrigins []string
	Development    bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BodyLimit      int
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           d.ReadTimeout,
		WriteTimeout:          d.WriteTimeout,
		BodyLimit:             d.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(d.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.SessionHeader,
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: d.AllowedOrigins,
		IsDevelopment:  d.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	queryHandler := handlers.NewQueryHandler(d.Service, d.Validator)
	wsHandler := handlers.NewWebSocketHandler(d.Service, d.Validator)
	healthHandler := handlers.NewHealthHandler(d.Store, d.Recorder, d.Service, d.CloudEnabled)

	v1 := app.Group("/api/v1")

	v1.Get("/health", healthHandler.Health)
	v1.Get("/ready", healthHandler.Ready)
	v1.Get("/stats", healthHandler.Stats)

	var limit []fiber.Handler
	if d.RateLimiter != nil {
		limit = append(limit, d.RateLimiter.Middleware())
	}
	limited := func(h ...fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, limit...), h...)
	}

	v1.Post("/sessions", limited(queryHandler.CreateSession)...)
	v1.Get("/sessions/:id/history", limited(queryHandler.GetHistory)...)
	v1.Delete("/sessions/:id", limited(queryHandler.ResetSession)...)
	v1.Post("/query", limited(d.Validator.Middleware(), queryHandler.HandleQuery)...)

	v1.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(wsHandler.HandleConnection))

	return app
}
