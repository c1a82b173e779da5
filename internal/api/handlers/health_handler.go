package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/stats"
	"github.com/studypilot/backend/pkg/logger"
)

type HealthHandler struct {
	store        *knowledge.Store
	recorder     *stats.Recorder
	service      *chat.Service
	cloudEnabled bool
	started      time.Time
}

func NewHealthHandler(store *knowledge.Store, recorder *stats.Recorder, service *chat.Service, cloudEnabled bool) *HealthHandler {
	return &HealthHandler{
		store:        store,
		recorder:     recorder,
		service:      service,
		cloudEnabled: cloudEnabled,
		started:      time.Now(),
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	primary, extended := h.store.Sizes()
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"knowledge": fiber.Map{
			"primary_entries":  primary,
			"extended_entries": extended,
			"fingerprint":      h.store.Fingerprint(),
			"topics":           h.store.Topics(),
		},
		"sessions":      h.service.Sessions(),
		"cloud_enabled": h.cloudEnabled,
		"stats_backend": h.recorder.Name(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.recorder.Ping(ctx); err != nil {
		logger.Warn("Readiness check failed", zap.String("backend", h.recorder.Name()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  "statistics backend unreachable",
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

func (h *HealthHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.recorder.Summary(c.UserContext())
	if err != nil {
		logger.Error("Failed to load match statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load statistics",
		})
	}

	var total int64
	for _, tc := range counts {
		total += tc.Count
	}

	return c.JSON(fiber.Map{
		"backend": h.recorder.Name(),
		"total":   total,
		"topics":  counts,
	})
}
