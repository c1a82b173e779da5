package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/middleware/validation"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/pkg/logger"
)

const defaultQueryTimeout = 30 * time.Second

type QueryHandler struct {
	service   *chat.Service
	validator *validation.Validator
	timeout   time.Duration
}

func NewQueryHandler(service *chat.Service, validator *validation.Validator) *QueryHandler {
	return &QueryHandler{
		service:   service,
		validator: validator,
		timeout:   defaultQueryTimeout,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	req, ok := validation.QueryRequestFrom(c)
	if !ok {
		req = &validation.QueryRequest{}
		if err := c.BodyParser(req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if err := h.validator.ValidateQuery(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	reply, err := h.service.Ask(ctx, chat.Request{
		SessionID: req.SessionID,
		Query:     req.Query,
		Files:     toAttachments(req.Files),
	})
	if err != nil {
		return errorResponse(c, err)
	}

	if reply.Discarded {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      "The conversation was reset before the answer arrived",
			"session_id": reply.SessionID,
		})
	}

	return c.JSON(replyBody(reply))
}

func (h *QueryHandler) CreateSession(c *fiber.Ctx) error {
	id, err := h.service.NewSession()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": id,
	})
}

func (h *QueryHandler) GetHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	history, err := h.service.History(id)
	if err != nil {
		return errorResponse(c, err)
	}
	if history == nil {
		history = []conversation.Message{}
	}
	return c.JSON(fiber.Map{
		"session_id": id,
		"history":    history,
	})
}

// ResetSession clears the conversation; with ?purge=true the session is
// removed entirely.
func (h *QueryHandler) ResetSession(c *fiber.Ctx) error {
	id := c.Params("id")

	var err error
	if c.QueryBool("purge") {
		err = h.service.DeleteSession(id)
	} else {
		err = h.service.Reset(id)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func toAttachments(files []validation.FileRef) []query.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]query.Attachment, len(files))
	for i, f := range files {
		out[i] = query.Attachment{Name: f.Name, MIMEType: f.MIMEType}
	}
	return out
}

func replyBody(reply *chat.Reply) fiber.Map {
	body := fiber.Map{
		"session_id": reply.SessionID,
		"id":         reply.Response.ID,
		"text":       reply.Response.Text,
		"confidence": reply.Response.Confidence,
		"topic":      reply.Response.Topic,
		"is_local":   reply.Response.IsLocal,
		"stage":      reply.Response.Stage,
	}
	if reply.Response.Intent != "" {
		body["intent"] = reply.Response.Intent
	}
	if len(reply.Rejected) > 0 {
		body["rejected_files"] = reply.Rejected
	}
	return body
}

func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	case errors.Is(err, chat.ErrTooManySessions):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Too many active sessions, please try again later",
		})
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, query.ErrCancelled):
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{
			"error": "The request was cancelled before an answer was ready",
		})
	default:
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": chat.UnexpectedMessage,
		})
	}
}
