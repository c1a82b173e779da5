package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/middleware/validation"
	"github.com/studypilot/backend/pkg/logger"
)

type WebSocketHandler struct {
	service   *chat.Service
	validator *validation.Validator
}

type wsMessage struct {
	Type      string               `json:"type"`
	Content   string               `json:"content"`
	SessionID string               `json:"session_id"`
	Files     []validation.FileRef `json:"files"`
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// frameWriter serialises writes to one connection. A batch is written
// without interleaving, so chunks of two answers never mix.
type frameWriter struct {
	mu   sync.Mutex
	conn jsonWriter
}

func (f *frameWriter) write(frames ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, frame := range frames {
		if err := f.conn.WriteJSON(frame); err != nil {
			return err
		}
	}
	return nil
}

// wsConn is one client connection. Each query is answered in its own
// goroutine so the client can reset or ask again while an answer is
// pending.
type wsConn struct {
	h      *WebSocketHandler
	ctx    context.Context
	cancel context.CancelFunc
	out    *frameWriter
	wg     sync.WaitGroup
}

func NewWebSocketHandler(service *chat.Service, validator *validation.Validator) *WebSocketHandler {
	return &WebSocketHandler{
		service:   service,
		validator: validator,
	}
}

func (h *WebSocketHandler) newConn(w jsonWriter) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		out:    &frameWriter{conn: w},
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	conn := h.newConn(c)
	defer func() {
		conn.close()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if err := conn.dispatch(msg); err != nil {
			logger.Error("Failed to write WebSocket message", zap.Error(err))
			break
		}
	}
}

// dispatch handles one client frame without blocking on pending answers.
// Only write failures of inline replies are returned.
func (c *wsConn) dispatch(msg wsMessage) error {
	switch msg.Type {
	case "query":
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.h.streamResponse(c.ctx, c.out, msg); err != nil {
				logger.Warn("Failed to stream WebSocket answer", zap.Error(err))
			}
		}()
		return nil
	case "reset":
		if err := c.h.service.Reset(msg.SessionID); err != nil {
			return c.h.sendError(c.out, "Session not found")
		}
		return c.out.write(map[string]interface{}{
			"type":       "reset",
			"session_id": msg.SessionID,
		})
	default:
		return nil
	}
}

// wait blocks until every pending answer has been written or dropped.
func (c *wsConn) wait() {
	c.wg.Wait()
}

// close cancels pending answers and waits for their goroutines.
func (c *wsConn) close() {
	c.cancel()
	c.wait()
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, w *frameWriter, msg wsMessage) error {
	req := &validation.QueryRequest{
		SessionID: msg.SessionID,
		Query:     msg.Content,
		Files:     msg.Files,
	}
	if err := h.validator.ValidateQuery(req); err != nil {
		return h.sendError(w, err.Error())
	}

	if err := w.write(chunkFrame("status", "Thinking...")); err != nil {
		return err
	}

	reply, err := h.service.Ask(ctx, chat.Request{
		SessionID: req.SessionID,
		Query:     req.Query,
		Files:     toAttachments(req.Files),
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The connection is going away; nobody is listening.
			return nil
		case errors.Is(err, chat.ErrSessionNotFound):
			return h.sendError(w, "Session not found")
		default:
			return h.sendError(w, chat.UnexpectedMessage)
		}
	}

	if reply.Discarded {
		return w.write(map[string]interface{}{
			"type":       "discarded",
			"session_id": reply.SessionID,
			"message_id": reply.Response.ID,
		})
	}

	words := splitIntoWords(reply.Response.Text)
	frames := make([]interface{}, 0, len(words)+1)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}
		frames = append(frames, chunkFrame("chunk", chunk))
	}
	frames = append(frames, completeFrame(reply))

	return w.write(frames...)
}

func chunkFrame(msgType, content string) map[string]interface{} {
	return map[string]interface{}{
		"type":    msgType,
		"content": content,
	}
}

func completeFrame(reply *chat.Reply) map[string]interface{} {
	msg := map[string]interface{}(replyBody(reply))
	msg["type"] = "complete"
	msg["message_id"] = reply.Response.ID
	delete(msg, "text")
	return msg
}

func (h *WebSocketHandler) sendError(w *frameWriter, errorMsg string) error {
	return w.write(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps each newline as its own token.
func splitIntoWords(text string) []string {
	var (
		words   []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, char := range text {
		switch char {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current.WriteRune(char)
		}
	}
	flush()

	return words
}
