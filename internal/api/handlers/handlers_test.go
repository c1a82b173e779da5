package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studypilot/backend/internal/chat"
	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/middleware/validation"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/internal/stats"
	"github.com/studypilot/backend/internal/storage/models"
)

type memBackend struct {
	mu       sync.Mutex
	outcomes []models.MatchOutcome
	pingErr  error
}

func (m *memBackend) RecordOutcome(_ context.Context, o *models.MatchOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, *o)
	return nil
}

func (m *memBackend) TopicCounts(context.Context) ([]models.TopicCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int64{}
	var order []string
	for _, o := range m.outcomes {
		if _, ok := counts[o.Topic]; !ok {
			order = append(order, o.Topic)
		}
		counts[o.Topic]++
	}
	out := make([]models.TopicCount, 0, len(order))
	for _, topic := range order {
		out = append(out, models.TopicCount{Topic: topic, Count: counts[topic]})
	}
	return out, nil
}

func (m *memBackend) Ping(context.Context) error { return m.pingErr }
func (m *memBackend) Close() error               { return nil }

type fixture struct {
	app     *fiber.App
	service *chat.Service
	backend *memBackend
	query   *QueryHandler
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()

	cfg := query.DefaultConfig()
	cfg.DelayMin, cfg.DelayMax = delay, delay
	cfg.Rand = query.NewSource(3)
	engine := query.NewEngine(knowledge.Default(), cfg)

	backend := &memBackend{}
	recorder := stats.NewRecorder("mem", backend)
	sessions := chat.NewSessionStore(time.Hour, time.Minute, conversation.DefaultWindow, 2)
	service := chat.NewService(engine, sessions, recorder, chat.Options{
		AllowedMIMETypes: []string{"application/pdf"},
	})
	validator := validation.New(validation.Config{MaxQueryLength: 200})

	qh := NewQueryHandler(service, validator)
	hh := NewHealthHandler(knowledge.Default(), recorder, service, false)

	app := fiber.New()
	app.Post("/query", validator.Middleware(), qh.HandleQuery)
	app.Post("/query/raw", qh.HandleQuery)
	app.Post("/sessions", qh.CreateSession)
	app.Get("/sessions/:id/history", qh.GetHistory)
	app.Delete("/sessions/:id", qh.ResetSession)
	app.Get("/health", hh.Health)
	app.Get("/ready", hh.Ready)
	app.Get("/stats", hh.Stats)

	return &fixture{app: app, service: service, backend: backend, query: qh}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestHandleQuery(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/query", `{"query": "What is a Hash Table?"}`)
	require.Equal(t, fiber.StatusOK, status)

	assert.NotEmpty(t, body["session_id"])
	assert.NotEmpty(t, body["id"])
	assert.Contains(t, body["text"], "Hash Table")
	assert.Equal(t, 0.94, body["confidence"])
	assert.Equal(t, "Data Structures", body["topic"])
	assert.Equal(t, true, body["is_local"])
	assert.Equal(t, "primary", body["stage"])
	assert.NotContains(t, body, "rejected_files")
}

func TestHandleQuery_OverrideIntent(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/query", `{"query": "hey, who are you?"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "override", body["stage"])
	assert.Equal(t, "identity", body["intent"])
	assert.Equal(t, 0.98, body["confidence"])
}

func TestHandleQuery_RejectedFiles(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/query", `{"query": "summarise my notes", "files": [
		{"name": "notes.pdf", "mime_type": "application/pdf"},
		{"name": "run.sh", "mime_type": "application/x-sh"}
	]}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{"run.sh"}, body["rejected_files"])
}

func TestHandleQuery_WithoutMiddleware(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/query/raw", `{"query": "  what is entropy  "}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Thermodynamics", body["topic"])

	status, _ = f.do(t, "POST", "/query/raw", `{"query": "<script>alert(1)</script>"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, "POST", "/query/raw", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleQuery_UnknownSession(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/query", `{"session_id": "6f1c2a7e-9d7b-4b43-8f0e-2f3d3c9b1a10", "query": "hi"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Session not found", body["error"])
}

func TestHandleQuery_TooManySessions(t *testing.T) {
	f := newFixture(t, 0)

	for i := 0; i < 2; i++ {
		status, _ := f.do(t, "POST", "/sessions", "")
		require.Equal(t, fiber.StatusCreated, status)
	}

	status, _ := f.do(t, "POST", "/query", `{"query": "hi"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "POST", "/sessions", "")
	require.Equal(t, fiber.StatusCreated, status)
	id := body["session_id"].(string)

	status, _ = f.do(t, "POST", "/query", `{"session_id": "`+id+`", "query": "what is a heap"}`)
	require.Equal(t, fiber.StatusOK, status)

	status, body = f.do(t, "GET", "/sessions/"+id+"/history", "")
	require.Equal(t, fiber.StatusOK, status)
	history := body["history"].([]interface{})
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].(map[string]interface{})["role"])
	assert.Equal(t, "ai", history[1].(map[string]interface{})["role"])

	status, _ = f.do(t, "DELETE", "/sessions/"+id, "")
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body = f.do(t, "GET", "/sessions/"+id+"/history", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["history"])

	status, _ = f.do(t, "DELETE", "/sessions/"+id+"?purge=true", "")
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = f.do(t, "GET", "/sessions/"+id+"/history", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = f.do(t, "DELETE", "/sessions/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHandleQuery_ResetWhilePending(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)

	id, err := f.service.NewSession()
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, f.service.Reset(id))
	}()

	status, body := f.do(t, "POST", "/query", `{"session_id": "`+id+`", "query": "what is a heap"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, id, body["session_id"])
}

func TestHandleQuery_TimeoutCancelsPending(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	f.query.timeout = 100 * time.Millisecond

	start := time.Now()
	status, body := f.do(t, "POST", "/query", `{"query": "what is a heap"}`)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, fiber.StatusRequestTimeout, status)
	assert.NotEmpty(t, body["error"])

	f.service.Flush()
	assert.Empty(t, f.backend.outcomes)
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "deadline", err: context.DeadlineExceeded, status: fiber.StatusRequestTimeout},
		{name: "cancelled pending", err: query.ErrCancelled, status: fiber.StatusRequestTimeout},
		{name: "unexpected", err: chat.ErrUnexpected, status: fiber.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), status: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return errorResponse(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status == fiber.StatusInternalServerError {
				data, _ := io.ReadAll(resp.Body)
				assert.Contains(t, string(data), chat.UnexpectedMessage)
				assert.NotContains(t, string(data), "boom")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)
	_, _ = f.service.NewSession()

	status, body := f.do(t, "GET", "/health", "")
	require.Equal(t, fiber.StatusOK, status)

	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, false, body["cloud_enabled"])
	assert.Equal(t, "mem", body["stats_backend"])

	kb := body["knowledge"].(map[string]interface{})
	primary, extended := knowledge.Default().Sizes()
	assert.Equal(t, float64(primary), kb["primary_entries"])
	assert.Equal(t, float64(extended), kb["extended_entries"])
	assert.Equal(t, knowledge.Default().Fingerprint(), kb["fingerprint"])
	assert.Contains(t, kb["topics"], "Data Structures")
	assert.Contains(t, kb["topics"], "Thermodynamics")
}

func TestReady(t *testing.T) {
	f := newFixture(t, 0)

	status, body := f.do(t, "GET", "/ready", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	f.backend.pingErr = errors.New("connection refused")
	status, _ = f.do(t, "GET", "/ready", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestStats(t *testing.T) {
	f := newFixture(t, 0)

	id, err := f.service.NewSession()
	require.NoError(t, err)

	for _, q := range []string{"what is a heap", "what is a stack", "hello"} {
		status, _ := f.do(t, "POST", "/query", `{"session_id": "`+id+`", "query": "`+q+`"}`)
		require.Equal(t, fiber.StatusOK, status)
	}

	f.service.Flush()
	status, body := f.do(t, "GET", "/stats", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "mem", body["backend"])
	assert.Equal(t, float64(3), body["total"])
	assert.Len(t, body["topics"], 2)
}
