package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studypilot/backend/internal/middleware/validation"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames []map[string]interface{}
	failAt int
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failAt > 0 && len(w.frames)+1 == w.failAt {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, v.(map[string]interface{}))
	return nil
}

func (w *recordingWriter) snapshot() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]interface{}(nil), w.frames...)
}

func (w *recordingWriter) types() []string {
	frames := w.snapshot()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f["type"].(string)
	}
	return out
}

func newWSHandler(t *testing.T, delay time.Duration) (*WebSocketHandler, *fixture) {
	f := newFixture(t, delay)
	return NewWebSocketHandler(f.service, validation.New(validation.Config{})), f
}

// send dispatches msgs on a fresh connection and waits for every answer.
func send(t *testing.T, h *WebSocketHandler, w *recordingWriter, msgs ...wsMessage) {
	t.Helper()
	conn := h.newConn(w)
	for _, msg := range msgs {
		require.NoError(t, conn.dispatch(msg))
	}
	conn.wait()
}

func TestWebSocket_StreamsAnswer(t *testing.T) {
	h, _ := newWSHandler(t, 0)
	w := &recordingWriter{}

	send(t, h, w, wsMessage{Type: "query", Content: "What is a Hash Table?"})

	frames := w.snapshot()
	types := w.types()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, "status", types[0])
	assert.Equal(t, "Thinking...", frames[0]["content"])
	assert.Equal(t, "complete", types[len(types)-1])

	var text strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		assert.Equal(t, "chunk", f["type"])
		text.WriteString(f["content"].(string))
	}
	assert.Contains(t, text.String(), "Hash Table")

	done := frames[len(frames)-1]
	assert.NotEmpty(t, done["message_id"])
	assert.NotEmpty(t, done["session_id"])
	assert.Equal(t, 0.94, done["confidence"])
	assert.Equal(t, "Data Structures", done["topic"])
	assert.NotContains(t, done, "text")
}

func TestWebSocket_Reset(t *testing.T) {
	h, f := newWSHandler(t, 0)
	id, err := f.service.NewSession()
	require.NoError(t, err)

	w := &recordingWriter{}
	send(t, h, w, wsMessage{Type: "query", Content: "hello", SessionID: id})
	send(t, h, w, wsMessage{Type: "reset", SessionID: id})

	types := w.types()
	assert.Equal(t, "reset", types[len(types)-1])

	history, err := f.service.History(id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWebSocket_ResetWhileAnswerPending(t *testing.T) {
	h, f := newWSHandler(t, 400*time.Millisecond)
	id, err := f.service.NewSession()
	require.NoError(t, err)

	w := &recordingWriter{}
	conn := h.newConn(w)
	defer conn.close()

	require.NoError(t, conn.dispatch(wsMessage{Type: "query", Content: "what is a heap", SessionID: id}))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.dispatch(wsMessage{Type: "reset", SessionID: id}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []string{"status", "reset"}, w.types())

	conn.wait()
	assert.Equal(t, []string{"status", "reset", "discarded"}, w.types())

	history, err := f.service.History(id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWebSocket_ConcurrentQueriesDoNotInterleave(t *testing.T) {
	h, f := newWSHandler(t, 50*time.Millisecond)
	id, err := f.service.NewSession()
	require.NoError(t, err)

	w := &recordingWriter{}
	send(t, h, w,
		wsMessage{Type: "query", Content: "what is a heap", SessionID: id},
		wsMessage{Type: "query", Content: "what is a stack", SessionID: id},
	)

	// After both status frames, each answer is a contiguous run of chunks
	// ending in complete.
	types := w.types()
	require.Equal(t, []string{"status", "status"}, types[:2])
	completes := 0
	for i, typ := range types[2:] {
		if typ == "complete" {
			completes++
			continue
		}
		assert.Equal(t, "chunk", typ, "frame %d", i+2)
	}
	assert.Equal(t, 2, completes)
}

func TestWebSocket_CloseCancelsPendingAnswer(t *testing.T) {
	h, f := newWSHandler(t, 2*time.Second)
	backendBefore := len(f.backend.outcomes)

	w := &recordingWriter{}
	conn := h.newConn(w)
	require.NoError(t, conn.dispatch(wsMessage{Type: "query", Content: "what is a heap"}))
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	conn.close()
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, []string{"status"}, w.types())
	f.service.Flush()
	assert.Len(t, f.backend.outcomes, backendBefore)
}

func TestWebSocket_Errors(t *testing.T) {
	h, _ := newWSHandler(t, 0)

	tests := []struct {
		name string
		msg  wsMessage
		want string
	}{
		{name: "unknown session", msg: wsMessage{Type: "query", Content: "hi", SessionID: "6f1c2a7e-9d7b-4b43-8f0e-2f3d3c9b1a10"}, want: "Session not found"},
		{name: "unsafe content", msg: wsMessage{Type: "query", Content: "<script>x</script>"}, want: validation.ErrUnsafeContent.Error()},
		{name: "reset unknown session", msg: wsMessage{Type: "reset", SessionID: "missing"}, want: "Session not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			send(t, h, w, tt.msg)

			frames := w.snapshot()
			last := frames[len(frames)-1]
			assert.Equal(t, "error", last["type"])
			assert.Equal(t, tt.want, last["error"])
		})
	}
}

func TestWebSocket_UnknownTypeIgnored(t *testing.T) {
	h, _ := newWSHandler(t, 0)
	w := &recordingWriter{}

	send(t, h, w, wsMessage{Type: "ping"})
	assert.Empty(t, w.snapshot())
}

func TestWebSocket_WriteFailureStopsStream(t *testing.T) {
	h, _ := newWSHandler(t, 0)
	w := &recordingWriter{failAt: 2}

	err := h.streamResponse(context.Background(), &frameWriter{conn: w}, wsMessage{Type: "query", Content: "what is a heap"})
	assert.Error(t, err)
	assert.Len(t, w.snapshot(), 1)
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Great", "question!", "\n", "\n", "A", "heap"}, splitIntoWords("Great question!\n\nA  heap"))
	assert.Empty(t, splitIntoWords("   "))
}
