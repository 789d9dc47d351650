package routekit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseSendIsSendOnce(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "application/json")

	require.NoError(t, rs.Send(map[string]any{"ok": true}))
	err := rs.Send(map[string]any{"ok": false})
	assert.Same(t, ErrResponseAlreadyCommitted, err)

	require.NoError(t, rs.FlushBuffered())
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestResponseSendDefaultsToJSON(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "*/*")

	require.NoError(t, rs.Send(map[string]any{"hello": "world"}))
	require.NoError(t, rs.FlushBuffered())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestResponseSendPrefersMsgpackWhenAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "application/msgpack, application/json;q=0.5")

	require.NoError(t, rs.Send(map[string]any{"hello": "world"}))
	require.NoError(t, rs.FlushBuffered())
	assert.Equal(t, "application/msgpack", w.Header().Get("Content-Type"))
}

func TestResponseSendStringPassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	require.NoError(t, rs.Send("plain text"))
	require.NoError(t, rs.FlushBuffered())
	assert.Equal(t, "plain text", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestResponseSendSniffsRawBytes(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	require.NoError(t, rs.Send(png))
	require.NoError(t, rs.FlushBuffered())
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestResponseSetHeaderSucceedsUntilFlushed(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	require.NoError(t, rs.Send(nil))

	// Send only records the outcome; afterRun-style mutation still works
	// until FlushBuffered actually writes to the client.
	require.NoError(t, rs.SetHeader("X-Foo", "bar"))
	require.NoError(t, rs.SetStatus(201))

	require.NoError(t, rs.FlushBuffered())
	assert.Equal(t, "bar", w.Header().Get("X-Foo"))
	assert.Equal(t, 201, w.Code)

	assert.Same(t, ErrResponseAlreadyCommitted, rs.SetHeader("X-Late", "nope"))
	assert.Same(t, ErrResponseAlreadyCommitted, rs.SetStatus(500))
}

func TestResponseStreamWritesChunksAndCloses(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	stream, err := rs.Stream(StreamOptions{ContentType: "text/plain"})
	require.NoError(t, err)

	_, err = stream.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = stream.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Write([]byte("late"))
	require.Error(t, err)

	assert.Equal(t, "helloworld", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))

	_, err = rs.Stream(StreamOptions{})
	assert.Same(t, ErrResponseAlreadyCommitted, err)
}

func TestResponseSSEFormatsEventsAndKeepOpen(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	sse, err := rs.SSE(SSEOptions{Retry: 2000, KeepOpen: true})
	require.NoError(t, err)
	assert.True(t, rs.KeepOpen())

	require.NoError(t, sse.Send(map[string]any{"tick": 1}, SSESendOptions{Event: "tick", ID: "1"}))
	require.NoError(t, sse.Send(map[string]any{"tick": 2}, SSESendOptions{Event: "tick", ID: "2"}))
	require.NoError(t, sse.Close())

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "retry: 2000\n\n"))
	assert.Contains(t, body, "event: tick\n")
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, `data: {"tick":1}`)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestResponseSnapshotReflectsCommitKind(t *testing.T) {
	w := httptest.NewRecorder()
	rs := newResponseState()
	rs.bind(context.Background(), w, "")

	kind, _ := rs.snapshot()
	assert.Equal(t, commitNone, kind)

	require.NoError(t, rs.Send(map[string]any{"a": 1}))
	kind, body := rs.snapshot()
	assert.Equal(t, commitSend, kind)
	assert.NotNil(t, body)
}
