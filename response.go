package routekit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/aofei/mimesniffer"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// commitKind records which of Send/Stream/SSE committed the response, so
// the HandlerInvoker can reconcile the handler's return value correctly.
type commitKind uint8

// Recognized commitKind values.
const (
	commitNone commitKind = iota
	commitSend
	commitStream
	commitSSE
)

// StreamOptions configures ResponseState.Stream.
type StreamOptions struct {
	ContentType string
}

// SSEOptions configures ResponseState.SSE.
type SSEOptions struct {
	Retry    int // milliseconds; 0 means omit the retry: field
	KeepOpen bool
}

// SSESendOptions names the optional event/id fields of one SSE message.
type SSESendOptions struct {
	Event string
	ID    string
}

// ResponseState is the per-request response controller: buffered and
// streaming response state, SSE helper, and send-once semantics.
type ResponseState struct {
	mu sync.Mutex

	Status     int
	StatusText string
	Header     http.Header
	Body       any

	minifyHTML bool

	kind      commitKind
	responded bool

	writer  http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	accept  string

	streamClosed bool
	sseKeepOpen  bool

	activeStream *Stream
	activeSSE    *SSE
}

func newResponseState() *ResponseState {
	return &ResponseState{
		Status: http.StatusOK,
		Header: make(http.Header),
	}
}

// bind attaches rs to the live *http.ResponseWriter for the request about
// to be served.
func (rs *ResponseState) bind(ctx context.Context, w http.ResponseWriter, accept string) {
	rs.ctx = ctx
	rs.writer = w
	rs.flusher, _ = w.(http.Flusher)
	rs.accept = accept
}

func (rs *ResponseState) reset() {
	rs.Status = http.StatusOK
	rs.StatusText = ""
	rs.Body = nil
	rs.kind = commitNone
	rs.responded = false
	rs.writer = nil
	rs.flusher = nil
	rs.ctx = nil
	rs.streamClosed = false
	rs.sseKeepOpen = false
	rs.activeStream = nil
	rs.activeSSE = nil
	rs.Header = make(http.Header)
}

// Committed reports whether Send, Stream, or SSE has already run.
func (rs *ResponseState) Committed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.kind != commitNone
}

// Responded reports whether any bytes (or a commit with no body) have been
// sent to the client.
func (rs *ResponseState) Responded() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.responded
}

// snapshot returns the current commit kind and buffered body under lock,
// for HandlerInvoker's post-call reconciliation.
func (rs *ResponseState) snapshot() (commitKind, any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.kind, rs.Body
}

// SetStatus sets the response status code. Returns ErrResponseAlreadyCommitted
// once the response has actually been written to the client. A buffered
// Send that hasn't been flushed yet still allows this, so afterRun
// interceptors can revise the status before it goes out.
func (rs *ResponseState) SetStatus(n int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.responded {
		return ErrResponseAlreadyCommitted
	}
	rs.Status = n
	return nil
}

// SetStatusText sets the response status text.
func (rs *ResponseState) SetStatusText(s string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.responded {
		return ErrResponseAlreadyCommitted
	}
	rs.StatusText = s
	return nil
}

// SetHeader merge-assigns values under key: an array emits every value, a
// single string emits one value.
func (rs *ResponseState) SetHeader(key string, values ...string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.responded {
		return ErrResponseAlreadyCommitted
	}
	rs.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	return nil
}

// AddHeader appends value to key's existing values without clearing them.
func (rs *ResponseState) AddHeader(key, value string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.responded {
		return ErrResponseAlreadyCommitted
	}
	rs.Header.Add(key, value)
	return nil
}

// bodyBytes resolves body (string/[]byte/proto.Message/arbitrary value)
// into wire bytes and a content type, applying content negotiation and
// content sniffing as described in SPEC_FULL.md's ResponseController
// extensions.
func bodyBytes(header http.Header, accept string, body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		ct := header.Get("Content-Type")
		if ct == "" {
			ct = mimesniffer.Sniff(v)
			if ct == "" {
				ct = "application/octet-stream"
			}
		}
		return v, ct, nil
	case string:
		ct := header.Get("Content-Type")
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		return []byte(v), ct, nil
	case proto.Message:
		if preferredContentType(accept, "application/x-protobuf") {
			b, err := proto.Marshal(v)
			if err != nil {
				return nil, "", err
			}
			return b, "application/x-protobuf", nil
		}
		b, err := json.Marshal(v)
		return b, "application/json; charset=utf-8", err
	default:
		if preferredContentType(accept, "application/msgpack") {
			b, err := msgpack.Marshal(v)
			if err != nil {
				return nil, "", err
			}
			return b, "application/msgpack", nil
		}
		b, err := json.Marshal(v)
		return b, "application/json; charset=utf-8", err
	}
}

// preferredContentType reports whether mimeType appears in accept ahead of
// (or in the absence of) "application/json". An empty or "*/*" accept
// always prefers JSON, the framework default.
func preferredContentType(accept, mimeType string) bool {
	if accept == "" {
		return false
	}
	jsonIdx := strings.Index(accept, "application/json")
	mimeIdx := strings.Index(accept, mimeType)
	if mimeIdx == -1 {
		return false
	}
	if jsonIdx == -1 {
		return true
	}
	return mimeIdx < jsonIdx
}

// Send commits the response outcome with the current status/headers and
// the given body, but does not yet write anything to the client. The
// pipeline flushes it via FlushBuffered once after-interceptors have had a
// chance to revise the status, headers, or body. Strings and byte buffers
// pass through; other values are serialized per bodyBytes' content-
// negotiation rules.
func (rs *ResponseState) Send(body any) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.kind != commitNone {
		return ErrResponseAlreadyCommitted
	}
	rs.kind = commitSend
	if body != nil {
		rs.Body = body
	}
	return nil
}

// FlushBuffered writes a commitSend response's current status/headers/body
// to the client. It is a no-op for responses that were never Send-
// committed, and for Stream/SSE responses, which already wrote their
// headers (and possibly a body) progressively as the handler called them.
// Calling it more than once writes only the first time.
func (rs *ResponseState) FlushBuffered() error {
	rs.mu.Lock()
	if rs.kind != commitSend || rs.responded {
		rs.mu.Unlock()
		return nil
	}
	status, statusText, header, b, minify, accept := rs.Status, rs.StatusText, rs.Header.Clone(), rs.Body, rs.minifyHTML, rs.accept
	rs.mu.Unlock()

	return rs.writeBuffered(status, statusText, header, b, minify, accept)
}

func (rs *ResponseState) writeBuffered(status int, statusText string, header http.Header, body any, minify bool, accept string) error {
	payload, contentType, err := bodyBytes(header, accept, body)
	if err != nil {
		return err
	}

	if minify && payload != nil {
		if minified, ok := tryMinify(contentType, payload); ok {
			payload = minified
		}
	}

	if rs.writer == nil {
		rs.responded = true
		return nil
	}

	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	if payload != nil {
		header.Set("Content-Length", strconv.Itoa(len(payload)))
	}
	for k, vs := range header {
		for _, v := range vs {
			rs.writer.Header().Add(k, v)
		}
	}

	if statusText != "" {
		rs.writer.Header().Set("X-Status-Text", statusText)
	}
	rs.writer.WriteHeader(status)
	if payload != nil {
		_, err = rs.writer.Write(payload)
	}
	rs.responded = true
	return err
}

// Stream opens a chunked streaming response and returns a handle for
// writing to and closing it.
func (rs *ResponseState) Stream(opts StreamOptions) (*Stream, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.kind != commitNone {
		return nil, ErrResponseAlreadyCommitted
	}
	rs.kind = commitStream

	ct := opts.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	if rs.Header.Get("Content-Type") == "" {
		rs.Header.Set("Content-Type", ct)
	}

	if rs.writer != nil {
		for k, vs := range rs.Header {
			for _, v := range vs {
				rs.writer.Header().Add(k, v)
			}
		}
		rs.writer.WriteHeader(rs.Status)
		if rs.flusher != nil {
			rs.flusher.Flush()
		}
	}
	rs.responded = true

	s := &Stream{rs: rs}
	rs.activeStream = s
	return s, nil
}

// Stream is the write handle returned by ResponseState.Stream.
type Stream struct {
	rs *ResponseState
}

// Write writes a chunk to the stream. Writes after close or cancellation
// return a *StreamError to the caller; a write after cancellation also
// marks the stream closed.
func (s *Stream) Write(p []byte) (int, error) {
	s.rs.mu.Lock()
	defer s.rs.mu.Unlock()
	if s.rs.streamClosed {
		return 0, &StreamError{Cause: fmt.Errorf("stream closed")}
	}
	if s.rs.ctx != nil && s.rs.ctx.Err() != nil {
		s.rs.streamClosed = true
		return 0, &StreamError{Cause: s.rs.ctx.Err()}
	}
	if s.rs.writer == nil {
		return len(p), nil
	}
	n, err := s.rs.writer.Write(p)
	if s.rs.flusher != nil {
		s.rs.flusher.Flush()
	}
	if err != nil {
		return n, &StreamError{Cause: err}
	}
	return n, nil
}

// Close marks the stream closed. Further writes fail.
func (s *Stream) Close() error {
	s.rs.mu.Lock()
	defer s.rs.mu.Unlock()
	s.rs.streamClosed = true
	return nil
}

// SSE opens a server-sent-events stream.
func (rs *ResponseState) SSE(opts SSEOptions) (*SSE, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.kind != commitNone {
		return nil, ErrResponseAlreadyCommitted
	}
	rs.kind = commitSSE
	rs.sseKeepOpen = opts.KeepOpen

	rs.Header.Set("Content-Type", "text/event-stream")
	rs.Header.Set("Cache-Control", "no-cache")
	rs.Header.Set("Connection", "keep-alive")

	if rs.writer != nil {
		for k, vs := range rs.Header {
			for _, v := range vs {
				rs.writer.Header().Add(k, v)
			}
		}
		rs.writer.WriteHeader(rs.Status)
		if opts.Retry > 0 {
			fmt.Fprintf(rs.writer, "retry: %d\n\n", opts.Retry)
		}
		if rs.flusher != nil {
			rs.flusher.Flush()
		}
	}
	rs.responded = true

	sse := &SSE{rs: rs}
	rs.activeSSE = sse
	return sse, nil
}

// KeepOpen reports whether this response's SSE stream was opened with
// keepOpen:true, in which case HandlerInvoker must not auto-close it when
// the handler returns.
func (rs *ResponseState) KeepOpen() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.sseKeepOpen
}

// SSE is the write handle returned by ResponseState.SSE.
type SSE struct {
	rs *ResponseState
}

// Send formats and writes one SSE event.
func (s *SSE) Send(data any, opts SSESendOptions) error {
	s.rs.mu.Lock()
	defer s.rs.mu.Unlock()
	if s.rs.streamClosed {
		return &StreamError{Cause: fmt.Errorf("sse closed")}
	}
	if s.rs.ctx != nil && s.rs.ctx.Err() != nil {
		s.rs.streamClosed = true
		return &StreamError{Cause: s.rs.ctx.Err()}
	}
	if s.rs.writer == nil {
		return nil
	}

	var buf bytes.Buffer
	if opts.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", opts.Event)
	}
	if opts.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", opts.ID)
	}

	payload, _, err := bodyBytes(http.Header{}, "", data)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteString("\n")

	_, err = s.rs.writer.Write(buf.Bytes())
	if s.rs.flusher != nil {
		s.rs.flusher.Flush()
	}
	if err != nil {
		return &StreamError{Cause: err}
	}
	return nil
}

// Close ends the SSE stream.
func (s *SSE) Close() error {
	s.rs.mu.Lock()
	defer s.rs.mu.Unlock()
	s.rs.streamClosed = true
	return nil
}

// tryMinify runs the configured minifier over payload for the content
// types it supports, returning (result, true) on success, (payload, true)
// unchanged when the content type is not minifiable, or (nil, false) when
// minification failed.
func tryMinify(contentType string, payload []byte) ([]byte, bool) {
	mt := contentType
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = mt[:idx]
	}
	mt = strings.TrimSpace(mt)

	out, err := globalMinifier.minify(mt, payload)
	if err != nil {
		return nil, false
	}
	return out, true
}
