package routekit

import (
	"context"
	"net/url"
	"time"
)

// BodyKind tags which shape an IncomingRequest's body was parsed into.
type BodyKind uint8

// Recognized BodyKind values.
const (
	BodyNone BodyKind = iota
	BodyJSON
	BodyForm
	BodyRaw
)

// RequestBody is a tagged union over the ways a request body can be
// parsed, replacing the dynamically-typed "data" object of the source
// system with an explicit, inspectable Go value.
type RequestBody struct {
	Kind BodyKind
	JSON map[string]any
	Form url.Values
	Raw  []byte
}

// IncomingRequest is the normalized view of an HTTP request handed to the
// pipeline.
type IncomingRequest struct {
	Method      string
	URL         *url.URL
	Headers     Headers
	PathParams  map[string]string
	QueryParams url.Values
	Body        RequestBody
	RemoteAddr  string
}

// CompatFlags carries the deprecated handler/middleware calling-convention
// selection into the per-request context, so the executor need not thread
// the whole Config through.
type CompatFlags struct {
	MiddlewareMode       MiddlewareMode
	UseMiddlewareRequest bool
	HandlerMode          HandlerMode
}

// RequestContext is the per-request record threaded through dependency
// composition, interceptors, middlewares and the handler. It is created
// fresh per request (from the Pool) and may be mutated in place by
// middlewares merging a returned partial into it.
type RequestContext struct {
	RequestID    string
	Request      *IncomingRequest
	Response     *ResponseState
	Dependencies DependencyMap
	Oxian        map[string]any
	Compat       CompatFlags

	ctx context.Context
}

// Context returns the cancellation/deadline context backing this request.
func (rc *RequestContext) Context() context.Context {
	if rc.ctx == nil {
		return context.Background()
	}
	return rc.ctx
}

// SetStartedAt records the monotonic start time under oxian.startedAt, as
// the first step of pipeline execution.
func (rc *RequestContext) SetStartedAt(t time.Time) {
	rc.Oxian["startedAt"] = t
}

// Route returns the route pattern recorded under oxian.route, if any.
func (rc *RequestContext) Route() string {
	if v, ok := rc.Oxian["route"].(string); ok {
		return v
	}
	return ""
}

func (rc *RequestContext) reset() {
	rc.RequestID = ""
	rc.Request = nil
	rc.Dependencies = nil
	for k := range rc.Oxian {
		delete(rc.Oxian, k)
	}
	rc.Compat = CompatFlags{}
	rc.ctx = nil
}

// DependencyMap is the composed dependency registry produced by
// DependencyComposer: an opaque, string-keyed map of whatever values the
// chain's dependency factories returned.
type DependencyMap map[string]any

// MergeShallow copies src's keys onto dst, overwriting any existing key
// (the last writer wins). It is the explicit replacement for the object
// spread merge semantics of the source system; only shallow merging is
// supported anywhere in this pipeline.
func MergeShallow(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MiddlewareResult is what a middleware or before-interceptor may return:
// a partial patch to the running data map and/or the request context's
// oxian scratch map, shallow-merged into the running state.
type MiddlewareResult struct {
	Data    map[string]any
	Context map[string]any
}
