package routekit

import (
	"context"
	"encoding/json"
	"net/http"
)

// HandlerFunc is the typed adapter over a route file's resolved method (or
// default) export.
type HandlerFunc func(ctx context.Context, data map[string]any, rc *RequestContext) (any, error)

// standardMethods are the HTTP methods route files may export by name.
var standardMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// resolveMethods inspects mod and returns the set of HTTP methods it
// declares. A module with no named method export but a default export is
// treated as handling every standard method, mirroring a catch-all route
// handler.
func resolveMethods(mod Module) map[string]bool {
	methods := map[string]bool{}
	for _, m := range standardMethods {
		if _, ok := mod.Export(m); ok {
			methods[m] = true
		}
	}
	if len(methods) == 0 {
		if _, ok := mod.Default(); ok {
			for _, m := range standardMethods {
				methods[m] = true
			}
		}
	}
	return methods
}

// adaptHandler resolves the callable for method on mod: its upper-case
// named export, falling back to the default export.
func adaptHandler(mod Module, method string) (HandlerFunc, bool) {
	c, ok := mod.Export(method)
	if !ok {
		c, ok = mod.Default()
	}
	if !ok {
		return nil, false
	}

	return func(ctx context.Context, data map[string]any, rc *RequestContext) (any, error) {
		return c.Call(ctx, data, rc)
	}, true
}

// RawResponse lets a handler return a platform-response-shaped value whose
// status, headers and body should be adopted wholesale, mirroring the
// "handler returns a platform Response object" buffered-mode rule.
type RawResponse struct {
	Status int
	Header http.Header
	Body   any
}

// runHandler resolves and invokes the handler for method on mod according
// to compat.HandlerMode, then reconciles the handler's return value with
// whatever response mode (buffered/streaming/already-sent) the handler put
// the ResponseState into. It returns the handler's own return value
// alongside any error, so afterRun interceptors can inspect what the
// handler produced.
func runHandler(ctx context.Context, mod Module, method, pattern string, data map[string]any, rc *RequestContext, compat CompatFlags, log *Logger) (any, error) {
	fn, ok := adaptHandler(mod, method)
	if !ok {
		return nil, newHandlerInvalid(method, pattern)
	}

	value, err := invokeHandler(ctx, fn, mod, compat, data, rc, log)
	if err != nil {
		return nil, err
	}

	if err := reconcileHandlerResult(value, rc); err != nil {
		return value, err
	}
	return value, nil
}

func invokeHandler(ctx context.Context, fn HandlerFunc, mod Module, compat CompatFlags, data map[string]any, rc *RequestContext, log *Logger) (any, error) {
	switch compat.HandlerMode {
	case HandlerModeFactory:
		log.WarnOnce("handler-mode-factory", "compatibility.handlerMode=factory is deprecated")
		dflt, ok := mod.Default()
		if !ok {
			return nil, newHandlerInvalid(rc.Request.Method, rc.Route())
		}
		result, err := dflt.Call(ctx, rc.Dependencies)
		if err != nil {
			return nil, err
		}
		factoryFn, ok := result.(Callable)
		if !ok {
			return nil, newHandlerInvalid(rc.Request.Method, rc.Route())
		}
		return factoryFn.Call(ctx, data, rc)
	case HandlerModeThis:
		log.WarnOnce("handler-mode-this", "compatibility.handlerMode=this is deprecated")
		return fn(ctx, data, rc)
	default:
		return fn(ctx, data, rc)
	}
}

// reconcileHandlerResult implements the buffered/streaming/already-sent
// reconciliation described in the specification.
func reconcileHandlerResult(value any, rc *RequestContext) error {
	rs := rc.Response

	if raw, ok := value.(*RawResponse); ok {
		if raw.Status != 0 {
			_ = rs.SetStatus(raw.Status)
		}
		for k, vs := range raw.Header {
			for _, v := range vs {
				_ = rs.AddHeader(k, v)
			}
		}
		value = raw.Body
	}

	kind, body := rs.snapshot()

	switch kind {
	case commitSend:
		// Already sent explicitly; any further return value is ignored.
		return nil
	case commitStream:
		if s := rs.activeStream; s != nil {
			if value != nil {
				if b, err := encodeChunk(value); err == nil {
					_, _ = s.Write(b)
				}
			}
			_ = s.Close()
		}
		return nil
	case commitSSE:
		if s := rs.activeSSE; s != nil {
			if value != nil {
				_ = s.Send(value, SSESendOptions{})
			}
			if !rs.KeepOpen() {
				_ = s.Close()
			}
		}
		return nil
	default:
		if body == nil {
			return rs.Send(value)
		}
		return nil
	}
}

func encodeChunk(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
