package routekit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(resolver *LocalFSResolver) *PipelineExecutor {
	modules := NewModuleCache(0)
	composer := NewDependencyComposer(resolver, modules, nil)
	shaper := &ErrorShaper{Debug: false}
	log := NewLogger("error")
	return NewPipelineExecutor(composer, resolver, modules, shaper, log, "x-request-id")
}

func newTestRequestContext(w http.ResponseWriter) *RequestContext {
	rs := newResponseState()
	rs.bind(context.Background(), w, "application/json")
	return &RequestContext{
		Request: &IncomingRequest{Method: http.MethodGet},
		Response: rs,
		Oxian:    map[string]any{},
		Compat:   CompatFlags{MiddlewareMode: MiddlewareModeDefault, HandlerMode: HandlerModeDefault},
	}
}

func TestExecutorRunsHandlerAndSendsResponse(t *testing.T) {
	resolver := NewLocalFSResolver()
	route := &RouteEntry{Pattern: "/hello", File: ResourceRef{URL: "hello.ts", ModTime: fixedModTime, HasMTime: true}}
	resolver.Register(route.File.URL, fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		return map[string]any{"message": "hello world"}, nil
	}), nil))

	ex := newTestExecutor(resolver)
	w := httptest.NewRecorder()
	rc := newTestRequestContext(w)

	ex.Execute(context.Background(), rc, route, PipelineFiles{}, map[string]any{}, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello world")
}

func TestExecutorGeneratesRequestIDWhenAbsent(t *testing.T) {
	resolver := NewLocalFSResolver()
	route := &RouteEntry{Pattern: "/hello", File: ResourceRef{URL: "hello.ts", ModTime: fixedModTime, HasMTime: true}}
	resolver.Register(route.File.URL, fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		return map[string]any{"ok": true}, nil
	}), nil))

	ex := newTestExecutor(resolver)
	w := httptest.NewRecorder()
	rc := newTestRequestContext(w)
	require.Empty(t, rc.RequestID)

	ex.Execute(context.Background(), rc, route, PipelineFiles{}, map[string]any{}, false)

	assert.NotEmpty(t, rc.RequestID)
	assert.Equal(t, rc.RequestID, w.Header().Get("x-request-id"))
}

func TestExecutorEchoesIncomingRequestID(t *testing.T) {
	resolver := NewLocalFSResolver()
	route := &RouteEntry{Pattern: "/hello", File: ResourceRef{URL: "hello.ts", ModTime: fixedModTime, HasMTime: true}}
	resolver.Register(route.File.URL, fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		return map[string]any{"ok": true}, nil
	}), nil))

	ex := newTestExecutor(resolver)
	w := httptest.NewRecorder()
	rc := newTestRequestContext(w)
	rc.RequestID = "incoming-id-123"

	ex.Execute(context.Background(), rc, route, PipelineFiles{}, map[string]any{}, false)

	assert.Equal(t, "incoming-id-123", w.Header().Get("x-request-id"))
}

func TestExecutorMiddlewareShortCircuit(t *testing.T) {
	resolver := NewLocalFSResolver()
	route := &RouteEntry{Pattern: "/secret", File: ResourceRef{URL: "secret.ts", ModTime: fixedModTime, HasMTime: true}}
	handlerCalled := false
	resolver.Register(route.File.URL, fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		handlerCalled = true
		return map[string]any{"ok": true}, nil
	}), nil))

	resolver.Register("middleware.ts", fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		rc := args[1].(*RequestContext)
		return nil, rc.Response.Send(map[string]any{"error": "unauthorized"})
	}), nil))

	ex := newTestExecutor(resolver)
	w := httptest.NewRecorder()
	rc := newTestRequestContext(w)
	rc.Response.Status = http.StatusUnauthorized

	pf := PipelineFiles{MiddlewareFiles: []ResourceRef{{URL: "middleware.ts", ModTime: fixedModTime, HasMTime: true}}}
	ex.Execute(context.Background(), rc, route, pf, map[string]any{}, false)

	assert.False(t, handlerCalled, "handler must not run once middleware has committed the response")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExecutorAfterInterceptorRunsOnHandlerError(t *testing.T) {
	resolver := NewLocalFSResolver()
	route := &RouteEntry{Pattern: "/boom", File: ResourceRef{URL: "boom.ts", ModTime: fixedModTime, HasMTime: true}}
	resolver.Register(route.File.URL, fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		return nil, NewHttpError(http.StatusTeapot, "no coffee")
	}), nil))

	afterRan := false
	var sawErr error
	resolver.Register("interceptors.ts", fixedModTime, NewModule(nil, map[string]Callable{
		"afterRun": CallableFunc(func(ctx context.Context, args ...any) (any, error) {
			afterRan = true
			if len(args) > 1 {
				if e, ok := args[1].(error); ok {
					sawErr = e
				}
			}
			return nil, nil
		}),
	}))

	ex := newTestExecutor(resolver)
	w := httptest.NewRecorder()
	rc := newTestRequestContext(w)

	pf := PipelineFiles{InterceptorFiles: []ResourceRef{{URL: "interceptors.ts", ModTime: fixedModTime, HasMTime: true}}}
	ex.Execute(context.Background(), rc, route, pf, map[string]any{}, false)

	require.True(t, afterRan)
	require.Error(t, sawErr)
	assert.Equal(t, http.StatusTeapot, w.Code)
}
