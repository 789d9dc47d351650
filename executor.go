package routekit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MiddlewareFunc is the typed adapter over a middleware file's resolved
// callable.
type MiddlewareFunc func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error)

// InterceptorBeforeFunc is the typed adapter over an interceptor file's
// "beforeRun" export.
type InterceptorBeforeFunc func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error)

// InterceptorAfterFunc is the typed adapter over an interceptor file's
// "afterRun" export. It runs regardless of whether the pipeline succeeded or
// failed, and its own failures are logged, never propagated.
type InterceptorAfterFunc func(ctx context.Context, result any, resultErr error, rc *RequestContext) error

// normalizeMiddlewareResult accepts the shapes a middleware/before-hook
// return value may take: nil, a plain map (interpreted as a data patch), or
// a *MiddlewareResult.
func normalizeMiddlewareResult(v any) *MiddlewareResult {
	switch r := v.(type) {
	case nil:
		return nil
	case *MiddlewareResult:
		return r
	case map[string]any:
		return &MiddlewareResult{Data: r}
	default:
		return nil
	}
}

// adaptMiddleware narrows mod's default export into a MiddlewareFunc
// according to mode. "this", "factory" and "assign" are deprecated
// compatibility shims logged once via log.WarnOnce.
func adaptMiddleware(mod Module, ref ResourceRef, mode MiddlewareMode, useRequest bool, log *Logger) (MiddlewareFunc, error) {
	dflt, ok := mod.Default()
	if !ok {
		dflt, ok = mod.Export("middleware")
	}
	if !ok {
		return nil, newMiddlewareFactoryInvalid(ref.URL)
	}

	switch mode {
	case MiddlewareModeFactory:
		log.WarnOnce("middleware-mode-factory", "compatibility.middlewareMode=factory is deprecated")
		return func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error) {
			result, err := dflt.Call(ctx, rc.Dependencies)
			if err != nil {
				return nil, err
			}
			fn, ok := result.(Callable)
			if !ok {
				return nil, newMiddlewareFactoryInvalid(ref.URL)
			}
			v, err := callMiddleware(ctx, fn, useRequest, data, rc)
			if err != nil {
				return nil, err
			}
			return normalizeMiddlewareResult(v), nil
		}, nil
	case MiddlewareModeAssign:
		log.WarnOnce("middleware-mode-assign", "compatibility.middlewareMode=assign is deprecated")
		return func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error) {
			v, err := dflt.Call(ctx, data, rc, rc.Dependencies)
			if err != nil {
				return nil, err
			}
			return normalizeMiddlewareResult(v), nil
		}, nil
	case MiddlewareModeThis:
		log.WarnOnce("middleware-mode-this", "compatibility.middlewareMode=this is deprecated")
		fallthrough
	default:
		return func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error) {
			v, err := callMiddleware(ctx, dflt, useRequest, data, rc)
			if err != nil {
				return nil, err
			}
			return normalizeMiddlewareResult(v), nil
		}, nil
	}
}

func callMiddleware(ctx context.Context, c Callable, useRequest bool, data map[string]any, rc *RequestContext) (any, error) {
	if useRequest {
		return c.Call(ctx, rc.Request, rc)
	}
	return c.Call(ctx, data, rc)
}

// adaptInterceptors narrows mod's "beforeRun"/"afterRun" named exports,
// either of which may be absent.
func adaptInterceptors(mod Module) (InterceptorBeforeFunc, InterceptorAfterFunc) {
	var before InterceptorBeforeFunc
	var after InterceptorAfterFunc

	if c, ok := mod.Export("beforeRun"); ok {
		before = func(ctx context.Context, data map[string]any, rc *RequestContext) (*MiddlewareResult, error) {
			v, err := c.Call(ctx, data, rc)
			if err != nil {
				return nil, err
			}
			return normalizeMiddlewareResult(v), nil
		}
	}
	if c, ok := mod.Export("afterRun"); ok {
		after = func(ctx context.Context, result any, resultErr error, rc *RequestContext) error {
			_, err := c.Call(ctx, result, resultErr, rc)
			return err
		}
	}

	return before, after
}

// PipelineExecutor runs the assembled pipeline for one request: dependency
// composition, before-interceptors, middlewares, the handler, and
// after-interceptors, shaping and sending whatever error or value results.
type PipelineExecutor struct {
	composer        *DependencyComposer
	resolver        ModuleResolver
	modules         *ModuleCache
	shaper          *ErrorShaper
	log             *Logger
	requestIDHeader string
}

// NewPipelineExecutor assembles a PipelineExecutor from its collaborators.
func NewPipelineExecutor(composer *DependencyComposer, resolver ModuleResolver, modules *ModuleCache, shaper *ErrorShaper, log *Logger, requestIDHeader string) *PipelineExecutor {
	return &PipelineExecutor{
		composer:        composer,
		resolver:        resolver,
		modules:         modules,
		shaper:          shaper,
		log:             log,
		requestIDHeader: requestIDHeader,
	}
}

// Execute runs the full pipeline for route, using pf as its discovered
// dependency/middleware/interceptor files and data as the merged
// path/query/body input. It always leaves rc.Response committed by the
// time it returns.
//
// Per the response lifecycle, a buffered Send only records the intended
// status/headers/body; the actual write to the wire is held until after
// afterRun has had a chance to inspect and mutate the response, and
// happens right here as the pipeline's last step. Streaming and SSE
// responses write progressively as the handler calls them and cannot be
// held back the same way.
func (ex *PipelineExecutor) Execute(ctx context.Context, rc *RequestContext, route *RouteEntry, pf PipelineFiles, data map[string]any, allowShared bool) {
	rc.SetStartedAt(time.Now())
	rc.Oxian["route"] = route.Pattern
	if rc.RequestID == "" {
		rc.RequestID = uuid.New().String()
	}
	if ex.requestIDHeader != "" {
		_ = rc.Response.SetHeader(ex.requestIDHeader, rc.RequestID)
	}

	result, resultErr := ex.run(ctx, rc, route, pf, data, allowShared)

	ex.runAfterInterceptors(ctx, rc, pf, result, resultErr)

	if resultErr != nil && !rc.Response.Committed() {
		shaped := ex.shaper.Shape(resultErr)
		_ = rc.Response.SetStatus(shaped.Status)
		_ = rc.Response.Send(shaped.Body)
	} else if !rc.Response.Committed() {
		shaped := ex.shaper.Shape(nil)
		_ = rc.Response.SetStatus(shaped.Status)
		_ = rc.Response.Send(shaped.Body)
	}

	_ = rc.Response.FlushBuffered()
}

// run executes dependency composition through the handler, stopping and
// returning the first error encountered. After-interceptors are the
// caller's responsibility so they run even on failure.
func (ex *PipelineExecutor) run(ctx context.Context, rc *RequestContext, route *RouteEntry, pf PipelineFiles, data map[string]any, allowShared bool) (any, error) {
	deps, err := ex.composer.Compose(ctx, pf.DependencyFiles, allowShared, data)
	if err != nil {
		return nil, err
	}
	rc.Dependencies = deps

	beforeMods, err := ImportAll(ctx, ex.resolver, ex.modules, pf.InterceptorFiles)
	if err != nil {
		return nil, err
	}

	runningData := data
	for _, mod := range beforeMods {
		before, _ := adaptInterceptors(mod)
		if before == nil {
			continue
		}
		patch, err := before(ctx, runningData, rc)
		if err != nil {
			return nil, err
		}
		runningData = applyMiddlewareResult(runningData, rc, patch)
	}

	middlewareMods, err := ImportAll(ctx, ex.resolver, ex.modules, pf.MiddlewareFiles)
	if err != nil {
		return nil, err
	}

	for i, mod := range middlewareMods {
		mw, err := adaptMiddleware(mod, pf.MiddlewareFiles[i], rc.Compat.MiddlewareMode, rc.Compat.UseMiddlewareRequest, ex.log)
		if err != nil {
			return nil, err
		}
		patch, err := mw(ctx, runningData, rc)
		if err != nil {
			return nil, err
		}
		runningData = applyMiddlewareResult(runningData, rc, patch)
		if rc.Response.Committed() {
			return nil, nil
		}
	}

	handlerMod, err := cachedImport(ctx, ex.resolver, ex.modules, route.File)
	if err != nil {
		return nil, newHandlerInvalid(rc.Request.Method, route.Pattern)
	}

	return runHandler(ctx, handlerMod, rc.Request.Method, route.Pattern, runningData, rc, rc.Compat, ex.log)
}

// applyMiddlewareResult merges a before-interceptor/middleware's returned
// patch into the running data map (last writer wins on key collisions) and
// the request context's oxian scratch map.
func applyMiddlewareResult(data map[string]any, rc *RequestContext, patch *MiddlewareResult) map[string]any {
	if patch == nil {
		return data
	}
	if patch.Data != nil {
		data = MergeShallow(cloneMap(data), patch.Data)
	}
	if patch.Context != nil {
		rc.Oxian = MergeShallow(rc.Oxian, patch.Context)
	}
	return data
}

// runAfterInterceptors runs every discovered interceptor's "after" export,
// deepest (leaf) directory first, i.e. in reverse discovery order. Panics
// and errors are recovered and logged, never propagated to the client.
func (ex *PipelineExecutor) runAfterInterceptors(ctx context.Context, rc *RequestContext, pf PipelineFiles, result any, resultErr error) {
	mods, err := ImportAll(ctx, ex.resolver, ex.modules, pf.InterceptorFiles)
	if err != nil {
		ex.log.Error("failed to import interceptors for after-hooks", F("error", err.Error()))
		return
	}

	for i := len(mods) - 1; i >= 0; i-- {
		ex.runOneAfterInterceptor(ctx, mods[i], rc, result, resultErr)
	}
}

func (ex *PipelineExecutor) runOneAfterInterceptor(ctx context.Context, mod Module, rc *RequestContext, result any, resultErr error) {
	defer func() {
		if r := recover(); r != nil {
			ex.log.Error("after-interceptor panicked", F("panic", r))
		}
	}()

	_, after := adaptInterceptors(mod)
	if after == nil {
		return
	}
	if err := after(ctx, result, resultErr, rc); err != nil {
		ex.log.Error("after-interceptor failed", F("error", err.Error()))
	}
}
