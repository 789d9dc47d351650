package routekit

import (
	"io/fs"
	"net/http"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Engine is the top-level struct of this framework: it owns the route
// tree, the dependency composer, the module cache and the resolver, and
// implements http.Handler by running the pipeline executor for every
// matched route.
type Engine struct {
	Config Config
	Log    *Logger

	fsys     fs.FS
	resolver ModuleResolver
	modules  *ModuleCache
	routes   *RouteTree
	composer *DependencyComposer
	executor *PipelineExecutor
	pool     *Pool

	watcher *fsnotify.Watcher
}

// New builds an Engine from cfg, serving routes discovered under
// cfg.Routing.RoutesDir through resolver.
func New(cfg Config, resolver ModuleResolver) (*Engine, error) {
	log := NewLogger(cfg.Logging.Level)
	modules := NewModuleCache(cfg.Runtime.RemoteCacheTTL)
	fsys := os.DirFS(cfg.Routing.RoutesDir)

	routes := NewRouteTree(fsys, cfg.Routing, resolver, modules)
	if cfg.Routing.Discovery == DiscoveryEager {
		if err := routes.Build(); err != nil {
			return nil, err
		}
	}

	composer := NewDependencyComposer(resolver, modules, cfg.Runtime.Dependencies.Initial)
	shaper := &ErrorShaper{Debug: cfg.Runtime.DebugMode}
	executor := NewPipelineExecutor(composer, resolver, modules, shaper, log, cfg.Logging.RequestIDHeader)

	return &Engine{
		Config:   cfg,
		Log:      log,
		fsys:     fsys,
		resolver: resolver,
		modules:  modules,
		routes:   routes,
		composer: composer,
		executor: executor,
		pool:     newPool(),
	}, nil
}

// ServeHTTP implements http.Handler: it matches the request against the
// route tree, discovers that route's pipeline files, and runs the
// executor, following the teacher framework's own pool-acquire /
// chain-and-run / pool-release shape.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := e.pool.RequestContext()
	rs := e.pool.ResponseState()
	defer func() {
		e.pool.Put(rc)
		e.pool.Put(rs)
	}()

	requestID := r.Header.Get(e.Config.Logging.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	rs.bind(r.Context(), w, r.Header.Get("Accept"))
	rs.minifyHTML = e.Config.Security.MinifyHTML
	applySecurityHeaders(rs, e.Config.Security)
	if e.Config.Logging.RequestIDHeader != "" {
		_ = rs.SetHeader(e.Config.Logging.RequestIDHeader, requestID)
	}

	route, params, err := e.routes.Match(r.Method, r.URL.Path)
	if err != nil {
		e.respondError(rc, rs, err)
		return
	}

	body, err := parseBody(r)
	if err != nil {
		e.respondError(rc, rs, err)
		return
	}

	ir := &IncomingRequest{
		Method:      r.Method,
		URL:         r.URL,
		Headers:     NewHeaders(r.Header),
		PathParams:  params,
		QueryParams: r.URL.Query(),
		Body:        body,
		RemoteAddr:  r.RemoteAddr,
	}

	rc.RequestID = requestID
	rc.Request = ir
	rc.Response = rs
	rc.Compat = CompatFlags{
		MiddlewareMode:       e.Config.Compatibility.MiddlewareMode,
		UseMiddlewareRequest: e.Config.Compatibility.UseMiddlewareRequest,
		HandlerMode:          e.Config.Compatibility.HandlerMode,
	}

	pf := DiscoverPipeline(e.fsys, route.Dir, e.Config.Runtime.AllowShared, e.Log)
	data := mergedData(ir)

	e.executor.Execute(r.Context(), rc, route, pf, data, e.Config.Runtime.AllowShared)
}

func (e *Engine) respondError(rc *RequestContext, rs *ResponseState, err error) {
	shaper := &ErrorShaper{Debug: e.Config.Runtime.DebugMode}
	shaped := shaper.Shape(err)
	if pe, ok := err.(*PipelineError); ok && len(pe.Allow) > 0 {
		_ = rs.SetHeader("Allow", pe.Allow...)
	}
	_ = rs.SetStatus(shaped.Status)
	_ = rs.Send(shaped.Body)
	_ = rs.FlushBuffered()
}

// ClearModuleCache drops every cached compiled module and composed/factory
// dependency result, and forces the route tree to rebuild on next use. It
// is what the filesystem watcher calls on change, and is also useful in
// tests that mutate a registered resolver's modules between requests.
func (e *Engine) ClearModuleCache() {
	e.modules.Clear()
	e.composer.InvalidateAll()
	e.routes.Invalidate()
}

// Watch starts watching root (typically cfg.Routing.RoutesDir) for
// filesystem changes and clears every cache on each event, enabling
// route-tree hot-reload during development.
func (e *Engine) Watch(root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := filepathWalkAddDirs(w, root); err != nil {
		w.Close()
		return err
	}

	e.watcher = w
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					e.ClearModuleCache()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.Log.Error("route watcher error", F("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops the route watcher, if running.
func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func filepathWalkAddDirs(w *fsnotify.Watcher, root string) error {
	return fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		dir := root
		if p != "." {
			dir = root + "/" + p
		}
		return w.Add(dir)
	})
}
