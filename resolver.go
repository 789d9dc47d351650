package routekit

import (
	"context"
	"sync"
	"time"
)

// Callable is an opaque exported value a Module can hand back: a factory, a
// middleware function, an interceptor hook, or a route handler. It mirrors
// the dynamically-typed callables a JavaScript module import would expose;
// Go code on either side of the boundary narrows it to a concrete function
// type via the adapters in dependencies.go/executor.go/handler.go.
type Callable interface {
	Call(ctx context.Context, args ...any) (any, error)
}

// CallableFunc adapts a plain Go func to the Callable interface.
type CallableFunc func(ctx context.Context, args ...any) (any, error)

// Call implements Callable.
func (f CallableFunc) Call(ctx context.Context, args ...any) (any, error) { return f(ctx, args...) }

// Module is the result of importing a single pipeline or route file: an
// optional default export, plus any number of named exports (GET, POST,
// beforeRun, afterRun, middleware, dependencies, ...).
type Module interface {
	// Export returns the named export, if any.
	Export(name string) (Callable, bool)
	// Default returns the default export, if any.
	Default() (Callable, bool)
}

// staticModule is the straightforward Module implementation used by
// LocalFSResolver and by tests: a fixed map of named exports plus an
// optional default, exactly as a compiled-in route registration would
// produce.
type staticModule struct {
	named   map[string]Callable
	dflt    Callable
}

// NewModule builds a Module from a default export and a map of named
// exports. Either may be nil/empty.
func NewModule(dflt Callable, named map[string]Callable) Module {
	return &staticModule{dflt: dflt, named: named}
}

func (m *staticModule) Export(name string) (Callable, bool) {
	c, ok := m.named[name]
	return c, ok
}

func (m *staticModule) Default() (Callable, bool) {
	return m.dflt, m.dflt != nil
}

// ModuleStat is the result of ModuleResolver.Stat: local resources report a
// modification time, remote resources may not.
type ModuleStat struct {
	ModTime  time.Time
	HasMTime bool
	IsFile   bool
}

// ModuleResolver resolves a logical specifier to an importable module. The
// pipeline core depends only on this interface; remote GitHub/HTTP source
// fetchers and the bundler/transpiler that turn route source into an
// executable Module live entirely behind it, outside the core's scope.
type ModuleResolver interface {
	// Resolve turns specifier into a canonical URL this resolver
	// recognizes.
	Resolve(specifier string) (string, error)
	// Import loads and returns the Module at url.
	Import(ctx context.Context, url string) (Module, error)
	// Stat reports modification-time and existence information for url.
	Stat(ctx context.Context, url string) (ModuleStat, error)
	// CanHandle reports whether this resolver recognizes url.
	CanHandle(url string) bool
}

// LocalFSResolver is a ModuleResolver backed by an in-memory registry of
// already-imported modules keyed by URL, with per-module modification
// times supplied by the caller. It stands in for "the bundler/transpiler
// used to turn route source into executable form" (out of this core's
// scope per the specification) by letting callers pre-register the
// compiled Module a real loader would have produced; RouteTree/Pipeline
// discovery still walks the real fs.FS to find files and modification
// times, and only calls through this resolver to import them.
type LocalFSResolver struct {
	mu      sync.RWMutex
	modules map[string]Module
	stats   map[string]ModuleStat
}

// NewLocalFSResolver returns an empty LocalFSResolver.
func NewLocalFSResolver() *LocalFSResolver {
	return &LocalFSResolver{
		modules: make(map[string]Module),
		stats:   make(map[string]ModuleStat),
	}
}

// Register associates url with mod and a modification time, making it
// importable. Intended for use by the code that populates routes at build
// time (the Go-idiomatic replacement for dynamic import described in the
// specification's design notes) and by tests.
func (r *LocalFSResolver) Register(url string, modTime time.Time, mod Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[url] = mod
	r.stats[url] = ModuleStat{ModTime: modTime, HasMTime: true, IsFile: true}
}

// Resolve implements ModuleResolver.
func (r *LocalFSResolver) Resolve(specifier string) (string, error) {
	return specifier, nil
}

// Import implements ModuleResolver.
func (r *LocalFSResolver) Import(ctx context.Context, url string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[url]
	if !ok {
		return nil, &PipelineError{Kind: KindUnhandled, Status: 500, Message: "module not registered: " + url}
	}
	return mod, nil
}

// Stat implements ModuleResolver.
func (r *LocalFSResolver) Stat(ctx context.Context, url string) (ModuleStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stats[url]
	if !ok {
		return ModuleStat{}, nil
	}
	return st, nil
}

// CanHandle implements ModuleResolver.
func (r *LocalFSResolver) CanHandle(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[url]
	return ok
}
