package routekit

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// SegmentKind distinguishes the three shapes a path segment can take.
type SegmentKind uint8

// Recognized SegmentKind values.
const (
	SegmentLiteral SegmentKind = iota
	SegmentParam
	SegmentCatchAll
)

// Segment is one component of a route pattern.
type Segment struct {
	Kind  SegmentKind
	Value string // literal text, or the parameter name without brackets/dots
}

// ResourceRef identifies a single file participating in the pipeline: a
// route file, or a dependencies/middleware/interceptors/shared file at
// some ancestor directory.
type ResourceRef struct {
	URL      string
	ModTime  time.Time
	HasMTime bool
	IsRemote bool
}

// RouteEntry is one discovered route: its pattern, parsed segments, the
// file that implements it, and the HTTP methods that file declares.
type RouteEntry struct {
	Pattern  string
	Segments []Segment
	Dir      string // directory containing File, relative to the routes root
	File     ResourceRef
	Methods  map[string]bool
}

func (e *RouteEntry) paramCount() int {
	n := 0
	for _, s := range e.Segments {
		if s.Kind != SegmentLiteral {
			n++
		}
	}
	return n
}

func (e *RouteEntry) hasCatchAll() bool {
	for _, s := range e.Segments {
		if s.Kind == SegmentCatchAll {
			return true
		}
	}
	return false
}

func (e *RouteEntry) leadingLiteralCount() int {
	n := 0
	for _, s := range e.Segments {
		if s.Kind != SegmentLiteral {
			break
		}
		n++
	}
	return n
}

// reservedBasenames are the pipeline file basenames that never produce a
// route, regardless of which directory they appear in.
var reservedBasenames = map[string]bool{
	"dependencies": true,
	"middleware":   true,
	"interceptors": true,
	"shared":       true,
}

// recognizedExtensions are the source extensions probed for every route
// and pipeline file.
var recognizedExtensions = []string{".ts", ".js"}

// RouteTree discovers and matches file-system routes.
type RouteTree struct {
	fsys          fs.FS
	trailingSlash TrailingSlashPolicy
	discovery     DiscoveryMode
	resolver      ModuleResolver
	modules       *ModuleCache

	mu      sync.RWMutex
	built   bool
	entries []*RouteEntry
}

// NewRouteTree returns a RouteTree that scans fsys (typically
// os.DirFS(routesDir), or an fstest.MapFS in tests) according to cfg,
// importing discovered route files through resolver to hydrate their
// declared HTTP methods.
func NewRouteTree(fsys fs.FS, cfg RoutingConfig, resolver ModuleResolver, modules *ModuleCache) *RouteTree {
	trailing := cfg.TrailingSlash
	if trailing == "" {
		trailing = TrailingSlashPreserve
	}
	discovery := cfg.Discovery
	if discovery == "" {
		discovery = DiscoveryEager
	}
	return &RouteTree{fsys: fsys, trailingSlash: trailing, discovery: discovery, resolver: resolver, modules: modules}
}

// Build scans the filesystem, populates the route list, and hydrates each
// entry's declared methods by importing its Module. It is called once at
// startup for eager discovery, or lazily on first Match for lazy discovery.
func (t *RouteTree) Build() error {
	entries, err := scanRoutes(t.fsys)
	if err != nil {
		return err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return routeLess(entries[i], entries[j])
	})

	if t.resolver != nil {
		for _, entry := range entries {
			mod, err := cachedImport(context.Background(), t.resolver, t.modules, entry.File)
			if err != nil {
				return err
			}
			entry.Methods = resolveMethods(mod)
		}
	}

	t.mu.Lock()
	t.entries = entries
	t.built = true
	t.mu.Unlock()

	return nil
}

// Invalidate forces the next Match (under either discovery mode) to rebuild
// the tree, and is also what Engine.ClearModuleCache calls for a hot-reload.
func (t *RouteTree) Invalidate() {
	t.mu.Lock()
	t.built = false
	t.mu.Unlock()
}

func (t *RouteTree) ensureBuilt() error {
	t.mu.RLock()
	built := t.built
	t.mu.RUnlock()
	if built {
		return nil
	}
	return t.Build()
}

// Routes returns the discovered routes in specificity order.
func (t *RouteTree) Routes() ([]*RouteEntry, error) {
	if t.discovery == DiscoveryLazy {
		if err := t.ensureBuilt(); err != nil {
			return nil, err
		}
	} else if err := t.ensureBuilt(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*RouteEntry, len(t.entries))
	copy(out, t.entries)
	return out, nil
}

// Match finds the route matching method and requestPath, normalizing the
// path by the configured trailing-slash policy first; since segments are
// compared with slashes trimmed, a trailing slash does not change which
// route matches. It returns ErrRouteNotFound
// when no route's segments match the path, or a MethodNotAllowed
// PipelineError (with Allow populated) when a route matches the path but
// not the method.
func (t *RouteTree) Match(method, requestPath string) (*RouteEntry, map[string]string, error) {
	routes, err := t.Routes()
	if err != nil {
		return nil, nil, err
	}

	normalized := t.normalizePath(requestPath)
	requestSegments := splitPath(normalized)

	for _, entry := range routes {
		params, ok := matchSegments(entry.Segments, requestSegments)
		if !ok {
			continue
		}
		if entry.Methods[method] {
			return entry, params, nil
		}
		return nil, nil, newMethodNotAllowed(sortedMethods(entry.Methods))
	}

	return nil, nil, ErrRouteNotFound
}

func (t *RouteTree) normalizePath(p string) string {
	if p == "" {
		p = "/"
	}
	switch t.trailingSlash {
	case TrailingSlashStrip:
		if len(p) > 1 && strings.HasSuffix(p, "/") {
			p = strings.TrimSuffix(p, "/")
		}
	case TrailingSlashAdd:
		if !strings.HasSuffix(p, "/") {
			p += "/"
		}
	}
	return p
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(segments []Segment, request []string) (map[string]string, bool) {
	var params map[string]string
	ri := 0
	for si, seg := range segments {
		switch seg.Kind {
		case SegmentCatchAll:
			rest := ""
			if ri < len(request) {
				rest = strings.Join(request[ri:], "/")
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.Value] = rest
			return params, true
		case SegmentParam:
			if ri >= len(request) {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.Value] = request[ri]
			ri++
		case SegmentLiteral:
			if ri >= len(request) || request[ri] != seg.Value {
				return nil, false
			}
			ri++
		}
		_ = si
	}
	if ri != len(request) {
		return nil, false
	}
	if params == nil {
		params = map[string]string{}
	}
	return params, true
}

func sortedMethods(methods map[string]bool) []string {
	out := make([]string, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// routeLess implements the four-rule specificity ordering: fewer param
// segments wins; non-catch-all wins over catch-all; longer literal prefix
// wins; lexicographic pattern breaks remaining ties.
func routeLess(a, b *RouteEntry) bool {
	if pa, pb := a.paramCount(), b.paramCount(); pa != pb {
		return pa < pb
	}
	if ca, cb := a.hasCatchAll(), b.hasCatchAll(); ca != cb {
		return !ca
	}
	if la, lb := a.leadingLiteralCount(), b.leadingLiteralCount(); la != lb {
		return la > lb
	}
	return a.Pattern < b.Pattern
}

// scanRoutes walks fsys and builds one RouteEntry per discovered route
// file. Methods is left empty here; RouteTree.Build fills it in once the
// file's Module has been imported.
func scanRoutes(fsys fs.FS) ([]*RouteEntry, error) {
	var entries []*RouteEntry

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		base := path.Base(p)
		name, ext := splitExt(base)
		if !isRecognizedExt(ext) {
			return nil
		}
		if reservedBasenames[name] {
			return nil
		}

		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}

		var pattern string
		var patternDir string
		if name == "index" {
			pattern = "/" + dir
			patternDir = dir
		} else {
			if dir == "" {
				pattern = "/" + name
			} else {
				pattern = "/" + dir + "/" + name
			}
			patternDir = dir
		}
		pattern = cleanPattern(pattern)

		segments, err := parsePatternSegments(pattern)
		if err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, &RouteEntry{
			Pattern:  pattern,
			Segments: segments,
			Dir:      patternDir,
			File: ResourceRef{
				URL:      p,
				ModTime:  info.ModTime(),
				HasMTime: true,
			},
			Methods: map[string]bool{},
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func splitExt(base string) (name, ext string) {
	ext = path.Ext(base)
	name = strings.TrimSuffix(base, ext)
	return name, ext
}

func isRecognizedExt(ext string) bool {
	for _, e := range recognizedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func cleanPattern(p string) string {
	p = path.Clean("/" + strings.Trim(p, "/"))
	if p == "." {
		p = "/"
	}
	return p
}

// parsePatternSegments parses a URL pattern's directory components into
// Segments. "[name]" becomes a param segment, "[...name]" a catch-all
// segment, which may only be the last one.
func parsePatternSegments(pattern string) ([]Segment, error) {
	parts := splitPath(pattern)
	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "[...") && strings.HasSuffix(part, "]"):
			if i != len(parts)-1 {
				return nil, &PipelineError{Kind: KindUnhandled, Status: 500, Message: "catch-all segment must be last: " + pattern}
			}
			name := strings.TrimSuffix(strings.TrimPrefix(part, "[..."), "]")
			segments = append(segments, Segment{Kind: SegmentCatchAll, Value: name})
		case strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]"):
			name := strings.TrimSuffix(strings.TrimPrefix(part, "["), "]")
			segments = append(segments, Segment{Kind: SegmentParam, Value: name})
		default:
			segments = append(segments, Segment{Kind: SegmentLiteral, Value: part})
		}
	}
	return segments, nil
}
