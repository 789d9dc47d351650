package routekit

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// DependencyFactory is the typed adapter over a dependency file's
// Callable: given a factory context, it returns the map it contributes to
// the composed dependency map.
type DependencyFactory func(ctx context.Context, factoryCtx map[string]any) (map[string]any, error)

// adaptDependencyFactory narrows a Module discovered as a dependency file
// into a DependencyFactory. A dependency file without a callable default
// or "dependencies" export is a hard error (DependencyExportInvalid).
func adaptDependencyFactory(mod Module, ref ResourceRef) (DependencyFactory, error) {
	c, ok := mod.Default()
	if !ok {
		c, ok = mod.Export("dependencies")
	}
	if !ok {
		return nil, newDependencyExportInvalid(ref.URL)
	}

	return func(ctx context.Context, factoryCtx map[string]any) (map[string]any, error) {
		result, err := c.Call(ctx, factoryCtx)
		if err != nil {
			return nil, newDependencyFactoryFailed(ref.URL, err)
		}
		if result == nil {
			return map[string]any{}, nil
		}
		m, ok := result.(map[string]any)
		if !ok {
			return nil, newDependencyFactoryFailed(ref.URL, fmt.Errorf("factory returned non-object: %T", result))
		}
		return m, nil
	}, nil
}

// DependencyComposer implements the two-level memoized dependency
// composition described in the specification: each (file, mtime) factory
// result is cached independently, and the whole chain's merged result is
// cached under a key derived from the chain. Concurrent cold-cache builds
// for the same key are collapsed with singleflight so factories run at
// most once even under a stampede of simultaneous requests.
type DependencyComposer struct {
	resolver ModuleResolver
	modules  *ModuleCache
	initial  map[string]any

	factoryCache sync.Map // string key -> map[string]any
	factorySF    singleflight.Group

	composedCache sync.Map // uint64 key -> DependencyMap
	composedSF    singleflight.Group
}

// NewDependencyComposer returns a DependencyComposer that imports files
// through resolver (consulting modules for the compiled-module cache) and
// seeds every composed map with initial (the runtime.dependencies.initial
// config value).
func NewDependencyComposer(resolver ModuleResolver, modules *ModuleCache, initial map[string]any) *DependencyComposer {
	return &DependencyComposer{resolver: resolver, modules: modules, initial: initial}
}

// Compose builds (or retrieves from cache) the dependency map for the
// given chain of dependency files.
func (c *DependencyComposer) Compose(ctx context.Context, files []ResourceRef, allowShared bool, factoryCtx map[string]any) (DependencyMap, error) {
	key := composedCacheKey(files, allowShared)

	if cached, ok := c.composedCache.Load(key); ok {
		return cached.(DependencyMap), nil
	}

	result, err, _ := c.composedSF.Do(strconv.FormatUint(key, 36), func() (any, error) {
		if cached, ok := c.composedCache.Load(key); ok {
			return cached.(DependencyMap), nil
		}

		merged := make(map[string]any, len(c.initial))
		for k, v := range c.initial {
			merged[k] = v
		}

		effectiveCtx := factoryCtx
		if allowShared {
			envMap := make(map[string]any)
			for _, kv := range os.Environ() {
				if idx := strings.IndexByte(kv, '='); idx >= 0 {
					envMap[kv[:idx]] = kv[idx+1:]
				}
			}
			effectiveCtx = MergeShallow(cloneMap(factoryCtx), map[string]any{"env": envMap})
		}

		for _, ref := range files {
			partial, err := c.factoryResult(ctx, ref, effectiveCtx)
			if err != nil {
				return nil, err
			}
			merged = MergeShallow(merged, partial)
		}

		out := DependencyMap(merged)
		c.composedCache.Store(key, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(DependencyMap), nil
}

func (c *DependencyComposer) factoryResult(ctx context.Context, ref ResourceRef, factoryCtx map[string]any) (map[string]any, error) {
	factKey := factoryCacheKey(ref)

	if cached, ok := c.factoryCache.Load(factKey); ok {
		return cached.(map[string]any), nil
	}

	result, err, _ := c.factorySF.Do(factKey, func() (any, error) {
		if cached, ok := c.factoryCache.Load(factKey); ok {
			return cached.(map[string]any), nil
		}

		mod, err := cachedImport(ctx, c.resolver, c.modules, ref)
		if err != nil {
			return nil, newDependencyFactoryFailed(ref.URL, err)
		}

		factory, err := adaptDependencyFactory(mod, ref)
		if err != nil {
			return nil, err
		}

		partial, err := factory(ctx, factoryCtx)
		if err != nil {
			return nil, err
		}

		c.factoryCache.Store(factKey, partial)
		return partial, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(map[string]any), nil
}

// InvalidateAll drops every cached factory result and composed map,
// exposed via Engine.ClearModuleCache for hot-reload and tests.
func (c *DependencyComposer) InvalidateAll() {
	c.factoryCache.Range(func(k, _ any) bool { c.factoryCache.Delete(k); return true })
	c.composedCache.Range(func(k, _ any) bool { c.composedCache.Delete(k); return true })
}

func factoryCacheKey(ref ResourceRef) string {
	return ref.URL + "@" + strconv.FormatInt(ref.ModTime.UnixNano(), 10)
}

func composedCacheKey(files []ResourceRef, allowShared bool) uint64 {
	h := xxhash.New()
	for _, ref := range files {
		h.WriteString(ref.URL)
		h.WriteString("@")
		h.WriteString(strconv.FormatInt(ref.ModTime.UnixNano(), 10))
		h.WriteString("|")
	}
	if allowShared {
		h.WriteString("shared=1")
	} else {
		h.WriteString("shared=0")
	}
	return h.Sum64()
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
