package routekit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factoryModule(t *testing.T, result map[string]any) Module {
	t.Helper()
	return NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		return result, nil
	}), nil)
}

func TestDependencyComposerMergeShallowLaterWins(t *testing.T) {
	resolver := NewLocalFSResolver()
	resolver.Register("a.ts", fixedModTime, factoryModule(t, map[string]any{"x": 1, "y": 1}))
	resolver.Register("b.ts", fixedModTime, factoryModule(t, map[string]any{"y": 2}))

	composer := NewDependencyComposer(resolver, NewModuleCache(0), nil)

	deps, err := composer.Compose(context.Background(), []ResourceRef{
		{URL: "a.ts", ModTime: fixedModTime, HasMTime: true},
		{URL: "b.ts", ModTime: fixedModTime, HasMTime: true},
	}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, deps["x"])
	assert.Equal(t, 2, deps["y"])
}

func TestDependencyComposerIsIdempotent(t *testing.T) {
	calls := 0
	resolver := NewLocalFSResolver()
	resolver.Register("a.ts", fixedModTime, NewModule(CallableFunc(func(ctx context.Context, args ...any) (any, error) {
		calls++
		return map[string]any{"n": calls}, nil
	}), nil))

	composer := NewDependencyComposer(resolver, NewModuleCache(0), nil)
	refs := []ResourceRef{{URL: "a.ts", ModTime: fixedModTime, HasMTime: true}}

	first, err := composer.Compose(context.Background(), refs, false, nil)
	require.NoError(t, err)
	second, err := composer.Compose(context.Background(), refs, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "factory should only run once across repeated composition of the same chain")
	assert.Equal(t, first["n"], second["n"])
}

func TestDependencyComposerSeedsInitial(t *testing.T) {
	resolver := NewLocalFSResolver()
	composer := NewDependencyComposer(resolver, NewModuleCache(0), map[string]any{"seeded": true})

	deps, err := composer.Compose(context.Background(), nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, true, deps["seeded"])
}

func TestDependencyComposerInvalidExportIsError(t *testing.T) {
	resolver := NewLocalFSResolver()
	resolver.Register("bad.ts", fixedModTime, NewModule(nil, nil))
	composer := NewDependencyComposer(resolver, NewModuleCache(0), nil)

	_, err := composer.Compose(context.Background(), []ResourceRef{
		{URL: "bad.ts", ModTime: fixedModTime, HasMTime: true},
	}, false, nil)

	require.Error(t, err)
	pe, ok := err.(*PipelineError)
	require.True(t, ok)
	assert.Equal(t, KindDependencyExportInvalid, pe.Kind)
}

func TestDependencyComposerInvalidateAll(t *testing.T) {
	resolver := NewLocalFSResolver()
	resolver.Register("a.ts", fixedModTime, factoryModule(t, map[string]any{"x": 1}))
	composer := NewDependencyComposer(resolver, NewModuleCache(0), nil)
	refs := []ResourceRef{{URL: "a.ts", ModTime: fixedModTime, HasMTime: true}}

	_, err := composer.Compose(context.Background(), refs, false, nil)
	require.NoError(t, err)

	composer.InvalidateAll()

	// After invalidation, a fresh ModTime for the same URL must be treated
	// as a distinct factory-cache entry.
	later := fixedModTime.Add(time.Second)
	resolver.Register("a.ts", later, factoryModule(t, map[string]any{"x": 2}))
	deps, err := composer.Compose(context.Background(), []ResourceRef{
		{URL: "a.ts", ModTime: later, HasMTime: true},
	}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, deps["x"])
}
