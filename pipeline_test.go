package routekit

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestAncestorDirs(t *testing.T) {
	assert.Equal(t, []string{""}, ancestorDirs(""))
	assert.Equal(t, []string{"", "a", "a/b"}, ancestorDirs("a/b"))
}

func TestDiscoverPipelineRootToLeafOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"dependencies.ts":          &fstest.MapFile{},
		"a/dependencies.ts":        &fstest.MapFile{},
		"a/b/dependencies.ts":      &fstest.MapFile{},
		"a/b/middleware.ts":        &fstest.MapFile{},
	}

	pf := DiscoverPipeline(fsys, "a/b", false, NewLogger("error"))

	require := []string{"dependencies.ts", "a/dependencies.ts", "a/b/dependencies.ts"}
	got := make([]string, len(pf.DependencyFiles))
	for i, ref := range pf.DependencyFiles {
		got[i] = ref.URL
	}
	assert.Equal(t, require, got)
	assert.Len(t, pf.MiddlewareFiles, 1)
	assert.Equal(t, "a/b/middleware.ts", pf.MiddlewareFiles[0].URL)
}

func TestDiscoverPipelineBothExtensionsKeptInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"dependencies.ts": &fstest.MapFile{},
		"dependencies.js": &fstest.MapFile{},
	}

	pf := DiscoverPipeline(fsys, "", false, NewLogger("error"))

	require := []string{"dependencies.ts", "dependencies.js"}
	got := make([]string, len(pf.DependencyFiles))
	for i, ref := range pf.DependencyFiles {
		got[i] = ref.URL
	}
	assert.Equal(t, require, got)
}

func TestDiscoverPipelineSharedGatedByFlag(t *testing.T) {
	fsys := fstest.MapFS{
		"shared.ts": &fstest.MapFile{},
	}

	pf := DiscoverPipeline(fsys, "", false, NewLogger("error"))
	assert.Empty(t, pf.SharedFiles)

	pf = DiscoverPipeline(fsys, "", true, NewLogger("error"))
	assert.Len(t, pf.SharedFiles, 1)
}
