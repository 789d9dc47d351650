package routekit

import (
	"context"
	"io/fs"
	"path"
	"strings"
)

// PipelineFiles is the root-to-leaf ordered set of dependencies,
// middleware, interceptors and shared files discovered along a route's
// ancestor chain. The leaf directory's files always appear last in every
// list; a deeper level can only append, never reorder, a shallower one.
type PipelineFiles struct {
	DependencyFiles  []ResourceRef
	MiddlewareFiles  []ResourceRef
	InterceptorFiles []ResourceRef
	SharedFiles      []ResourceRef
}

// ancestorDirs returns the directory chain from the routes root ("") down
// to and including dir, e.g. "a/b" -> ["", "a", "a/b"].
func ancestorDirs(dir string) []string {
	if dir == "" {
		return []string{""}
	}
	parts := strings.Split(dir, "/")
	dirs := make([]string, 0, len(parts)+1)
	dirs = append(dirs, "")
	cur := ""
	for _, p := range parts {
		if cur == "" {
			cur = p
		} else {
			cur = cur + "/" + p
		}
		dirs = append(dirs, cur)
	}
	return dirs
}

// DiscoverPipeline walks the ancestor chain of dir (the directory
// containing the matched route file) and probes each level for the four
// recognized pipeline basenames, in both recognized extensions. Per the
// specification's Open Question resolution, when both ".ts" and ".js"
// exist at the same level for the same basename, both are kept, in the
// order (.ts, .js).
func DiscoverPipeline(fsys fs.FS, dir string, allowShared bool, log *Logger) PipelineFiles {
	var pf PipelineFiles

	for _, d := range ancestorDirs(dir) {
		pf.DependencyFiles = append(pf.DependencyFiles, probeBasename(fsys, d, "dependencies")...)
		pf.MiddlewareFiles = append(pf.MiddlewareFiles, probeBasename(fsys, d, "middleware")...)
		pf.InterceptorFiles = append(pf.InterceptorFiles, probeBasename(fsys, d, "interceptors")...)

		if allowShared {
			shared := probeBasename(fsys, d, "shared")
			if len(shared) > 0 && log != nil {
				log.WarnOnce("shared-deprecated", "shared module files are deprecated", F("dir", d))
			}
			pf.SharedFiles = append(pf.SharedFiles, shared...)
		}
	}

	return pf
}

func probeBasename(fsys fs.FS, dir, basename string) []ResourceRef {
	var found []ResourceRef
	for _, ext := range recognizedExtensions {
		name := basename + ext
		p := name
		if dir != "" {
			p = path.Join(dir, name)
		}
		info, err := fs.Stat(fsys, p)
		if err != nil || info.IsDir() {
			continue
		}
		found = append(found, ResourceRef{URL: p, ModTime: info.ModTime(), HasMTime: true})
	}
	return found
}

// ImportAll imports every file in refs through resolver (consulting cache
// for already-compiled modules), returning one Module per ref in the same
// order. A failure to import any one of them aborts and returns the error.
func ImportAll(ctx context.Context, resolver ModuleResolver, cache *ModuleCache, refs []ResourceRef) ([]Module, error) {
	mods := make([]Module, 0, len(refs))
	for _, ref := range refs {
		mod, err := cachedImport(ctx, resolver, cache, ref)
		if err != nil {
			return nil, err
		}
		mods = append(mods, mod)
	}
	return mods, nil
}
