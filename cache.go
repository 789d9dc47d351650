package routekit

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// ModuleCache is the process-wide compiled/imported-module cache named in
// the specification: local resources are invalidated by modification
// time, remote resources (no reliable mtime) by a bounded TTL.
//
// The remote side is backed by VictoriaMetrics/fastcache, a bounded
// set-associative byte cache; each stored value is prefixed with an
// 8-byte big-endian insertion timestamp that GetRemoteBytes checks against the
// configured TTL, since fastcache itself has no notion of per-key
// expiry.
type ModuleCache struct {
	local     *sync.Map // string(url+"@"+mtime) -> Module
	remote    *fastcache.Cache
	remoteTTL time.Duration
}

// NewModuleCache returns a ModuleCache with a 32MiB remote byte-cache and
// the given remote TTL (the specification's default is 60s).
func NewModuleCache(remoteTTL time.Duration) *ModuleCache {
	if remoteTTL <= 0 {
		remoteTTL = 60 * time.Second
	}
	return &ModuleCache{
		local:     &sync.Map{},
		remote:    fastcache.New(32 * 1024 * 1024),
		remoteTTL: remoteTTL,
	}
}

func localKey(ref ResourceRef) string {
	return ref.URL + "@" + strconv.FormatInt(ref.ModTime.UnixNano(), 10)
}

// GetLocal returns the cached Module for ref, if its mtime matches a
// previously cached entry.
func (mc *ModuleCache) GetLocal(ref ResourceRef) (Module, bool) {
	v, ok := mc.local.Load(localKey(ref))
	if !ok {
		return nil, false
	}
	return v.(Module), true
}

// PutLocal caches mod under ref's url+mtime.
func (mc *ModuleCache) PutLocal(ref ResourceRef, mod Module) {
	mc.local.Store(localKey(ref), mod)
}

// PutRemoteBytes caches raw bytes for a remote url, timestamped for TTL
// expiry.
func (mc *ModuleCache) PutRemoteBytes(url string, data []byte) {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
	copy(buf[8:], data)
	mc.remote.Set([]byte(url), buf)
}

// GetRemoteBytes returns cached bytes for url if present and within TTL.
func (mc *ModuleCache) GetRemoteBytes(url string) ([]byte, bool) {
	buf := mc.remote.Get(nil, []byte(url))
	if len(buf) < 8 {
		return nil, false
	}
	ts := int64(binary.BigEndian.Uint64(buf[:8]))
	if time.Since(time.Unix(0, ts)) > mc.remoteTTL {
		return nil, false
	}
	return buf[8:], true
}

// Clear drops every cached module, local or remote. Exposed via
// Engine.ClearModuleCache for hot-reload and tests.
func (mc *ModuleCache) Clear() {
	mc.local.Range(func(k, _ any) bool {
		mc.local.Delete(k)
		return true
	})
	mc.remote.Reset()
}

// cachedImport imports ref through resolver, consulting cache first for
// local (has-mtime) resources. Remote resources without a reliable mtime
// bypass the module cache here; they are expected to flow through the
// resolver's own TTL-bounded transport cache, with ModuleCache's remote
// byte-store available to resolver implementations that want it.
func cachedImport(ctx context.Context, resolver ModuleResolver, cache *ModuleCache, ref ResourceRef) (Module, error) {
	if ref.HasMTime {
		if mod, ok := cache.GetLocal(ref); ok {
			return mod, nil
		}
	}

	url, err := resolver.Resolve(ref.URL)
	if err != nil {
		return nil, err
	}
	mod, err := resolver.Import(ctx, url)
	if err != nil {
		return nil, err
	}

	if ref.HasMTime {
		cache.PutLocal(ref, mod)
	}

	return mod, nil
}
