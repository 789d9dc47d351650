package routekit

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// TrailingSlashPolicy selects how RouteTree normalizes a trailing slash in
// the request path before matching. Matching compares slash-trimmed path
// segments, so a path with or without a trailing slash matches the same
// route under every policy; "preserve" does not require an exact match.
type TrailingSlashPolicy string

// Recognized TrailingSlashPolicy values.
const (
	TrailingSlashPreserve TrailingSlashPolicy = "preserve"
	TrailingSlashStrip    TrailingSlashPolicy = "strip"
	TrailingSlashAdd      TrailingSlashPolicy = "add"
)

// DiscoveryMode controls whether the route tree is built eagerly at
// startup or lazily on first request.
type DiscoveryMode string

// Recognized DiscoveryMode values.
const (
	DiscoveryEager DiscoveryMode = "eager"
	DiscoveryLazy  DiscoveryMode = "lazy"
)

// MiddlewareMode selects the calling convention used to invoke a
// middleware export. The "this", "factory" and "assign" modes are
// deprecated; new pipelines should use "default".
type MiddlewareMode string

// Recognized MiddlewareMode values.
const (
	MiddlewareModeDefault MiddlewareMode = "default"
	MiddlewareModeThis    MiddlewareMode = "this"
	MiddlewareModeFactory MiddlewareMode = "factory"
	MiddlewareModeAssign  MiddlewareMode = "assign"
)

// HandlerMode selects the calling convention used to invoke a resolved
// handler export. "this" and "factory" are deprecated.
type HandlerMode string

// Recognized HandlerMode values.
const (
	HandlerModeDefault HandlerMode = "default"
	HandlerModeThis    HandlerMode = "this"
	HandlerModeFactory HandlerMode = "factory"
)

// RoutingConfig configures route discovery and matching.
type RoutingConfig struct {
	RoutesDir     string               `mapstructure:"routes_dir"`
	TrailingSlash TrailingSlashPolicy  `mapstructure:"trailing_slash"`
	Discovery     DiscoveryMode        `mapstructure:"discovery"`
}

// LoggingConfig configures request logging and the request-id header.
type LoggingConfig struct {
	RequestIDHeader string `mapstructure:"request_id_header"`
	Level           string `mapstructure:"level"`
}

// CompatibilityConfig configures the legacy calling conventions supported
// for middleware and handler invocation.
type CompatibilityConfig struct {
	MiddlewareMode       MiddlewareMode `mapstructure:"middleware_mode"`
	UseMiddlewareRequest bool           `mapstructure:"use_middleware_request"`
	HandlerMode          HandlerMode    `mapstructure:"handler_mode"`
}

// DependenciesRuntimeConfig seeds the dependency map before any factory
// runs and selects the merge strategy. "shallow" is the only supported
// merge value.
type DependenciesRuntimeConfig struct {
	Initial map[string]any `mapstructure:"initial"`
	Merge   string         `mapstructure:"merge"`
}

// RuntimeConfig configures dependency composition and caching behavior.
type RuntimeConfig struct {
	Dependencies   DependenciesRuntimeConfig `mapstructure:"dependencies"`
	AllowShared    bool                      `mapstructure:"allow_shared"`
	RemoteCacheTTL time.Duration             `mapstructure:"remote_cache_ttl"`
	DebugMode      bool                      `mapstructure:"debug_mode"`
}

// CORSConfig is applied at response commit when set.
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig configures CORS, default/scrubbed headers, and optional
// response minification.
type SecurityConfig struct {
	CORS           CORSConfig        `mapstructure:"cors"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
	ScrubHeaders   []string          `mapstructure:"scrub_headers"`
	MinifyHTML     bool              `mapstructure:"minify_html"`
}

// Config is the complete configuration surface recognized by the pipeline
// engine. It is always constructed via DefaultConfig and then adjusted in
// code or decoded from a plain map with LoadConfig; reading that map from a
// TOML/YAML/JSON file on disk is a caller concern, not this package's.
type Config struct {
	Routing       RoutingConfig       `mapstructure:"routing"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Compatibility CompatibilityConfig `mapstructure:"compatibility"`
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Security      SecurityConfig      `mapstructure:"security"`
}

// DefaultConfig returns the configuration defaults named throughout the
// specification.
func DefaultConfig() Config {
	return Config{
		Routing: RoutingConfig{
			RoutesDir:     "routes",
			TrailingSlash: TrailingSlashPreserve,
			Discovery:     DiscoveryEager,
		},
		Logging: LoggingConfig{
			RequestIDHeader: "x-request-id",
			Level:           "info",
		},
		Compatibility: CompatibilityConfig{
			MiddlewareMode:       MiddlewareModeDefault,
			UseMiddlewareRequest: false,
			HandlerMode:          HandlerModeDefault,
		},
		Runtime: RuntimeConfig{
			Dependencies: DependenciesRuntimeConfig{
				Merge: "shallow",
			},
			AllowShared:    false,
			RemoteCacheTTL: 60 * time.Second,
		},
		Security: SecurityConfig{},
	}
}

// LoadConfig decodes raw (typically the result of unmarshalling a JSON
// request body, an environment-derived map, or test fixture literal) onto
// a copy of DefaultConfig using weakly-typed mapstructure decoding, the
// same mechanism the teacher framework uses for its own option struct.
func LoadConfig(raw map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	if raw == nil {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return cfg, err
	}

	if err := decoder.Decode(raw); err != nil {
		return cfg, err
	}

	return cfg, nil
}
