package routekit

import "strings"

// Headers is a multi-valued HTTP header map, used to represent the
// incoming request's headers. Keys are canonicalized to lower-case on
// every mutating operation so lookups are case-insensitive regardless of
// how the header arrived on the wire.
type Headers map[string][]string

// NewHeaders builds a Headers map from a net/http.Header.
func NewHeaders(h map[string][]string) Headers {
	hs := make(Headers, len(h))
	for k, v := range h {
		hs.Set(k, v...)
	}
	return hs
}

// Get returns the first value associated with key, or "" if absent.
func (hs Headers) Get(key string) string {
	values := hs[strings.ToLower(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns every value associated with key.
func (hs Headers) Values(key string) []string {
	return hs[strings.ToLower(key)]
}

// Set replaces the values associated with key.
func (hs Headers) Set(key string, values ...string) {
	hs[strings.ToLower(key)] = values
}

// Add appends a value to key's existing values.
func (hs Headers) Add(key, value string) {
	k := strings.ToLower(key)
	hs[k] = append(hs[k], value)
}

// Has reports whether key has at least one value.
func (hs Headers) Has(key string) bool {
	return len(hs[strings.ToLower(key)]) > 0
}
