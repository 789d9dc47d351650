package routekit

import "strconv"

// applySecurityHeaders applies CORS, default and scrubbed headers to rs
// before the pipeline runs, adapting the teacher framework's CORS gas to
// this package's commit-once ResponseState.
func applySecurityHeaders(rs *ResponseState, cfg SecurityConfig) {
	for k, v := range cfg.DefaultHeaders {
		_ = rs.SetHeader(k, v)
	}

	applyCORS(rs, cfg.CORS)

	for _, k := range cfg.ScrubHeaders {
		rs.Header.Del(k)
	}
}

func applyCORS(rs *ResponseState, cfg CORSConfig) {
	if len(cfg.AllowOrigins) == 0 {
		return
	}

	_ = rs.AddHeader("Vary", "Origin")

	allowOrigin := ""
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowOrigin = "*"
			break
		}
	}
	if allowOrigin == "" {
		allowOrigin = cfg.AllowOrigins[0]
	}
	_ = rs.SetHeader("Access-Control-Allow-Origin", allowOrigin)

	if cfg.AllowCredentials {
		_ = rs.SetHeader("Access-Control-Allow-Credentials", "true")
	}
	if len(cfg.AllowMethods) > 0 {
		_ = rs.SetHeader("Access-Control-Allow-Methods", joinComma(cfg.AllowMethods))
	}
	if len(cfg.AllowHeaders) > 0 {
		_ = rs.SetHeader("Access-Control-Allow-Headers", joinComma(cfg.AllowHeaders))
	}
	if cfg.MaxAge > 0 {
		_ = rs.SetHeader("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
