package routekit

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// parseBody reads req's body according to its Content-Type header, mirroring
// the teacher framework's own Content-Type-switched binder but producing a
// RequestBody value instead of decoding into a caller-provided struct.
func parseBody(req *http.Request) (RequestBody, error) {
	if req.Body == nil || req.Method == http.MethodGet || req.Method == http.MethodHead {
		return RequestBody{Kind: BodyNone}, nil
	}

	ctype := req.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(ctype, "application/json"):
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return RequestBody{}, NewHttpError(http.StatusBadRequest, err.Error())
		}
		if len(raw) == 0 {
			return RequestBody{Kind: BodyNone}, nil
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return RequestBody{}, NewHttpError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
		}
		return RequestBody{Kind: BodyJSON, JSON: m}, nil

	case strings.HasPrefix(ctype, "application/x-www-form-urlencoded"),
		strings.HasPrefix(ctype, "multipart/form-data"):
		if err := req.ParseMultipartForm(32 << 20); err != nil && err != http.ErrNotMultipart {
			if err := req.ParseForm(); err != nil {
				return RequestBody{}, NewHttpError(http.StatusBadRequest, err.Error())
			}
		}
		return RequestBody{Kind: BodyForm, Form: req.Form}, nil

	default:
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return RequestBody{}, NewHttpError(http.StatusBadRequest, err.Error())
		}
		if len(raw) == 0 {
			return RequestBody{Kind: BodyNone}, nil
		}
		return RequestBody{Kind: BodyRaw, Raw: raw}, nil
	}
}

// mergedData assembles the handler-facing data map: path params, then query
// params, then the parsed body, each layer overwriting the last on key
// collision.
func mergedData(ir *IncomingRequest) map[string]any {
	out := make(map[string]any, len(ir.PathParams)+len(ir.QueryParams)+4)
	for k, v := range ir.PathParams {
		out[k] = v
	}
	for k, vs := range ir.QueryParams {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	switch ir.Body.Kind {
	case BodyJSON:
		for k, v := range ir.Body.JSON {
			out[k] = v
		}
	case BodyForm:
		for k, vs := range ir.Body.Form {
			if len(vs) == 1 {
				out[k] = vs[0]
			} else {
				out[k] = vs
			}
		}
	case BodyRaw:
		out["body"] = ir.Body.Raw
	}
	return out
}
