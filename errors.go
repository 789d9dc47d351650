package routekit

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrorKind classifies the abstract error taxonomy used to shape a response.
type ErrorKind string

// Error kinds recognized by the ErrorShaper.
const (
	KindRouteNotFound          ErrorKind = "route_not_found"
	KindMethodNotAllowed       ErrorKind = "method_not_allowed"
	KindDependencyFactoryFail  ErrorKind = "dependency_factory_failed"
	KindDependencyExportInvalid ErrorKind = "dependency_export_invalid"
	KindMiddlewareFactoryInvalid ErrorKind = "middleware_factory_invalid"
	KindHandlerInvalid         ErrorKind = "handler_invalid"
	KindHTTPError              ErrorKind = "http_error"
	KindStreamError            ErrorKind = "stream_error"
	KindUnhandled              ErrorKind = "unhandled"
)

// HttpError is an error carrying an explicit HTTP status, mirroring the
// "throw an object with a numeric statusCode" convention of route handlers.
type HttpError struct {
	StatusCode int
	Code       string
	Details    any
	Message    string
}

// NewHttpError returns a new *HttpError with the given status and message.
func NewHttpError(status int, message string) *HttpError {
	return &HttpError{StatusCode: status, Message: message}
}

// WithCode attaches a machine-readable code to e and returns e.
func (e *HttpError) WithCode(code string) *HttpError {
	e.Code = code
	return e
}

// WithDetails attaches arbitrary details to e and returns e.
func (e *HttpError) WithDetails(details any) *HttpError {
	e.Details = details
	return e
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http error %d", e.StatusCode)
	}
	return e.Message
}

// PipelineError is the error type raised internally by the pipeline
// components (route matching, dependency composition, handler resolution).
type PipelineError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Allow   []string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// ErrRouteNotFound is returned by RouteTree.Match when no route matches the
// request path.
var ErrRouteNotFound = &PipelineError{
	Kind:    KindRouteNotFound,
	Status:  404,
	Message: "no route matches the requested path",
}

func newMethodNotAllowed(allow []string) *PipelineError {
	return &PipelineError{
		Kind:    KindMethodNotAllowed,
		Status:  405,
		Message: "method not allowed for this route",
		Allow:   allow,
	}
}

func newDependencyFactoryFailed(fileURL string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindDependencyFactoryFail,
		Status:  500,
		Message: fmt.Sprintf("dependency factory %q failed", fileURL),
		Cause:   cause,
	}
}

func newDependencyExportInvalid(fileURL string) *PipelineError {
	return &PipelineError{
		Kind:    KindDependencyExportInvalid,
		Status:  500,
		Message: fmt.Sprintf("dependency file %q has no callable export", fileURL),
	}
}

func newMiddlewareFactoryInvalid(fileURL string) *PipelineError {
	return &PipelineError{
		Kind:    KindMiddlewareFactoryInvalid,
		Status:  500,
		Message: fmt.Sprintf("middleware %q factory mode did not return a callable", fileURL),
	}
}

func newHandlerInvalid(method, pattern string) *PipelineError {
	return &PipelineError{
		Kind:    KindHandlerInvalid,
		Status:  500,
		Message: fmt.Sprintf("no callable handler for %s %s", method, pattern),
	}
}

// StreamError is returned by Stream.Write and SSE.Send when the stream is
// closed, the request is cancelled, or the underlying write fails. It is
// handed back to the caller and not logged by the stream itself; it never
// changes the committed response.
type StreamError struct {
	Cause error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream write failed: %v", e.Cause) }
func (e *StreamError) Unwrap() error { return e.Cause }

// ShapedError is the {status, body} pair an error is converted into before
// being written to the wire.
type ShapedError struct {
	Status int
	Body   map[string]any
}

// ErrorShaper converts any thrown/returned error value into a ShapedError,
// following the precedence rules of the error handling design: explicit
// HTTP status carriers first, then HttpError, then debug-gated stack
// traces, then a generic 500.
type ErrorShaper struct {
	Debug bool
}

// Shape converts v (typically a Go error, but also a map[string]any or a
// struct mimicking the "throw a plain object" convention of route
// handlers) into a ShapedError.
func (s *ErrorShaper) Shape(v any) ShapedError {
	if v == nil {
		return ShapedError{Status: 500, Body: s.unhandledBody(nil)}
	}

	if status, msg, code, details, ok := extractStatusCarrier(v); ok {
		return ShapedError{Status: status, Body: errorBody(msg, code, details)}
	}

	if httpErr, ok := v.(*HttpError); ok {
		return ShapedError{
			Status: httpErr.StatusCode,
			Body:   errorBody(httpErr.Message, httpErr.Code, httpErr.Details),
		}
	}

	if pipeErr, ok := v.(*PipelineError); ok {
		allowList := ""
		if len(pipeErr.Allow) > 0 {
			allowList = pipeErr.Allow[0]
		}
		_ = allowList
		return ShapedError{
			Status: pipeErr.Status,
			Body:   errorBody(pipeErr.Message, string(pipeErr.Kind), nil),
		}
	}

	return ShapedError{Status: 500, Body: s.unhandledBody(v)}
}

func (s *ErrorShaper) unhandledBody(v any) map[string]any {
	msg := "Internal Server Error"
	if err, ok := v.(error); ok && err != nil {
		msg = err.Error()
	} else if v != nil {
		msg = fmt.Sprintf("%v", v)
	}

	body := map[string]any{"message": msg}
	if s.Debug {
		if err, ok := v.(error); ok {
			body["stack"] = fmt.Sprintf("%+v", err)
		} else {
			body["stack"] = fmt.Sprintf("%+v", v)
		}
	} else {
		body["message"] = "Internal Server Error"
	}

	return map[string]any{"error": body}
}

func errorBody(message, code string, details any) map[string]any {
	inner := map[string]any{"message": message}
	if code != "" {
		inner["code"] = code
	}
	if details != nil {
		inner["details"] = details
	}
	return map[string]any{"error": inner}
}

// extractStatusCarrier inspects v for a numeric statusCode/status field,
// covering both map[string]any (the Go analogue of "throwing a plain
// object") and arbitrary structs exposing StatusCode/Status and Message
// fields.
func extractStatusCarrier(v any) (status int, message, code string, details any, ok bool) {
	if m, isMap := v.(map[string]any); isMap {
		if n, found := numericField(m, "statusCode", "status"); found {
			status = n
			if msg, has := m["message"].(string); has {
				message = msg
			}
			if c, has := m["code"].(string); has {
				code = c
			}
			details = m["details"]
			return status, message, code, details, true
		}
		return 0, "", "", nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return 0, "", "", nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0, "", "", nil, false
	}

	statusField := rv.FieldByName("StatusCode")
	if !statusField.IsValid() {
		statusField = rv.FieldByName("Status")
	}
	if !statusField.IsValid() || !isNumericKind(statusField.Kind()) {
		return 0, "", "", nil, false
	}

	status = int(reflect.ValueOf(statusField.Interface()).Convert(reflect.TypeOf(int(0))).Int())
	if msgField := rv.FieldByName("Message"); msgField.IsValid() {
		if s, isStr := msgField.Interface().(string); isStr {
			message = s
		}
	}
	if codeField := rv.FieldByName("Code"); codeField.IsValid() {
		if s, isStr := codeField.Interface().(string); isStr {
			code = s
		}
	}
	if detailsField := rv.FieldByName("Details"); detailsField.IsValid() {
		details = detailsField.Interface()
	}

	return status, message, code, details, true
}

func numericField(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		raw, found := m[key]
		if !found {
			continue
		}
		switch n := raw.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		}
	}
	return 0, false
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// ErrResponseAlreadyCommitted is returned when Send, Stream, or SSE is
// called after one of them already ran, or when status/headers are mutated
// after the response has been written to the client.
var ErrResponseAlreadyCommitted = errors.New("routekit: response already committed")
