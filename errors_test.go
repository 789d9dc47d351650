package routekit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorShaperStatusCarrierMap(t *testing.T) {
	shaper := &ErrorShaper{}
	shaped := shaper.Shape(map[string]any{"statusCode": 403, "message": "forbidden", "code": "FORBIDDEN"})

	assert.Equal(t, 403, shaped.Status)
	errBody := shaped.Body["error"].(map[string]any)
	assert.Equal(t, "forbidden", errBody["message"])
	assert.Equal(t, "FORBIDDEN", errBody["code"])
}

func TestErrorShaperHttpError(t *testing.T) {
	shaper := &ErrorShaper{}
	shaped := shaper.Shape(NewHttpError(404, "not found").WithCode("NOT_FOUND"))

	assert.Equal(t, 404, shaped.Status)
	errBody := shaped.Body["error"].(map[string]any)
	assert.Equal(t, "not found", errBody["message"])
}

func TestErrorShaperPipelineError(t *testing.T) {
	shaper := &ErrorShaper{}
	shaped := shaper.Shape(ErrRouteNotFound)
	assert.Equal(t, 404, shaped.Status)
}

func TestErrorShaperUnhandledDebugGating(t *testing.T) {
	cause := errors.New("boom")

	quiet := (&ErrorShaper{Debug: false}).Shape(cause)
	assert.Equal(t, 500, quiet.Status)
	errBody := quiet.Body["error"].(map[string]any)
	assert.Equal(t, "Internal Server Error", errBody["message"])
	assert.NotContains(t, errBody, "stack")

	loud := (&ErrorShaper{Debug: true}).Shape(cause)
	errBody = loud.Body["error"].(map[string]any)
	assert.Contains(t, errBody, "stack")
}

func TestErrorShaperNilIsServerError(t *testing.T) {
	shaper := &ErrorShaper{}
	shaped := shaper.Shape(nil)
	assert.Equal(t, 500, shaped.Status)
}
