package routekit

import (
	"bytes"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

// responseMinifier minifies buffered response bodies by MIME type, used
// when Config.Security.MinifyHTML is set. It is the response-commit-time
// equivalent of the teacher framework's template-render-time minifier.
type responseMinifier struct {
	m *minify.M
}

func newResponseMinifier() *responseMinifier {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/javascript", js.Minify)
	return &responseMinifier{m: m}
}

var globalMinifier = newResponseMinifier()

func (rm *responseMinifier) minify(mimeType string, b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := rm.m.Minify(mimeType, &buf, bytes.NewReader(b)); err != nil {
		if err == minify.ErrNotExist {
			return b, nil
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
