// Package swagger serves the OpenAPI description of the node's HTTP API.
package swagger

import (
	"context"
	"fmt"
	"net/http"
)

// redocCDN is the ReDoc bundle used when no local copy is configured.
const redocCDN = "https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"

// redocRoute serves a local ReDoc bundle.
const redocRoute = "/api-docs/redoc.standalone.js"

// Option configures Register.
type Option func(*settings)

type settings struct {
	redocFile string
}

// WithRedocFile serves the ReDoc bundle from path, so the docs page works
// without internet access. An empty path keeps the CDN.
func WithRedocFile(path string) Option {
	return func(s *settings) {
		s.redocFile = path
	}
}

// Register attaches the API docs routes to mux.
// Routes:
//
//	GET /api-docs                        -> ReDoc HTML
//	GET /api-docs/redoc.standalone.js    -> local ReDoc bundle (WithRedocFile)
//	GET /openapi.yaml                    -> Embedded OpenAPI document
func Register(_ context.Context, mux *http.ServeMux, opts ...Option) {
	if mux == nil {
		panic("mux is nil")
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	script := redocCDN
	if s.redocFile != "" {
		script = redocRoute
		mux.HandleFunc("GET "+redocRoute, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			http.ServeFile(w, r, s.redocFile)
		})
	}
	page := []byte(fmt.Sprintf(indexHTML, script))

	mux.HandleFunc("GET /api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>Spyro node API</title>
    <style>body{margin:0;padding:0}</style>
  </head>
  <body>
    <redoc spec-url="/openapi.yaml"></redoc>
    <noscript><a href="/openapi.yaml">openapi.yaml</a></noscript>
    <script src="%s"></script>
  </body>
</html>`
