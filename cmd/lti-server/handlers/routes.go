package handlers

import (
	"net/http"

	"github.com/providentiaww/trilix-lti/cmd/lti-server/auth"
)

// Routes bundles the endpoint handlers served by lti-server.
type Routes struct {
	LTI       *LTIHandler
	Platforms *PlatformHandler
	Admin     *auth.AdminMiddleware
	ToolKeys  http.Handler
	Health    http.Handler
	Metrics   http.Handler
}

// NewRouter wires the routes and the middleware chain.
func NewRouter(rt Routes) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /lti/login", AllowFraming(http.HandlerFunc(rt.LTI.HandleLogin)))
	mux.Handle("POST /lti/login", AllowFraming(http.HandlerFunc(rt.LTI.HandleLogin)))
	mux.Handle("POST /lti/launch", AllowFraming(http.HandlerFunc(rt.LTI.HandleLaunch)))
	mux.Handle("GET /lti/session", AllowFraming(http.HandlerFunc(rt.LTI.HandleSession)))

	if rt.ToolKeys != nil {
		mux.Handle("GET /lti/jwks", rt.ToolKeys)
	}

	if rt.Platforms != nil && rt.Admin != nil {
		mux.Handle("GET /admin/platforms", rt.Admin.HandlerFunc(rt.Platforms.HandleList))
		mux.Handle("POST /admin/platforms", rt.Admin.HandlerFunc(rt.Platforms.HandleCreate))
		mux.Handle("GET /admin/platforms/{id}", rt.Admin.HandlerFunc(rt.Platforms.HandleGet))
		mux.Handle("PUT /admin/platforms/{id}", rt.Admin.HandlerFunc(rt.Platforms.HandleUpdate))
		mux.Handle("DELETE /admin/platforms/{id}", rt.Admin.HandlerFunc(rt.Platforms.HandleDelete))
	}

	if rt.Health != nil {
		mux.Handle("GET /healthz", rt.Health)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	return CorrelationIDMiddleware(LoggingMiddleware(RecoverMiddleware(MetricsMiddleware(mux))))
}
