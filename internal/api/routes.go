// Package api serves mirrored trees over HTTP and streams their changes over
// a websocket.
package api

import (
	"net/http"
	"time"

	"treemirror/internal/logging"
	"treemirror/internal/metrics"
	"treemirror/internal/workspace"
)

const defaultReadTimeout = 10 * time.Second

type Options struct {
	Token          string
	AllowedOrigins []string
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	// ReadTimeout bounds how long a content read may keep retrying.
	ReadTimeout time.Duration
	// StreamRate caps websocket messages per second per connection.
	StreamRate float64
}

func RegisterRoutes(mux *http.ServeMux, ws *workspace.Workspace, options Options) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithCategory("api")
	readTimeout := options.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	rest := &RestHandler{
		Workspace:   ws,
		Logger:      logger,
		ReadTimeout: readTimeout,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, handler)
	}

	mux.Handle("/api/roots", wrap(restHandler(options.Token, rest.handleRoots)))
	mux.Handle("/api/roots/", wrap(restHandler(options.Token, rest.handleRoot)))
	mux.Handle("/api/events", wrap(&EventsHandler{
		Workspace:      ws,
		AuthToken:      options.Token,
		AllowedOrigins: options.AllowedOrigins,
		Logger:         logger,
		Rate:           options.StreamRate,
	}))

	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	mux.Handle("/metrics", registry.Handler())
}
