package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/tailstream/engine/internal/api/http/handlers"
	"github.com/tailstream/engine/internal/api/http/middleware"
	"github.com/tailstream/engine/internal/api/validation"
	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/metrics"
	"github.com/tailstream/engine/internal/storage"
)

const streamsPrefix = "/api/v1/streams"

// Router manages HTTP routes and middleware
type Router struct {
	mux            *http.ServeMux
	streamHandlers *handlers.StreamHandlers
}

// NewRouter creates a new router
func NewRouter(backend storage.Backend, validator *validation.EventValidator, m *metrics.StreamMetrics, heartbeat time.Duration) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		streamHandlers: handlers.NewStreamHandlers(backend, validator, m, heartbeat),
	}

	chain := middleware.Chain(
		middleware.Recovery(logger.WithComponent("http.middleware")),
		middleware.Tracing(),
		middleware.Logging(logger.WithComponent("http.middleware")),
	)

	r.mux.Handle("/health", chain(http.HandlerFunc(handlers.HealthCheck)))
	r.mux.Handle("/ready", chain(handlers.ReadinessCheck(backend)))

	r.mux.Handle(streamsPrefix, chain(http.HandlerFunc(r.handleStreamRoutes)))
	r.mux.Handle(streamsPrefix+"/", chain(http.HandlerFunc(r.handleStreamRoutes)))

	return r
}

// handleStreamRoutes dispatches stream operations:
//
//	GET    /api/v1/streams                       list
//	POST   /api/v1/streams/{name}                create (Stream-TTL honored)
//	DELETE /api/v1/streams/{name}                delete
//	GET    /api/v1/streams/{name}?live=sse       live tail
//	GET    /api/v1/streams/{name}                poll snapshot
//	POST   /api/v1/streams/{name}/events         append
//	GET    /api/v1/streams/{name}/ws             WebSocket tail
func (r *Router) handleStreamRoutes(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, streamsPrefix)
	name, rest := splitStreamPath(path)

	if name == "" {
		if req.Method == http.MethodGet {
			r.streamHandlers.List(w, req)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch rest {
	case "":
		switch req.Method {
		case http.MethodPost:
			r.streamHandlers.Create(w, req, name)
		case http.MethodDelete:
			r.streamHandlers.Delete(w, req, name)
		case http.MethodGet:
			if req.URL.Query().Get("live") == "sse" {
				r.streamHandlers.Subscribe(w, req, name)
			} else {
				r.streamHandlers.Poll(w, req, name)
			}
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case "events":
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.streamHandlers.Append(w, req, name)
	case "ws":
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.streamHandlers.SubscribeWS(w, req, name)
	default:
		http.NotFound(w, req)
	}
}

func splitStreamPath(path string) (name, rest string) {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}
