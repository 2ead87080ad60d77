// Package server exposes the proxy over HTTP: the Messages endpoint, token
// counting, and the cache admin surface. Routing and middleware live here;
// all protocol work is delegated to the core packages.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/backend"
	"github.com/chebizarro/crosstalk/internal/cache"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/mapping"
	"github.com/chebizarro/crosstalk/internal/reqctx"
	"github.com/chebizarro/crosstalk/internal/stream"
)

// Server wires the request-path components behind the HTTP surface.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	mapper     *mapping.Mapper
	dispatcher *backend.Dispatcher
	engine     *stream.Engine
	cache      *cache.Cache
	registry   *reqctx.Registry
}

// New assembles the server from explicit collaborators.
func New(cfg *config.Config, log *zap.Logger, mapper *mapping.Mapper, dispatcher *backend.Dispatcher, streamCache *cache.Cache) *Server {
	return &Server{
		cfg:        cfg,
		log:        log.Named("server"),
		mapper:     mapper,
		dispatcher: dispatcher,
		engine:     stream.NewEngine(log),
		cache:      streamCache,
		registry:   reqctx.NewRegistry(),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withRequestContext)

	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/messages/count_tokens", s.handleCountTokens)
	r.Post("/v1/streaming/messages", s.handleMessages)
	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Post("/v1/cache/invalidate", s.handleCacheInvalidate)
	r.Get("/health", s.handleHealth)
	return r
}

// withRequestContext assigns the correlation id, registers the request as
// live, and guarantees cleanup on request end.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, info := reqctx.New(r.Context())
		s.registry.Add(info)
		defer s.registry.Remove(info.ID)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		reqctx.Logger(ctx, s.log).Debug("request finished",
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
