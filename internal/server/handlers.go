package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/backend"
	"github.com/chebizarro/crosstalk/internal/cache"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/flow"
	"github.com/chebizarro/crosstalk/internal/openai"
	"github.com/chebizarro/crosstalk/internal/reqctx"
	"github.com/chebizarro/crosstalk/internal/stream"
	"github.com/chebizarro/crosstalk/internal/translate"
)

// handleMessages serves POST /v1/messages for both streaming and
// non-streaming requests.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := reqctx.From(ctx)
	log := reqctx.Logger(ctx, s.log)

	req, err := decodeMessagesRequest(r)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	var result *flow.Result
	info.Time("validate", func() {
		result = flow.Validate(req.Messages, req.Tools)
	})
	for _, warning := range result.Warnings {
		log.Warn("conversation flow", zap.String("warning", warning))
	}
	if !result.OK() {
		s.writeError(ctx, w, validationError(result))
		return
	}

	model, kind := s.mapper.Resolve(req.Model)
	log.Debug("model mapped",
		zap.String("alias", req.Model),
		zap.String("model", model),
		zap.String("kind", string(kind)))

	var upstreamReq *backend.Request
	var trace *translate.Trace
	info.Time("convert", func() {
		var converted *openai.Request
		converted, trace = translate.BuildRequest(req, model, s.convertOptions())
		upstreamReq = &backend.Request{Original: req, Upstream: converted, Model: model}
	})
	for _, warning := range trace.Warnings {
		log.Warn("request conversion", zap.String("warning", warning))
	}

	if req.Stream {
		s.streamMessages(w, r, req, upstreamReq, trace)
		return
	}

	var resp *openai.Response
	var dispatchErr error
	info.Time("dispatch", func() {
		resp, dispatchErr = s.dispatcher.Complete(ctx, upstreamReq)
	})
	if dispatchErr != nil {
		s.writeError(ctx, w, dispatchErr)
		return
	}

	out, err := translate.FromUpstream(resp, req.Model)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	setRequestID(ctx, w)
	s.setDebugHeaders(w, info, trace)
	writeJSON(w, http.StatusOK, out)
}

// setDebugHeaders surfaces per-request timings and the conversion trace when
// debug mode is on. Must run before the first body write.
func (s *Server) setDebugHeaders(w http.ResponseWriter, info *reqctx.Info, trace *translate.Trace) {
	if !s.cfg.Debug {
		return
	}
	if timings := info.Timings(); len(timings) > 0 {
		parts := make([]string, 0, len(timings))
		for name, d := range timings {
			parts = append(parts, fmt.Sprintf("%s=%.3fms", name, float64(d.Microseconds())/1000))
		}
		sort.Strings(parts)
		w.Header().Set("X-Request-Timings", strings.Join(parts, ", "))
	}
	if trace != nil && len(trace.Steps) > 0 {
		w.Header().Set("X-Conversion-Trace", strings.Join(trace.Steps, "; "))
	}
}

// streamMessages serves the SSE path, layering the cache around the engine.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest, upstreamReq *backend.Request, trace *translate.Trace) {
	ctx := r.Context()
	info := reqctx.From(ctx)
	log := reqctx.Logger(ctx, s.log)

	bypass := r.URL.Query().Get("bypass_cache") == "true"
	ttl := queryDuration(r, "cache_ttl")
	tags := queryTags(r, "cache_tags")

	fingerprint := cache.Fingerprint(req)

	if !bypass {
		if events, ok := s.cache.Get(fingerprint); ok {
			log.Debug("cache hit", zap.String("fingerprint", fingerprint[:12]))
			setRequestID(ctx, w)
			s.setDebugHeaders(w, info, trace)
			sw, err := stream.NewSSEWriter(w)
			if err != nil {
				s.writeError(ctx, w, apperr.Wrap(apperr.Stream, err, "opening event stream"))
				return
			}
			if err := s.cache.Replay(ctx, sw, events); err != nil {
				log.Debug("cache replay interrupted", zap.Error(err))
			}
			return
		}
	}

	building := false
	if !bypass {
		building = s.cache.BeginBuild(fingerprint)
	}
	if building {
		defer func() {
			// CompleteBuild releases the slot on success; this covers every
			// early return and cancellation path.
			s.cache.AbortBuild(fingerprint)
		}()
	}

	chunks, err := s.dispatcher.Stream(ctx, upstreamReq)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	setRequestID(ctx, w)
	s.setDebugHeaders(w, info, trace)
	sw, err := stream.NewSSEWriter(w)
	if err != nil {
		s.writeError(ctx, w, apperr.Wrap(apperr.Stream, err, "opening event stream"))
		return
	}

	var sink stream.Sink = sw
	var tee *stream.Tee
	if building {
		tee = stream.NewTee(sw)
		sink = tee
	}

	if err := s.engine.Run(ctx, sink, chunks, req.Model); err != nil {
		log.Debug("stream ended with error", zap.Error(err))
		return
	}

	if building {
		stored := s.cache.CompleteBuild(fingerprint, tee.Events(), ttl, tags)
		log.Debug("stream complete",
			zap.Bool("cached", stored),
			zap.String("fingerprint", fingerprint[:12]))
	}
}

// decodeMessagesRequest parses and structurally validates the inbound body.
func decodeMessagesRequest(r *http.Request) (*anthropic.MessagesRequest, error) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid request body")
	}
	if req.Model == "" {
		return nil, apperr.New(apperr.Validation, "model is required")
	}
	if req.MaxTokens <= 0 {
		return nil, apperr.New(apperr.Validation, "max_tokens must be positive")
	}
	return &req, nil
}

func validationError(result *flow.Result) error {
	err := apperr.New(apperr.Validation, "%s", result.Summary())
	return err
}

func (s *Server) convertOptions() translate.Options {
	return translate.Options{
		MaxTokensLimit:      s.cfg.MaxTokensLimit,
		SimplifyToolSchemas: s.cfg.Backend == config.BackendAzureDatabricks,
		Extra:               s.cfg.Extra,
	}
}

// handleHealth reports liveness, the active backend, and cache stats.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"backend":   s.dispatcher.Kind(),
		"cache":     s.cache.Stats(),
		"in_flight": s.registry.Len(),
	})
}

// handleCacheStats serves GET /v1/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleCacheInvalidate serves POST /v1/cache/invalidate.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		FingerprintPattern string   `json:"fingerprint_pattern,omitempty"`
		Tags               []string `json:"tags,omitempty"`
		OlderThanSeconds   int      `json:"older_than_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(ctx, w, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		return
	}
	removed, err := s.cache.Invalidate(cache.InvalidateCriteria{
		FingerprintPattern: body.FingerprintPattern,
		Tags:               body.Tags,
		OlderThan:          time.Duration(body.OlderThanSeconds) * time.Second,
	})
	if err != nil {
		s.writeError(ctx, w, apperr.Wrap(apperr.Validation, err, "invalid invalidation criteria"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": removed})
}

func queryDuration(r *http.Request, key string) time.Duration {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

func queryTags(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
