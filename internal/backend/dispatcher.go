package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
	"github.com/chebizarro/crosstalk/internal/reqctx"
)

// DefaultMaxAttempts bounds upstream retries per request.
const DefaultMaxAttempts = 3

var dispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crosstalk_dispatch_attempts_total",
	Help: "Upstream dispatch attempts by backend and outcome.",
}, []string{"backend", "outcome"})

// Dispatcher wraps an Upstream with the retry policy: exponential backoff on
// retryable statuses (429, 500, 502, 503, 504) and transport errors,
// immediate surfacing of everything else. Mid-stream errors are never
// retried; for streams only connection establishment is covered.
type Dispatcher struct {
	upstream    Upstream
	maxAttempts int
	initial     time.Duration
	log         *zap.Logger
}

// NewDispatcher builds the dispatcher for the configured backend.
func NewDispatcher(cfg *config.Config, log *zap.Logger) (*Dispatcher, error) {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	var upstream Upstream
	switch cfg.Backend {
	case config.BackendOpenRouter:
		upstream = NewOpenRouterClient(cfg.OpenRouter, timeout, log)
	case config.BackendLiteLLMOpenRouter:
		upstream = NewLiteLLMClient(cfg.OpenRouter, timeout, log)
	case config.BackendAzureDatabricks:
		upstream = NewDatabricksClient(cfg.Databricks, cfg.MaxTokensLimit, timeout, log)
	default:
		return nil, apperr.New(apperr.Mapping, "unsupported backend %q", cfg.Backend)
	}

	return &Dispatcher{
		upstream:    upstream,
		maxAttempts: DefaultMaxAttempts,
		initial:     time.Second,
		log:         log.Named("dispatch"),
	}, nil
}

// NewDispatcherWith wires an explicit upstream; used by tests with a canned
// replay client.
func NewDispatcherWith(upstream Upstream, maxAttempts int, log *zap.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		upstream:    upstream,
		maxAttempts: maxAttempts,
		initial:     10 * time.Millisecond,
		log:         log.Named("dispatch"),
	}
}

// Kind reports the active backend family.
func (d *Dispatcher) Kind() config.BackendKind { return d.upstream.Kind() }

// Complete executes a non-streaming request with retries.
func (d *Dispatcher) Complete(ctx context.Context, req *Request) (*openai.Response, error) {
	var resp *openai.Response
	err := d.withRetry(ctx, func() error {
		var err error
		resp, err = d.upstream.Complete(ctx, req)
		return err
	})
	return resp, err
}

// Stream opens a streaming request, retrying connection establishment only.
func (d *Dispatcher) Stream(ctx context.Context, req *Request) (<-chan StreamResult, error) {
	var ch <-chan StreamResult
	err := d.withRetry(ctx, func() error {
		var err error
		ch, err = d.upstream.Stream(ctx, req)
		return err
	})
	return ch, err
}

func (d *Dispatcher) withRetry(ctx context.Context, op func() error) error {
	log := reqctx.Logger(ctx, d.log)
	backend := string(d.upstream.Kind())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initial
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			dispatchAttempts.WithLabelValues(backend, "ok").Inc()
			return nil
		}
		if !isRetryable(err) {
			dispatchAttempts.WithLabelValues(backend, "fatal").Inc()
			return backoff.Permanent(err)
		}
		dispatchAttempts.WithLabelValues(backend, "retry").Inc()
		log.Warn("upstream attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, policy)
}

// isRetryable admits transient transport failures and the retryable status
// subset. Cancellation and caller errors propagate immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case apperr.UpstreamTransport:
			return true
		case apperr.UpstreamStatus:
			switch e.Status {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			}
			return false
		default:
			return false
		}
	}
	return true
}
