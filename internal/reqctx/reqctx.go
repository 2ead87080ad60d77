// Package reqctx carries per-request state: a process-unique correlation id,
// per-component timings, and membership in the live-request registry. The id
// rides the context through every component and is attached to every log
// record for the request.
package reqctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey struct{}

// Info is the mutable per-request record. Safe for concurrent use.
type Info struct {
	ID    string
	Start time.Time

	mu      sync.Mutex
	timings map[string]time.Duration
}

// New attaches a fresh Info to ctx and returns both.
func New(ctx context.Context) (context.Context, *Info) {
	info := &Info{
		ID:      uuid.NewString(),
		Start:   time.Now(),
		timings: make(map[string]time.Duration),
	}
	return context.WithValue(ctx, ctxKey{}, info), info
}

// From returns the Info on ctx, or nil outside a request.
func From(ctx context.Context) *Info {
	info, _ := ctx.Value(ctxKey{}).(*Info)
	return info
}

// Observe records how long a component step took.
func (i *Info) Observe(component string, d time.Duration) {
	if i == nil {
		return
	}
	i.mu.Lock()
	i.timings[component] += d
	i.mu.Unlock()
}

// Time runs fn and records its duration under component.
func (i *Info) Time(component string, fn func()) {
	start := time.Now()
	fn()
	i.Observe(component, time.Since(start))
}

// Timings returns a copy of the recorded per-component durations.
func (i *Info) Timings() map[string]time.Duration {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]time.Duration, len(i.timings))
	for k, v := range i.timings {
		out[k] = v
	}
	return out
}

// Logger returns log with the request's correlation id attached.
func Logger(ctx context.Context, log *zap.Logger) *zap.Logger {
	if info := From(ctx); info != nil {
		return log.With(zap.String("request_id", info.ID))
	}
	return log
}

// Registry tracks in-flight requests so shutdown and diagnostics can see
// them. Entries must be removed when the request ends.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Info)}
}

// Add registers an in-flight request.
func (r *Registry) Add(info *Info) {
	r.mu.Lock()
	r.live[info.ID] = info
	r.mu.Unlock()
}

// Remove drops a finished request. Mandatory on request end.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

// Len reports the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
