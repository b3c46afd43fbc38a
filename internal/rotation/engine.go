package rotation

import "sync/atomic"

// Engine serves queries against the most recently published bundle.
// Publish swaps the whole bundle atomically; readers never observe a
// partially rebuilt one. Engine is safe for concurrent use.
type Engine struct {
	live   atomic.Pointer[Aggregates]
	limits Limits
}

// NewEngine returns an engine with no bundle. Queries fail with
// ErrNotInitialized until the first Publish.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits.withDefaults()}
}

// Publish makes agg the live bundle and returns the one it replaced.
// A nil agg is ignored.
func (e *Engine) Publish(agg *Aggregates) *Aggregates {
	if agg == nil {
		return e.live.Load()
	}
	return e.live.Swap(agg)
}

// Aggregates returns the live bundle, or nil before the first Publish.
func (e *Engine) Aggregates() *Aggregates {
	return e.live.Load()
}

// Ready reports whether a bundle has been published.
func (e *Engine) Ready() bool {
	return e.live.Load() != nil
}

// Limits returns the per-query bounds.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Recommend scores q against the live bundle.
func (e *Engine) Recommend(q Query) ([]Recommendation, error) {
	return e.live.Load().Recommend(q, e.limits)
}
