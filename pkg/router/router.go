// Copyright 2025 Certen Protocol
//
// Package router selects an LLM provider and model for a generation
// request, applying routing rules and a policy gate before dispatch, with
// fallback to a secondary provider on failure. Prometheus counters held in
// a Metrics value track routing decisions and provider outcomes.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/axiom-labs/ivcud/pkg/catalog"
	"github.com/axiom-labs/ivcud/pkg/errtype"
	"github.com/axiom-labs/ivcud/pkg/llm"
)

// defaultProviderRateLimit caps each provider at this many requests per
// second before bursting into its own rate limit errors; callers can
// override per provider with SetProviderLimit.
const defaultProviderRateLimit = 5

// Circuit breaker tuning (spec §5): a provider trips open after
// breakerTripThreshold consecutive errors and is skipped by routing until
// breakerOpenDuration has elapsed, at which point one request is let
// through half-open to probe recovery.
const (
	breakerTripThreshold = 5
	breakerOpenDuration  = 30 * time.Second
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-provider circuit breaker (closed/open/half-open).
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < breakerOpenDuration {
			return false
		}
		b.state = breakerHalfOpen
		return true
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = breakerClosed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails++
	if b.consecutiveFails >= breakerTripThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && time.Since(b.openedAt) < breakerOpenDuration
}

// Rule narrows which model a request is routed to based on task type and
// an optional tier ceiling; rules are evaluated in registration order and
// the first match wins.
type Rule struct {
	Name    string
	Task    catalog.TaskType
	MaxTier catalog.Tier
	ModelID string // explicit override; empty means "pick best in MaxTier"
}

func (r Rule) matches(task catalog.TaskType) bool {
	return r.Task == task
}

// PolicyCheck is the subset of the policy gate the router needs: a
// pre-generation veto over the rendered prompt. The full rule catalog lives
// in package policy; this narrow interface avoids an import cycle.
type PolicyCheck func(ctx context.Context, prompt string) error

// Metrics holds the Prometheus collectors the router updates. Callers
// register these with their own registry at startup.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

// NewMetrics constructs a Metrics bundle. Its Collectors() are what gets
// registered with a Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ivcud_router_requests_total",
			Help: "Total routed chat requests by model_id and provider.",
		}, []string{"model_id", "provider"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ivcud_router_fallbacks_total",
			Help: "Total times the router fell back to a secondary provider.",
		}, []string{"from_provider", "to_provider"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ivcud_router_errors_total",
			Help: "Total routing or provider errors by stage.",
		}, []string{"stage"}),
	}
}

// Collectors returns every collector in m, for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.RequestsTotal, m.FallbacksTotal, m.Errors}
}

// Router dispatches chat requests to the best registered provider for a
// task, subject to routing rules and an optional policy gate.
type Router struct {
	mu        sync.RWMutex
	providers map[string]llm.Provider
	limiters  map[string]*rate.Limiter
	breakers  map[string]*breaker
	fallback  string // provider name used when the primary fails
	rules     []Rule
	policy    PolicyCheck
	metrics   *Metrics
}

// New returns a Router with the mock provider registered as its own
// fallback; real providers layer on top via RegisterProvider.
func New(metrics *Metrics) *Router {
	r := &Router{
		providers: make(map[string]llm.Provider),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*breaker),
		fallback:  "mock",
		metrics:   metrics,
	}
	r.RegisterProvider(llm.NewMockProvider())
	return r
}

// RegisterProvider adds or replaces a provider by name, rate-limited to
// defaultProviderRateLimit requests per second until overridden with
// SetProviderLimit, with a fresh (closed) circuit breaker.
func (r *Router) RegisterProvider(p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if _, ok := r.limiters[p.Name()]; !ok {
		r.limiters[p.Name()] = rate.NewLimiter(rate.Limit(defaultProviderRateLimit), defaultProviderRateLimit)
	}
	if _, ok := r.breakers[p.Name()]; !ok {
		r.breakers[p.Name()] = &breaker{}
	}
}

// Unregister removes a provider and its rate limiter/circuit breaker,
// counterpart to RegisterProvider. Unregistering the configured fallback
// leaves Chat/ChatStream erroring on fallback dispatch until SetFallback is
// called again.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.limiters, name)
	delete(r.breakers, name)
}

// SetProviderLimit overrides the requests-per-second ceiling for a
// registered provider.
func (r *Router) SetProviderLimit(name string, requestsPerSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// SetFallback sets the provider name used when the chosen primary fails.
func (r *Router) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// SetPolicy installs a pre-generation policy check, applied to both the
// primary and fallback attempt.
func (r *Router) SetPolicy(p PolicyCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// AddRule appends a routing rule, evaluated in order on Route.
func (r *Router) AddRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// Route picks a model spec for task, preferring the first matching rule
// and otherwise the highest-HumanEval model within any tier ceiling.
func (r *Router) Route(task catalog.TaskType) (catalog.Spec, error) {
	r.mu.RLock()
	rules := append([]Rule(nil), r.rules...)
	r.mu.RUnlock()

	for _, rule := range rules {
		if !rule.matches(task) {
			continue
		}
		if rule.ModelID != "" {
			if spec, ok := catalog.Lookup(rule.ModelID); ok {
				return spec, nil
			}
		}
		return bestInTier(task, rule.MaxTier), nil
	}

	candidates := catalog.ForTask(task)
	if len(candidates) == 0 {
		return catalog.Spec{}, fmt.Errorf("router: no model registered for task %q", task)
	}
	return best(candidates), nil
}

func bestInTier(task catalog.TaskType, ceiling catalog.Tier) catalog.Spec {
	var filtered []catalog.Spec
	for _, s := range catalog.ForTask(task) {
		if ceiling == "" || tierRank(s.Tier) <= tierRank(ceiling) {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		filtered = catalog.ForTask(task)
	}
	return best(filtered)
}

func tierRank(t catalog.Tier) int {
	switch t {
	case catalog.TierBudget:
		return 0
	case catalog.TierMid:
		return 1
	case catalog.TierFlagship:
		return 2
	default:
		return 1
	}
}

func best(specs []catalog.Spec) catalog.Spec {
	out := specs[0]
	for _, s := range specs[1:] {
		if s.HumanEvalScore > out.HumanEvalScore {
			out = s
		}
	}
	return out
}

// Chat applies the policy gate, dispatches to spec.Provider (with
// req.ModelID set to spec.ModelID), and falls
// back to the configured fallback provider on any provider error. Both
// attempts are subject to the policy gate (spec §9 open question: fallback
// must also pass policy).
func (r *Router) Chat(ctx context.Context, spec catalog.Spec, req llm.Request) (llm.Response, error) {
	r.mu.RLock()
	policy := r.policy
	fallbackName := r.fallback
	r.mu.RUnlock()

	if policy != nil {
		var prompt string
		for _, m := range req.Messages {
			prompt += m.Content + "\n"
		}
		if err := policy(ctx, prompt); err != nil {
			r.count("policy")
			return llm.Response{}, err
		}
	}

	req.ModelID = spec.ModelID
	provider, ok := r.provider(spec.Provider)
	if ok && r.breakerAllows(spec.Provider) {
		if err := r.wait(ctx, spec.Provider); err != nil {
			r.count("rate_limit")
			return llm.Response{}, &errtype.ProviderError{Provider: spec.Provider, Cause: err}
		}
		resp, err := provider.Chat(ctx, req)
		if err == nil {
			r.recordSuccess(spec.Provider)
			r.countPair(spec.ModelID, provider.Name())
			return resp, nil
		}
		r.recordFailure(spec.Provider)
		r.count("primary")
	}

	fallback, ok := r.provider(fallbackName)
	if !ok {
		return llm.Response{}, &errtype.ProviderError{Provider: spec.Provider, Cause: fmt.Errorf("no fallback provider %q registered", fallbackName)}
	}
	r.countFallback(spec.Provider, fallbackName)

	if err := r.wait(ctx, fallbackName); err != nil {
		r.count("rate_limit")
		return llm.Response{}, &errtype.ProviderError{Provider: fallbackName, Cause: err}
	}
	resp, err := fallback.Chat(ctx, req)
	if err != nil {
		r.recordFailure(fallbackName)
		r.count("fallback")
		return llm.Response{}, &errtype.ProviderError{Provider: fallbackName, Cause: err}
	}
	r.recordSuccess(fallbackName)
	r.countPair(spec.ModelID, fallback.Name())
	return resp, nil
}

// ChatStream mirrors Chat's routing and fallback behavior but dispatches to
// the provider's streaming method, returning the lazy fragment channel
// directly to the caller (spec §4.3).
func (r *Router) ChatStream(ctx context.Context, spec catalog.Spec, req llm.Request) (<-chan llm.StreamFragment, error) {
	r.mu.RLock()
	policy := r.policy
	fallbackName := r.fallback
	r.mu.RUnlock()

	if policy != nil {
		var prompt string
		for _, m := range req.Messages {
			prompt += m.Content + "\n"
		}
		if err := policy(ctx, prompt); err != nil {
			r.count("policy")
			return nil, err
		}
	}

	req.ModelID = spec.ModelID
	provider, ok := r.provider(spec.Provider)
	if ok && r.breakerAllows(spec.Provider) {
		if err := r.wait(ctx, spec.Provider); err != nil {
			r.count("rate_limit")
			return nil, &errtype.ProviderError{Provider: spec.Provider, Cause: err}
		}
		stream, err := provider.ChatStream(ctx, req)
		if err == nil {
			r.recordSuccess(spec.Provider)
			r.countPair(spec.ModelID, provider.Name())
			return stream, nil
		}
		r.recordFailure(spec.Provider)
		r.count("primary")
	}

	fallback, ok := r.provider(fallbackName)
	if !ok {
		return nil, &errtype.ProviderError{Provider: spec.Provider, Cause: fmt.Errorf("no fallback provider %q registered", fallbackName)}
	}
	r.countFallback(spec.Provider, fallbackName)

	if err := r.wait(ctx, fallbackName); err != nil {
		r.count("rate_limit")
		return nil, &errtype.ProviderError{Provider: fallbackName, Cause: err}
	}
	stream, err := fallback.ChatStream(ctx, req)
	if err != nil {
		r.recordFailure(fallbackName)
		r.count("fallback")
		return nil, &errtype.ProviderError{Provider: fallbackName, Cause: err}
	}
	r.recordSuccess(fallbackName)
	r.countPair(spec.ModelID, fallback.Name())
	return stream, nil
}

// HealthCheck probes every registered provider and reports its current
// health, keyed by provider name (spec §4.3: health_check() → {provider:
// bool}). A provider whose breaker is open is reported unhealthy without
// being probed, since routing is already skipping it.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	providers := make(map[string]llm.Provider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(providers))
	for name, p := range providers {
		if r.breakerIsOpen(name) {
			out[name] = false
			continue
		}
		out[name] = p.HealthCheck(ctx)
	}
	return out
}

func (r *Router) provider(name string) (llm.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// breakerAllows reports whether name's circuit breaker currently admits a
// request (closed or half-open probe); a provider with no registered
// breaker is always allowed.
func (r *Router) breakerAllows(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return b.allow()
}

// breakerIsOpen reports whether name's circuit breaker is currently open.
func (r *Router) breakerIsOpen(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return b.isOpen()
}

func (r *Router) recordSuccess(name string) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		b.recordSuccess()
	}
}

func (r *Router) recordFailure(name string) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		b.recordFailure()
	}
}

// wait blocks until name's rate limiter admits one request, or ctx is
// canceled first. A provider with no registered limiter is unthrottled.
func (r *Router) wait(ctx context.Context, name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// count and its siblings below all check r.metrics == nil themselves before
// touching any field on it; call sites must not dereference r.metrics to
// pick a collector, since a Router built with New(nil) (every test does)
// would nil-pointer-panic on the first error path.
func (r *Router) count(stage string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Errors.WithLabelValues(stage).Inc()
}

func (r *Router) countPair(modelID, provider string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RequestsTotal.WithLabelValues(modelID, provider).Inc()
}

func (r *Router) countFallback(from, to string) {
	if r.metrics == nil {
		return
	}
	r.metrics.FallbacksTotal.WithLabelValues(from, to).Inc()
}
