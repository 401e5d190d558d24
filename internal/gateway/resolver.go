// Package gateway resolves canonical requests against the ordered candidate
// endpoints of a (coin, network), tracking per-endpoint health.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"web3-gateway-go/internal/adapter"
	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/limiter"
	"web3-gateway-go/internal/metrics"
	"web3-gateway-go/internal/registry"
)

// DefaultAttemptTimeout bounds one candidate attempt.
const DefaultAttemptTimeout = 10 * time.Second

// OrderPolicy decides the order in which candidates are attempted.
type OrderPolicy string

const (
	// OrderConfigured tries candidates strictly in registry order.
	OrderConfigured OrderPolicy = "ordered"
	// OrderHealthRanked tries candidates by lifetime success ratio, ties and
	// untried endpoints keeping their registry order.
	OrderHealthRanked OrderPolicy = "health"
)

// EndpointSource is the part of the registry the resolver reads.
type EndpointSource interface {
	Endpoints(coin, network string) ([]registry.EndpointDescriptor, error)
}

// Options 解析器配置
type Options struct {
	AttemptTimeout time.Duration
	Policy         OrderPolicy
	EndpointRPS    float64
	Logger         *slog.Logger
}

// Resolver owns the process-wide EndpointHealth table.
type Resolver struct {
	endpoints EndpointSource
	invoker   adapter.Invoker
	health    *HealthTable
	limiters  *limiter.Set
	timeout   time.Duration
	policy    OrderPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewResolver(endpoints EndpointSource, invoker adapter.Invoker, opts Options) *Resolver {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Policy {
	case OrderConfigured, OrderHealthRanked:
	case "":
		opts.Policy = OrderConfigured
	default:
		opts.Logger.Warn("unknown_order_policy",
			slog.String("policy", string(opts.Policy)),
			slog.String("using", string(OrderConfigured)))
		opts.Policy = OrderConfigured
	}
	return &Resolver{
		endpoints: endpoints,
		invoker:   invoker,
		health:    newHealthTable(),
		limiters:  limiter.NewSet(opts.EndpointRPS),
		timeout:   opts.AttemptTimeout,
		policy:    opts.Policy,
		logger:    opts.Logger,
		metrics:   metrics.Get(),
		now:       time.Now,
	}
}

// Resolve tries each candidate in turn until one succeeds. If every candidate
// fails it returns an *ExhaustedFallbackError listing all of them in attempt
// order. Candidates are never tried concurrently.
func (r *Resolver) Resolve(ctx context.Context, req chain.Request) (chain.Result, error) {
	if err := req.Validate(); err != nil {
		return chain.Result{}, err
	}
	candidates, err := r.endpoints.Endpoints(req.Coin, req.Network)
	if err != nil {
		return chain.Result{}, err
	}
	if r.policy == OrderHealthRanked {
		candidates = r.rank(candidates)
	}

	failures := make([]AttemptError, 0, len(candidates))
	for i, d := range candidates {
		// caller cancellation is not the endpoint's fault
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chain.Result{}, fmt.Errorf("resolve %s cancelled after %d attempts: %w", req, i, ctxErr)
		}

		start := r.now()
		res, err := r.attempt(ctx, d, req)
		latency := r.now().Sub(start)
		r.metrics.RPCLatency.WithLabelValues(d.Coin, d.Network).Observe(latency.Seconds())

		if err == nil {
			h := r.health.recordSuccess(d, latency, r.now())
			r.observe(d, "success", h)
			if i > 0 {
				r.logger.Info("fallback_recovered",
					slog.String("request", req.String()),
					slog.String("endpoint", d.URL),
					slog.Int("failed_before", i))
			}
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			r.logger.Debug("resolve_cancelled",
				slog.String("request", req.String()),
				slog.String("endpoint", d.URL),
				slog.Int("attempt", i+1))
			return chain.Result{}, fmt.Errorf("resolve %s cancelled during attempt %d: %w", req, i+1, ctxErr)
		}
		h := r.health.recordFailure(d, err, r.now())
		r.observe(d, outcome(err), h)
		r.logger.Warn("endpoint_attempt_failed",
			slog.String("request", req.String()),
			slog.String("endpoint", d.URL),
			slog.Int("attempt", i+1),
			slog.Int("candidates", len(candidates)),
			slog.String("error", err.Error()))
		failures = append(failures, AttemptError{Endpoint: d.URL, Err: err})
	}

	r.metrics.ExhaustedFallbacks.WithLabelValues(req.Coin, req.Network, string(req.Op)).Inc()
	exhausted := &ExhaustedFallbackError{Request: req, Attempts: failures}
	r.logger.Error("fallback_exhausted",
		slog.String("request", req.String()),
		slog.Int("attempts", len(failures)))
	return chain.Result{}, exhausted
}

// attempt runs one adapter call under the per-attempt timeout. Waiting for the
// endpoint's rate limiter counts against the same timeout.
func (r *Resolver) attempt(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiters.For(d.Key()).Wait(attemptCtx); err != nil {
		return chain.Result{}, &adapter.TransportError{Endpoint: d.URL, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	res, err := r.invoker.Invoke(attemptCtx, d, req)
	if err != nil && !adapter.IsAdapterError(err) {
		err = &adapter.TransportError{Endpoint: d.URL, Err: err}
	}
	return res, err
}

func (r *Resolver) observe(d registry.EndpointDescriptor, result string, h EndpointHealth) {
	r.metrics.RPCAttempts.WithLabelValues(d.Coin, d.Network, d.URL, result).Inc()
	if ratio, ok := h.SuccessRatio(); ok {
		r.metrics.EndpointSuccessRate.WithLabelValues(d.Coin, d.Network, d.URL).Set(ratio)
	}
}

func outcome(err error) string {
	var pe *adapter.ProtocolError
	if errors.As(err, &pe) {
		return "protocol_error"
	}
	return "transport_error"
}

func (r *Resolver) rank(candidates []registry.EndpointDescriptor) []registry.EndpointDescriptor {
	ratios := make(map[string]float64, len(candidates))
	for _, d := range candidates {
		ratio := 1.0
		if h, ok := r.health.Get(d.Key()); ok {
			if v, tried := h.SuccessRatio(); tried {
				ratio = v
			}
		}
		ratios[d.Key()] = ratio
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return ratios[candidates[i].Key()] > ratios[candidates[j].Key()]
	})
	return candidates
}

// HealthSnapshot returns copies of every endpoint's stats.
func (r *Resolver) HealthSnapshot() []EndpointHealth {
	return r.health.Snapshot()
}
