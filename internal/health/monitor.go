// Package health periodically probes every RPC target and mining pool and
// publishes aggregated health reports.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/events"
	"web3-gateway-go/internal/metrics"
	"web3-gateway-go/internal/recovery"
	"web3-gateway-go/internal/registry"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultLivenessInterval = 30 * time.Second
	DefaultSweepInterval    = 60 * time.Second
	DefaultConcurrency      = 16
)

// TargetSource lists what a cycle probes.
type TargetSource interface {
	Targets() []registry.Target
	PoolTargets() []registry.PoolTarget
}

// HeightResolver issues the representative request through the fallback chain.
type HeightResolver interface {
	GetBlockHeight(ctx context.Context, coin, network string) (chain.Result, error)
}

// Dialer opens raw TCP connections to pools.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ReportRecorder persists reports. Optional.
type ReportRecorder interface {
	SaveHealthReport(ctx context.Context, r Report) error
}

// Options 健康监控配置
type Options struct {
	DialTimeout      time.Duration
	LivenessInterval time.Duration
	SweepInterval    time.Duration
	Concurrency      int
	Dialer           Dialer
	Recorder         ReportRecorder
	Logger           *slog.Logger
}

// Monitor runs health cycles and keeps the latest report.
type Monitor struct {
	targets   TargetSource
	resolver  HeightResolver
	publisher events.Publisher
	dialer    Dialer
	recorder  ReportRecorder
	timeout   time.Duration
	liveness  time.Duration
	sweep     time.Duration
	limit     int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu          sync.RWMutex
	latest      *Report
	lastRPC     []CheckResult
	lastSweepAt time.Time
}

func NewMonitor(targets TargetSource, resolver HeightResolver, publisher events.Publisher, opts Options) *Monitor {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		targets:   targets,
		resolver:  resolver,
		publisher: publisher,
		dialer:    opts.Dialer,
		recorder:  opts.Recorder,
		timeout:   opts.DialTimeout,
		liveness:  opts.LivenessInterval,
		sweep:     opts.SweepInterval,
		limit:     opts.Concurrency,
		logger:    opts.Logger,
		metrics:   metrics.Get(),
		now:       time.Now,
	}
}

// RunCycle probes everything the kind covers. Individual failures are part
// of the report; the cycle itself never fails.
func (m *Monitor) RunCycle(ctx context.Context, kind Kind) Report {
	report := Report{Kind: kind, StartedAt: m.now()}

	var targets []registry.Target
	if kind == KindSweep {
		targets = m.targets.Targets()
	}
	pools := m.targets.PoolTargets()
	checks := make([]CheckResult, len(targets)+len(pools))

	// checks are independent: a failed probe fills its slot and returns nil
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for i, t := range targets {
		g.Go(func() error {
			checks[i] = m.checkRPC(gctx, t)
			return nil
		})
	}
	for i, p := range pools {
		g.Go(func() error {
			checks[len(targets)+i] = m.checkPool(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = m.now()
	m.mu.Lock()
	if kind == KindSweep {
		m.lastRPC = append([]CheckResult(nil), checks[:len(targets)]...)
		m.lastSweepAt = report.FinishedAt
		report.Checks = checks
	} else {
		// 轻量巡检不测 RPC：沿用最近一次全量巡检的结果，避免掩盖故障
		report.Checks = append(append(make([]CheckResult, 0, len(m.lastRPC)+len(checks)), m.lastRPC...), checks...)
	}
	if !m.lastSweepAt.IsZero() {
		at := m.lastSweepAt
		report.RPCMeasuredAt = &at
	}
	summarize(&report)
	m.latest = &report
	m.mu.Unlock()

	m.observe(report)
	m.logger.Info("health_cycle_completed",
		slog.String("kind", string(kind)),
		ratioAttr("rpc_ratio", report.RPCRatio),
		ratioAttr("pool_ratio", report.PoolRatio),
		ratioAttr("overall_ratio", report.OverallRatio),
		slog.String("tier", string(report.Tier)),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	if m.publisher != nil {
		m.publisher.Publish(events.Event{Type: events.HealthUpdated, Data: report})
	}
	m.record(report)
	return report
}

func (m *Monitor) checkRPC(ctx context.Context, t registry.Target) CheckResult {
	res := CheckResult{Kind: CheckRPC, Coin: t.Coin, Network: t.Network}
	start := m.now()
	out, err := m.resolver.GetBlockHeight(ctx, t.Coin, t.Network)
	res.LatencyMs = m.now().Sub(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Source = out.Source
	if out.Height != nil {
		res.Height = *out.Height
	}
	return res
}

func (m *Monitor) checkPool(ctx context.Context, p registry.PoolTarget) CheckResult {
	res := CheckResult{Kind: CheckPool, Coin: p.Coin, Address: p.Address}
	start := m.now()
	err := m.dial(ctx, p.Address)
	res.LatencyMs = m.now().Sub(start).Milliseconds()
	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	reachable := 0.0
	if res.OK {
		reachable = 1
	}
	m.metrics.PoolReachable.WithLabelValues(p.Coin, p.Address).Set(reachable)
	return res
}

// dial connects and immediately closes; no protocol data is sent.
func (m *Monitor) dial(ctx context.Context, address string) error {
	hostPort, err := PoolHostPort(address)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	conn, err := m.dialer.DialContext(dialCtx, "tcp", hostPort)
	if err != nil {
		return err
	}
	return conn.Close()
}

// PoolHostPort strips a stratum style scheme from a pool address and checks
// that what remains is host:port.
func PoolHostPort(address string) (string, error) {
	hostPort := strings.TrimSpace(address)
	if strings.Contains(hostPort, "://") {
		u, err := url.Parse(hostPort)
		if err != nil {
			return "", fmt.Errorf("pool address %q: %w", address, err)
		}
		hostPort = u.Host
	}
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", fmt.Errorf("pool address %q: %w", address, err)
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("pool address %q: missing host or port", address)
	}
	return hostPort, nil
}

func ratioAttr(key string, v *float64) slog.Attr {
	if v == nil {
		return slog.String(key, "not_measured")
	}
	return slog.Float64(key, *v)
}

func (m *Monitor) observe(r Report) {
	m.metrics.HealthCycles.WithLabelValues(string(r.Kind)).Inc()
	for scope, v := range map[string]*float64{"rpc": r.RPCRatio, "pool": r.PoolRatio, "overall": r.OverallRatio} {
		if v != nil {
			m.metrics.HealthRatio.WithLabelValues(scope).Set(*v)
		}
	}
	m.metrics.HealthTier.Set(metrics.TierValue(string(r.Tier)))
}

func (m *Monitor) record(r Report) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.SaveHealthReport(ctx, r); err != nil {
		m.metrics.HistoryWriteErrors.Inc()
		m.logger.Warn("health_report_save_failed", slog.String("error", err.Error()))
	}
}

// Latest returns the most recent report of any kind.
func (m *Monitor) Latest() (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Report{}, false
	}
	return *m.latest, true
}

// Run sweeps once, then schedules liveness and sweep cycles until ctx ends.
// A tick that arrives while a cycle is still running is skipped.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health_monitor_started",
		slog.Duration("liveness_interval", m.liveness),
		slog.Duration("sweep_interval", m.sweep))

	m.runSafe(ctx, KindSweep)

	liveness := time.NewTicker(m.liveness)
	defer liveness.Stop()
	sweep := time.NewTicker(m.sweep)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health_monitor_stopping")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-sweep.C:
			m.runSafe(ctx, KindSweep)
		case <-liveness.C:
			m.runSafe(ctx, KindLiveness)
		}
	}
}

func (m *Monitor) runSafe(ctx context.Context, kind Kind) {
	recovery.Run(m.logger, "health_cycle_"+string(kind), func() {
		m.RunCycle(ctx, kind)
	})
}
