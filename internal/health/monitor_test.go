package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/events"
	"web3-gateway-go/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) GetBlockHeight(ctx context.Context, coin, network string) (chain.Result, error) {
	args := m.Called(ctx, coin, network)
	return args.Get(0).(chain.Result), args.Error(1)
}

type staticTargets struct {
	targets []registry.Target
	pools   []registry.PoolTarget
}

func (s staticTargets) Targets() []registry.Target         { return s.targets }
func (s staticTargets) PoolTargets() []registry.PoolTarget { return s.pools }

// listenPool returns the address of a TCP listener that accepts and closes.
func listenPool(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln.Addr().String()
}

// closedPort returns an address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func height(h uint64, source string) chain.Result {
	return chain.Result{Op: chain.OpGetBlockHeight, Height: &h, Source: source}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, TierHealthy, Classify(1))
	assert.Equal(t, TierHealthy, Classify(0.95))
	assert.Equal(t, TierDegraded, Classify(0.94))
	assert.Equal(t, TierDegraded, Classify(0.80))
	assert.Equal(t, TierImpaired, Classify(0.79))
	assert.Equal(t, TierImpaired, Classify(0.50))
	assert.Equal(t, TierCritical, Classify(0.49))
	assert.Equal(t, TierCritical, Classify(0))
}

func TestPoolHostPort(t *testing.T) {
	cases := map[string]string{
		"stratum+tcp://rvn.pool.io:3333": "rvn.pool.io:3333",
		"stratum+ssl://etc.pool.io:443":  "etc.pool.io:443",
		"pool.example:4444":              "pool.example:4444",
		" 10.0.0.1:3333 ":                "10.0.0.1:3333",
	}
	for in, want := range cases {
		got, err := PoolHostPort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"pool.example", "stratum+tcp://pool.example", ":3333", ""} {
		_, err := PoolHostPort(bad)
		assert.Error(t, err, bad)
	}
}

func TestSweepAggregates(t *testing.T) {
	resolver := new(MockResolver)
	resolver.On("GetBlockHeight", mock.Anything, "btc", "mainnet").Return(height(840000, "https://btc-a"), nil)
	resolver.On("GetBlockHeight", mock.Anything, "btc", "testnet").Return(chain.Result{}, errors.New("all 2 endpoints failed"))
	resolver.On("GetBlockHeight", mock.Anything, "etc", "mainnet").Return(height(19000000, "https://etc-a"), nil)

	up := listenPool(t)
	down := closedPort(t)
	targets := staticTargets{
		targets: []registry.Target{{Coin: "btc", Network: "mainnet"}, {Coin: "btc", Network: "testnet"}, {Coin: "etc", Network: "mainnet"}},
		pools: []registry.PoolTarget{
			{Coin: "etc", Address: "stratum+tcp://" + up, Primary: true},
			{Coin: "etc", Address: down},
		},
	}

	bus := events.NewBroadcaster(16, nil)
	defer bus.Close()
	sub := bus.Subscribe()

	m := NewMonitor(targets, resolver, bus, Options{DialTimeout: time.Second})
	r := m.RunCycle(context.Background(), KindSweep)

	assert.Equal(t, KindSweep, r.Kind)
	assert.Equal(t, 3, r.RPCTotal)
	assert.Equal(t, 2, r.RPCSucceeded)
	assert.Equal(t, 2, r.PoolTotal)
	assert.Equal(t, 1, r.PoolSucceeded)
	require.NotNil(t, r.RPCRatio)
	assert.InDelta(t, 2.0/3.0, *r.RPCRatio, 1e-9)
	assert.InDelta(t, 0.5, *r.PoolRatio, 1e-9)
	assert.InDelta(t, 0.6, *r.OverallRatio, 1e-9)
	require.NotNil(t, r.RPCMeasuredAt)
	assert.Equal(t, r.FinishedAt, *r.RPCMeasuredAt)
	assert.Equal(t, TierImpaired, r.Tier)

	// checks keep target order: rpc first, then pools
	require.Len(t, r.Checks, 5)
	assert.Equal(t, "https://btc-a", r.Checks[0].Source)
	assert.Equal(t, uint64(840000), r.Checks[0].Height)
	assert.False(t, r.Checks[1].OK)
	assert.Contains(t, r.Checks[1].Error, "all 2 endpoints failed")
	assert.True(t, r.Checks[3].OK)
	assert.False(t, r.Checks[4].OK)
	assert.NotEmpty(t, r.Checks[4].Error)

	assert.Equal(t, CoinHealth{Total: 2, Succeeded: 1, Ratio: 0.5, Tier: TierImpaired}, r.Coins["btc"])
	etc := r.Coins["etc"]
	assert.Equal(t, 3, etc.Total)
	assert.Equal(t, 2, etc.Succeeded)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, r.OverallRatio, latest.OverallRatio)

	ev := <-sub.Events()
	assert.Equal(t, events.HealthUpdated, ev.Type)
	assert.Equal(t, r.Tier, ev.Data.(Report).Tier)
	resolver.AssertExpectations(t)
}

func TestLivenessSkipsRPC(t *testing.T) {
	resolver := new(MockResolver)
	targets := staticTargets{
		targets: []registry.Target{{Coin: "btc", Network: "mainnet"}},
		pools:   []registry.PoolTarget{{Coin: "rvn", Address: listenPool(t), Primary: true}},
	}
	m := NewMonitor(targets, resolver, nil, Options{})
	r := m.RunCycle(context.Background(), KindLiveness)

	assert.Equal(t, 0, r.RPCTotal)
	assert.Nil(t, r.RPCRatio, "rpc is not measured before the first sweep")
	assert.Nil(t, r.RPCMeasuredAt)
	assert.Equal(t, 1, r.PoolSucceeded)
	require.NotNil(t, r.OverallRatio)
	assert.Equal(t, 1.0, *r.OverallRatio)
	assert.Equal(t, TierHealthy, r.Tier)
	resolver.AssertNotCalled(t, "GetBlockHeight", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmptyCycleIsUnknown(t *testing.T) {
	m := NewMonitor(staticTargets{}, new(MockResolver), nil, Options{})
	_, ok := m.Latest()
	assert.False(t, ok)

	r := m.RunCycle(context.Background(), KindSweep)
	assert.Nil(t, r.RPCRatio)
	assert.Nil(t, r.PoolRatio)
	assert.Nil(t, r.OverallRatio)
	assert.Equal(t, TierUnknown, r.Tier)
	assert.Empty(t, r.Checks)
}

func TestLivenessKeepsSweepOutage(t *testing.T) {
	resolver := new(MockResolver)
	resolver.On("GetBlockHeight", mock.Anything, "etc", "mainnet").
		Return(chain.Result{}, errors.New("all 2 endpoints failed")).Once()
	targets := staticTargets{
		targets: []registry.Target{{Coin: "etc", Network: "mainnet"}},
		pools:   []registry.PoolTarget{{Coin: "etc", Address: listenPool(t), Primary: true}},
	}
	m := NewMonitor(targets, resolver, nil, Options{DialTimeout: time.Second})

	sweep := m.RunCycle(context.Background(), KindSweep)
	require.NotNil(t, sweep.RPCRatio)
	assert.Equal(t, 0.0, *sweep.RPCRatio)
	assert.Equal(t, TierImpaired, sweep.Tier)

	live := m.RunCycle(context.Background(), KindLiveness)
	assert.Equal(t, KindLiveness, live.Kind)
	require.NotNil(t, live.RPCRatio)
	assert.Equal(t, 0.0, *live.RPCRatio, "the sweep's rpc outage is still reported")
	assert.Equal(t, 1, live.RPCTotal)
	assert.Equal(t, 0.5, *live.OverallRatio)
	assert.Equal(t, TierImpaired, live.Tier)
	require.NotNil(t, live.RPCMeasuredAt)
	assert.Equal(t, sweep.FinishedAt, *live.RPCMeasuredAt)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, TierImpaired, latest.Tier)
	resolver.AssertExpectations(t)
}

// blockingDialer never connects; it returns when the dial context ends.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPoolDialTimeout(t *testing.T) {
	targets := staticTargets{pools: []registry.PoolTarget{{Coin: "rvn", Address: "10.255.255.1:3333"}}}
	m := NewMonitor(targets, new(MockResolver), nil, Options{DialTimeout: 20 * time.Millisecond, Dialer: blockingDialer{}})

	start := time.Now()
	r := m.RunCycle(context.Background(), KindLiveness)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, r.Checks, 1)
	assert.False(t, r.Checks[0].OK)
	assert.Contains(t, r.Checks[0].Error, "deadline exceeded")
	assert.Equal(t, TierCritical, r.Tier)
}

func TestChecksRunConcurrently(t *testing.T) {
	const n = 4
	var mu sync.Mutex
	inflight, peak := 0, 0
	resolver := new(MockResolver)
	resolver.On("GetBlockHeight", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			inflight--
			mu.Unlock()
		}).
		Return(height(1, "x"), nil)

	var targets staticTargets
	for _, network := range []string{"a", "b", "c", "d"} {
		targets.targets = append(targets.targets, registry.Target{Coin: "btc", Network: network})
	}
	m := NewMonitor(targets, resolver, nil, Options{})
	r := m.RunCycle(context.Background(), KindSweep)

	assert.Equal(t, n, r.RPCSucceeded)
	assert.Greater(t, peak, 1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) SaveHealthReport(ctx context.Context, r Report) error {
	return m.Called(ctx, r).Error(0)
}

func TestReportIsRecorded(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("SaveHealthReport", mock.Anything, mock.MatchedBy(func(r Report) bool { return r.Kind == KindLiveness })).
		Return(errors.New("db down")).Once()

	m := NewMonitor(staticTargets{}, new(MockResolver), nil, Options{Recorder: rec})
	m.RunCycle(context.Background(), KindLiveness)
	rec.AssertExpectations(t)
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	bus := events.NewBroadcaster(16, nil)
	defer bus.Close()
	sub := bus.Subscribe()

	m := NewMonitor(staticTargets{}, new(MockResolver), bus, Options{
		LivenessInterval: 10 * time.Millisecond,
		SweepInterval:    time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-sub.Events()
	assert.Equal(t, KindSweep, first.Data.(Report).Kind)
	second := <-sub.Events()
	assert.Equal(t, KindLiveness, second.Data.(Report).Kind)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
