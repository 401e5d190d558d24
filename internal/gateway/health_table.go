package gateway

import (
	"sort"
	"sync"
	"time"

	"web3-gateway-go/internal/registry"
)

// rttAlpha is the weight of the newest sample in the rolling response time.
const rttAlpha = 0.3

// EndpointHealth 单个端点的累计健康统计（进程内存，重启清零）
type EndpointHealth struct {
	Coin          string     `json:"coin"`
	Network       string     `json:"network"`
	Endpoint      string     `json:"endpoint"`
	TotalAttempts uint64     `json:"total_attempts"`
	SuccessCount  uint64     `json:"success_count"`
	FailureCount  uint64     `json:"failure_count"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	AvgResponseMs float64    `json:"avg_response_ms"`
}

// SuccessRatio returns successes over attempts, and false before the first attempt.
func (h EndpointHealth) SuccessRatio() (float64, bool) {
	if h.TotalAttempts == 0 {
		return 0, false
	}
	return float64(h.SuccessCount) / float64(h.TotalAttempts), true
}

// HealthTable is written only by the Resolver; everyone else gets copies.
type HealthTable struct {
	mu      sync.RWMutex
	entries map[string]*EndpointHealth
}

func newHealthTable() *HealthTable {
	return &HealthTable{entries: make(map[string]*EndpointHealth)}
}

// entry must be called with mu held.
func (t *HealthTable) entry(d registry.EndpointDescriptor) *EndpointHealth {
	h, ok := t.entries[d.Key()]
	if !ok {
		h = &EndpointHealth{Coin: d.Coin, Network: d.Network, Endpoint: d.URL}
		t.entries[d.Key()] = h
	}
	return h
}

func (t *HealthTable) recordSuccess(d registry.EndpointDescriptor, latency time.Duration, at time.Time) EndpointHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(d)
	h.TotalAttempts++
	h.SuccessCount++
	h.LastSuccessAt = &at
	ms := float64(latency) / float64(time.Millisecond)
	if h.SuccessCount == 1 {
		h.AvgResponseMs = ms
	} else {
		h.AvgResponseMs = rttAlpha*ms + (1-rttAlpha)*h.AvgResponseMs
	}
	return *h
}

func (t *HealthTable) recordFailure(d registry.EndpointDescriptor, err error, at time.Time) EndpointHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(d)
	h.TotalAttempts++
	h.FailureCount++
	h.LastFailureAt = &at
	h.LastError = err.Error()
	return *h
}

// Get returns a copy of the stats for one descriptor key.
func (t *HealthTable) Get(key string) (EndpointHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.entries[key]
	if !ok {
		return EndpointHealth{}, false
	}
	return *h, true
}

// Snapshot returns copies of every entry, sorted by coin, network, endpoint.
func (t *HealthTable) Snapshot() []EndpointHealth {
	t.mu.RLock()
	out := make([]EndpointHealth, 0, len(t.entries))
	for _, h := range t.entries {
		out = append(out, *h)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Coin != out[j].Coin {
			return out[i].Coin < out[j].Coin
		}
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}
