package health

import (
	"time"
)

// Kind 巡检类型
type Kind string

const (
	// KindLiveness only dials mining pools; it costs no third-party quota.
	KindLiveness Kind = "liveness"
	// KindSweep also resolves the block height of every (coin, network).
	KindSweep Kind = "sweep"
)

// Tier is a reporting classification. Nothing acts on it automatically.
type Tier string

const (
	TierHealthy  Tier = "healthy"
	TierDegraded Tier = "degraded"
	TierImpaired Tier = "impaired"
	TierCritical Tier = "critical"
	// TierUnknown means nothing was measured.
	TierUnknown Tier = "unknown"
)

// 分级阈值
const (
	healthyThreshold  = 0.95
	degradedThreshold = 0.80
	impairedThreshold = 0.50
)

// Classify maps a success ratio onto a tier.
func Classify(ratio float64) Tier {
	switch {
	case ratio >= healthyThreshold:
		return TierHealthy
	case ratio >= degradedThreshold:
		return TierDegraded
	case ratio >= impairedThreshold:
		return TierImpaired
	default:
		return TierCritical
	}
}

// CheckKind distinguishes the two probe families.
type CheckKind string

const (
	CheckRPC  CheckKind = "rpc"
	CheckPool CheckKind = "pool"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Kind      CheckKind `json:"kind"`
	Coin      string    `json:"coin"`
	Network   string    `json:"network,omitempty"`
	Address   string    `json:"address,omitempty"`
	OK        bool      `json:"ok"`
	Source    string    `json:"source,omitempty"`
	Height    uint64    `json:"height,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// CoinHealth aggregates every check of one coin.
type CoinHealth struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Ratio     float64 `json:"ratio"`
	Tier      Tier    `json:"tier"`
}

// Report is the result of one health cycle. A ratio is nil when its scope had
// no checks. Liveness reports carry the RPC checks of the latest sweep;
// RPCMeasuredAt says when those were taken.
type Report struct {
	Kind          Kind                  `json:"kind"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	RPCMeasuredAt *time.Time            `json:"rpc_measured_at,omitempty"`
	RPCTotal      int                   `json:"rpc_total"`
	RPCSucceeded  int                   `json:"rpc_succeeded"`
	PoolTotal     int                   `json:"pool_total"`
	PoolSucceeded int                   `json:"pool_succeeded"`
	RPCRatio      *float64              `json:"rpc_health_ratio"`
	PoolRatio     *float64              `json:"pool_health_ratio"`
	OverallRatio  *float64              `json:"overall_health_ratio"`
	Tier          Tier                  `json:"tier"`
	Coins         map[string]CoinHealth `json:"coins"`
	Checks        []CheckResult         `json:"checks"`
}

// ratio is nil for an empty scope.
func ratio(ok, total int) *float64 {
	if total == 0 {
		return nil
	}
	v := float64(ok) / float64(total)
	return &v
}

// summarize fills in every aggregate from the individual checks. Only
// measured scopes count towards the tier.
func summarize(r *Report) {
	r.Coins = make(map[string]CoinHealth)
	for _, c := range r.Checks {
		ch := r.Coins[c.Coin]
		ch.Total++
		switch c.Kind {
		case CheckRPC:
			r.RPCTotal++
		case CheckPool:
			r.PoolTotal++
		}
		if c.OK {
			ch.Succeeded++
			if c.Kind == CheckRPC {
				r.RPCSucceeded++
			} else {
				r.PoolSucceeded++
			}
		}
		r.Coins[c.Coin] = ch
	}
	for coin, ch := range r.Coins {
		ch.Ratio = float64(ch.Succeeded) / float64(ch.Total)
		ch.Tier = Classify(ch.Ratio)
		r.Coins[coin] = ch
	}
	r.RPCRatio = ratio(r.RPCSucceeded, r.RPCTotal)
	r.PoolRatio = ratio(r.PoolSucceeded, r.PoolTotal)
	r.OverallRatio = ratio(r.RPCSucceeded+r.PoolSucceeded, r.RPCTotal+r.PoolTotal)
	r.Tier = TierUnknown
	if r.OverallRatio != nil {
		r.Tier = Classify(*r.OverallRatio)
	}
}
