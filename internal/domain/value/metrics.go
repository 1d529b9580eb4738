package value

import "time"

// HandlerDescriptor is a read-only snapshot of a registered handler.
type HandlerDescriptor struct {
	ID           string        `json:"id"`
	Kind         HandlerKind   `json:"kind"`
	Priority     int           `json:"priority"`
	Enabled      bool          `json:"enabled"`
	Pattern      string        `json:"pattern"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Timeout      time.Duration `json:"timeout"`
}

// FilterDescriptor is a read-only snapshot of a registered filter.
type FilterDescriptor struct {
	ID       string        `json:"id"`
	Priority int           `json:"priority"`
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout"`
}

// ExecutionStats accumulates the executions of one handler or filter.
type ExecutionStats struct {
	Executions   int64         `json:"executions"`
	TotalTime    time.Duration `json:"totalTime"`
	ErrorCount   int64         `json:"errorCount"`
	LastExecuted time.Time     `json:"lastExecuted"`
}

// AverageTime is TotalTime divided by Executions.
func (s ExecutionStats) AverageTime() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Executions)
}

// ErrorRate is ErrorCount divided by Executions.
func (s ExecutionStats) ErrorRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Executions)
}

// HandlerStats pairs a descriptor with its statistics.
type HandlerStats struct {
	HandlerDescriptor
	ExecutionStats
}

// FilterStats pairs a descriptor with its statistics.
type FilterStats struct {
	FilterDescriptor
	ExecutionStats
}

// RegionStats counts cache traffic for one region.
type RegionStats struct {
	Enabled  bool    `json:"enabled"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Sets     int64   `json:"sets"`
	HitRatio float64 `json:"hitRatio"`
}

// FilterChainStats summarizes the filter chain.
type FilterChainStats struct {
	Enabled      bool          `json:"enabled"`
	Executions   int64         `json:"executions"`
	TotalTime    time.Duration `json:"totalTime"`
	ErrorCount   int64         `json:"errorCount"`
	AverageTime  time.Duration `json:"averageTime"`
	Filters      []FilterStats `json:"filters"`
	RecentAlerts []Alert       `json:"recentAlerts"`
}

// LatencySummary holds percentiles of recent parse latencies.
type LatencySummary struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Metrics is the introspection snapshot of a pipeline.
type Metrics struct {
	ParseCount       int64                       `json:"parseCount"`
	TotalParseTime   time.Duration               `json:"totalParseTime"`
	AverageParseTime time.Duration               `json:"averageParseTime"`
	ErrorCount       int64                       `json:"errorCount"`
	CacheHits        int64                       `json:"cacheHits"`
	CacheMisses      int64                       `json:"cacheMisses"`
	CacheHitRatio    float64                     `json:"cacheHitRatio"`
	Regions          map[CacheRegion]RegionStats `json:"regions"`
	PhaseTimings     map[string]time.Duration    `json:"phaseTimings"`
	Latency          LatencySummary              `json:"latency"`
	Handlers         []HandlerStats              `json:"handlers"`
	FilterChain      FilterChainStats            `json:"filterChain"`
	RecentAlerts     []Alert                     `json:"recentAlerts"`
}
