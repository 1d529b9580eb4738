package value

import "time"

// AlertType names a monitored threshold breach.
type AlertType string

const (
	AlertSlowParsing         AlertType = "SLOW_PARSING"
	AlertLowCacheHitRatio    AlertType = "LOW_CACHE_HIT_RATIO"
	AlertHighErrorRate       AlertType = "HIGH_ERROR_RATE"
	AlertSlowFilterExecution AlertType = "SLOW_FILTER_EXECUTION"
	AlertHighFilterErrorRate AlertType = "HIGH_FILTER_ERROR_RATE"
)

// Alert is raised when a recent-window statistic crosses its threshold.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is one timed execution kept for threshold evaluation.
type Sample struct {
	Duration  time.Duration
	Success   bool
	CacheHit  bool
	Timestamp time.Time
}
