package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// MonitorConfig sizes a PerformanceMonitor.
type MonitorConfig struct {
	// Source names the component in notifications.
	Source string
	// TitlePrefix precedes the alert type in notification titles.
	TitlePrefix string

	MaxSamples    int
	MinSamples    int
	Window        int
	CheckInterval time.Duration
	MaxAlerts     int
}

// Window is the slice of recent samples an AlertRule inspects.
type Window []value.Sample

// AverageDuration is the mean sample duration.
func (w Window) AverageDuration() time.Duration {
	if len(w) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range w {
		total += s.Duration
	}
	return total / time.Duration(len(w))
}

// ErrorRate is the share of failed samples.
func (w Window) ErrorRate() float64 {
	if len(w) == 0 {
		return 0
	}
	failed := 0
	for _, s := range w {
		if !s.Success {
			failed++
		}
	}
	return float64(failed) / float64(len(w))
}

// CacheHitRatio is the share of samples served from cache.
func (w Window) CacheHitRatio() float64 {
	if len(w) == 0 {
		return 0
	}
	hits := 0
	for _, s := range w {
		if s.CacheHit {
			hits++
		}
	}
	return float64(hits) / float64(len(w))
}

// AlertRule inspects a window and reports a breach.
type AlertRule func(w Window) (value.Alert, bool)

// SlowAverageRule fires when the mean duration exceeds threshold.
func SlowAverageRule(t value.AlertType, threshold time.Duration) AlertRule {
	return func(w Window) (value.Alert, bool) {
		avg := w.AverageDuration()
		return value.Alert{
			Type:      t,
			Message:   fmt.Sprintf("average execution time %s exceeds %s", avg.Round(time.Microsecond), threshold),
			Value:     float64(avg.Milliseconds()),
			Threshold: float64(threshold.Milliseconds()),
		}, avg > threshold
	}
}

// ErrorRateRule fires when the failure share exceeds threshold.
func ErrorRateRule(t value.AlertType, threshold float64) AlertRule {
	return func(w Window) (value.Alert, bool) {
		rate := w.ErrorRate()
		return value.Alert{
			Type:      t,
			Message:   fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", rate*100, threshold*100),
			Value:     rate,
			Threshold: threshold,
		}, rate > threshold
	}
}

// CacheHitRatioRule fires when at least minSamples were seen and the hit
// share is below threshold.
func CacheHitRatioRule(t value.AlertType, threshold float64, minSamples int) AlertRule {
	return func(w Window) (value.Alert, bool) {
		ratio := w.CacheHitRatio()
		return value.Alert{
			Type:      t,
			Message:   fmt.Sprintf("cache hit ratio %.1f%% below %.1f%%", ratio*100, threshold*100),
			Value:     ratio,
			Threshold: threshold,
		}, len(w) >= minSamples && ratio < threshold
	}
}

// PerformanceMonitor keeps a bounded ring of recent samples, a latency
// histogram and the alerts raised from them. An alert type fires once and
// is re-armed when its rule stops firing.
type PerformanceMonitor struct {
	config MonitorConfig
	rules  []AlertRule

	// Samples
	samples   []value.Sample
	next      int
	full      bool
	histogram *hdrhistogram.Histogram

	// Alerts
	alerts    []value.Alert
	firing    map[value.AlertType]bool
	lastCheck time.Time

	notifier provider.Notifier
	logger   *zap.Logger
	now      func() time.Time
	mutex    sync.Mutex
}

// NewPerformanceMonitor creates a monitor evaluating rules.
func NewPerformanceMonitor(config MonitorConfig, rules []AlertRule, notifier provider.Notifier, logger *zap.Logger) *PerformanceMonitor {
	if config.MaxSamples <= 0 {
		config.MaxSamples = 100
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerformanceMonitor{
		config:    config,
		rules:     rules,
		samples:   make([]value.Sample, config.MaxSamples),
		histogram: hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3),
		firing:    make(map[value.AlertType]bool),
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (pm *PerformanceMonitor) WithClock(now func() time.Time) *PerformanceMonitor {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.now = now
	return pm
}

// Record adds a sample and evaluates the rules when due. It returns the
// alerts raised by this call.
func (pm *PerformanceMonitor) Record(s value.Sample) []value.Alert {
	raised := pm.record(s)
	pm.notify(raised)
	return raised
}

func (pm *PerformanceMonitor) record(s value.Sample) []value.Alert {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if s.Timestamp.IsZero() {
		s.Timestamp = pm.now()
	}
	pm.samples[pm.next] = s
	pm.next = (pm.next + 1) % len(pm.samples)
	if pm.next == 0 {
		pm.full = true
	}

	micros := s.Duration.Microseconds()
	if micros < 1 {
		micros = 1
	}
	if micros > pm.histogram.HighestTrackableValue() {
		micros = pm.histogram.HighestTrackableValue()
	}
	_ = pm.histogram.RecordValue(micros)

	if pm.config.CheckInterval > 0 && pm.now().Sub(pm.lastCheck) < pm.config.CheckInterval {
		return nil
	}
	return pm.evaluateLocked()
}

// Evaluate runs the rules immediately.
func (pm *PerformanceMonitor) Evaluate() []value.Alert {
	pm.mutex.Lock()
	raised := pm.evaluateLocked()
	pm.mutex.Unlock()

	pm.notify(raised)
	return raised
}

// notify runs without the lock held so a notifier may call back into the
// monitor.
func (pm *PerformanceMonitor) notify(raised []value.Alert) {
	if pm.notifier == nil {
		return
	}
	for _, alert := range raised {
		pm.notifier.AddNotification(provider.Notification{
			Type:     "performance",
			Title:    fmt.Sprintf("%s: %s", pm.config.TitlePrefix, alert.Type),
			Message:  alert.Message,
			Priority: "medium",
			Source:   pm.config.Source,
		})
	}
}

func (pm *PerformanceMonitor) evaluateLocked() []value.Alert {
	pm.lastCheck = pm.now()
	window := pm.windowLocked()
	if len(window) < pm.config.MinSamples || len(window) == 0 {
		return nil
	}

	var raised []value.Alert
	for _, rule := range pm.rules {
		alert, fire := rule(window)
		if !fire {
			delete(pm.firing, alert.Type)
			continue
		}
		if pm.firing[alert.Type] {
			continue
		}
		pm.firing[alert.Type] = true

		alert.ID = uuid.NewString()
		alert.Timestamp = pm.now()
		pm.alerts = append(pm.alerts, alert)
		if len(pm.alerts) > pm.config.MaxAlerts {
			pm.alerts = pm.alerts[len(pm.alerts)-pm.config.MaxAlerts:]
		}
		raised = append(raised, alert)

		pm.logger.Warn("performance alert",
			zap.String("source", pm.config.Source),
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message))
	}
	return raised
}

// windowLocked returns the newest config.Window samples, oldest first.
func (pm *PerformanceMonitor) windowLocked() Window {
	count := pm.next
	if pm.full {
		count = len(pm.samples)
	}
	size := count
	if pm.config.Window > 0 && pm.config.Window < size {
		size = pm.config.Window
	}
	out := make(Window, 0, size)
	for i := size; i > 0; i-- {
		idx := (pm.next - i + len(pm.samples)) % len(pm.samples)
		out = append(out, pm.samples[idx])
	}
	return out
}

// SampleCount is the number of retained samples.
func (pm *PerformanceMonitor) SampleCount() int {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if pm.full {
		return len(pm.samples)
	}
	return pm.next
}

// RecentAlerts returns up to n alerts, newest last. n <= 0 returns all.
func (pm *PerformanceMonitor) RecentAlerts(n int) []value.Alert {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	start := 0
	if n > 0 && len(pm.alerts) > n {
		start = len(pm.alerts) - n
	}
	out := make([]value.Alert, len(pm.alerts)-start)
	copy(out, pm.alerts[start:])
	return out
}

// Latency summarizes every recorded duration since the last reset.
func (pm *PerformanceMonitor) Latency() value.LatencySummary {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	h := pm.histogram
	if h.TotalCount() == 0 {
		return value.LatencySummary{}
	}
	micros := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return value.LatencySummary{
		Count: h.TotalCount(),
		Mean:  time.Duration(h.Mean() * float64(time.Microsecond)),
		P50:   micros(h.ValueAtQuantile(50)),
		P95:   micros(h.ValueAtQuantile(95)),
		P99:   micros(h.ValueAtQuantile(99)),
		Max:   micros(h.Max()),
	}
}

// Reset drops samples, histogram and alerts.
func (pm *PerformanceMonitor) Reset() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.samples = make([]value.Sample, len(pm.samples))
	pm.next = 0
	pm.full = false
	pm.histogram.Reset()
	pm.alerts = nil
	pm.firing = make(map[value.AlertType]bool)
	pm.lastCheck = time.Time{}
}
