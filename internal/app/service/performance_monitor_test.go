package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []provider.Notification
}

func (n *recordingNotifier) AddNotification(note provider.Notification) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.notifications = append(n.notifications, note)
}

func (n *recordingNotifier) all() []provider.Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]provider.Notification(nil), n.notifications...)
}

func createTestMonitor(t testing.TB, cfg MonitorConfig, rules ...AlertRule) (*PerformanceMonitor, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	return NewPerformanceMonitor(cfg, rules, notifier, nil), notifier
}

func TestWindowStatistics(t *testing.T) {
	w := Window{
		{Duration: 10 * time.Millisecond, Success: true, CacheHit: true},
		{Duration: 30 * time.Millisecond, Success: false},
	}
	assert.Equal(t, 20*time.Millisecond, w.AverageDuration())
	assert.InDelta(t, 0.5, w.ErrorRate(), 1e-9)
	assert.InDelta(t, 0.5, w.CacheHitRatio(), 1e-9)

	var empty Window
	assert.Zero(t, empty.AverageDuration())
	assert.Zero(t, empty.ErrorRate())
}

func TestPerformanceMonitor_RaisesOnceUntilCleared(t *testing.T) {
	pm, notifier := createTestMonitor(t, MonitorConfig{
		Source:      "FilterChain",
		TitlePrefix: "FilterChain Alert",
		MaxSamples:  100,
		MinSamples:  10,
		Window:      20,
	}, SlowAverageRule(value.AlertSlowFilterExecution, time.Second))

	for i := 0; i < 9; i++ {
		assert.Empty(t, pm.Record(value.Sample{Duration: 2 * time.Second, Success: true}))
	}
	raised := pm.Record(value.Sample{Duration: 2 * time.Second, Success: true})
	require.Len(t, raised, 1)
	assert.Equal(t, value.AlertSlowFilterExecution, raised[0].Type)
	assert.NotEmpty(t, raised[0].ID)

	assert.Empty(t, pm.Record(value.Sample{Duration: 2 * time.Second, Success: true}))

	for i := 0; i < 20; i++ {
		pm.Record(value.Sample{Duration: time.Millisecond, Success: true})
	}
	for i := 0; i < 20; i++ {
		pm.Record(value.Sample{Duration: 3 * time.Second, Success: true})
	}

	notes := notifier.all()
	require.Len(t, notes, 2)
	assert.Equal(t, provider.Notification{
		Type:     "performance",
		Title:    "FilterChain Alert: SLOW_FILTER_EXECUTION",
		Message:  notes[0].Message,
		Priority: "medium",
		Source:   "FilterChain",
	}, notes[0])
	assert.Len(t, pm.RecentAlerts(0), 2)
	assert.Len(t, pm.RecentAlerts(1), 1)
}

// reentrantNotifier reads the monitor back while handling a notification.
type reentrantNotifier struct {
	pm   *PerformanceMonitor
	seen []int
}

func (n *reentrantNotifier) AddNotification(provider.Notification) {
	n.seen = append(n.seen, len(n.pm.RecentAlerts(0)))
}

func TestPerformanceMonitor_NotifiesOutsideLock(t *testing.T) {
	tests := []struct {
		name    string
		config  MonitorConfig
		trigger func(pm *PerformanceMonitor) []value.Alert
	}{
		{
			name:   "record",
			config: MonitorConfig{MinSamples: 1},
			trigger: func(pm *PerformanceMonitor) []value.Alert {
				return pm.Record(value.Sample{Success: false})
			},
		},
		{
			name:   "evaluate",
			config: MonitorConfig{MinSamples: 1, CheckInterval: time.Hour},
			trigger: func(pm *PerformanceMonitor) []value.Alert {
				pm.Record(value.Sample{Success: true})
				pm.Record(value.Sample{Success: false})
				return pm.Evaluate()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &reentrantNotifier{}
			pm := NewPerformanceMonitor(tt.config,
				[]AlertRule{ErrorRateRule(value.AlertHighErrorRate, 0.05)}, notifier, nil)
			pm.WithClock(func() time.Time { return time.Unix(0, 0) })
			notifier.pm = pm

			done := make(chan []value.Alert, 1)
			go func() { done <- tt.trigger(pm) }()

			select {
			case raised := <-done:
				assert.Len(t, raised, 1)
				assert.Equal(t, []int{1}, notifier.seen)
			case <-time.After(2 * time.Second):
				t.Fatal("notifier could not read the monitor while being notified")
			}
		})
	}
}

func TestPerformanceMonitor_CheckInterval(t *testing.T) {
	now := time.Unix(0, 0)
	pm, _ := createTestMonitor(t, MonitorConfig{MinSamples: 1, CheckInterval: time.Minute},
		ErrorRateRule(value.AlertHighErrorRate, 0.05))
	pm.WithClock(func() time.Time { return now })

	now = now.Add(2 * time.Minute)
	assert.Len(t, pm.Record(value.Sample{Success: false}), 1)

	pm.Reset()
	now = now.Add(10 * time.Second)
	pm.Record(value.Sample{Success: false})
	// after Reset the interval starts from zero, so the first record checks
	assert.Len(t, pm.RecentAlerts(0), 1)

	now = now.Add(10 * time.Second)
	pm.Reset()
	pm.Record(value.Sample{Success: true})
	now = now.Add(time.Second)
	assert.Nil(t, pm.Record(value.Sample{Success: false}), "inside the check interval")
	assert.Len(t, pm.Evaluate(), 1)
}

func TestPerformanceMonitor_CacheRuleNeedsSamples(t *testing.T) {
	pm, _ := createTestMonitor(t, MonitorConfig{MaxSamples: 100},
		CacheHitRatioRule(value.AlertLowCacheHitRatio, 0.2, 50))

	for i := 0; i < 49; i++ {
		assert.Empty(t, pm.Record(value.Sample{CacheHit: false, Success: true}))
	}
	raised := pm.Record(value.Sample{CacheHit: false, Success: true})
	require.Len(t, raised, 1)
	assert.Equal(t, value.AlertLowCacheHitRatio, raised[0].Type)
}

func TestPerformanceMonitor_RingAndLatency(t *testing.T) {
	pm, _ := createTestMonitor(t, MonitorConfig{MaxSamples: 5})
	for i := 1; i <= 12; i++ {
		pm.Record(value.Sample{Duration: time.Duration(i) * time.Millisecond, Success: true})
	}
	assert.Equal(t, 5, pm.SampleCount())

	lat := pm.Latency()
	assert.Equal(t, int64(12), lat.Count)
	assert.InDelta(t, float64(12*time.Millisecond), float64(lat.Max), float64(100*time.Microsecond))
	assert.InDelta(t, float64(6*time.Millisecond), float64(lat.P50), float64(100*time.Microsecond))
	assert.True(t, lat.P99 >= lat.P95)

	pm.Reset()
	assert.Zero(t, pm.SampleCount())
	assert.Equal(t, value.LatencySummary{}, pm.Latency())
}
