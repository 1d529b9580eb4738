package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// LogNotifier writes notifications to a zap logger and keeps the most recent
// ones for display.
type LogNotifier struct {
	logger *zap.Logger
	limit  int

	mutex  sync.Mutex
	recent []provider.Notification
}

// NewLogNotifier keeps up to limit notifications; zero keeps none.
func NewLogNotifier(logger *zap.Logger, limit int) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify"), limit: limit}
}

// AddNotification implements provider.Notifier.
func (n *LogNotifier) AddNotification(note provider.Notification) {
	fields := []zap.Field{
		zap.String("type", note.Type),
		zap.String("title", note.Title),
		zap.String("source", note.Source),
		zap.String("priority", note.Priority),
	}
	if note.Priority == "high" {
		n.logger.Error(note.Message, fields...)
	} else {
		n.logger.Warn(note.Message, fields...)
	}

	if n.limit <= 0 {
		return
	}
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.recent = append(n.recent, note)
	if len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
}

// Recent returns the kept notifications, oldest first.
func (n *LogNotifier) Recent() []provider.Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]provider.Notification(nil), n.recent...)
}
