// Package notify delivers viewer notifications to the log and the alert bus.
package notify

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/redis"
)

const (
	DefaultChannel   = "secondkeeper:alerts"
	defaultQueueSize = 256
	publishTimeout   = 5 * time.Second
)

// LogNotifier writes every notification as a structured log entry.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note viewer.Notification) {
	entry := n.logger.WithFields(logging.Fields{
		"camera_id": note.CameraID,
		"viewer_id": note.ViewerID,
		"level":     string(note.Level),
		"title":     note.Title,
	})
	if note.Detection != nil {
		entry = entry.WithFields(logging.Fields{
			"detection_type": note.Detection.Type,
			"confidence":     note.Detection.Confidence,
		})
	}
	switch note.Level {
	case viewer.LevelError:
		entry.Error(note.Description)
	case viewer.LevelAlert:
		entry.Warn(note.Description)
	default:
		entry.Info(note.Description)
	}
}

// RedisNotifier publishes notifications to a Redis channel from a background
// worker so a slow broker never stalls a viewer's read loop. When the queue is
// full the notification is dropped and logged.
type RedisNotifier struct {
	bus     *redis.TypedPubSub[viewer.Notification]
	channel string
	logger  logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan viewer.Notification
	done   chan struct{}
}

func NewRedisNotifier(client goredis.UniversalClient, channel string, logger logging.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	n := &RedisNotifier{
		bus:     redis.NewTypedPubSub[viewer.Notification](client, logger),
		channel: channel,
		logger:  logger,
		queue:   make(chan viewer.Notification, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *RedisNotifier) Channel() string { return n.channel }

func (n *RedisNotifier) Notify(_ context.Context, note viewer.Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- note:
	default:
		n.logger.WithFields(logging.Fields{
			"camera_id": note.CameraID,
			"title":     note.Title,
		}).Warn("Alert queue full, dropping notification")
	}
}

func (n *RedisNotifier) run() {
	defer close(n.done)
	for note := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.bus.Publish(ctx, n.channel, note); err != nil {
			n.logger.WithError(err).WithField("channel", n.channel).Warn("Failed to publish notification")
		}
		cancel()
	}
}

// Subscribe blocks and hands every notification published on the channel to
// handler until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler func(viewer.Notification)) error {
	return n.bus.Subscribe(ctx, n.channel, handler)
}

// Close stops accepting notifications and waits for queued ones to be published.
func (n *RedisNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

// Multi fans a notification out to several notifiers in order.
type Multi []viewer.Notifier

func (m Multi) Notify(ctx context.Context, note viewer.Notification) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, note)
		}
	}
}
