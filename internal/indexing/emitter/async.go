package emitter

import (
	"context"
	logger "log/slog"
	"sync"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 2
	defaultSendTimeout = 5 * time.Second
)

// AsyncEmitter queues notifications and sends them from worker goroutines so
// ingestion never waits on the push transport. When the queue is full the
// notification is dropped and counted.
type AsyncEmitter struct {
	notifier Notifier
	queue    chan domain.Notification
	timeout  time.Duration
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncEmitter(notifier Notifier, queueSize, workers int) *AsyncEmitter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	e := &AsyncEmitter{
		notifier: notifier,
		queue:    make(chan domain.Notification, queueSize),
		timeout:  defaultSendTimeout,
		log:      logger.Default().With("component", "emitter"),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Emit enqueues a notification without blocking.
func (e *AsyncEmitter) Emit(user string, typ domain.NotificationType, payload map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		metrics.Notifications.WithLabelValues(string(typ), "dropped").Inc()
		return
	}

	select {
	case e.queue <- NewNotification(user, typ, payload):
	default:
		metrics.Notifications.WithLabelValues(string(typ), "dropped").Inc()
		e.log.Warn("Notification queue full, dropping", "user", user, "type", typ)
	}
}

func (e *AsyncEmitter) worker() {
	defer e.wg.Done()
	for n := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		err := e.notifier.Notify(ctx, n)
		cancel()

		if err != nil {
			metrics.Notifications.WithLabelValues(string(n.Type), "failed").Inc()
			e.log.Error("Notification failed", "id", n.ID, "user", n.User, "type", n.Type, "error", err)
			continue
		}
		metrics.Notifications.WithLabelValues(string(n.Type), "sent").Inc()
	}
}

// Close stops accepting notifications, drains the queue and closes the
// notifier. It is safe to call more than once.
func (e *AsyncEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
	return e.notifier.Close()
}
