package emitter

import (
	"context"
	logger "log/slog"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/redis"
)

// RedisNotifier publishes notifications as JSON on a Redis channel consumed
// by the push service.
type RedisNotifier struct {
	publisher *redis.Publisher
}

func NewRedisNotifier(publisher *redis.Publisher) *RedisNotifier {
	return &RedisNotifier{publisher: publisher}
}

func (n *RedisNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	_, err := n.publisher.Publish(ctx, msg)
	return err
}

// Close is a no-op; the Redis client is owned by the caller.
func (n *RedisNotifier) Close() error {
	return nil
}

// LogNotifier writes notifications to the log. Used in development.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	logger.Info("Notification", "id", msg.ID, "user", msg.User, "type", msg.Type, "payload", msg.Payload)
	return nil
}

func (LogNotifier) Close() error {
	return nil
}
