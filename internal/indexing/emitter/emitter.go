package emitter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

// Notifier delivers a notification request to the push collaborator
type Notifier interface {
	// Notify sends a single notification
	Notify(ctx context.Context, n domain.Notification) error

	// Close releases the transport
	Close() error
}

// Emitter is what handlers see: fire-and-forget, never blocking
type Emitter interface {
	Emit(user string, typ domain.NotificationType, payload map[string]any)
}

// NewNotification stamps a notification with a fresh id.
func NewNotification(user string, typ domain.NotificationType, payload map[string]any) domain.Notification {
	return domain.Notification{
		ID:        uuid.NewString(),
		User:      user,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Discard drops every notification. Used when notifications are disabled.
type Discard struct{}

func (Discard) Emit(string, domain.NotificationType, map[string]any) {}
