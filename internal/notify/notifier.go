// Package notify persists user notifications. Delivery to devices is out
// of process; this layer only records and never fails a caller.
package notify

import (
	"context"
	"log"

	"ecollect/internal/model"
	"ecollect/internal/store"
)

// Notifier records a notification for a user. Implementations swallow
// their own failures: a lost notification must not abort the operation
// that produced it.
type Notifier interface {
	Send(ctx context.Context, userID, title, message, kind string, payload map[string]any)
}

// Publisher is the event fan-out the notifier mirrors into, typically the
// API broker, so connected clients see notifications live.
type Publisher interface {
	Publish(topic string, kind string, data map[string]any)
}

// StoreNotifier writes notifications to the store and optionally mirrors
// them onto a live event topic per user.
type StoreNotifier struct {
	Store  store.Store
	Events Publisher // optional
}

func (n *StoreNotifier) Send(ctx context.Context, userID, title, message, kind string, payload map[string]any) {
	if userID == "" {
		return
	}
	err := n.Store.SaveNotification(ctx, model.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Kind:    kind,
		Payload: payload,
	})
	if err != nil {
		log.Printf("notify: save for user %s failed: %v", userID, err)
		return
	}
	if n.Events != nil {
		n.Events.Publish("user:"+userID, "notification", map[string]any{
			"title":   title,
			"message": message,
			"kind":    kind,
		})
	}
}

// Discard drops everything; used in tests and in jobs that run without a
// configured notifier.
type Discard struct{}

func (Discard) Send(context.Context, string, string, string, string, map[string]any) {}
