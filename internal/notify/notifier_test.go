package notify

import (
	"context"
	"testing"

	"ecollect/internal/store"
)

type capturePublisher struct {
	topics []string
	kinds  []string
}

func (c *capturePublisher) Publish(topic, kind string, data map[string]any) {
	c.topics = append(c.topics, topic)
	c.kinds = append(c.kinds, kind)
}

func TestStoreNotifierPersistsAndMirrors(t *testing.T) {
	st := store.NewMemory()
	pub := &capturePublisher{}
	n := &StoreNotifier{Store: st, Events: pub}

	n.Send(context.Background(), "u-1", "Assignment completed", "3 items assigned", "assignment.completed",
		map[string]any{"jobId": "j-1"})

	ns, _ := st.ListNotifications(context.Background(), "u-1", 10)
	if len(ns) != 1 {
		t.Fatalf("notifications = %+v", ns)
	}
	got := ns[0]
	if got.Title != "Assignment completed" || got.Kind != "assignment.completed" {
		t.Errorf("saved = %+v", got)
	}
	if got.Payload["jobId"] != "j-1" {
		t.Errorf("payload = %+v", got.Payload)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "user:u-1" || pub.kinds[0] != "notification" {
		t.Errorf("mirrored = %v %v", pub.topics, pub.kinds)
	}
}

func TestStoreNotifierIgnoresEmptyUser(t *testing.T) {
	st := store.NewMemory()
	n := &StoreNotifier{Store: st}
	n.Send(context.Background(), "", "t", "m", "k", nil)
	if ns, _ := st.ListNotifications(context.Background(), "", 10); len(ns) != 0 {
		t.Fatalf("notifications for empty user = %+v", ns)
	}
}

func TestDiscardIsSafe(t *testing.T) {
	var d Notifier = Discard{}
	d.Send(context.Background(), "u", "t", "m", "k", nil)
}
