// Package webhooks pushes job lifecycle events to an external endpoint,
// signed with a shared HMAC secret. Deliveries are queued in memory and
// retried with backoff; the queue does not survive a restart.
package webhooks

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Delivery is one pending outbound POST.
type Delivery struct {
	ID        string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
}

// Publisher enqueues signed event deliveries for the worker.
type Publisher struct {
	URL    string
	Secret string

	mu    sync.Mutex
	queue []Delivery
	seq   int
}

func NewPublisher(url, secret string) *Publisher {
	return &Publisher{URL: url, Secret: secret}
}

// Emit queues one event. A publisher without a URL drops everything,
// which lets callers emit unconditionally.
func (p *Publisher) Emit(eventType string, data any) {
	if p == nil || p.URL == "" {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	p.mu.Lock()
	p.seq++
	p.queue = append(p.queue, Delivery{
		ID:        fmt.Sprintf("dlv_%d", p.seq),
		EventType: eventType,
		URL:       p.URL,
		Secret:    p.Secret,
		Payload:   body,
		NextAt:    time.Now(),
	})
	p.mu.Unlock()
}

// fetchDue pops up to limit deliveries whose retry time has arrived.
func (p *Publisher) fetchDue(limit int) []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var due []Delivery
	var rest []Delivery
	for _, d := range p.queue {
		if len(due) < limit && !d.NextAt.After(now) {
			due = append(due, d)
		} else {
			rest = append(rest, d)
		}
	}
	p.queue = rest
	return due
}

// requeue puts a failed delivery back with its next retry time.
func (p *Publisher) requeue(d Delivery) {
	p.mu.Lock()
	p.queue = append(p.queue, d)
	p.mu.Unlock()
}

// Pending reports the queue depth.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
