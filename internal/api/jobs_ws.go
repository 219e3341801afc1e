package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket streaming of job events, the live counterpart of the SSE
// endpoint. Clients send {"type":"subscribe","jobId":...} and receive
// {"type":"next","jobId":...,"event":...} frames.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type  string         `json:"type"`
	JobID string         `json:"jobId,omitempty"`
	Event map[string]any `json:"event,omitempty"`
	Kind  string         `json:"kind,omitempty"`
	Error string         `json:"error,omitempty"`
}

// JobsWSHandler handles /v1/jobs/ws
func (s *Server) JobsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// concurrent writers: fanout goroutines and the keepalive ticker
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	subs := map[string]chan Event{}
	defer func() {
		for jobID, ch := range subs {
			s.Broker.Unsubscribe("job:"+jobID, ch)
		}
	}()

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := write(wsMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.JobID == "" {
				_ = write(wsMessage{Type: "error", Error: "jobId required"})
				continue
			}
			if _, ok := subs[msg.JobID]; ok {
				continue
			}
			ch := s.Broker.Subscribe("job:" + msg.JobID)
			subs[msg.JobID] = ch
			_ = write(wsMessage{Type: "ack", JobID: msg.JobID})
			go func(jobID string, c chan Event) {
				for evt := range c {
					if err := write(wsMessage{Type: "next", JobID: jobID, Kind: evt.Type, Event: evt.Data}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", JobID: jobID})
			}(msg.JobID, ch)
		case "unsubscribe":
			if ch, ok := subs[msg.JobID]; ok {
				s.Broker.Unsubscribe("job:"+msg.JobID, ch)
				delete(subs, msg.JobID)
			}
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		default:
			// ignore
		}
	}
}
