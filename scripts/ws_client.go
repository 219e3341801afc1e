// Sample consumer of the job-events websocket.
//
// Usage:
//
//	go run scripts/ws_client.go -url ws://localhost:8080/v1/jobs/ws -job <jobId>
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/v1/jobs/ws", "websocket endpoint")
	jobID := flag.String("job", "", "job id to follow")
	flag.Parse()
	if *jobID == "" {
		log.Fatal("missing -job")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "jobId": *jobID}); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("read: %v", err)
				return
			}
			switch msg["type"] {
			case "ping":
				_ = conn.WriteJSON(map[string]string{"type": "pong"})
			case "next":
				log.Printf("job %v %v: %v", msg["jobId"], msg["kind"], msg["event"])
			case "complete":
				log.Printf("job %v stream complete", msg["jobId"])
				return
			case "error":
				log.Printf("error: %v", msg["error"])
				return
			}
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
