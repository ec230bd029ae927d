package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/hostvault/internal/backup"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(quietLogger())
	c1, c2 := mockClient(hub), mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastJobMessage(t *testing.T) {
	hub := NewHub(quietLogger())
	c1, c2 := mockClient(hub), mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Broadcast(NewMessage("job", "scheduled", 7, map[string]string{"schedule": "0 2 * * *"}))

	for _, c := range []*Client{c1, c2} {
		got := receive(t, c)
		if got.Type != "job_scheduled" || got.Entity != "job" || got.Action != "scheduled" {
			t.Errorf("message = %+v", got)
		}
		if got.ID != 7 {
			t.Errorf("id = %d, want 7", got.ID)
		}
	}
}

func TestPublishRunEvent(t *testing.T) {
	hub := NewHub(quietLogger())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	var cb backup.EventCallback = hub.PublishRunEvent
	cb(backup.Event{Type: backup.EventRunCompleted, JobID: 3, RunID: 11, SizeBytes: 400})
	cb(backup.Event{Type: backup.EventOffsiteStored, RunID: 11, OffsiteKey: "1/home.tar.gz"})

	got := receive(t, c)
	if got.Type != "run_completed" || got.ID != 11 {
		t.Errorf("message = %+v", got)
	}
	data, _ := got.Data.(map[string]any)
	if data["size_bytes"] != float64(400) {
		t.Errorf("data = %+v", got.Data)
	}

	got = receive(t, c)
	if got.Entity != "offsite" || got.Action != "stored" {
		t.Errorf("message = %+v", got)
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(quietLogger())
	slow := mockClient(hub)
	fast := mockClient(hub)
	hub.Register(slow)
	hub.Register(fast)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage("run", "started", int64(i), nil))
		<-fast.send
	}
	hub.Broadcast(NewMessage("run", "started", 999, nil))

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected slow client to be dropped, %d clients left", got)
	}
	if got := receive(t, fast); got.ID != 999 {
		t.Errorf("fast client got id %d, want 999", got.ID)
	}

	// Drain the slow client's buffer; its channel must be closed.
	for range slow.send {
	}
	hub.Unregister(fast)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Broadcast(NewMessage("run", "failed", 1, nil))
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(quietLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(NewMessage("run", "started", 0, nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
