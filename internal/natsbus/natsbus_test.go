package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/realtymesh/internal/config"
)

func newTestBus(t *testing.T, retention time.Duration) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Host:           "127.0.0.1",
		Port:           RandomPort,
		DataDir:        t.TempDir(),
		EventRetention: retention,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func newTestClient(t *testing.T, bus *Bus) *Client {
	t.Helper()
	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t, 0)

	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
	if bus.Port() <= 0 {
		t.Errorf("expected a real port, got %d", bus.Port())
	}
	if bus.JetStream() {
		t.Error("jetstream should be off without event retention")
	}
}

func TestPublishEventWildcard(t *testing.T) {
	bus := newTestBus(t, 0)

	client, err := NewClientFromURL(bus.ClientURL())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan Event, 1)
	_, err = client.Subscribe(TopicEventsAll, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			received <- ev
		}
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	ev := NewEvent("aggregate_started", "run-1", map[string]any{"roles": 4})
	if err := client.PublishEvent(TopicEventsRun("run-1"), ev); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	client.Flush()

	select {
	case got := <-received:
		if got.Type != "aggregate_started" || got.RunID != "run-1" {
			t.Errorf("unexpected event %+v", got)
		}
		if got.Data["roles"] != float64(4) {
			t.Errorf("unexpected data %v", got.Data)
		}
		if got.Timestamp == "" {
			t.Error("expected timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestReplay(t *testing.T) {
	bus := newTestBus(t, time.Hour)
	if !bus.JetStream() {
		t.Fatal("expected jetstream with event retention")
	}
	client := newTestClient(t, bus)

	if err := client.EnsureEventStream(time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	// Updating an existing stream is fine.
	if err := client.EnsureEventStream(2 * time.Hour); err != nil {
		t.Fatalf("update stream: %v", err)
	}

	for _, typ := range []string{"aggregate_started", "worker_completed", "aggregate_completed"} {
		if err := client.PublishEvent(TopicEventsRun("run-7"), NewEvent(typ, "run-7", nil)); err != nil {
			t.Fatal(err)
		}
	}
	client.Flush()

	// A subscriber that joins late still sees the retained events in order.
	received := make(chan string, 3)
	sub, err := client.Replay(TopicEventsAll, func(msg *nats.Msg) {
		var ev Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			received <- ev.Type
		}
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer sub.Unsubscribe()

	want := []string{"aggregate_started", "worker_completed", "aggregate_completed"}
	for i, w := range want {
		select {
		case got := <-received:
			if got != w {
				t.Errorf("event %d = %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for replayed event %d", i)
		}
	}
}

func TestReplayWithoutJetStream(t *testing.T) {
	client := newTestClient(t, newTestBus(t, 0))
	if err := client.EnsureEventStream(time.Hour); err == nil {
		t.Error("expected error when jetstream is disabled")
	}
}

func TestTopicNames(t *testing.T) {
	tests := []struct{ got, want string }{
		{TopicEventsRun("r1"), "events.run.r1"},
		{TopicEventsWorker("buyer"), "events.worker.buyer"},
		{TopicEventsStore, "events.store"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}
