package natsbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// EventStream is the JetStream stream that keeps recent events for replay.
const EventStream = "EVENTS"

// Event is the envelope of everything published under events.>.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType, runID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Client is a named connection to the bus that reconnects forever.
type Client struct {
	conn *nats.Conn
}

// NewClient connects in-process to an embedded bus.
func NewClient(bus *Bus) (*Client, error) {
	return connect(bus.ClientURL(), "realtymesh-gateway")
}

// NewClientFromURL connects to a remote gateway's bus.
func NewClientFromURL(url string) (*Client, error) {
	return connect(url, "realtymesh-cli")
}

func connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "name", name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "name", name, "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishEvent(topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// EnsureEventStream creates or updates the replay log of all events,
// keeping each one for maxAge.
func (c *Client) EnsureEventStream(maxAge time.Duration) error {
	js, err := c.conn.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	sc := &nats.StreamConfig{
		Name:      EventStream,
		Subjects:  []string{TopicEventsAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
	}
	if _, err := js.StreamInfo(EventStream); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(sc)
		return err
	} else if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err = js.UpdateStream(sc)
	return err
}

// Replay delivers every retained event matching topic, then keeps
// delivering new ones.
func (c *Client) Replay(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	js, err := c.conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return js.Subscribe(topic, handler, nats.DeliverAll(), nats.OrderedConsumer())
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
