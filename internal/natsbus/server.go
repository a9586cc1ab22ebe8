package natsbus

import (
	"fmt"
	"net"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/mtzanidakis/realtymesh/internal/config"
)

// RandomPort asks the embedded server to pick a free port.
const RandomPort = natsserver.RANDOM_PORT

const readyTimeout = 5 * time.Second

// Bus is the gateway's embedded NATS server. Coordinator events go out on
// it to the websocket hub, the events command and any external listener.
type Bus struct {
	server *natsserver.Server
	port   int
}

// New starts the server. JetStream is enabled only when an event replay
// log is configured; it needs DataDir.
func New(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		ServerName: "realtymesh",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}
	if cfg.EventRetention > 0 {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
		opts.JetStream = true
		opts.StoreDir = cfg.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	b := &Bus{server: ns, port: cfg.Port}
	if addr, ok := ns.Addr().(*net.TCPAddr); ok {
		b.port = addr.Port
	}
	return b, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port is the port the server actually listens on, which differs from the
// configured one with RandomPort.
func (b *Bus) Port() int {
	return b.port
}

// JetStream reports whether the replay log is available.
func (b *Bus) JetStream() bool {
	return b.server.JetStreamEnabled()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
