package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix roots every subject NATS publishes to.
const DefaultSubjectPrefix = "loom"

// Publisher is the part of a NATS connection NATS needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes events as JSON:
//
//	<prefix>.block.<id>.status
//	<prefix>.block.<id>.content
type NATS struct {
	pub    Publisher
	prefix string
}

// NewNATS publishes through pub. An empty prefix uses DefaultSubjectPrefix.
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{pub: pub, prefix: prefix}
}

// StatusSubject is the subject status events for blockID go to.
func (n *NATS) StatusSubject(blockID string) string {
	return fmt.Sprintf("%s.block.%s.status", n.prefix, blockID)
}

// ContentSubject is the subject content events for blockID go to.
func (n *NATS) ContentSubject(blockID string) string {
	return fmt.Sprintf("%s.block.%s.content", n.prefix, blockID)
}

// StatusChanged implements Notifier.
func (n *NATS) StatusChanged(_ context.Context, ev StatusEvent) error {
	return n.publish(n.StatusSubject(ev.BlockID), ev)
}

// ContentChanged implements Notifier.
func (n *NATS) ContentChanged(_ context.Context, ev ContentEvent) error {
	return n.publish(n.ContentSubject(ev.BlockID), ev)
}

func (n *NATS) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Connect dials a NATS server for a Publisher.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("loom"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// EmbeddedServer runs an in-process NATS server, for single-binary setups
// and tests.
type EmbeddedServer struct {
	ns *server.Server

	startupTimeout time.Duration
	host           string
	port           int
}

// EmbeddedOpt configures an EmbeddedServer.
type EmbeddedOpt func(*EmbeddedServer)

// WithStartTimeout bounds how long Start waits for the server.
func WithStartTimeout(d time.Duration) EmbeddedOpt {
	return func(s *EmbeddedServer) {
		s.startupTimeout = d
	}
}

// WithHost sets the listen host.
func WithHost(host string) EmbeddedOpt {
	return func(s *EmbeddedServer) {
		s.host = host
	}
}

// WithPort sets the listen port. -1 picks a random free port.
func WithPort(port int) EmbeddedOpt {
	return func(s *EmbeddedServer) {
		s.port = port
	}
}

// NewEmbeddedServer configures, but does not start, a server.
func NewEmbeddedServer(opts ...EmbeddedOpt) (*EmbeddedServer, error) {
	s := &EmbeddedServer{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
	}
	for _, opt := range opts {
		opt(s)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   s.host,
		Port:   s.port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	s.ns = ns
	return s, nil
}

// Start launches the server and waits until it accepts connections.
func (s *EmbeddedServer) Start(ctx context.Context) error {
	s.ns.Start()
	if !s.ns.ReadyForConnections(s.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}
	slog.InfoContext(ctx, "nats server listening", "addr", s.ns.Addr())
	return nil
}

// ClientURL is the URL clients use to reach the server.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
