package natsbus

import (
	"fmt"
	"net"
	"time"

	"github.com/mtzanidakis/nimbus/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server that carries run events and nimbusctl
// requests. It keeps no state on disk; a restart drops in-flight messages.
type Bus struct {
	server *natsserver.Server
}

func New(cfg config.NATSConfig) (*Bus, error) {
	ns, err := natsserver.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s on %s:%d", readyTimeout, cfg.Host, cfg.Port)
	}
	return &Bus{server: ns}, nil
}

func serverOptions(cfg config.NATSConfig) *natsserver.Options {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &natsserver.Options{
		ServerName: "nimbus",
		Host:       host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port is the bound client port. With a configured port of -1 it is the
// one the kernel picked.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Clients reports the open client connections.
func (b *Bus) Clients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
