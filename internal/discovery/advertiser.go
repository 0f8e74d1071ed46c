package discovery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType   = "_inventory-sync._tcp"
	ServiceDomain = "local."
)

// mdnsServer is the registration handle returned by zeroconf.
type mdnsServer interface {
	Shutdown()
}

// registerService is a package hook so tests can advertise without opening
// multicast sockets.
var registerService = func(instance string, port int) (mdnsServer, error) {
	return zeroconf.Register(instance, ServiceType, ServiceDomain, port, []string{"txtvers=1"}, nil)
}

// Advertiser publishes this instance on the LAN via mDNS so peer browsers
// can find it.
type Advertiser struct {
	instance string
	port     uint16
	log      *slog.Logger

	mu     sync.Mutex
	server mdnsServer
}

func NewAdvertiser(instance string, port uint16, log *slog.Logger) *Advertiser {
	if log == nil {
		log = slog.Default()
	}
	return &Advertiser{
		instance: instance,
		port:     port,
		log:      log,
	}
}

// Start registers the advertisement. Calling it again replaces the previous
// registration rather than stacking a second one.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := registerService(a.instance, int(a.port))
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	a.server = server

	a.log.Info("advertising on lan",
		"instance", a.instance,
		"service", ServiceType,
		"port", a.port)
	return nil
}

// Stop withdraws the advertisement. Safe to call when Start never ran or
// already failed, and safe to call twice.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil

	a.log.Info("advertisement withdrawn", "instance", a.instance)
}
