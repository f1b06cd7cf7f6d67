package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes hub instances over mDNS.
type Advertiser interface {
	// Advertise starts advertising a hub, replacing an active instance of
	// the same name.
	Advertise(ctx context.Context, info *HubInfo) error

	// Update replaces the TXT records of an active instance.
	Update(info *HubInfo) error

	Stop(instanceName string) error
	StopAll()
}

// AdvertiserConfig configures an MDNSAdvertiser. An empty Interface
// advertises on every multicast-capable interface.
type AdvertiserConfig struct {
	Interface string
	TTL       time.Duration
}

// DefaultAdvertiserConfig returns a 120s TTL on all interfaces.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: 120 * time.Second}
}

// MDNSAdvertiser advertises hubs with zeroconf, one responder per instance.
type MDNSAdvertiser struct {
	cfg AdvertiserConfig

	mu        sync.Mutex
	instances map[string]*zeroconf.Server
}

// NewMDNSAdvertiser returns an advertiser with nothing registered.
func NewMDNSAdvertiser(cfg AdvertiserConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{cfg: cfg, instances: make(map[string]*zeroconf.Server)}
}

// Advertise registers info. The context is not retained; advertising runs
// until Stop or StopAll.
func (a *MDNSAdvertiser) Advertise(_ context.Context, info *HubInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	ifaces, err := selectInterfaces(a.cfg.Interface)
	if err != nil {
		return err
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}
	var opts []zeroconf.ServerOption
	if a.cfg.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.cfg.TTL/time.Second)))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if old := a.instances[info.InstanceName]; old != nil {
		old.Shutdown()
		delete(a.instances, info.InstanceName)
	}
	srv, err := zeroconf.Register(info.InstanceName, ServiceType, Domain, port,
		TXTRecordsToStrings(EncodeHubTXT(info)), ifaces, opts...)
	if err != nil {
		return fmt.Errorf("register %s: %w", info.InstanceName, err)
	}
	a.instances[info.InstanceName] = srv
	return nil
}

// Update replaces the TXT records of an active instance.
func (a *MDNSAdvertiser) Update(info *HubInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	srv := a.instances[info.InstanceName]
	if srv == nil {
		return ErrNotFound
	}
	srv.SetText(TXTRecordsToStrings(EncodeHubTXT(info)))
	return nil
}

// Stop withdraws one instance.
func (a *MDNSAdvertiser) Stop(instanceName string) error {
	a.mu.Lock()
	srv := a.instances[instanceName]
	delete(a.instances, instanceName)
	a.mu.Unlock()

	if srv == nil {
		return ErrNotFound
	}
	srv.Shutdown()
	return nil
}

// StopAll withdraws every instance.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	all := a.instances
	a.instances = make(map[string]*zeroconf.Server)
	a.mu.Unlock()

	for _, srv := range all {
		srv.Shutdown()
	}
}

// Instances returns the names being advertised, sorted.
func (a *MDNSAdvertiser) Instances() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.instances))
	for n := range a.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// selectInterfaces resolves a configured interface name. An empty name
// yields nil, which zeroconf takes as all interfaces.
func selectInterfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("mdns interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

var _ Advertiser = (*MDNSAdvertiser)(nil)
