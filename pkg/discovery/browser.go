package discovery

import (
	"context"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/opsboard/livehub-go/pkg/version"
)

// Browser finds hubs on the local network.
type Browser interface {
	// Browse streams hub instances as they are found. The channel is closed
	// when ctx ends or Stop is called.
	Browse(ctx context.Context) (<-chan *HubService, error)

	// Stop ends every active browse.
	Stop()
}

// BrowserConfig configures an MDNSBrowser. BrowseTimeout bounds Find when
// the caller's context has no deadline.
type BrowserConfig struct {
	BrowseTimeout time.Duration
	Interface     string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// MDNSBrowser browses for hubs with zeroconf.
type MDNSBrowser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	stopped bool
	active  []context.CancelFunc
}

// NewMDNSBrowser returns a browser ready to Browse.
func NewMDNSBrowser(cfg BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{cfg: cfg}
}

// Browse reports each hub instance once, the first time it is announced.
// An instance that goes away completely and comes back is reported again.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *HubService, error) {
	var opts []zeroconf.ClientOption
	if b.cfg.Interface != "" {
		iface, err := net.InterfaceByName(b.cfg.Interface)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrBrowserStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	b.active = append(b.active, cancel)
	b.mu.Unlock()

	found := make(chan *zeroconf.ServiceEntry)
	lost := make(chan *zeroconf.ServiceEntry)
	out := make(chan *HubService)

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, found, lost, opts...)
	}()
	go b.collect(ctx, found, lost, out)
	return out, nil
}

func (b *MDNSBrowser) collect(ctx context.Context, found, lost <-chan *zeroconf.ServiceEntry, out chan<- *HubService) {
	defer close(out)

	hubs := hubSet{}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-lost:
			if !ok {
				lost = nil
				continue
			}
			hubs.remove(e)
		case e, ok := <-found:
			if !ok {
				return
			}
			svc := hubs.add(e)
			if svc == nil {
				continue
			}
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop ends every active browse. Later calls to Browse fail.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	active := b.active
	b.active, b.stopped = nil, true
	b.mu.Unlock()

	for _, cancel := range active {
		cancel()
	}
}

// FilterFunc selects browse results.
type FilterFunc func(*HubService) bool

// FilterByKind keeps hubs of the given kind.
func FilterByKind(kind HubKind) FilterFunc {
	return func(s *HubService) bool { return s.Kind == kind }
}

// FilterByCodec keeps hubs that speak codec. A hub advertising no codecs
// speaks json only.
func FilterByCodec(codec string) FilterFunc {
	return func(s *HubService) bool {
		if len(s.Codecs) == 0 {
			return codec == "json"
		}
		return slices.Contains(s.Codecs, codec)
	}
}

// FilterCompatible keeps hubs whose advertised protocol version shares
// this library's major version. Hubs that advertise none are kept.
func FilterCompatible() FilterFunc {
	return func(s *HubService) bool { return version.CompatibleWithCurrent(s.Version) }
}

// FilterByName keeps the instance with the given name.
func FilterByName(name string) FilterFunc {
	return func(s *HubService) bool { return s.InstanceName == name }
}

func matchAll(svc *HubService, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(svc) {
			return false
		}
	}
	return true
}

// Find browses until a hub passes every filter, the results end, or
// timeout elapses. The timeout only applies when ctx has no deadline.
func Find(ctx context.Context, b Browser, timeout time.Duration, filters ...FilterFunc) (*HubService, error) {
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if matchAll(svc, filters) {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

var _ Browser = (*MDNSBrowser)(nil)
