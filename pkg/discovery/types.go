package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type hubs advertise.
	ServiceType = "_livehub._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default hub HTTP port.
	DefaultPort = 5080

	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS-SD instance label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyKind    = "kind"
	TXTKeyPath    = "path"
	TXTKeyCodecs  = "codecs"
	TXTKeyVersion = "ver"
	TXTKeyTLS     = "tls"
)

// HubKind identifies which hub an instance serves.
type HubKind string

const (
	KindDevice  HubKind = "device"
	KindMachine HubKind = "machine"
)

// InstanceName derives the instance label of one hub of a deployment:
// "plant-a" becomes "plant-a-devices" and "plant-a-machines".
func InstanceName(deployment string, kind HubKind) string {
	return deployment + "-" + string(kind) + "s"
}

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrUnknownKind         = errors.New("unknown hub kind")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrNotFound            = errors.New("hub not found")
	ErrBrowserStopped      = errors.New("browser stopped")
)

// HubInfo is what a hub advertises about itself.
type HubInfo struct {
	// InstanceName is the DNS-SD instance label (e.g. "plant-a-devices").
	InstanceName string
	Kind         HubKind
	Port         uint16
	Path         string
	Codecs       []string
	Version      string
	TLS          bool
}

// Validate checks the fields required for advertising.
func (i *HubInfo) Validate() error {
	if err := ValidateInstanceName(i.InstanceName); err != nil {
		return err
	}
	if err := i.Kind.validate(); err != nil {
		return err
	}
	if i.Path == "" || !strings.HasPrefix(i.Path, "/") {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyPath)
	}
	return validateTXT(EncodeHubTXT(i))
}

func (k HubKind) validate() error {
	switch k {
	case KindDevice, KindMachine:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
}

// HubService is a discovered hub instance.
type HubService struct {
	HubInfo

	Host      string
	Addresses []string
}

// URL returns the websocket endpoint, preferring the first resolved address
// over the advertised host name.
func (s *HubService) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(int(port))), s.Path)
}
