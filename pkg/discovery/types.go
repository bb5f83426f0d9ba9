package discovery

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/version"
)

// Service type constants for mDNS.
const (
	// ServiceType is the service type advertised by middleware gateways.
	ServiceType = "_ideam._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default gateway port.
	DefaultPort = 443
)

// TXT record key constants.
const (
	TXTKeyPath    = "path" // API path prefix
	TXTKeyTLS     = "tls"  // "1" https, "0" http
	TXTKeyVersion = "ver"  // API version (optional)
	TXTKeyName    = "name" // Display name (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL for advertisements.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrEmptyInstanceName   = errors.New("empty instance name")
	ErrTXTRecordTooLarge   = errors.New("TXT records exceed 400 bytes")
	ErrNotFound            = errors.New("gateway not found")
	ErrNoAddress           = errors.New("gateway has no usable address")
)

// GatewayInfo is what an advertiser announces.
type GatewayInfo struct {
	// InstanceName is the user-facing service instance name.
	InstanceName string

	// Port is the HTTP(S) port. Zero means DefaultPort.
	Port uint16

	// Path is the API path prefix. Empty means "/".
	Path string

	// TLS selects https.
	TLS bool

	Version string
	Name    string
}

// Gateway is a discovered middleware gateway.
type Gateway struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Path    string
	TLS     bool
	Version string
	Name    string
}

// BaseURL returns the gateway's API root, always ending in "/".
// A literal address is preferred over the host name; IPv4 wins over IPv6.
func (g *Gateway) BaseURL() (string, error) {
	host := g.pickHost()
	if host == "" {
		return "", ErrNoAddress
	}

	scheme := "https"
	if !g.TLS {
		scheme = "http"
	}

	port := g.Port
	if port == 0 {
		port = DefaultPort
	}

	path := "/" + strings.Trim(g.Path, "/")
	if path != "/" {
		path += "/"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(int(port))),
		Path:   path,
	}
	return u.String(), nil
}

// Compatible reports whether the advertised API version can be used by
// this client. Gateways that do not advertise a version are accepted.
func (g *Gateway) Compatible() bool {
	ok, err := version.CompatibleWith(g.Version)
	return ok && err == nil
}

func (g *Gateway) pickHost() string {
	var v6 string
	for _, addr := range g.Addresses {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return addr
		}
		if v6 == "" && !ip.IsLinkLocalUnicast() {
			v6 = addr
		}
	}
	if v6 != "" {
		return v6
	}
	return strings.TrimSuffix(g.Host, ".")
}
