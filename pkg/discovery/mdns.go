package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSBrowser{
		config:  config,
		logger:  logger.With("component", "discovery"),
		cancels: make(map[int]context.CancelFunc),
	}
}

// Browse searches for gateways.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Gateway, error) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.cancels[id] = cancel
	b.mu.Unlock()

	zcEntries := make(chan *zeroconf.ServiceEntry)
	zcRemoved := make(chan *zeroconf.ServiceEntry)
	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)
	out := make(chan *Gateway)

	go forward(ctx, zcEntries, entries)
	go forward(ctx, zcRemoved, removed)
	go func() {
		aggregate(ctx, b.logger, entries, removed, out)
		b.release(id)
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, zcEntries, zcRemoved, b.browserOptions()...); err != nil {
			b.logger.Warn("mDNS browse failed", "error", err)
			cancel()
		}
	}()

	return out, nil
}

// Find returns the first compatible gateway seen within the browse timeout.
func (b *MDNSBrowser) Find(ctx context.Context) (*Gateway, error) {
	return b.find(ctx, func(*Gateway) bool { return true })
}

// FindByName searches for a gateway with the given instance name.
func (b *MDNSBrowser) FindByName(ctx context.Context, instance string) (*Gateway, error) {
	return b.find(ctx, func(gw *Gateway) bool { return gw.InstanceName == instance })
}

func (b *MDNSBrowser) find(ctx context.Context, match func(*Gateway) bool) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	for gw := range results {
		if !gw.Compatible() {
			b.logger.Debug("skipping gateway with incompatible API version", "instance", gw.InstanceName, "version", gw.Version)
			continue
		}
		if match(gw) {
			return gw, nil
		}
	}
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, ErrNotFound
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

func (b *MDNSBrowser) release(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cancel, ok := b.cancels[id]; ok {
		cancel()
		delete(b.cancels, id)
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if ifaces := lookupInterface(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	return opts
}

// forward converts zeroconf entries until ctx is done or in is closed.
func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *ServiceEntry) {
	defer close(out)
	for {
		select {
		case entry, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- fromZeroconf(entry):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func fromZeroconf(entry *zeroconf.ServiceEntry) *ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &ServiceEntry{
		Instance: entry.Instance,
		Service:  ServiceType,
		Domain:   Domain,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// lookupInterface returns nil (all interfaces) for an empty or unknown name.
func lookupInterface(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSAdvertiser announces a gateway using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &MDNSAdvertiser{config: config}
}

// Advertise starts announcing info, replacing any previous announcement.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *GatewayInfo) error {
	if err := ValidateInstanceName(info.InstanceName); err != nil {
		return err
	}
	txt := EncodeGatewayTXT(info)
	if err := ValidateTXTRecords(txt); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(
		info.InstanceName,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(txt),
		lookupInterface(a.config.Interface),
		zeroconf.TTL(uint32(a.config.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register gateway service: %w", err)
	}

	a.server = server
	return nil
}

// Update replaces the TXT records of the running announcement.
func (a *MDNSAdvertiser) Update(info *GatewayInfo) error {
	txt := EncodeGatewayTXT(info)
	if err := ValidateTXTRecords(txt); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(txt))
	return nil
}

// Stop withdraws the announcement. Stopping twice is a no-op.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Advertising reports whether an announcement is active.
func (a *MDNSAdvertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Ensure MDNSAdvertiser implements Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)
