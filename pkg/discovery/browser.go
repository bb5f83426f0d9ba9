package discovery

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Browser provides mDNS gateway browsing.
type Browser interface {
	// Browse searches for gateways. The returned channel yields each
	// instance once, when first seen, and is closed when ctx is done.
	Browse(ctx context.Context) (<-chan *Gateway, error)

	// Find returns the first gateway seen, or ErrNotFound once the browse
	// timeout elapses.
	Find(ctx context.Context) (*Gateway, error)

	// FindByName returns the gateway with the given instance name.
	FindByName(ctx context.Context, instance string) (*Gateway, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find and FindByName.
	// Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// ServiceEntry is the library-independent form of a resolved mDNS entry.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToGateway converts a ServiceEntry to a Gateway.
func (e *ServiceEntry) ToGateway() (*Gateway, error) {
	gw := &Gateway{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
	}
	if err := DecodeGatewayTXT(StringsToTXTRecords(e.Text), gw); err != nil {
		return nil, err
	}
	return gw, nil
}

// aggregate tracks gateways by instance name, merging addresses that the
// same instance reports on several interfaces. It returns gateways on first
// sighting only, as a copy; later entries for the same instance extend the
// tracked address list.
func aggregate(ctx context.Context, logger *slog.Logger, entries, removed <-chan *ServiceEntry, out chan<- *Gateway) {
	defer close(out)

	gateways := make(map[string]*Gateway)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			gw, err := entry.ToGateway()
			if err != nil {
				logger.Debug("ignoring gateway entry", "instance", entry.Instance, "error", err)
				continue
			}

			if existing, found := gateways[gw.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, gw.Addresses)
				continue
			}

			gateways[gw.InstanceName] = gw
			emit := *gw
			emit.Addresses = slices.Clone(gw.Addresses)
			select {
			case out <- &emit:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := gateways[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
				if len(existing.Addresses) == 0 {
					delete(gateways, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses returns addresses without any entry in drop.
func removeAddresses(addresses, drop []string) []string {
	toRemove := make(map[string]bool, len(drop))
	for _, addr := range drop {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
