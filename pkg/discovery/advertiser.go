package discovery

import (
	"context"
	"time"
)

// Advertiser announces a gateway on the local network.
type Advertiser interface {
	// Advertise starts announcing info until Stop is called.
	Advertise(ctx context.Context, info *GatewayInfo) error

	// Update changes the TXT records of the active announcement.
	Update(info *GatewayInfo) error

	// Stop withdraws the announcement.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}
