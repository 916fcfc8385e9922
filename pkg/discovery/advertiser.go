package discovery

import (
	"context"
	"time"
)

// Advertiser announces the address-space service.
type Advertiser interface {
	// Advertise starts announcing the service, replacing any previous
	// announcement.
	Advertise(ctx context.Context, info *ServiceInfo) error

	// Stop withdraws the announcement. Stopping twice is a no-op.
	Stop() error
}

// Browser finds running servers.
type Browser interface {
	// Browse emits every server found until ctx is done, then closes
	// the channel.
	Browse(ctx context.Context) (<-chan *Service, error)
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
		Interface: "",
		TTL:       120 * time.Second,
	}
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string
}
