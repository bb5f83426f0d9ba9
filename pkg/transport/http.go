package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Default timeouts.
const (
	// DefaultConnectTimeout bounds dial, TLS handshake and the wait for
	// response headers.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds a complete single-shot exchange.
	DefaultRequestTimeout = 60 * time.Second
)

// Config configures an HTTP client.
type Config struct {
	// TLS settings.
	TLS TLSConfig

	// ConnectTimeout bounds connection setup (default: 30s).
	ConnectTimeout time.Duration

	// RequestTimeout bounds a complete request (default: 60s).
	// Ignored by NewStreamClient.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// NewRequestClient returns a client for single-shot calls.
func NewRequestClient(cfg Config) *http.Client {
	cfg = cfg.withDefaults()
	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: newTransport(cfg),
	}
}

// NewStreamClient returns a client for the unbounded subscribe stream.
// Only connection setup is time-bounded.
func NewStreamClient(cfg Config) *http.Client {
	cfg = cfg.withDefaults()
	t := newTransport(cfg)
	t.ResponseHeaderTimeout = cfg.ConnectTimeout
	// One stream per client; pooling would keep a dead stream's socket around.
	t.DisableKeepAlives = true
	return &http.Client{Transport: t}
}

func newTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     NewClientTLSConfig(cfg.TLS),
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// IsTimeout reports whether err is a network or context deadline timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
