// Package netutil builds the outbound HTTP transport shared by source
// fetching and webhook delivery.
package netutil

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultRefreshTTL = 5 * time.Minute

// CachedDialer dials through a DNS cache that is refreshed periodically.
type CachedDialer struct {
	resolver *dnscache.Resolver
	dialer   *net.Dialer
}

// NewCachedDialer creates a dialer and refreshes its cache every ttl until
// ctx is cancelled.
func NewCachedDialer(ctx context.Context, ttl time.Duration) *CachedDialer {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	d := &CachedDialer{
		resolver: &dnscache.Resolver{},
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}

	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.resolver.Refresh(true)
				log.Debug().Dur("ttl", ttl).Msg("DNS cache refreshed")
			case <-ctx.Done():
				return
			}
		}
	}()

	return d
}

// DialContext resolves address through the cache and dials the first
// reachable IP.
func (d *CachedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Transport returns an http.Transport dialing through d.
func (d *CachedDialer) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = d.DialContext
	t.MaxIdleConnsPerHost = 10
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}

// Client returns an http.Client with the given overall timeout.
func (d *CachedDialer) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: d.Transport(),
	}
}
