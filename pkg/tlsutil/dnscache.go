package tlsutil

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// DefaultDNSCacheTTL is how often cached lookups are refreshed.
const DefaultDNSCacheTTL = 5 * time.Minute

// CachingDialer dials through a cached DNS resolver so repeated license
// checks do not hit the resolver every time.
type CachingDialer struct {
	resolver *dnscache.Resolver
	dialer   *net.Dialer
	ttl      time.Duration
}

// NewCachingDialer returns a dialer whose cache is refreshed every ttl once
// RunRefresh is started. A non-positive ttl selects DefaultDNSCacheTTL.
func NewCachingDialer(ttl time.Duration) *CachingDialer {
	if ttl <= 0 {
		ttl = DefaultDNSCacheTTL
	}
	return &CachingDialer{
		resolver: &dnscache.Resolver{},
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		ttl: ttl,
	}
}

// TTL returns the refresh interval.
func (d *CachingDialer) TTL() time.Duration { return d.ttl }

// RunRefresh refreshes the cache every TTL until ctx is done. Entries not
// used since the previous refresh are dropped.
func (d *CachingDialer) RunRefresh(ctx context.Context) error {
	log.Debug().Dur("ttl", d.ttl).Msg("DNS cache refresh started")

	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.resolver.Refresh(true)
			log.Debug().Dur("ttl", d.ttl).Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves address through the cache and dials the first
// reachable IP.
func (d *CachingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	if ip := net.ParseIP(host); ip != nil {
		return d.dialer.DialContext(ctx, network, address)
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
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
