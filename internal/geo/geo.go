// Package geo resolves client IP addresses to ISO country codes.
package geo

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oschwald/geoip2-golang"
)

var ErrInvalidIP = errors.New("invalid ip address")

// Locator returns the ISO 3166-1 alpha-2 country for ip, or "" when unknown.
type Locator interface {
	Lookup(ip string) (string, error)
}

// Noop is used when no geolocation database is configured.
type Noop struct{}

func (Noop) Lookup(string) (string, error) { return "", nil }

// parsePublic returns ok=false for addresses no database can place.
func parsePublic(ip string) (netip.Addr, bool, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return addr, false, nil
	}
	return addr, true, nil
}

type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMind, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MaxMind{reader: r}, nil
}

func (m *MaxMind) Lookup(ip string) (string, error) {
	addr, public, err := parsePublic(ip)
	if err != nil || !public {
		return "", err
	}
	rec, err := m.reader.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return "", fmt.Errorf("geoip lookup: %w", err)
	}
	return rec.Country.IsoCode, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// Cached memoizes another Locator. Failed lookups are not cached.
type Cached struct {
	inner Locator
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCached(inner Locator, maxEntries int64, ttl time.Duration) (*Cached, error) {
	maxEntries = max(1, maxEntries)
	// Cost is counted in entries, not bytes.
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create geo cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl}, nil
}

func (c *Cached) Lookup(ip string) (string, error) {
	if v, ok := c.cache.Get(ip); ok {
		return v.(string), nil
	}
	country, err := c.inner.Lookup(ip)
	if err != nil {
		return "", err
	}
	c.cache.SetWithTTL(ip, country, 1, c.ttl)
	return country, nil
}

func (c *Cached) Close() {
	c.cache.Close()
}
