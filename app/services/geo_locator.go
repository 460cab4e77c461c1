package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
)

var ErrGeoUnavailable = errors.New("geo lookup unavailable")

// GeoLocation is the coarse location of a client IP
type GeoLocation struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// GeoLocator resolves an IP to a location. Callers substitute defaults on error.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (GeoLocation, error)
}

// MaxMindGeoLocator reads a local GeoLite2/GeoIP2 City database
type MaxMindGeoLocator struct {
	reader *geoip2.Reader
}

func NewMaxMindGeoLocator(path string) (*MaxMindGeoLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &MaxMindGeoLocator{reader: reader}, nil
}

func (g *MaxMindGeoLocator) Lookup(_ context.Context, ip string) (GeoLocation, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return GeoLocation{}, fmt.Errorf("invalid ip %q", ip)
	}
	record, err := g.reader.City(parsed)
	if err != nil {
		return GeoLocation{}, err
	}
	return GeoLocation{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}, nil
}

func (g *MaxMindGeoLocator) Close() error {
	return g.reader.Close()
}

// NoopGeoLocator is used when no geo database is configured
type NoopGeoLocator struct{}

func (NoopGeoLocator) Lookup(context.Context, string) (GeoLocation, error) {
	return GeoLocation{}, ErrGeoUnavailable
}

// CachedGeoLocator memoizes successful lookups in redis
type CachedGeoLocator struct {
	next   GeoLocator
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCachedGeoLocator(next GeoLocator, rc *redis.Client, prefix string, ttl time.Duration) GeoLocator {
	if rc == nil {
		return next
	}
	return &CachedGeoLocator{next: next, rc: rc, prefix: prefix, ttl: ttl}
}

func (g *CachedGeoLocator) Lookup(ctx context.Context, ip string) (GeoLocation, error) {
	key := g.prefix + "geo:" + ip
	if bs, err := g.rc.Get(ctx, key).Bytes(); err == nil && len(bs) > 0 {
		var loc GeoLocation
		if json.Unmarshal(bs, &loc) == nil {
			return loc, nil
		}
	}

	loc, err := g.next.Lookup(ctx, ip)
	if err != nil {
		return loc, err
	}
	if bs, err := json.Marshal(loc); err == nil {
		_ = g.rc.Set(ctx, key, bs, g.ttl).Err()
	}
	return loc, nil
}
