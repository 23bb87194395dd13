package geo

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

// MaxMindLookup answers lookups from a local GeoLite2/GeoIP2 City database.
// It never touches the network.
type MaxMindLookup struct {
	reader *maxminddb.Reader
}

// mmdbCity mirrors the parts of the City database schema the relay reads.
type mmdbCity struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMindLookup, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening maxmind database: %w", err)
	}
	return &MaxMindLookup{reader: reader}, nil
}

// Lookup implements Lookup.
func (m *MaxMindLookup) Lookup(ctx context.Context, addr netip.Addr) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	var rec mmdbCity
	_, found, err := m.reader.LookupNetwork(net.IP(addr.AsSlice()), &rec)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if !found {
		return Location{}, ErrNotFound
	}

	loc := Location{
		City:        rec.City.Names["en"],
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.ISOCode,
		Lat:         rec.Location.Latitude,
		Lon:         rec.Location.Longitude,
		Timezone:    rec.Location.TimeZone,
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	return loc.withDisplay(), nil
}

// Close releases the database.
func (m *MaxMindLookup) Close() error {
	if err := m.reader.Close(); err != nil {
		return fmt.Errorf("closing maxmind database: %w", err)
	}
	return nil
}
