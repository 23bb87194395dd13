package geo

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"
)

// defaultTimeout bounds a single lookup when none is configured.
const defaultTimeout = 3 * time.Second

// Lookup resolves a public address. Implementations may fail; Enricher turns
// every failure into Unknown.
type Lookup interface {
	Lookup(ctx context.Context, addr netip.Addr) (Location, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, addr netip.Addr) (Location, error)

// Lookup implements Lookup.
func (f LookupFunc) Lookup(ctx context.Context, addr netip.Addr) (Location, error) {
	return f(ctx, addr)
}

// Logger is the logging interface used by the enricher.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Enricher resolves addresses to locations without ever returning an error.
//
// Thread Safety: safe for concurrent use; it holds no mutable state besides
// counters.
type Enricher struct {
	lookup  Lookup
	timeout time.Duration
	logger  Logger

	lookups  atomic.Int64
	failures atomic.Int64
}

// NewEnricher creates an enricher over lookup. A nil lookup disables external
// resolution: public addresses resolve to Unknown. A non-positive timeout
// selects the default of three seconds.
func NewEnricher(lookup Lookup, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Enricher{
		lookup:  lookup,
		timeout: timeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used for lookup failures.
func (e *Enricher) SetLogger(logger Logger) {
	e.logger = logger
}

// Resolve returns the location for address.
//
// Local addresses resolve immediately to LocalNetwork. Unparseable or empty
// addresses, a disabled backend, a timeout or any backend error resolve to
// Unknown.
func (e *Enricher) Resolve(ctx context.Context, address string) Location {
	addr, ok := ParseAddress(address)
	if !ok {
		return Unknown
	}
	if IsLocal(addr) {
		return LocalNetwork
	}
	if e.lookup == nil {
		return Unknown
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.lookups.Add(1)
	loc, err := e.lookup.Lookup(ctx, addr)
	if err != nil {
		e.failures.Add(1)
		e.logger.Debug("geolocation lookup failed", "ip", addr.String(), "error", err)
		return Unknown
	}
	return loc.withDisplay()
}

// Stats returns the number of external lookups attempted and how many failed.
func (e *Enricher) Stats() (lookups, failures int64) {
	return e.lookups.Load(), e.failures.Load()
}
