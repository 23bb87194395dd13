// Package geo resolves client network addresses to best-effort location
// descriptors for audit enrichment.
//
// Resolution never fails upward. Private, loopback, link-local and
// unspecified addresses short-circuit to LocalNetwork without any external
// call; everything else goes to a single Lookup backend under a short timeout,
// and any failure degrades to Unknown. There are no retries.
//
// Backends:
//   - HTTPLookup: an ip-api.com compatible JSON endpoint
//   - MaxMindLookup: an offline GeoLite2/GeoIP2 City database
//   - CachedLookup: wraps either one with a SQLite cache
package geo
